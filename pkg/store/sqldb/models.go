package sqldb

import "bushu/pkg/store/sqldb/model"

// Re-export database models so callers only import one package

type (
	Account         = model.Account
	ExecutionRecord = model.ExecutionRecord
)
