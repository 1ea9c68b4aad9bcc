package model

// StatisticsSnapshot derived counts, recomputed on every read
type StatisticsSnapshot struct {
	Accounts AccountCounts `json:"accounts"`
	Today    TodayCounts   `json:"today"`
}

// AccountCounts account totals
type AccountCounts struct {
	Total   int64 `json:"total"`
	Enabled int64 `json:"enabled"`
}

// TodayCounts record counts for the current reference-timezone day
type TodayCounts struct {
	Success int64 `json:"success"`
	Failed  int64 `json:"failed"`
}
