package sqldb

// Repository aggregates all repositories
type Repository struct {
	ds *Datastore

	Account *AccountRepository
	Record  *RecordRepository
}

// NewRepository opens the datastore and builds all sub-repositories
func NewRepository(driver, dsn string) (*Repository, error) {
	ds, err := NewDatastore(driver, dsn)
	if err != nil {
		return nil, err
	}
	return NewRepositoryFromDatastore(ds), nil
}

// NewRepositoryFromDatastore builds all sub-repositories on an opened datastore
func NewRepositoryFromDatastore(ds *Datastore) *Repository {
	return &Repository{
		ds:      ds,
		Account: NewAccountRepository(ds),
		Record:  NewRecordRepository(ds),
	}
}

// GetDatastore returns the underlying datastore for transaction support
func (r *Repository) GetDatastore() *Datastore {
	return r.ds
}

// Close closes the database connection
func (r *Repository) Close() error {
	return r.ds.Close()
}
