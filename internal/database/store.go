package database

// Store bundles the MongoDB repositories behind one value
type Store struct {
	*MongoDB
	*JobRepository
	*JobLogRepository
	*UserRepository
	*LockRepository
}

// NewStore creates the repositories on db
func NewStore(db *MongoDB) *Store {
	return &Store{
		MongoDB:          db,
		JobRepository:    NewJobRepository(db),
		JobLogRepository: NewJobLogRepository(db),
		UserRepository:   NewUserRepository(db),
		LockRepository:   NewLockRepository(db),
	}
}
