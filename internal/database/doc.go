// Package database provides the data access layer for the credential service.
//
// # Architecture
//
//	database/
//	├── database.go      # Connection setup with retry, migrations, error taxonomy
//	├── users/           # Credential store: lookups and atomic find-or-create
//	└── audit/           # Authentication audit trail
//
// # Errors
//
// Repositories translate driver errors with Classify so callers only deal with
// three sentinels:
//
//   - ErrNotFound: the lookup matched nothing
//   - ErrConflict: a uniqueness constraint rejected the write
//   - ErrStoreUnavailable: the store itself failed; propagate, never treat as a miss
//
// # Usage
//
//	db, err := database.Open(ctx, cfg.Database, logger)
//	usersRepo := users.NewRepository(db.DB)
//	user, err := usersRepo.FindByLogin(ctx, "alice")
package database
