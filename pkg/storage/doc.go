// Package storage holds backend-neutral persistence plumbing: connection
// configuration, the sentinel errors repositories return, a transaction
// helper shared by SQL repositories, and the Redis client constructor.
//
// Repository interfaces are declared by their consumer in pkg/auth. The
// PostgreSQL implementation lives in pkg/storage/postgres.
//
//	err := storage.WithTx(ctx, db, nil, func(ctx context.Context, tx storage.DBTX) error {
//		_, err := tx.ExecContext(ctx, "UPDATE access_tokens SET ...")
//		return err
//	})
package storage
