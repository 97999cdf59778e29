// Package postgresengine provides the PostgreSQL implementation of the
// schema-versioned metadata store.
//
// The store is built for rolling upgrades: a fleet is upgraded one node at a
// time, so running code must behave correctly against whichever schema
// version is currently deployed. At construction the engine resolves the
// active schema version once and selects, per entity family, the most
// specific implementation whose declared version is not newer than the
// active one. Operations that the active schema does not support yet fail
// deterministically with datastore.ErrSchemaUpgradeRequired.
//
// Key features:
//   - Multiple database adapter support (PGX, SQL, SQLX)
//   - Atomic bulk tag registration with server-side duplicate and ceiling
//     enforcement
//   - Conflict classification into a stable domain error taxonomy
//   - Configurable table names, dual-logger, metrics and tracing support
//
// Usage example:
//
//	poolConfig, _ := cfg.Database.PGXPoolConfig()
//	pool, _ := pgxpool.NewWithConfig(ctx, poolConfig)
//	store, err := postgresengine.NewStoreFromPGXPool(ctx, pool,
//		postgresengine.WithLogger(logger),
//	)
//	if err != nil {
//		// handle error
//	}
//
//	err = store.AddExtendedQueryTags(ctx, entries, cfg.Datastore.MaxQueryTagCount)
package postgresengine
