// Package adapters abstracts the database client libraries behind a small
// connection/command interface so the versioned stores can run unchanged on
// pgxpool.Pool, database/sql, or sqlx connections. Driver errors pass through
// unwrapped so the conflict classifier can inspect them.
package adapters
