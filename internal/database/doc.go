// Package database provides the PostgreSQL connection pool and CustomStore,
// the table-backed source of custom data.
//
// Table layout (created by EnsureSchema):
//
//	source_key TEXT, end_time TIMESTAMPTZ, value NUMERIC, payload JSONB
//	PRIMARY KEY (source_key, end_time)
//
// A subscription's key is its Source when set, else its symbol string.
package database
