// Package pgstore implements every store contract on PostgreSQL through
// sqlx over the pgx stdlib driver.
//
// Conditional operations map to single statements guarded by WHERE clauses
// (backup code and secret consumption, device step recording, version
// checked principal updates) or to short transactions holding a row lock
// (lockout counters, refresh rotation, session revocation). [Schema]
// returns the DDL the store expects; [Store.Migrate] applies it.
package pgstore
