// Package sqldb opens MySQL and SQLite connection pools, applies the embedded
// schema migrations and implements the SQL backed chat history.
package sqldb
