// Package mysql persists the transfer ledger. The SQL repository runs the
// embedded migrations from deploy/migrations on start; the memory repository
// appends JSON lines to a local file for development.
package mysql
