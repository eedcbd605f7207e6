// Package surrealdb implements the storage manager over SurrealDB.
package surrealdb

import (
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// isNotFoundError reports whether a driver error means the record does not
// exist. The driver surfaces these as plain query errors.
func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "no record")
}

// firstResult unwraps a Query[[]T] response down to the rows of the first
// statement.
func firstResult[T any](results *[]surrealdb.QueryResult[[]T]) []T {
	if results == nil || len(*results) == 0 {
		return nil
	}
	return (*results)[0].Result
}
