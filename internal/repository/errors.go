// Package repository implements raw-SQL data access over MySQL.
// Sentinel errors declared here let handlers distinguish failure
// scenarios without inspecting driver error strings; repositories
// translate driver errors (duplicate keys, missing rows) into them
// at the boundary.
package repository

import (
    "errors"
    "strings"
)

// ErrDuplicate is returned when an insert violates a unique key,
// e.g. creating a channel whose code already exists. Handlers
// should translate this into an HTTP 409 response.
var ErrDuplicate = errors.New("duplicate")

// ErrNotFound is returned when a lookup matches no row. Handlers
// should translate this into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// isDuplicateErr reports whether a driver error is a MySQL unique
// key violation (error 1062).
func isDuplicateErr(err error) bool {
    return err != nil && strings.Contains(strings.ToLower(err.Error()), "1062")
}
