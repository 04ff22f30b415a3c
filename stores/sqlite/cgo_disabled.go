//go:build !cgo

package sqlite

// CGOEnabled reports whether the sqlite store is built with cgo support.
// The go-sqlite3 driver requires cgo; tests skip when it's unavailable.
const CGOEnabled = false

// isConstraint always reports false without cgo: the go-sqlite3 stub driver
// fails to open, so no sqlite3.Error can ever be produced.
func isConstraint(err error) bool {
	return false
}
