// Package store holds errors shared by the storage backends.
package store

import "errors"

// ErrNoQuotes is returned when a ticker has no cached quotes.
var ErrNoQuotes = errors.New("store: no quotes")
