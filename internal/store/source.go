// Package store provides configuration sources for the tool process
// manager: a SQLite-backed table and a flat tools file. Both yield the
// same desired set of tool/version records.
package store

import "errors"

// ErrUnavailable marks a transport or availability failure of the
// configuration store. Callers must abort rather than treat it as an
// empty desired set.
var ErrUnavailable = errors.New("store: configuration source unavailable")
