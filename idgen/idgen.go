// Package idgen provides pluggable ID generation for prix.
//
// Constructors across the module accept a Generator, making the ID strategy
// a startup-time decision rather than a compile-time one.
package idgen

import (
	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// New returns an RFC 9562 UUID v7 string. Time-sortable, so identifiers
// created later sort later in append-mostly tables.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails when the entropy source does, which is not
		// recoverable at this layer.
		panic("idgen: uuid v7: " + err.Error())
	}
	return id.String()
}

// UUIDv7 returns New as a Generator.
func UUIDv7() Generator {
	return New
}
