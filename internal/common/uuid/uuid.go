// Package uuid provides UUID functionality for the bot manager. It wraps
// github.com/google/uuid with two defaults: UUIDv7 (time-ordered) for
// durable record identifiers, and UUIDv4 for session UIDs, where the 122
// random bits double as an unguessable callback token.
package uuid

import (
	"github.com/google/uuid"
)

// UUID represents a UUID, aliased from github.com/google/uuid.UUID
type UUID = uuid.UUID

// New returns a new UUIDv7. Panics if UUID generation fails.
func New() UUID {
	uuidv7, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return uuidv7
}

// NewRandom returns a new UUIDv7 and any error encountered during generation.
func NewRandom() (UUID, error) {
	return uuid.NewV7()
}

// NewSessionUID returns a new UUIDv4. Unlike v7 there is no embedded
// timestamp: all 122 variable bits come from crypto/rand, which is what
// makes the value usable as a bearer credential.
func NewSessionUID() UUID {
	return uuid.New()
}

// Parse parses a UUID string into a UUID value. Returns an error if the
// string is not a valid UUID.
func Parse(s string) (UUID, error) {
	return uuid.Parse(s)
}

// MustParse parses a UUID string and panics if the string is not a valid UUID.
func MustParse(s string) UUID {
	return uuid.MustParse(s)
}

// IsNil reports whether the given UUID is the zero value.
func IsNil(id UUID) bool {
	return id == uuid.Nil
}

// Nil is the zero UUID value.
var Nil = uuid.Nil
