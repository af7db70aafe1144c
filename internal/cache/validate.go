package cache

import (
	"unicode"

	"github.com/animeta/animeta/pkg/errors"
	"github.com/animeta/animeta/pkg/types"
)

// maxKeyLength bounds cache keys. The organizer's "<type>:<id>" keys are
// far shorter; anything near this limit is a caller bug.
const maxKeyLength = 512

// validateKey rejects malformed keys before any I/O or mutation. An
// invalid key is a programming error, signaled distinctly from "not
// found".
func validateKey(key string) error {
	if key == "" {
		return errors.New(errors.CodeInvalidKey, "cache key is empty")
	}
	if len(key) > maxKeyLength {
		return errors.Newf(errors.CodeInvalidKey, "cache key exceeds %d bytes", maxKeyLength).WithKey(key[:64])
	}
	for _, r := range key {
		if unicode.IsControl(r) {
			return errors.New(errors.CodeInvalidKey, "cache key contains control characters")
		}
	}
	return nil
}

// validateValue rejects metadata that fails its variant's invariants.
func validateValue(value types.Metadata) error {
	if value == nil {
		return errors.New(errors.CodeInvalidValue, "metadata value is nil")
	}
	return value.Validate()
}
