package validation

import (
	"fmt"
	"unicode"
)

const (
	// Size limits enforced by storage nodes on every write
	MaxKeySize   = 1024             // 1 KB
	MaxValueSize = 10 * 1024 * 1024 // 10 MB
)

// Validator checks source entries against the limits a storage node enforces,
// so an oversized entry fails the run before anything is streamed
type Validator struct {
	maxKeySize   int
	maxValueSize int
}

// NewValidator creates a new validator with default limits
func NewValidator() *Validator {
	return &Validator{
		maxKeySize:   MaxKeySize,
		maxValueSize: MaxValueSize,
	}
}

// NewValidatorWithLimits creates a validator with custom limits. Non-positive
// limits fall back to the defaults.
func NewValidatorWithLimits(maxKeySize, maxValueSize int) *Validator {
	v := NewValidator()
	if maxKeySize > 0 {
		v.maxKeySize = maxKeySize
	}
	if maxValueSize > 0 {
		v.maxValueSize = maxValueSize
	}
	return v
}

// ValidateEntry validates one partition's key and value
func (v *Validator) ValidateEntry(key string, value []byte) error {
	if err := v.ValidateKey(key); err != nil {
		return err
	}
	return v.ValidateValue(value)
}

// ValidateKey validates a partition key
func (v *Validator) ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	if len(key) > v.maxKeySize {
		return fmt.Errorf("key size %d exceeds maximum of %d bytes", len(key), v.maxKeySize)
	}

	// Tab and newline are allowed; NUL is a control character
	for _, r := range key {
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			return fmt.Errorf("key %q contains control characters", truncate(key))
		}
	}

	return nil
}

// ValidateValue validates a value. Empty values are tombstones and always valid.
func (v *Validator) ValidateValue(value []byte) error {
	if len(value) > v.maxValueSize {
		return fmt.Errorf("value size %d exceeds maximum of %d bytes", len(value), v.maxValueSize)
	}
	return nil
}

func truncate(s string) string {
	if len(s) <= 32 {
		return s
	}
	return s[:32] + "..."
}
