package driver

import (
	"dailyrun/internal/tactile"
)

// Credential holds the secret handed to the per-day routine. Every printable
// form is redacted; Reveal is the only way to read the raw value.
type Credential struct {
	value string
}

// NewCredential wraps a raw credential value.
func NewCredential(value string) Credential {
	return Credential{value: value}
}

// Reveal returns the raw value. Call it only where the routine's command
// line is built.
func (c Credential) Reveal() string {
	return c.value
}

// IsEmpty reports whether no credential was supplied.
func (c Credential) IsEmpty() bool {
	return c.value == ""
}

// String implements fmt.Stringer.
func (c Credential) String() string {
	return tactile.RedactedValue
}

// GoString implements fmt.GoStringer so %#v is redacted too.
func (c Credential) GoString() string {
	return "driver.Credential{" + tactile.RedactedValue + "}"
}

// MarshalText keeps the value out of JSON, YAML and structured log fields.
func (c Credential) MarshalText() ([]byte, error) {
	return []byte(tactile.RedactedValue), nil
}
