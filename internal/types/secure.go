package types

// redacted replaces secret values anywhere they would be printed.
const redacted = "***REDACTED***"

// SecretString prevents accidental logging or serialization of sensitive
// values such as database URLs and provider tokens. Both String() and
// MarshalJSON() return a placeholder; call Unmask() where the raw value is
// genuinely required.
type SecretString string

func (s SecretString) String() string {
	return redacted
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + redacted + `"`), nil
}

// Unmask returns the raw plaintext value.
func (s SecretString) Unmask() string {
	return string(s)
}
