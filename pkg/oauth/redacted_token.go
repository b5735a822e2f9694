package oauth

import "log/slog"

// RedactedToken wraps a credential so it never shows up in logs, error
// strings or serialized output.
//
//	token := oauth.NewRedactedToken(pair.AccessToken)
//	logging.Debug("Session", "using %s", token) // using [REDACTED]
//	req.Header.Set("Authorization", "Bearer "+token.Value())
type RedactedToken struct {
	value string
}

// NewRedactedToken creates a new RedactedToken wrapping the given value.
func NewRedactedToken(value string) RedactedToken {
	return RedactedToken{value: value}
}

// Value returns the wrapped credential. Never log the result.
func (t RedactedToken) Value() string {
	return t.value
}

// IsEmpty returns true if no credential is wrapped.
func (t RedactedToken) IsEmpty() bool {
	return t.value == ""
}

// String implements fmt.Stringer.
func (t RedactedToken) String() string {
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer for %#v.
func (t RedactedToken) GoString() string {
	return "oauth.RedactedToken{[REDACTED]}"
}

// LogValue implements slog.LogValuer so structured attributes are redacted too.
func (t RedactedToken) LogValue() slog.Value {
	if t.value == "" {
		return slog.StringValue("")
	}
	return slog.StringValue("[REDACTED]")
}

// MarshalText implements encoding.TextMarshaler.
func (t RedactedToken) MarshalText() ([]byte, error) {
	return []byte("[REDACTED]"), nil
}

// MarshalJSON implements json.Marshaler.
func (t RedactedToken) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}
