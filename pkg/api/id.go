package api

import "crypto/rand"

// IDs are a short type prefix plus 24 random alphanumerics, e.g.
// "sess_kX92bQ7pL3mN8vR5tY1wZ4aJ".
const (
	sessionIDPrefix = "sess_"
	requestIDPrefix = "req_"

	idLength = 24
	alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// NewSessionID returns a fresh session ID.
func NewSessionID() string { return newID(sessionIDPrefix) }

// NewRequestID returns a fresh request ID.
func NewRequestID() string { return newID(requestIDPrefix) }

func newID(prefix string) string {
	buf := make([]byte, idLength)
	if _, err := rand.Read(buf); err != nil {
		panic("reading random bytes: " + err.Error())
	}
	for i, b := range buf {
		buf[i] = alphabet[int(b)%len(alphabet)]
	}
	return prefix + string(buf)
}

// ValidateSessionID reports whether id has the exact shape of a session
// ID. Used to reject malformed IDs before they reach storage.
func ValidateSessionID(id string) bool {
	if len(id) != len(sessionIDPrefix)+idLength || id[:len(sessionIDPrefix)] != sessionIDPrefix {
		return false
	}
	for _, c := range id[len(sessionIDPrefix):] {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
