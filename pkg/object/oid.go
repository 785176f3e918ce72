package object

import (
	"fmt"
)

// ValidateID checks that s is exactly forty lowercase hex characters.
// Uppercase hex, short/long strings, and any other byte are rejected: the
// core is fail-closed on ambiguous object ids.
func ValidateID(s string) (ID, error) {
	if len(s) != 40 {
		return "", fmt.Errorf("object id %q: length %d, want 40", s, len(s))
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isLowerHex(c) {
			return "", fmt.Errorf("object id %q: byte %q at offset %d is not lowercase hex", s, c, i)
		}
	}
	return ID(s), nil
}

func isLowerHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}

// ValidateTagName checks that name is drawn only from [A-Za-z0-9.-_], the
// byte set the core allows for a tag pointed at across the trust boundary.
func ValidateTagName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("tag name is empty")
	}
	for i := 0; i < len(name); i++ {
		c := name[i]
		if isTagNameByte(c) {
			continue
		}
		return "", fmt.Errorf("tag name %q: disallowed byte %q at offset %d", name, c, i)
	}
	return name, nil
}

func isTagNameByte(c byte) bool {
	switch {
	case c >= 'A' && c <= 'Z':
		return true
	case c >= 'a' && c <= 'z':
		return true
	case c >= '0' && c <= '9':
		return true
	case c == '.' || c == '-' || c == '_':
		return true
	default:
		return false
	}
}
