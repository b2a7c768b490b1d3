package device

import (
	"fmt"
	"strings"
)

const maxNameLength = 64

// ValidateName checks an action or sensor name. Names become the last
// topic level(s) under action/ or sensor/, so wildcards are rejected.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("%w: %q exceeds %d characters", ErrInvalidName, name, maxNameLength)
	}
	if strings.ContainsAny(name, "+#") {
		return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidName, name)
	}
	if strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") {
		return fmt.Errorf("%w: %q has a leading or trailing '/'", ErrInvalidName, name)
	}
	return nil
}

// validateLevel checks a single topic level (type or ID).
func validateLevel(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is empty", ErrInvalidIdentity, field)
	}
	if strings.ContainsAny(value, "/+#") {
		return fmt.Errorf("%w: %s %q contains '/', '+' or '#'", ErrInvalidIdentity, field, value)
	}
	return nil
}
