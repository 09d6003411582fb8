package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	// ErrInvalidInput indicates the input failed validation
	ErrInvalidInput = errors.New("invalid input")

	// Group names are used in container names, labels and directories.
	groupNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,62}$`)

	// Server ids are UUIDs; names follow the group's naming pattern.
	serverRefRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.#-]{0,127}$`)
)

// SanitizeString removes potentially dangerous characters and trims whitespace
func SanitizeString(input string) string {
	// Trim whitespace
	input = strings.TrimSpace(input)

	// Remove null bytes
	input = strings.ReplaceAll(input, "\x00", "")

	// Remove control characters except newline and tab
	var builder strings.Builder
	for _, r := range input {
		if !unicode.IsControl(r) || r == '\n' || r == '\t' {
			builder.WriteRune(r)
		}
	}

	return builder.String()
}

func ValidateGroupName(name string) error {
	name = SanitizeString(name)

	if name == "" {
		return fmt.Errorf("%w: group name cannot be empty", ErrInvalidInput)
	}
	if !groupNameRegex.MatchString(name) {
		return fmt.Errorf("%w: group name %q must start with alphanumeric and contain only letters, numbers, hyphens, and underscores", ErrInvalidInput, name)
	}
	return nil
}

// ValidateServerRef checks a server id or name taken from a request path.
func ValidateServerRef(ref string) error {
	if !serverRefRegex.MatchString(ref) {
		return fmt.Errorf("%w: malformed server reference", ErrInvalidInput)
	}
	return nil
}

// ValidateThresholds checks a scale-up/scale-down pair of utilization fractions.
func ValidateThresholds(up, down float64) error {
	if up < 0 || up > 1 {
		return fmt.Errorf("%w: scale up threshold must be between 0.0 and 1.0", ErrInvalidInput)
	}
	if down < 0 || down > 1 {
		return fmt.Errorf("%w: scale down threshold must be between 0.0 and 1.0", ErrInvalidInput)
	}
	if up <= down {
		return fmt.Errorf("%w: scale up threshold must be greater than scale down threshold", ErrInvalidInput)
	}
	return nil
}

// ValidateServerBounds checks min/max server counts; max -1 means unlimited.
func ValidateServerBounds(min, max int) error {
	if min < 0 {
		return fmt.Errorf("%w: minimum servers cannot be negative", ErrInvalidInput)
	}
	if max < -1 {
		return fmt.Errorf("%w: maximum servers must be -1 (unlimited) or greater", ErrInvalidInput)
	}
	if max != -1 && max < min {
		return fmt.Errorf("%w: maximum servers must be greater than or equal to minimum servers", ErrInvalidInput)
	}
	return nil
}

// ValidateNamingPattern requires at most one {id} placeholder.
func ValidateNamingPattern(pattern string) error {
	if pattern == "" {
		return nil
	}
	if strings.Count(pattern, "{id}") > 1 {
		return fmt.Errorf("%w: naming pattern may contain {id} only once", ErrInvalidInput)
	}
	if strings.ContainsAny(pattern, `/\ `) {
		return fmt.Errorf("%w: naming pattern must not contain slashes or spaces", ErrInvalidInput)
	}
	return nil
}

// ValidateUsername checks if a username is valid
func ValidateUsername(username string) error {
	username = SanitizeString(username)

	if username == "" {
		return errors.New("username cannot be empty")
	}

	if len(username) < 3 {
		return errors.New("username must be at least 3 characters")
	}

	if len(username) > 50 {
		return errors.New("username must not exceed 50 characters")
	}

	return nil
}

// ValidatePassword checks if a password meets security requirements
func ValidatePassword(password string) error {
	if len(password) < 8 {
		return errors.New("password must be at least 8 characters")
	}

	if len(password) > 128 {
		return errors.New("password must not exceed 128 characters")
	}

	var (
		hasUpper   bool
		hasLower   bool
		hasNumber  bool
		hasSpecial bool
	)

	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsDigit(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	if !hasUpper {
		return errors.New("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return errors.New("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return errors.New("password must contain at least one number")
	}
	if !hasSpecial {
		return errors.New("password must contain at least one special character")
	}

	return nil
}
