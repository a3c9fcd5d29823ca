package utils

import (
	"fmt"
	"regexp"
	"time"

	"github.com/ttacon/libphonenumber"
)

func IsValidEmail(email string) bool {
	// Basic email validation regex pattern
	pattern := `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`
	regex := regexp.MustCompile(pattern)
	return regex.MatchString(email)
}

func ValidatePhoneNumber(phoneNumber, countryCode string) error {
	p, err := libphonenumber.Parse(phoneNumber, countryCode)
	if err != nil {
		return err // Phone number is invalid
	}

	if !libphonenumber.IsValidNumber(p) {
		return fmt.Errorf("phone number is not valid")
	}

	return nil // Phone number is valid for the specified country code
}

func NewTrue() *bool {
	b := true
	return &b
}

// ParseClientTimestamp parses a timestamp string sent by an offline client.
// Clients have produced RFC3339, RFC3339 with nanos, and bare datetimes;
// a value that matches none of them yields nil rather than an error, because
// reconciliation must always terminate with a decision.
func ParseClientTimestamp(s string) *time.Time {
	if s == "" {
		return nil
	}
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
