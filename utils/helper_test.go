package utils_test

import (
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/orders_backend/utils"
)

func TestParseClientTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want string // RFC3339 UTC, or "" for nil
	}{
		{"2024-01-15T10:30:00Z", "2024-01-15T10:30:00Z"},
		{"2024-01-15T10:30:00.123456789Z", "2024-01-15T10:30:00Z"},
		{"2024-01-15T17:00:00+06:30", "2024-01-15T10:30:00Z"},
		{"2024-01-15T10:30:00", "2024-01-15T10:30:00Z"},
		{"2024-01-15 10:30:00", "2024-01-15T10:30:00Z"},
		{"", ""},
		{"not-a-timestamp", ""},
		{"15/01/2024", ""},
	}
	for _, c := range cases {
		got := utils.ParseClientTimestamp(c.in)
		if c.want == "" {
			if got != nil {
				t.Errorf("ParseClientTimestamp(%q) = %v, want nil", c.in, got)
			}
			continue
		}
		if got == nil {
			t.Errorf("ParseClientTimestamp(%q) = nil, want %s", c.in, c.want)
			continue
		}
		if got.Truncate(time.Second).Format(time.RFC3339) != c.want {
			t.Errorf("ParseClientTimestamp(%q) = %s, want %s", c.in, got.Format(time.RFC3339Nano), c.want)
		}
	}
}
