package chat

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTimestamp converts a message key such as "1718000000.123456" into a time.
func ParseTimestamp(key string) (time.Time, error) {
	secPart, fracPart, _ := strings.Cut(key, ".")
	sec, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse message key %q: %w", key, err)
	}
	var nanos int64
	if fracPart != "" {
		if len(fracPart) > 9 {
			fracPart = fracPart[:9]
		}
		frac, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse message key %q: %w", key, err)
		}
		for i := len(fracPart); i < 9; i++ {
			frac *= 10
		}
		nanos = frac
	}
	return time.Unix(sec, nanos).UTC(), nil
}

// FormatTimestamp renders t as a message key with microsecond precision.
func FormatTimestamp(t time.Time) string {
	return fmt.Sprintf("%d.%06d", t.Unix(), t.Nanosecond()/1000)
}

// Permalink builds a web link to a message.
func Permalink(workspaceURL, channel, key string) string {
	return fmt.Sprintf("%s/archives/%s/p%s",
		strings.TrimRight(workspaceURL, "/"), channel, strings.ReplaceAll(key, ".", ""))
}
