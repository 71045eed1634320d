package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

// NormalizeTime canonicalizes a time-of-day to "HH:MM" (24h,
// zero-padded). "9:5", "9:05" and "09:05" all map to "09:05".
func NormalizeTime(s string) (string, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return "", fmt.Errorf("invalid time %q: %w", s, err)
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return "", fmt.Errorf("invalid time %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return "", fmt.Errorf("invalid time %q: out of range", s)
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

// ValidatePost checks content-type/media constraints and normalizes the
// post time in place.
func ValidatePost(p *Post) error {
	if p == nil {
		return fmt.Errorf("post is nil")
	}
	if !p.Type.Valid() {
		return fmt.Errorf("invalid content type %q", p.Type)
	}
	if p.Type != ContentText && strings.TrimSpace(p.MediaURL) == "" {
		return fmt.Errorf("mediaUrl is required for %s posts", p.Type)
	}
	t, err := NormalizeTime(p.Time)
	if err != nil {
		return err
	}
	p.Time = t
	return nil
}

// NormalizeDays validates a full replacement schedule: every post is
// checked and normalized, and day numbers are rewritten to 1..N in
// submission order.
func NormalizeDays(days []Day) ([]Day, error) {
	out := make([]Day, len(days))
	for i := range days {
		d := Day{Number: i + 1, Posts: make([]Post, len(days[i].Posts))}
		copy(d.Posts, days[i].Posts)
		for j := range d.Posts {
			if err := ValidatePost(&d.Posts[j]); err != nil {
				return nil, fmt.Errorf("day %d post %d: %w", i+1, j+1, err)
			}
		}
		out[i] = d
	}
	return out, nil
}
