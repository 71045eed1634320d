// Package schedule holds the repeating N-day calendar: the post data
// model, time-of-day normalization, the pure cycle resolver, and the
// mutex-guarded State that every mutation goes through.
package schedule

import (
	"time"
)

// DefaultCycleDays is the cycle length synthesized when no schedule
// has been submitted yet.
const DefaultCycleDays = 10

type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
	ContentAudio ContentType = "audio"
)

func (c ContentType) Valid() bool {
	switch c {
	case ContentText, ContentImage, ContentVideo, ContentAudio:
		return true
	}
	return false
}

// Post is one deliverable content item bound to a time-of-day.
//
// Time is stored normalized ("HH:MM", 24h, zero-padded) and compared by
// exact equality against the current minute.
type Post struct {
	Time      string      `json:"time"`
	Type      ContentType `json:"type"`
	Text      string      `json:"text,omitempty"`
	MediaURL  string      `json:"mediaUrl,omitempty"`
	SentToday bool        `json:"sentToday"`
	LastSent  time.Time   `json:"lastSent,omitzero"`
}

// Day is one position in the repeating cycle. Number is 1-based and
// unique within the schedule; post order is preserved across
// save/load round-trips but carries no semantics.
type Day struct {
	Number int    `json:"day"`
	Posts  []Post `json:"posts"`
}

// Due identifies a post selected by the detector for this tick.
type Due struct {
	DayNumber int
	Index     int
	Post      Post
}

// Upcoming is a dashboard preview of a future slot.
type Upcoming struct {
	Day     int         `json:"day"`
	Time    string      `json:"time"`
	Type    ContentType `json:"type"`
	Preview string      `json:"text"`
}

// Snapshot is a deep copy of the aggregate state, safe to serialize
// outside the State lock.
type Snapshot struct {
	Days       []Day
	Active     bool
	CycleStart time.Time // zero when the anchor is unset
}

// EmptyDays builds n consecutive empty schedule days.
func EmptyDays(n int) []Day {
	if n <= 0 {
		n = DefaultCycleDays
	}
	days := make([]Day, n)
	for i := range days {
		days[i] = Day{Number: i + 1, Posts: []Post{}}
	}
	return days
}
