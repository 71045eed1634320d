package schedule

import (
	"sync"
	"time"
	"unicode/utf8"

	"statusloop/internal/clock"
)

const previewRunes = 50

// State is the process-wide schedule aggregate. Every mutation — tick
// loop marking, daily reset, and control-API replace/toggle/restart —
// goes through its single mutex, so readers never observe a
// half-applied change.
type State struct {
	mu         sync.Mutex
	days       []Day
	active     bool
	cycleStart time.Time // zero when unset
}

func NewState(days []Day, active bool, cycleStart time.Time) *State {
	cp := make([]Day, len(days))
	copy(cp, days)
	for i := range cp {
		posts := make([]Post, len(cp[i].Posts))
		copy(posts, cp[i].Posts)
		cp[i].Posts = posts
		// Re-normalize defensively: hand-edited state files may carry
		// "9:5"-style values.
		for j := range cp[i].Posts {
			if t, err := NormalizeTime(cp[i].Posts[j].Time); err == nil {
				cp[i].Posts[j].Time = t
			}
		}
	}
	return &State{days: cp, active: active, cycleStart: cycleStart}
}

func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.days)
}

func (s *State) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// CycleStart returns the anchor date and whether it has been set.
func (s *State) CycleStart() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycleStart, !s.cycleStart.IsZero()
}

// EnsureAnchor sets the cycle anchor to today when unset. Returns true
// when it changed (the caller persists). This is the explicit
// initialization step; ResolveCycle itself never mutates.
func (s *State) EnsureAnchor(today time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cycleStart.IsZero() {
		return false
	}
	s.cycleStart = clock.Date(today)
	return true
}

// Toggle flips the active flag and returns the new value.
func (s *State) Toggle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = !s.active
	return s.active
}

// Replace swaps in a full normalized schedule, resets every sentToday
// flag and re-anchors the cycle to today. active defaults to true when
// nil (matching the control API contract).
func (s *State) Replace(days []Day, active *bool, today time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.days = days
	s.active = true
	if active != nil {
		s.active = *active
	}
	s.cycleStart = clock.Date(today)
	s.resetLocked()
}

// RestartCycle re-anchors the cycle to today and clears all daily
// flags.
func (s *State) RestartCycle(today time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycleStart = clock.Date(today)
	s.resetLocked()
}

// ResetDaily clears sentToday on every post. Idempotent; safe to run
// any number of times.
func (s *State) ResetDaily() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *State) resetLocked() {
	for i := range s.days {
		for j := range s.days[i].Posts {
			s.days[i].Posts[j].SentToday = false
		}
	}
}

// CollectDue returns the posts of dayNumber whose normalized time
// equals minute and which have not fired today. Read-only; the caller
// marks them sent after the dispatch attempt.
func (s *State) CollectDue(dayNumber int, minute string) []Due {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dayNumber < 1 || dayNumber > len(s.days) {
		return nil
	}
	day := s.days[dayNumber-1]
	var due []Due
	for i, p := range day.Posts {
		if p.SentToday || p.Time != minute {
			continue
		}
		due = append(due, Due{DayNumber: dayNumber, Index: i, Post: p})
	}
	return due
}

// MarkSent flags one post as fired today and records the attempt time.
// Returns false when the slot no longer exists (schedule replaced
// while a dispatch was in flight).
func (s *State) MarkSent(dayNumber, index int, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dayNumber < 1 || dayNumber > len(s.days) {
		return false
	}
	posts := s.days[dayNumber-1].Posts
	if index < 0 || index >= len(posts) {
		return false
	}
	posts[index].SentToday = true
	posts[index].LastSent = at
	return true
}

// Upcoming walks forward from fromDay, wrapping around the cycle, and
// collects up to limit post previews.
func (s *State) Upcoming(fromDay, limit int) []Upcoming {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Upcoming{}
	if len(s.days) == 0 || limit <= 0 {
		return out
	}
	for i := 0; i < len(s.days) && len(out) < limit; i++ {
		idx := (fromDay - 1 + i) % len(s.days)
		day := s.days[idx]
		for _, p := range day.Posts {
			if len(out) >= limit {
				break
			}
			out = append(out, Upcoming{
				Day:     idx + 1,
				Time:    p.Time,
				Type:    p.Type,
				Preview: preview(p.Text),
			})
		}
	}
	return out
}

// PostsOn returns how many posts the given day holds.
func (s *State) PostsOn(dayNumber int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dayNumber < 1 || dayNumber > len(s.days) {
		return 0
	}
	return len(s.days[dayNumber-1].Posts)
}

// Snapshot deep-copies the aggregate for serialization.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	days := make([]Day, len(s.days))
	copy(days, s.days)
	for i := range days {
		posts := make([]Post, len(days[i].Posts))
		copy(posts, days[i].Posts)
		days[i].Posts = posts
	}
	return Snapshot{Days: days, Active: s.active, CycleStart: s.cycleStart}
}

func preview(text string) string {
	if text == "" {
		return ""
	}
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	r := []rune(text)
	return string(r[:previewRunes]) + "..."
}
