package jsonl

import "time"

// SetClock overrides the store's clock for tests.
func (s *SidecarStore) SetClock(now func() time.Time) {
	s.now = now
}
