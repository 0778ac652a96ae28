package gateway

// Sequence tracks the last sequence number seen on a session.
// It is owned by the session goroutine and not safe for concurrent use.
type Sequence struct {
	value int64
	set   bool
}

// Update records n unless a larger value was already seen.
func (s *Sequence) Update(n int64) {
	if !s.set || n > s.value {
		s.value, s.set = n, true
	}
}

// Reset sets the value to n, even if it is smaller.
func (s *Sequence) Reset(n int64) {
	s.value, s.set = n, true
}

// Clear forgets the value.
func (s *Sequence) Clear() {
	s.value, s.set = 0, false
}

// Value returns the last sequence, or false if none was seen.
func (s *Sequence) Value() (int64, bool) {
	return s.value, s.set
}
