package async

import "sync"

// Signal is a re-armable broadcast notification: every channel handed out by
// Wait since the last Notify is closed by the next Notify.
type Signal struct {
	mu sync.Mutex
	ch chan struct{}
}

func (s *Signal) Wait() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		s.ch = make(chan struct{})
	}
	return s.ch
}

// Notify wakes all current waiters and reports whether there were any.
func (s *Signal) Notify() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return false
	}
	close(s.ch)
	s.ch = nil
	return true
}

// Closed returns an already closed channel.
func Closed() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
