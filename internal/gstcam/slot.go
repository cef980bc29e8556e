package gstcam

import (
	"sync"

	"github.com/Merinorus/thebigfilmdatabase-website/dxscan"
)

// frameSlot holds the latest frame of a stream.
//
// Store overwrites; a frame replaced before anyone read it counts as
// dropped. Readers always see the newest frame, never a queue.
type frameSlot struct {
	mu      sync.Mutex
	frame   dxscan.Frame
	has     bool
	unread  bool
	dropped uint64
}

func (s *frameSlot) store(f dxscan.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unread {
		s.dropped++
	}
	s.frame = f
	s.has = true
	s.unread = true
}

func (s *frameSlot) load() (dxscan.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unread = false
	return s.frame, s.has
}

func (s *frameSlot) droppedCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
