package server

import (
	"time"
)

// SlotInfo describes one busy connection slot.
type SlotInfo struct {
	Index    int
	Phase    Phase
	ConnID   string
	Remote   string
	Secure   bool
	Requests int
	Age      time.Duration
	Idle     time.Duration
}

// Stats is a point-in-time view of the server, safe to read from any
// goroutine.
type Stats struct {
	Capacity int
	Active   int
	Queued   int
	Accepted uint64
	Rejected uint64
	Evicted  uint64
	Requests uint64
	Slots    []SlotInfo
}

// PhaseCounts tallies busy slots by phase.
func (st Stats) PhaseCounts() map[Phase]int {
	counts := make(map[Phase]int)
	for _, sl := range st.Slots {
		counts[sl.Phase]++
	}
	return counts
}

// Stats returns the snapshot taken at the end of the last poll tick.
func (s *Server) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	st := s.stats
	st.Slots = append([]SlotInfo(nil), s.stats.Slots...)
	st.Capacity = len(s.slots)
	st.Accepted = s.accepted.Load()
	st.Rejected = s.rejected.Load()
	st.Evicted = s.evicted.Load()
	st.Requests = s.requests.Load()
	return st
}

func (s *Server) snapshot(now time.Time) {
	slots := make([]SlotInfo, 0, len(s.slots))
	for _, sl := range s.slots {
		if sl.phase == PhaseIdle {
			continue
		}
		info := SlotInfo{
			Index:    sl.index,
			Phase:    sl.phase,
			ConnID:   sl.id,
			Remote:   sl.remote,
			Requests: sl.requests,
			Age:      now.Sub(sl.opened),
			Idle:     now.Sub(sl.active),
		}
		if sl.stream != nil {
			info.Secure = sl.stream.Secure()
		}
		slots = append(slots, info)
	}
	s.mu.Lock()
	queued := len(s.queue)
	s.mu.Unlock()

	s.statsMu.Lock()
	s.stats = Stats{
		Capacity: len(s.slots),
		Active:   len(slots),
		Queued:   queued,
		Slots:    slots,
	}
	s.statsMu.Unlock()
}
