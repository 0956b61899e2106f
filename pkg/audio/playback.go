package audio

import (
	"log/slog"
	"sync"
	"time"
)

// Output renders raw 16-bit mono PCM on the playback device. Write may
// block briefly but must accept segments in the order given. Flush
// discards anything the device has buffered but not yet rendered.
type Output interface {
	Write(pcm []byte) error
	Flush()
}

type scheduledSegment struct {
	startTimer Timer
	doneTimer  Timer
}

// Scheduler sequences inbound audio segments onto the output device so
// they play back-to-back with no overlap regardless of arrival jitter.
//
// Each segment starts at max(nextStartTime, now) and advances
// nextStartTime by its duration, so starts are non-decreasing and a
// segment never begins before the previous one ends. The aggregate
// speaking flag is true exactly while at least one segment is in
// flight; the capture gate reads it to keep the assistant's own voice
// out of the microphone stream.
type Scheduler struct {
	clock  Clock
	out    Output
	logger *slog.Logger

	mu       sync.Mutex
	next     time.Duration
	seq      int64
	inflight map[int64]*scheduledSegment
}

// NewScheduler creates a scheduler over the given output device and
// clock. The clock's zero point is taken as the session start.
func NewScheduler(out Output, clock Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = NewClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		clock:    clock,
		out:      out,
		logger:   logger,
		inflight: make(map[int64]*scheduledSegment),
	}
}

// Schedule queues one decoded segment for gapless playback.
func (s *Scheduler) Schedule(seg Segment) {
	if len(seg.PCM) == 0 || seg.Duration <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	start := s.next
	if now > start {
		start = now
	}
	s.next = start + seg.Duration

	id := s.seq
	s.seq++
	entry := &scheduledSegment{}
	s.inflight[id] = entry

	pcm := seg.PCM
	entry.startTimer = s.clock.AfterFunc(start-now, func() {
		if err := s.out.Write(pcm); err != nil {
			s.logger.Error("playback write failed", "error", err)
		}
	})
	entry.doneTimer = s.clock.AfterFunc(start+seg.Duration-now, func() {
		s.complete(id)
	})
}

func (s *Scheduler) complete(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}

// Speaking reports whether any segment is currently in flight.
func (s *Scheduler) Speaking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight) > 0
}

// InFlight returns the number of scheduled-but-unfinished segments.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// NextStartTime returns the device time the next segment would start at.
func (s *Scheduler) NextStartTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Stop halts every in-flight segment, clears the set, and resets the
// schedule. Safe to call at any time, including when nothing is playing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for id, entry := range s.inflight {
		if entry.startTimer != nil {
			entry.startTimer.Stop()
		}
		if entry.doneTimer != nil {
			entry.doneTimer.Stop()
		}
		delete(s.inflight, id)
	}
	s.next = 0
	s.mu.Unlock()

	if s.out != nil {
		s.out.Flush()
	}
}
