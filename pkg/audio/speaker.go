package audio

import (
	"io"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// pcmQueue buffers PCM between the scheduler's writes and the device's
// pull reader. Flush bumps a generation counter and wakes every waiter,
// so a reader belonging to a flushed player gets io.EOF instead of
// stealing the next session's audio.
type pcmQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	gen    int
	closed bool
}

func newPCMQueue() *pcmQueue {
	q := &pcmQueue{buf: make([]byte, 0, PlaybackSampleRate*4)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *pcmQueue) write(pcm []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.buf = append(q.buf, pcm...)
	q.cond.Broadcast()
}

func (q *pcmQueue) generation() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.gen
}

// flush discards queued PCM and invalidates every reader bound to the
// current generation.
func (q *pcmQueue) flush() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = q.buf[:0]
	q.gen++
	q.cond.Broadcast()
}

func (q *pcmQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// read blocks until PCM is available for the given generation. A stale
// generation returns io.EOF so the dead player's reader goroutine exits.
func (q *pcmQueue) read(gen int, p []byte) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) == 0 && !q.closed && q.gen == gen {
		q.cond.Wait()
	}
	if q.gen != gen {
		return 0, io.EOF
	}
	if q.closed && len(q.buf) == 0 {
		// Feed silence so oto drains gracefully.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}
	n := copy(p, q.buf)
	q.buf = q.buf[n:]
	return n, nil
}

// queueReader binds one oto player to the queue generation it was
// created under.
type queueReader struct {
	q   *pcmQueue
	gen int
}

func (r *queueReader) Read(p []byte) (int, error) {
	return r.q.read(r.gen, p)
}

// Speaker renders 16-bit mono PCM on the default output device. It
// implements Output for the scheduler: writes append to an internal
// queue that the device drains pull-style.
type Speaker struct {
	otoCtx *oto.Context
	queue  *pcmQueue

	mu     sync.Mutex
	player *oto.Player
}

// NewSpeaker opens the output device at the playback sample rate and
// waits for it to become ready.
func NewSpeaker() (*Speaker, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   PlaybackSampleRate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms device buffer keeps latency low without glitching.
		BufferSize: PlaybackSampleRate / 5,
	}
	otoCtx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, err
	}
	<-ready

	return &Speaker{otoCtx: otoCtx, queue: newPCMQueue()}, nil
}

// Write queues PCM for immediate rendering.
func (s *Speaker) Write(pcm []byte) error {
	s.queue.write(pcm)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.player == nil {
		s.player = s.otoCtx.NewPlayer(&queueReader{q: s.queue, gen: s.queue.generation()})
		s.player.Play()
	}
	return nil
}

// Flush discards queued PCM and retires the current player so stale
// audio never overlaps whatever is scheduled next.
func (s *Speaker) Flush() {
	s.queue.flush()

	s.mu.Lock()
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		player.Pause()
		_ = player.Close()
	}
}

// Close releases the output device.
func (s *Speaker) Close() error {
	s.queue.close()

	s.mu.Lock()
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		return player.Close()
	}
	return nil
}
