package audio

import (
	"sync"
	"time"
)

// playbackQueue is a bounded FIFO of PCM chunks that drops its oldest
// entries on overflow. Pops wait on a notification channel with a timeout
// so the playback loop can poll its stop flag.
type playbackQueue struct {
	mu     sync.Mutex
	chunks [][]byte
	limit  int
	notify chan struct{}
}

func newPlaybackQueue(limit int) *playbackQueue {
	return &playbackQueue{
		chunks: make([][]byte, 0, limit),
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// push appends chunk and returns how many old chunks were evicted.
func (q *playbackQueue) push(chunk []byte) (dropped int) {
	q.mu.Lock()
	q.chunks = append(q.chunks, chunk)
	if over := len(q.chunks) - q.limit; over > 0 {
		clear(q.chunks[:over])
		q.chunks = q.chunks[over:]
		dropped = over
	}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return dropped
}

// tryPop removes the head chunk if one is queued.
func (q *playbackQueue) tryPop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.chunks) == 0 {
		return nil, false
	}
	c := q.chunks[0]
	q.chunks[0] = nil
	q.chunks = q.chunks[1:]
	return c, true
}

// pop waits up to timeout for a chunk.
func (q *playbackQueue) pop(timeout time.Duration) ([]byte, bool) {
	if c, ok := q.tryPop(); ok {
		return c, true
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-q.notify:
		return q.tryPop()
	case <-t.C:
		return nil, false
	}
}

// reset empties the queue and returns the number of chunks discarded.
func (q *playbackQueue) reset() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.chunks)
	q.chunks = make([][]byte, 0, q.limit)
	return n
}

func (q *playbackQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}
