package gateway

// ReplayBuffer is a fixed-size ring of recent envelopes, used to catch a
// reconnecting client up. Callers synchronise access.
type ReplayBuffer struct {
	seqs []int64
	envs [][]byte
	pos  int // next write position
	n    int
}

// NewReplayBuffer creates a replay buffer with the given capacity.
func NewReplayBuffer(capacity int) *ReplayBuffer {
	if capacity <= 0 {
		capacity = 200
	}
	return &ReplayBuffer{
		seqs: make([]int64, capacity),
		envs: make([][]byte, capacity),
	}
}

// Push appends an envelope, overwriting the oldest when full.
func (rb *ReplayBuffer) Push(seq int64, env []byte) {
	rb.seqs[rb.pos] = seq
	rb.envs[rb.pos] = env
	rb.pos = (rb.pos + 1) % len(rb.seqs)
	if rb.n < len(rb.seqs) {
		rb.n++
	}
}

// Len returns the number of buffered envelopes.
func (rb *ReplayBuffer) Len() int { return rb.n }

// Since returns every envelope with seq > after, oldest first. ok is false
// when envelopes after `after` were already evicted, so the caller cannot
// fill the gap from the buffer.
func (rb *ReplayBuffer) Since(after int64) (envs [][]byte, ok bool) {
	if rb.n == 0 {
		return nil, false
	}
	oldest := (rb.pos - rb.n + len(rb.seqs)) % len(rb.seqs)
	if rb.seqs[oldest] > after+1 {
		return nil, false
	}
	for i := 0; i < rb.n; i++ {
		idx := (oldest + i) % len(rb.seqs)
		if rb.seqs[idx] > after {
			envs = append(envs, rb.envs[idx])
		}
	}
	return envs, true
}
