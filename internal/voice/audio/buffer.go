package audio

import "sync"

// RingBuffer keeps the most recent samples, overwriting the oldest. It is
// used as pre-roll so the start of a phrase is not cut off.
type RingBuffer struct {
	mu       sync.Mutex
	data     []float32
	writePos int
	count    int
}

// NewRingBuffer creates a ring buffer holding capacity samples
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer{data: make([]float32, capacity)}
}

// Write appends samples
func (rb *RingBuffer) Write(samples []float32) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	for _, s := range samples {
		rb.data[rb.writePos] = s
		rb.writePos = (rb.writePos + 1) % len(rb.data)
		if rb.count < len(rb.data) {
			rb.count++
		}
	}
}

// Drain returns the buffered samples oldest first and empties the buffer
func (rb *RingBuffer) Drain() []float32 {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	out := make([]float32, rb.count)
	start := (rb.writePos - rb.count + len(rb.data)) % len(rb.data)
	for i := range out {
		out[i] = rb.data[(start+i)%len(rb.data)]
	}
	rb.count = 0
	rb.writePos = 0
	return out
}

// Len returns the number of buffered samples
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.count
}

// Phrase collects the samples of one spoken phrase up to a limit
type Phrase struct {
	samples []float32
	limit   int
}

// NewPhrase creates a phrase buffer that holds at most limit samples
func NewPhrase(limit int) *Phrase {
	return &Phrase{samples: make([]float32, 0, limit), limit: limit}
}

// Append adds samples and reports whether the limit has been reached.
// Samples beyond the limit are dropped.
func (p *Phrase) Append(samples []float32) bool {
	room := p.limit - len(p.samples)
	if room <= 0 {
		return true
	}
	if len(samples) > room {
		samples = samples[:room]
	}
	p.samples = append(p.samples, samples...)
	return len(p.samples) >= p.limit
}

// Samples returns the collected samples
func (p *Phrase) Samples() []float32 {
	return p.samples
}

// Len returns the number of collected samples
func (p *Phrase) Len() int {
	return len(p.samples)
}

// Reset empties the phrase
func (p *Phrase) Reset() {
	p.samples = p.samples[:0]
}

// Duration returns how many seconds n samples last at rate
func Duration(n, rate int) float64 {
	if rate <= 0 {
		return 0
	}
	return float64(n) / float64(rate)
}
