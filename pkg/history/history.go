// Package history keeps a fixed-size rolling window of numeric samples.
//
// The buffer is FIFO: once full, every Push evicts the oldest sample. It is
// not safe for concurrent use; the owner serializes access.
package history

// DefaultCapacity is the window used for the temperature trend.
const DefaultCapacity = 5

// minRenderSamples is the number of real samples needed before Render stops
// returning the placeholder series.
const minRenderSamples = 2

// Buffer is a fixed-capacity FIFO of float64 samples.
type Buffer struct {
	capacity int
	samples  []float64
}

// New returns an empty buffer holding at most capacity samples.
// A non-positive capacity falls back to DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{capacity: capacity, samples: make([]float64, 0, capacity)}
}

// Push appends v, evicting the oldest sample if the buffer is full, and
// returns the resulting window oldest-first.
func (b *Buffer) Push(v float64) []float64 {
	if len(b.samples) == b.capacity {
		copy(b.samples, b.samples[1:])
		b.samples[len(b.samples)-1] = v
	} else {
		b.samples = append(b.samples, v)
	}
	return b.Values()
}

// Values returns a copy of the samples, oldest first.
func (b *Buffer) Values() []float64 {
	out := make([]float64, len(b.samples))
	copy(out, b.samples)
	return out
}

// Len is the number of real samples held.
func (b *Buffer) Len() int { return len(b.samples) }

// Capacity is the maximum number of samples held.
func (b *Buffer) Capacity() int { return b.capacity }

// Render returns a chart-ready series of exactly Capacity points. With fewer
// than two samples it is all zeros; otherwise the samples are right-aligned
// and the missing leading points are zero.
func (b *Buffer) Render() []float64 {
	out := make([]float64, b.capacity)
	if len(b.samples) < minRenderSamples {
		return out
	}
	copy(out[b.capacity-len(b.samples):], b.samples)
	return out
}
