package logic

// SampleBufferSize is the number of pending samples kept between detector ticks.
const SampleBufferSize = 10

// SampleBuffer is a fixed-capacity FIFO of signal samples. When full, pushing
// overwrites the oldest sample; the detector runs at its own cadence and only
// the freshest readings matter.
// Not safe for concurrent use; the caller synchronizes.
type SampleBuffer struct {
	buf      []Sample
	capacity int
	head     int // next write position
	count    int
	dropped  uint64
}

// NewSampleBuffer creates a buffer holding up to capacity samples.
func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity <= 0 {
		capacity = SampleBufferSize
	}
	return &SampleBuffer{
		buf:      make([]Sample, capacity),
		capacity: capacity,
	}
}

// Push appends a sample. It returns true if the oldest sample was evicted.
func (r *SampleBuffer) Push(s Sample) bool {
	r.buf[r.head] = s
	r.head = (r.head + 1) % r.capacity
	if r.count == r.capacity {
		// head was pointing at the oldest entry, which is now overwritten
		r.dropped++
		return true
	}
	r.count++
	return false
}

// Pop removes and returns the oldest sample.
func (r *SampleBuffer) Pop() (Sample, bool) {
	if r.count == 0 {
		return Sample{}, false
	}
	start := (r.head - r.count + r.capacity) % r.capacity
	s := r.buf[start]
	r.buf[start] = Sample{}
	r.count--
	return s, true
}

// Len returns the number of buffered samples.
func (r *SampleBuffer) Len() int {
	return r.count
}

// Dropped returns how many samples have been evicted since creation.
func (r *SampleBuffer) Dropped() uint64 {
	return r.dropped
}
