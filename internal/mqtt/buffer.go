package mqtt

import "log/slog"

// DefaultBufferSize is how many messages are kept while disconnected.
const DefaultBufferSize = 100

// bufferedMsg is a serialized message waiting for the broker.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// replayQueue holds messages published while the broker is unreachable.
// When full, the oldest message is discarded and counted against its topic.
// Not safe for concurrent use; the caller synchronizes.
type replayQueue struct {
	msgs    []bufferedMsg
	start   int // oldest message
	n       int
	dropped map[string]int // per topic, since the last take
	log     *slog.Logger
}

func newReplayQueue(size int, logger *slog.Logger) *replayQueue {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &replayQueue{
		msgs:    make([]bufferedMsg, size),
		dropped: make(map[string]int),
		log:     logger,
	}
}

func (q *replayQueue) add(m bufferedMsg) {
	if q.n < len(q.msgs) {
		q.msgs[(q.start+q.n)%len(q.msgs)] = m
		q.n++
		return
	}

	oldest := q.msgs[q.start]
	if len(q.dropped) == 0 {
		q.log.Warn("mqtt replay queue full, dropping oldest", "capacity", len(q.msgs), "topic", oldest.topic)
	}
	q.dropped[oldest.topic]++
	q.msgs[q.start] = m
	q.start = (q.start + 1) % len(q.msgs)
}

// take empties the queue. It returns the messages oldest first and how many
// were dropped per topic since the previous take.
func (q *replayQueue) take() ([]bufferedMsg, map[string]int) {
	var out []bufferedMsg
	if q.n > 0 {
		out = make([]bufferedMsg, 0, q.n)
		for i := 0; i < q.n; i++ {
			j := (q.start + i) % len(q.msgs)
			out = append(out, q.msgs[j])
			q.msgs[j] = bufferedMsg{}
		}
	}
	dropped := q.dropped
	q.start, q.n = 0, 0
	q.dropped = make(map[string]int)
	return out, dropped
}

func (q *replayQueue) len() int {
	return q.n
}
