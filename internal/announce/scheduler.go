package announce

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sweeney/gate-timer/internal/metrics"
)

// DefaultPollInterval is how often the drain loop checks the speaker.
const DefaultPollInterval = 100 * time.Millisecond

// Item is one queued announcement.
type Item struct {
	Text     string
	Enqueued time.Time
}

// Config configures a Scheduler.
type Config struct {
	Speaker Speaker // nil means no speech backend
	Rate    float64 // speech rate multiplier, 1.0 = normal
	Poll    time.Duration
	Logger  *slog.Logger
	Now     func() time.Time
}

// Scheduler is a strict FIFO of announcements drained one at a time into a
// Speaker. Draining runs only while enabled. Disabling pauses the drain; queued
// items are kept and resume on the next Enable.
type Scheduler struct {
	speaker Speaker
	poll    time.Duration
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	queue   []Item
	rate    float64
	enabled bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewScheduler creates a disabled scheduler.
func NewScheduler(cfg Config) *Scheduler {
	s := &Scheduler{
		speaker: cfg.Speaker,
		poll:    cfg.Poll,
		log:     cfg.Logger,
		now:     cfg.Now,
		rate:    cfg.Rate,
	}
	if s.poll <= 0 {
		s.poll = DefaultPollInterval
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rate <= 0 {
		s.rate = 1
	}
	return s
}

// Enqueue appends text to the tail of the queue. It is a no-op returning false
// while the scheduler is disabled.
func (s *Scheduler) Enqueue(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled {
		return false
	}
	s.queue = append(s.queue, Item{Text: text, Enqueued: s.now()})
	metrics.AnnouncementsEnqueued.Inc()
	metrics.AnnouncementQueueLength.Set(float64(len(s.queue)))
	return true
}

// Enable starts the drain loop. The loop stops when ctx is cancelled or
// Disable is called; either leaves the scheduler disabled. Enabling an
// enabled scheduler does nothing.
func (s *Scheduler) Enable(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enabled {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.enabled = true
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(loopCtx, s.done)
	s.log.Info("announcer enabled", "queued", len(s.queue))
}

// Disable stops the drain loop and waits for it to exit. The queue is kept.
func (s *Scheduler) Disable() {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return
	}
	s.enabled = false
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	queued := len(s.queue)
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info("announcer disabled", "queued", queued)
}

// Enabled reports whether announcements are accepted and drained.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Len returns the number of queued announcements.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Rate returns the speech rate multiplier.
func (s *Scheduler) Rate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rate
}

// SetRate changes the speech rate multiplier for subsequent dispatches.
func (s *Scheduler) SetRate(rate float64) {
	if rate <= 0 {
		return
	}
	s.mu.Lock()
	s.rate = rate
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			if s.done == done {
				s.cancel()
				s.enabled = false
				s.cancel, s.done = nil, nil
				s.log.Info("announcer stopped", "queued", len(s.queue))
			}
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll performs one drain step: if the speaker is idle and the queue is not
// empty, the head item is dispatched. It returns the dispatched item, if any.
// Only the drain loop calls Poll outside of tests, so at most one dispatch is
// ever in flight.
func (s *Scheduler) Poll(ctx context.Context) (Item, bool) {
	if s.speaker != nil && s.speaker.IsSpeaking() {
		return Item{}, false
	}

	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return Item{}, false
	}
	item := s.queue[0]
	s.queue[0] = Item{}
	s.queue = s.queue[1:]
	rate := s.rate
	metrics.AnnouncementQueueLength.Set(float64(len(s.queue)))
	s.mu.Unlock()

	s.dispatch(ctx, item, rate)
	return item, true
}

func (s *Scheduler) dispatch(ctx context.Context, item Item, rate float64) {
	if s.speaker == nil {
		metrics.AnnouncementsDropped.Inc()
		s.log.Debug("announcement dropped, no speech backend", "text", item.Text)
		return
	}

	err := s.speaker.Speak(ctx, item.Text, rate)
	switch {
	case err == nil:
		metrics.AnnouncementsDispatched.Inc()
		s.log.Debug("announcement dispatched", "text", item.Text, "waited", s.now().Sub(item.Enqueued))
	case errors.Is(err, ErrSpeechUnavailable):
		metrics.AnnouncementsDropped.Inc()
		s.log.Debug("announcement dropped, speech unavailable", "text", item.Text)
	default:
		metrics.AnnouncementsDropped.Inc()
		s.log.Warn("announcement failed", "text", item.Text, "error", err)
	}
}
