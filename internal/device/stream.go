package device

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultReconnectDelay is the wait between event stream connection attempts.
const DefaultReconnectDelay = 2 * time.Second

// ErrStreamClosed is returned when the device closes the event stream.
var ErrStreamClosed = errors.New("event stream closed by device")

// HandlerFunc receives one named server-sent event.
type HandlerFunc func(kind string, data []byte)

// Stream connects to the device event stream and calls handle for every
// named event until ctx is cancelled or the connection fails. Unnamed events
// (the device's connection greeting) are skipped.
func (c *Client) Stream(ctx context.Context, handle HandlerFunc) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+PathEvents, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &APIError{Path: PathEvents, StatusCode: resp.StatusCode}
	}
	c.log.Info("event stream connected", "url", c.base+PathEvents)
	c.connectionChanged(true)
	defer c.connectionChanged(false)

	err = readEvents(resp.Body, handle)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return ErrStreamClosed
}

// Subscribe keeps an event stream open, reconnecting after delay whenever it
// drops. It returns when ctx is cancelled.
func (c *Client) Subscribe(ctx context.Context, delay time.Duration, handle HandlerFunc) {
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}
	for {
		err := c.Stream(ctx, handle)
		if ctx.Err() != nil {
			return
		}
		c.log.Warn("event stream disconnected", "error", err, "retry_in", delay)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// readEvents parses a text/event-stream body.
func readEvents(r io.Reader, handle HandlerFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), 64<<10)

	var kind string
	var data []string
	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")

		if line == "" {
			if kind != "" && data != nil {
				handle(kind, []byte(strings.Join(data, "\n")))
			}
			kind, data = "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			kind = value
		case "data":
			data = append(data, value)
		}
		// id and retry are not used
	}
	return scanner.Err()
}
