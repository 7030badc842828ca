// Package device talks to the gate timing device over HTTP: request/response
// calls for the timer, signal streaming and configuration, and the
// server-sent event stream that carries telemetry.
package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single request/response call.
const DefaultTimeout = 5 * time.Second

// Endpoint paths on the device.
const (
	PathTimerStart  = "/timer/start"
	PathTimerStop   = "/timer/stop"
	PathSignalStart = "/timer/rssiStart"
	PathSignalStop  = "/timer/rssiStop"
	PathConfig      = "/config"
	PathEvents      = "/events"
)

// Config is the device's persisted configuration. Rates and times are in
// tenths, as stored on the device.
type Config struct {
	Frequency     int    `json:"freq"`
	MinLapTenths  int    `json:"minLap"`
	AlarmTenths   int    `json:"alarm"`
	AnnouncerType int    `json:"anType"`
	RateTenths    int    `json:"anRate"`
	EnterLevel    int    `json:"enterRssi"`
	ExitLevel     int    `json:"exitRssi"`
	PilotName     string `json:"name"`
	SSID          string `json:"ssid,omitempty"`
	Password      string `json:"pwd,omitempty"`
}

// RateMultiplier returns the announcer rate as a multiplier.
func (c Config) RateMultiplier() float64 {
	return float64(c.RateTenths) / 10
}

// Response is the device's reply to a command. Older firmware answers
// {"status":"OK"}; newer firmware answers {"success":true} or
// {"success":false,"error":"..."}.
type Response struct {
	Success *bool  `json:"success,omitempty"`
	Status  string `json:"status,omitempty"`
	Error   string `json:"error,omitempty"`
}

// OK reports whether the response indicates success.
func (r Response) OK() bool {
	if r.Success != nil {
		return *r.Success
	}
	return strings.EqualFold(r.Status, "ok")
}

// APIError is a failed device call.
type APIError struct {
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("device %s: http %d", e.Path, e.StatusCode)
	}
	return fmt.Sprintf("device %s: http %d: %s", e.Path, e.StatusCode, e.Message)
}

// Client calls the device API.
type Client struct {
	base   string
	http   *http.Client
	stream *http.Client
	log    *slog.Logger

	onConn func(connected bool)
}

// NewClient creates a client for the device at baseURL (e.g. "http://192.168.4.1").
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: timeout},
		stream: &http.Client{}, // event stream is long-lived; bounded by ctx only
		log:    logger,
	}
}

// OnConnectionChange registers f to be called when the event stream
// connects or drops. Call before Stream or Subscribe.
func (c *Client) OnConnectionChange(f func(connected bool)) {
	c.onConn = f
}

func (c *Client) connectionChanged(connected bool) {
	if c.onConn != nil {
		c.onConn(connected)
	}
}

// StartTimer starts the race timer on the device.
func (c *Client) StartTimer(ctx context.Context) error {
	return c.command(ctx, PathTimerStart)
}

// StopTimer stops the race timer on the device.
func (c *Client) StopTimer(ctx context.Context) error {
	return c.command(ctx, PathTimerStop)
}

// StartSignal asks the device to start streaming signal samples.
func (c *Client) StartSignal(ctx context.Context) error {
	return c.command(ctx, PathSignalStart)
}

// StopSignal asks the device to stop streaming signal samples.
func (c *Client) StopSignal(ctx context.Context) error {
	return c.command(ctx, PathSignalStop)
}

// GetConfig reads the device configuration.
func (c *Client) GetConfig(ctx context.Context) (Config, error) {
	var cfg Config
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+PathConfig, nil)
	if err != nil {
		return cfg, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return cfg, fmt.Errorf("get config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return cfg, &APIError{Path: PathConfig, StatusCode: resp.StatusCode, Message: readMessage(resp.Body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the device configuration.
func (c *Client) SaveConfig(ctx context.Context, cfg Config) error {
	body, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return c.post(ctx, PathConfig, body)
}

func (c *Client) command(ctx context.Context, path string) error {
	return c.post(ctx, path, nil)
}

func (c *Client) post(ctx context.Context, path string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}

	var r Response
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &r); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	if resp.StatusCode != http.StatusOK || !r.OK() {
		return &APIError{Path: path, StatusCode: resp.StatusCode, Message: r.Error}
	}
	c.log.Debug("device call ok", "path", path)
	return nil
}

func readMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4<<10))
	var resp Response
	if json.Unmarshal(raw, &resp) == nil && resp.Error != "" {
		return resp.Error
	}
	return strings.TrimSpace(string(raw))
}
