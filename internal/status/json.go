package status

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sweeney/gate-timer/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	Race          RaceJSON      `json:"race"`
	Laps          []LapJSON     `json:"laps"`
	Summary       SummaryJSON   `json:"summary"`
	Detector      DetectorJSON  `json:"detector"`
	Series        []PointJSON   `json:"series,omitempty"`
	Battery       *BatteryJSON  `json:"battery,omitempty"`
	Announcer     AnnouncerJSON `json:"announcer"`
	Device        DeviceJSON    `json:"device"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Config        ConfigJSON    `json:"config"`
}

// RaceJSON is the race state and timer.
type RaceJSON struct {
	State     string `json:"state"`
	ID        string `json:"id,omitempty"`
	Elapsed   string `json:"elapsed"`
	ElapsedMs int64  `json:"elapsed_ms"`
	CanStart  bool   `json:"can_start"`
	CanStop   bool   `json:"can_stop"`
}

// LapJSON is one lap. Durations are seconds at lap precision.
type LapJSON struct {
	Index    int          `json:"index"`
	Holeshot bool         `json:"holeshot"`
	Duration json.Number  `json:"duration"`
	TwoLap   *json.Number `json:"two_lap"`
	ThreeLap *json.Number `json:"three_lap"`
}

// SummaryJSON summarises the non-holeshot laps.
type SummaryJSON struct {
	Count   int          `json:"count"`
	Best    *json.Number `json:"best"`
	BestLap *int         `json:"best_lap"`
	Mean    float64      `json:"mean"`
	StdDev  float64      `json:"stddev"`
}

// DetectorJSON is the crossing detector state.
type DetectorJSON struct {
	Enter          int    `json:"enter"`
	Exit           int    `json:"exit"`
	Crossing       string `json:"crossing"`
	Active         bool   `json:"active"`
	Level          int    `json:"level"`
	Min            int    `json:"min"`
	Max            int    `json:"max"`
	SamplesDropped uint64 `json:"samples_dropped"`
}

// PointJSON is one chart point.
type PointJSON struct {
	T        int64 `json:"t"` // unix milliseconds
	Level    int   `json:"level"`
	Crossing bool  `json:"crossing"`
}

// BatteryJSON is the last battery warning.
type BatteryJSON struct {
	Voltage    float64 `json:"voltage"`
	Percentage float64 `json:"percentage"`
	At         string  `json:"at"`
}

// AnnouncerJSON is the announcer state.
type AnnouncerJSON struct {
	Enabled bool    `json:"enabled"`
	Queued  int     `json:"queued"`
	Mode    string  `json:"mode"`
	Rate    float64 `json:"rate"`
	Pilot   string  `json:"pilot,omitempty"`
}

// DeviceJSON reports the device link.
type DeviceJSON struct {
	URL       string `json:"url"`
	Connected bool   `json:"connected"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	TickMs       int64  `json:"tick_ms"`
	PollMs       int64  `json:"poll_ms"`
	Broker       string `json:"broker"`
	TopicPrefix  string `json:"topic_prefix"`
	HTTPAddr     string `json:"http_addr"`
	SpeechBinary string `json:"speech_binary,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	elapsed := snap.Elapsed()

	inner := StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Race: RaceJSON{
			State:     string(snap.Race),
			ID:        snap.RaceID,
			Elapsed:   logic.FormatElapsed(elapsed),
			ElapsedMs: elapsed.Milliseconds(),
			CanStart:  snap.CanStart,
			CanStop:   snap.CanStop,
		},
		Laps:    make([]LapJSON, 0, len(snap.Laps)),
		Summary: buildSummary(snap.Summary),
		Detector: DetectorJSON{
			Enter:          snap.Thresholds.Enter,
			Exit:           snap.Thresholds.Exit,
			Crossing:       string(snap.Crossing),
			Active:         snap.DetectionActive,
			Level:          snap.Level,
			Min:            snap.Bounds.Min,
			Max:            snap.Bounds.Max,
			SamplesDropped: snap.SamplesDropped,
		},
		Announcer: AnnouncerJSON{
			Enabled: snap.Announcer.Enabled,
			Queued:  snap.Announcer.Queued,
			Mode:    snap.Announcer.Mode.String(),
			Rate:    snap.Announcer.Rate,
			Pilot:   snap.Announcer.Pilot,
		},
		Device: DeviceJSON{URL: snap.Config.DeviceURL, Connected: snap.DeviceConnected},
		MQTT:   MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			TickMs:       snap.Config.TickMs,
			PollMs:       snap.Config.PollMs,
			Broker:       snap.Config.Broker,
			TopicPrefix:  snap.Config.TopicPrefix,
			HTTPAddr:     snap.Config.HTTPAddr,
			SpeechBinary: snap.Config.SpeechBinary,
		},
	}

	for _, l := range snap.Laps {
		inner.Laps = append(inner.Laps, LapJSON{
			Index:    l.Index,
			Holeshot: l.Holeshot(),
			Duration: fixed(l.Duration),
			TwoLap:   nullFixed(l.TwoLap),
			ThreeLap: nullFixed(l.ThreeLap),
		})
	}

	if snap.Battery != nil {
		inner.Battery = &BatteryJSON{
			Voltage:    snap.Battery.Voltage,
			Percentage: snap.Battery.Percentage,
			At:         snap.Battery.At.UTC().Format(time.RFC3339),
		}
	}
	return inner
}

func buildSummary(s logic.Summary) SummaryJSON {
	out := SummaryJSON{Count: s.Count, Mean: s.Mean, StdDev: s.StdDev}
	if s.Best.Valid {
		out.Best = nullFixed(s.Best)
		at := s.BestAt
		out.BestLap = &at
	}
	return out
}

func buildSeries(snap Snapshot, inner *StatusInner) {
	for _, p := range snap.Series {
		inner.Series = append(inner.Series, PointJSON{
			T:        p.Time.UnixMilli(),
			Level:    p.Level,
			Crossing: p.Crossing,
		})
	}
}

// FormatJSON returns the JSON status for the web endpoint, including the
// signal chart series.
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildSeries(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
// The chart series is left out.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}

func fixed(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(logic.LapPrecision))
}

func nullFixed(d decimal.NullDecimal) *json.Number {
	if !d.Valid {
		return nil
	}
	n := fixed(d.Decimal)
	return &n
}
