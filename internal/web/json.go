package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Response is the reply to every control request.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ThresholdsRequest sets either or both crossing thresholds.
type ThresholdsRequest struct {
	Enter *int `json:"enter,omitempty"`
	Exit  *int `json:"exit,omitempty"`
}

// ThresholdsResponse returns the thresholds after coupling.
type ThresholdsResponse struct {
	Response
	Enter int `json:"enter"`
	Exit  int `json:"exit"`
}

// AnnouncerRequest changes announcer settings. Mode is one of tone, 1lap,
// 2lap or 3lap.
type AnnouncerRequest struct {
	Enabled *bool    `json:"enabled,omitempty"`
	Mode    *string  `json:"mode,omitempty"`
	Rate    *float64 `json:"rate,omitempty"`
	Pilot   *string  `json:"pilot,omitempty"`
}

// DetectionRequest turns crossing detection on or off.
type DetectionRequest struct {
	Active *bool `json:"active"`
}

const maxRequestBody = 16 << 10

func decodeRequest(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, Response{Success: false, Error: err.Error()})
}
