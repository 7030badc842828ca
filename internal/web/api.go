package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/sweeney/gate-timer/internal/logic"
	"github.com/sweeney/gate-timer/internal/race"
	"github.com/sweeney/gate-timer/internal/timing"
)

func (s *Server) handleStartRace(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, "start race", s.control.StartRace(r.Context()))
}

func (s *Server) handleStopRace(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, "stop race", s.control.StopRace(r.Context()))
}

func (s *Server) handleClearLaps(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, "clear laps", s.control.ClearLaps(r.Context()))
}

func (s *Server) handleTestAudio(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, "test audio", s.control.TestAudio(r.Context()))
}

func (s *Server) handleSaveDeviceConfig(w http.ResponseWriter, r *http.Request) {
	s.respond(w, r, "save device config", s.control.SaveDeviceConfig(r.Context()))
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	var req ThresholdsRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Enter == nil && req.Exit == nil {
		writeError(w, http.StatusBadRequest, errors.New("enter or exit required"))
		return
	}
	th, err := s.control.SetThresholds(r.Context(), req.Enter, req.Exit)
	if err != nil {
		s.respond(w, r, "set thresholds", err)
		return
	}
	writeJSON(w, http.StatusOK, ThresholdsResponse{
		Response: Response{Success: true},
		Enter:    th.Enter,
		Exit:     th.Exit,
	})
}

func (s *Server) handleAnnouncer(w http.ResponseWriter, r *http.Request) {
	var req AnnouncerRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	settings := timing.AnnouncerSettings{
		Enabled: req.Enabled,
		Rate:    req.Rate,
		Pilot:   req.Pilot,
	}
	if req.Mode != nil {
		mode, err := logic.ParseAnnouncerMode(*req.Mode)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		settings.Mode = &mode
	}
	s.respond(w, r, "configure announcer", s.control.ConfigureAnnouncer(r.Context(), settings))
}

func (s *Server) handleDetection(w http.ResponseWriter, r *http.Request) {
	var req DetectionRequest
	if err := decodeRequest(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Active == nil {
		writeError(w, http.StatusBadRequest, errors.New("active required"))
		return
	}
	s.respond(w, r, "set detection", s.control.SetDetection(r.Context(), *req.Active))
}

// respond writes {success:true} or maps err to a status code.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, op string, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, Response{Success: true})
		return
	}

	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, race.ErrRaceActive):
		code = http.StatusConflict
	case errors.Is(err, timing.ErrInvalidRate):
		code = http.StatusBadRequest
	case errors.Is(err, timing.ErrNoDevice), errors.Is(err, timing.ErrDeviceConfigUnknown):
		code = http.StatusPreconditionFailed
	case errors.Is(err, timing.ErrStopped), errors.Is(err, context.Canceled):
		code = http.StatusServiceUnavailable
	}
	if code == http.StatusInternalServerError {
		s.log.Warn("control request failed", "op", op, "path", r.URL.Path, "error", err)
	}
	writeError(w, code, err)
}
