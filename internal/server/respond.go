package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hay-kot/snapdls/internal/core/engine"
	"github.com/hay-kot/snapdls/internal/core/session"
	"github.com/hay-kot/snapdls/internal/core/volume"
	"github.com/hay-kot/snapdls/internal/segment"
	"github.com/hay-kot/snapdls/internal/warmup"
	"github.com/rs/zerolog/hlog"
)

// msgInvalidSession is the body text clients match on for unknown ids.
const msgInvalidSession = "Invalid session"

// errBadRequest marks malformed query or form input.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error string `json:"error"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type resultResponse struct {
	Status string `json:"status"`
	Result string `json:"result"`
}

type startResponse struct {
	SessionID string `json:"session_id"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code. Invalid sessions always carry the
// fixed "Invalid session" text; other errors carry their message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)

	msg := err.Error()
	if code == http.StatusNotFound {
		msg = msgInvalidSession
	}

	evt := hlog.FromRequest(r).Debug()
	if code >= http.StatusInternalServerError {
		evt = hlog.FromRequest(r).Error()
	}
	evt.Err(err).Int("status", code).Msg("request failed")

	writeJSON(w, code, errorResponse{Error: msg})
}

func statusFor(err error) int {
	var maxBytes *http.MaxBytesError

	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, segment.ErrClosed):
		return http.StatusNotFound
	case errors.As(err, &maxBytes), errors.Is(err, volume.ErrVolumeTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errBadRequest),
		errors.Is(err, volume.ErrMalformedPayload),
		errors.Is(err, segment.ErrInvalidShape):
		return http.StatusBadRequest
	case errors.Is(err, segment.ErrNoImage):
		return http.StatusConflict
	case errors.Is(err, engine.ErrDeviceUnavailable),
		errors.Is(err, engine.ErrModelNotFound),
		errors.Is(err, engine.ErrInvalidModel),
		errors.Is(err, warmup.ErrClosed),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
