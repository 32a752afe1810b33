package server

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hay-kot/snapdls/internal/core/session"
	"github.com/hay-kot/snapdls/internal/core/volume"
	"github.com/hay-kot/snapdls/internal/segment"
	"github.com/rs/zerolog/hlog"
)

type interactionKind string

const (
	kindPoint    interactionKind = "point"
	kindScribble interactionKind = "scribble"
	kindLasso    interactionKind = "lasso"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Version: s.opts.Version})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	id, err := s.acquirer.Acquire(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	hlog.FromRequest(r).Info().
		Str("session_id", id).
		Dur("waited", time.Since(start)).
		Msg("session started")
	writeJSON(w, http.StatusOK, startResponse{SessionID: id})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session_id")

	existed := false
	if id != session.SentinelID {
		var err error
		existed, err = s.store.Delete(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	if !existed {
		writeJSON(w, http.StatusNotFound, messageResponse{Message: msgInvalidSession})
		return
	}

	s.opts.Metrics.SessionsEnded("client", 1)
	hlog.FromRequest(r).Info().Str("session_id", id).Msg("session ended")
	writeJSON(w, http.StatusOK, messageResponse{Message: "Session ended"})
}

func (s *Server) handleUploadRaw(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	t := newTimer()
	img, err := s.readVolume(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t.mark("decode")

	if err := sess.SetImage(r.Context(), img); err != nil {
		writeError(w, r, err)
		return
	}
	t.mark("set_image")

	t.log(hlog.FromRequest(r).Debug().Ints("size", img.Size))
	writeJSON(w, http.StatusOK, messageResponse{Message: "NIFTI file uploaded and stored in GPU memory"})
}

func (s *Server) handlePointInteraction(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	var index [3]int
	for i, name := range []string{"x", "y", "z"} {
		v, err := strconv.Atoi(q.Get(name))
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: query parameter %q must be an integer", errBadRequest, name))
			return
		}
		index[i] = v
	}
	include, err := foreground(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	t := newTimer()
	if err := sess.AddPointInteraction(r.Context(), index, include); err != nil {
		writeError(w, r, err)
		return
	}
	s.opts.Metrics.ObserveInteraction(string(kindPoint), t.mark("inference"))

	s.writeResult(w, r, sess, t)
}

func (s *Server) handleMaskInteraction(kind interactionKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.lookup(w, r)
		if !ok {
			return
		}

		t := newTimer()
		img, err := s.readVolume(w, r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		include, err := foreground(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		t.mark("decode")

		mask := img.Binarize()
		if kind == kindLasso {
			err = sess.AddLassoInteraction(r.Context(), mask, include)
		} else {
			err = sess.AddScribbleInteraction(r.Context(), mask, include)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		s.opts.Metrics.ObserveInteraction(string(kind), t.mark("inference"))

		s.writeResult(w, r, sess, t)
	}
}

func (s *Server) handleResetInteractions(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	if err := sess.ResetInteractions(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "success"})
}

// SessionSummary is one row of the /sessions listing.
type SessionSummary struct {
	ID           string        `json:"id"`
	State        segment.State `json:"state"`
	CreatedAt    time.Time     `json:"created_at"`
	LastUsed     time.Time     `json:"last_used"`
	ImageSize    []int         `json:"image_size,omitempty"`
	Interactions int           `json:"interactions"`
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := make([]SessionSummary, 0, len(entries))
	for _, e := range entries {
		if e.Session == nil {
			continue
		}
		info := e.Session.Info()
		out = append(out, SessionSummary{
			ID:           e.ID,
			State:        info.State,
			CreatedAt:    e.CreatedAt,
			LastUsed:     e.LastUsed,
			ImageSize:    info.ImageSize,
			Interactions: info.Interactions,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// lookup resolves the session_id URL parameter. It writes the invalid
// session response itself when the id is unknown.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*segment.Session, bool) {
	id := chi.URLParam(r, "session_id")
	if id == session.SentinelID {
		writeError(w, r, session.ErrNotFound)
		return nil, false
	}

	e, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	if !e.Ready() {
		writeError(w, r, session.ErrNotFound)
		return nil, false
	}
	return e.Session, true
}

// readVolume decodes the multipart "file" and "metadata" fields.
func (s *Server) readVolume(w http.ResponseWriter, r *http.Request) (*volume.Volume, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, fmt.Errorf("%w: parse form: %w", errBadRequest, err)
	}

	meta, err := volume.ParseMetadata(r.FormValue("metadata"))
	if err != nil {
		return nil, err
	}

	f, _, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: form file: %w", errBadRequest, err)
	}
	defer func() { _ = f.Close() }()

	return volume.DecodeRaw(f, meta, s.opts.MaxVoxels)
}

func (s *Server) writeResult(w http.ResponseWriter, r *http.Request, sess *segment.Session, t *timer) {
	mask, err := sess.Result()
	if err != nil {
		writeError(w, r, err)
		return
	}

	payload, err := volume.EncodeMask(mask)
	if err != nil {
		writeError(w, r, err)
		return
	}
	t.mark("encode")

	t.log(hlog.FromRequest(r).Debug().Int("foreground", mask.Count()))
	writeJSON(w, http.StatusOK, resultResponse{Status: "success", Result: payload})
}

// foreground reads the optional foreground flag from the query string or the
// form. It defaults to false.
func foreground(r *http.Request) (bool, error) {
	v := r.URL.Query().Get("foreground")
	if v == "" {
		v = r.FormValue("foreground")
	}
	if v == "" {
		return false, nil
	}
	switch strings.ToLower(v) {
	case "1", "t", "true", "y", "yes", "on":
		return true, nil
	case "0", "f", "false", "n", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("%w: foreground must be a boolean, got %q", errBadRequest, v)
}
