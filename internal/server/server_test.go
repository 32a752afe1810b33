package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/hay-kot/snapdls/internal/core/engine"
	"github.com/hay-kot/snapdls/internal/core/session"
	"github.com/hay-kot/snapdls/internal/core/volume"
	"github.com/hay-kot/snapdls/internal/engine/regiongrow"
	"github.com/hay-kot/snapdls/internal/metrics"
	"github.com/hay-kot/snapdls/internal/segment"
	"github.com/hay-kot/snapdls/internal/store/memory"
	"github.com/hay-kot/snapdls/internal/warmup"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildRegionGrow(context.Context) (*segment.Session, error) {
	return segment.New(regiongrow.New(regiongrow.DefaultModel()), zerolog.Nop()), nil
}

type testEnv struct {
	srv     *httptest.Server
	store   *memory.Store
	metrics *metrics.Metrics
}

func newTestEnv(t *testing.T, build warmup.BuildFunc, opts Options) *testEnv {
	t.Helper()

	store := memory.New()
	m := metrics.New()
	sched := warmup.New(store, build, zerolog.Nop(), warmup.Options{Metrics: m})
	require.NoError(t, sched.Start(context.Background()))

	opts.Metrics = m
	srv := httptest.NewServer(New(store, sched, zerolog.Nop(), opts).Handler())

	t.Cleanup(func() {
		srv.Close()
		_ = sched.Close(context.Background())
		_, _ = store.Clear(context.Background())
	})
	return &testEnv{srv: srv, store: store, metrics: m}
}

func (e *testEnv) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *testEnv) post(t *testing.T, path string, body *bytes.Buffer, ctype string, out any) int {
	t.Helper()
	resp, err := http.Post(e.srv.URL+path, ctype, body)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *testEnv) startSession(t *testing.T) string {
	t.Helper()
	var out startResponse
	require.Equal(t, http.StatusOK, e.get(t, "/start_session", &out))
	require.NotEmpty(t, out.SessionID)
	return out.SessionID
}

func form(t *testing.T, meta string, payload []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("metadata", meta))
	fw, err := mw.CreateFormFile("file", "volume.raw.gz")
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func volumeForm(t *testing.T, img *volume.Volume) (*bytes.Buffer, string) {
	t.Helper()
	payload, meta, err := volume.EncodeRaw(img)
	require.NoError(t, err)
	raw, err := json.Marshal(meta)
	require.NoError(t, err)
	return form(t, string(raw), payload)
}

func newVolume(size ...int) *volume.Volume {
	g := volume.NewGeometry(size...)
	return &volume.Volume{Geometry: g, Voxels: make([]float32, g.NumVoxels())}
}

func TestServer_Status(t *testing.T) {
	env := newTestEnv(t, buildRegionGrow, Options{Version: "1.2.3"})

	var out statusResponse
	assert.Equal(t, http.StatusOK, env.get(t, "/status", &out))
	assert.Equal(t, statusResponse{Status: "ok", Version: "1.2.3"}, out)
}

func TestServer_StartAndEndSession(t *testing.T) {
	env := newTestEnv(t, buildRegionGrow, Options{})

	a := env.startSession(t)
	b := env.startSession(t)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, session.SentinelID, a)

	var msg messageResponse
	assert.Equal(t, http.StatusOK, env.get(t, "/end_session/"+a, &msg))
	assert.Equal(t, "Session ended", msg.Message)

	assert.Equal(t, http.StatusNotFound, env.get(t, "/end_session/"+a, &msg))
	assert.Equal(t, "Invalid session", msg.Message)

	_, err := env.store.Get(context.Background(), b)
	require.NoError(t, err, "ending one session must not affect another")
}

func TestServer_InvalidSession(t *testing.T) {
	env := newTestEnv(t, buildRegionGrow, Options{})

	for _, id := range []string{"does-not-exist", session.SentinelID} {
		paths := []string{
			"/process_point_interaction/" + id + "?x=0&y=0&z=0",
			"/reset_interactions/" + id,
		}
		for _, p := range paths {
			var out errorResponse
			assert.Equal(t, http.StatusNotFound, env.get(t, p, &out), p)
			assert.Equal(t, "Invalid session", out.Error, p)
		}

		body, ctype := volumeForm(t, newVolume(4, 4, 4))
		var out errorResponse
		assert.Equal(t, http.StatusNotFound, env.post(t, "/upload_raw/"+id, body, ctype, &out))
		assert.Equal(t, "Invalid session", out.Error)
	}

	var msg messageResponse
	assert.Equal(t, http.StatusNotFound, env.get(t, "/end_session/"+session.SentinelID, &msg))
	_, err := env.store.Get(context.Background(), session.SentinelID)
	require.NoError(t, err, "sentinel must survive an end_session request")
}

func TestServer_UploadThenPoint(t *testing.T) {
	env := newTestEnv(t, buildRegionGrow, Options{})
	id := env.startSession(t)

	img := newVolume(64, 64, 32)
	body, ctype := volumeForm(t, img)

	var msg messageResponse
	require.Equal(t, http.StatusOK, env.post(t, "/upload_raw/"+id, body, ctype, &msg))
	assert.NotEmpty(t, msg.Message)

	// an exclusion on an empty mask leaves it empty
	var res resultResponse
	require.Equal(t, http.StatusOK, env.get(t, "/process_point_interaction/"+id+"?x=10&y=20&z=5&foreground=false", &res))
	assert.Equal(t, "success", res.Status)

	mask, err := volume.DecodeMask(res.Result, img.Geometry)
	require.NoError(t, err)
	assert.Equal(t, []int{64, 64, 32}, mask.Size)
	assert.Equal(t, 0, mask.Count())
}

func TestServer_PointForeground(t *testing.T) {
	env := newTestEnv(t, buildRegionGrow, Options{})
	id := env.startSession(t)

	img := newVolume(8, 8, 4)
	// bright column at x=2..3
	for z := range 4 {
		for y := range 8 {
			img.Voxels[2+8*(y+8*z)] = 100
			img.Voxels[3+8*(y+8*z)] = 100
		}
	}
	body, ctype := volumeForm(t, img)
	require.Equal(t, http.StatusOK, env.post(t, "/upload_raw/"+id, body, ctype, nil))

	var res resultResponse
	require.Equal(t, http.StatusOK, env.get(t, "/process_point_interaction/"+id+"?x=2&y=1&z=1&foreground=true", &res))
	mask, err := volume.DecodeMask(res.Result, img.Geometry)
	require.NoError(t, err)
	assert.Equal(t, 2*8*4, mask.Count())
	assert.Equal(t, uint8(1), mask.Voxels[3+8*(7+8*3)])

	var reset statusResponse
	require.Equal(t, http.StatusOK, env.get(t, "/reset_interactions/"+id, &reset))
	assert.Equal(t, "success", reset.Status)
}

func TestServer_ForegroundValues(t *testing.T) {
	env := newTestEnv(t, buildRegionGrow, Options{})
	id := env.startSession(t)

	img := newVolume(4, 4, 4)
	for i := range img.Voxels {
		img.Voxels[i] = 100
	}
	body, ctype := volumeForm(t, img)
	require.Equal(t, http.StatusOK, env.post(t, "/upload_raw/"+id, body, ctype, nil))

	tests := []struct {
		value string
		want  bool
	}{
		{"true", true}, {"True", true}, {"1", true}, {"yes", true}, {"on", true}, {"y", true}, {"t", true},
		{"false", false}, {"0", false}, {"no", false}, {"off", false}, {"N", false}, {"f", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			require.Equal(t, http.StatusOK, env.get(t, "/reset_interactions/"+id, nil))

			var res resultResponse
			require.Equal(t, http.StatusOK, env.get(t, "/process_point_interaction/"+id+"?x=1&y=1&z=1&foreground="+tt.value, &res))
			mask, err := volume.DecodeMask(res.Result, img.Geometry)
			require.NoError(t, err)
			assert.Equal(t, tt.want, mask.Count() > 0)
		})
	}
}

func TestServer_MaskInteractions(t *testing.T) {
	env := newTestEnv(t, buildRegionGrow, Options{})
	id := env.startSession(t)

	img := newVolume(8, 8, 4)
	body, ctype := volumeForm(t, img)
	require.Equal(t, http.StatusOK, env.post(t, "/upload_raw/"+id, body, ctype, nil))

	// a square outline on slice z=1
	lasso := newVolume(8, 8, 4)
	for i := 2; i <= 5; i++ {
		lasso.Voxels[i+8*(2+8*1)] = 1
		lasso.Voxels[i+8*(5+8*1)] = 1
		lasso.Voxels[2+8*(i+8*1)] = 1
		lasso.Voxels[5+8*(i+8*1)] = 1
	}
	body, ctype = volumeForm(t, lasso)

	var res resultResponse
	require.Equal(t, http.StatusOK, env.post(t, "/process_lasso_interaction/"+id+"?foreground=true", body, ctype, &res))
	mask, err := volume.DecodeMask(res.Result, img.Geometry)
	require.NoError(t, err)
	assert.Equal(t, 16, mask.Count())

	scribble := newVolume(8, 8, 4)
	scribble.Voxels[3+8*(3+8*1)] = 1
	body, ctype = volumeForm(t, scribble)

	require.Equal(t, http.StatusOK, env.post(t, "/process_scribble_interaction/"+id+"?foreground=false", body, ctype, &res))
	mask, err = volume.DecodeMask(res.Result, img.Geometry)
	require.NoError(t, err)
	assert.Equal(t, 0, mask.Count())
}

func TestServer_InputErrors(t *testing.T) {
	env := newTestEnv(t, buildRegionGrow, Options{})
	id := env.startSession(t)

	t.Run("interaction before upload", func(t *testing.T) {
		var out errorResponse
		assert.Equal(t, http.StatusConflict, env.get(t, "/process_point_interaction/"+id+"?x=0&y=0&z=0", &out))
		assert.NotEmpty(t, out.Error)
		assert.Equal(t, http.StatusConflict, env.get(t, "/reset_interactions/"+id, nil))
	})

	t.Run("payload not gzip", func(t *testing.T) {
		body, ctype := form(t, `{"dimensions":[2,2,2]}`, []byte("plain"))
		assert.Equal(t, http.StatusBadRequest, env.post(t, "/upload_raw/"+id, body, ctype, nil))
	})

	t.Run("dimensions do not match payload", func(t *testing.T) {
		payload, _, err := volume.EncodeRaw(newVolume(2, 2, 2))
		require.NoError(t, err)
		body, ctype := form(t, `{"dimensions":[4,4,4]}`, payload)
		assert.Equal(t, http.StatusBadRequest, env.post(t, "/upload_raw/"+id, body, ctype, nil))
	})

	t.Run("metadata missing", func(t *testing.T) {
		body, ctype := form(t, ``, nil)
		assert.Equal(t, http.StatusBadRequest, env.post(t, "/upload_raw/"+id, body, ctype, nil))
	})

	t.Run("wrong rank", func(t *testing.T) {
		body, ctype := volumeForm(t, newVolume(8, 8))
		var out errorResponse
		assert.Equal(t, http.StatusBadRequest, env.post(t, "/upload_raw/"+id, body, ctype, &out))
		assert.Contains(t, out.Error, "invalid shape")
	})

	t.Run("session still usable", func(t *testing.T) {
		body, ctype := volumeForm(t, newVolume(4, 4, 4))
		assert.Equal(t, http.StatusOK, env.post(t, "/upload_raw/"+id, body, ctype, nil))
	})

	t.Run("bad point query", func(t *testing.T) {
		for _, q := range []string{"?x=a&y=0&z=0", "?x=0&y=0", "?x=0&y=0&z=0&foreground=maybe"} {
			assert.Equal(t, http.StatusBadRequest, env.get(t, "/process_point_interaction/"+id+q, nil), q)
		}
	})

	t.Run("point outside image", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, env.get(t, "/process_point_interaction/"+id+"?x=4&y=0&z=0", nil))
	})

	t.Run("mask shape mismatch", func(t *testing.T) {
		body, ctype := volumeForm(t, newVolume(5, 4, 4))
		assert.Equal(t, http.StatusBadRequest, env.post(t, "/process_scribble_interaction/"+id, body, ctype, nil))
	})
}

func TestServer_UploadTooLarge(t *testing.T) {
	env := newTestEnv(t, buildRegionGrow, Options{MaxUploadBytes: 256})
	id := env.startSession(t)

	img := newVolume(16, 16, 16)
	for i := range img.Voxels {
		img.Voxels[i] = float32(i)
	}
	body, ctype := volumeForm(t, img)
	assert.Equal(t, http.StatusRequestEntityTooLarge, env.post(t, "/upload_raw/"+id, body, ctype, nil))
}

func TestServer_OverflowingDimensions(t *testing.T) {
	env := newTestEnv(t, buildRegionGrow, Options{})
	id := env.startSession(t)

	empty, _, err := volume.EncodeRaw(&volume.Volume{Geometry: volume.NewGeometry(1)})
	require.NoError(t, err)

	for _, meta := range []string{
		`{"dimensions":[4294967296,4294967296,1]}`,
		`{"dimensions":[2147483648,2147483648,2]}`,
	} {
		body, ctype := form(t, meta, empty)
		var out errorResponse
		assert.Equal(t, http.StatusBadRequest, env.post(t, "/upload_raw/"+id, body, ctype, &out), meta)
		assert.Contains(t, out.Error, "malformed payload", meta)
	}

	// Nothing was bound, so the session still has no image.
	assert.Equal(t, http.StatusConflict, env.get(t, "/process_point_interaction/"+id+"?x=0&y=0&z=0", nil))
}

func TestServer_VoxelLimit(t *testing.T) {
	env := newTestEnv(t, buildRegionGrow, Options{MaxVoxels: 64})
	id := env.startSession(t)

	body, ctype := volumeForm(t, newVolume(4, 4, 4))
	require.Equal(t, http.StatusOK, env.post(t, "/upload_raw/"+id, body, ctype, nil))

	var out errorResponse
	body, ctype = volumeForm(t, newVolume(5, 4, 4))
	assert.Equal(t, http.StatusRequestEntityTooLarge, env.post(t, "/upload_raw/"+id, body, ctype, &out))
	assert.Contains(t, out.Error, "volume too large")

	body, ctype = volumeForm(t, newVolume(5, 4, 4))
	assert.Equal(t, http.StatusRequestEntityTooLarge, env.post(t, "/process_scribble_interaction/"+id, body, ctype, nil))
}

func TestServer_StartSessionFailure(t *testing.T) {
	build := func(context.Context) (*segment.Session, error) {
		return nil, fmt.Errorf("load engine: %w", engine.ErrModelNotFound)
	}
	env := newTestEnv(t, build, Options{})

	var out errorResponse
	assert.Equal(t, http.StatusServiceUnavailable, env.get(t, "/start_session", &out))
	assert.Contains(t, out.Error, "model")
}

func TestServer_ListSessions(t *testing.T) {
	env := newTestEnv(t, buildRegionGrow, Options{})
	a := env.startSession(t)
	b := env.startSession(t)

	body, ctype := volumeForm(t, newVolume(4, 4, 4))
	require.Equal(t, http.StatusOK, env.post(t, "/upload_raw/"+b, body, ctype, nil))

	var out []SessionSummary
	require.Equal(t, http.StatusOK, env.get(t, "/sessions", &out))
	require.Len(t, out, 2)

	byID := map[string]SessionSummary{}
	for _, s := range out {
		byID[s.ID] = s
	}
	assert.Equal(t, segment.StateUninitialized, byID[a].State)
	assert.Equal(t, segment.StateImageLoaded, byID[b].State)
	assert.Equal(t, []int{4, 4, 4}, byID[b].ImageSize)
}

func TestServer_Metrics(t *testing.T) {
	env := newTestEnv(t, buildRegionGrow, Options{})
	env.startSession(t)

	resp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "snapdls_sessions_started_total 1")
}

func TestServer_ServeAndShutdown(t *testing.T) {
	store := memory.New()
	sched := warmup.New(store, buildRegionGrow, zerolog.Nop(), warmup.Options{})
	srv := New(store, sched, zerolog.Nop(), Options{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln, time.Second) }()

	u := url.URL{Scheme: "http", Host: ln.Addr().String(), Path: "/status"}
	require.Eventually(t, func() bool {
		resp, err := http.Get(u.String())
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrapped: %w", segment.ErrClosed), http.StatusNotFound},
		{volume.ErrMalformedPayload, http.StatusBadRequest},
		{segment.ErrInvalidShape, http.StatusBadRequest},
		{errBadRequest, http.StatusBadRequest},
		{segment.ErrNoImage, http.StatusConflict},
		{fmt.Errorf("warm up session: %w", engine.ErrDeviceUnavailable), http.StatusServiceUnavailable},
		{warmup.ErrClosed, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("decode: %w", volume.ErrVolumeTooLarge), http.StatusRequestEntityTooLarge},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
