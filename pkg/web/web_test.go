package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-tryon/pkg/camera"
	"github.com/teslashibe/go-tryon/pkg/consult"
	"github.com/teslashibe/go-tryon/pkg/engine"
	"github.com/teslashibe/go-tryon/pkg/flow"
	"github.com/teslashibe/go-tryon/pkg/vto"
)

type testServer struct {
	*Server
	device *camera.MockDevice
}

func newTestServer(t *testing.T, mutate ...func(*Config)) *testServer {
	t.Helper()
	device := camera.NewMockDevice(nil)
	cfg := Config{
		Device: device,
		Loader: engine.NewLoader(engine.SimResolver(engine.WithStartDelay(time.Millisecond)), nil),
		SessionOptions: []vto.Option{
			vto.WithSettleDelay(time.Millisecond),
			vto.WithReadySettle(time.Millisecond),
			vto.WithReadyTimeout(time.Second),
			vto.WithPoller(engine.NewPoller(time.Millisecond, nil)),
		},
		ProcessingDelay: time.Millisecond,
		Consultant:      consult.NewConsultant(consult.NewMock("Round frames suit you"), nil),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	md, _ := cfg.Device.(*camera.MockDevice)
	return &testServer{Server: s, device: md}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.App().Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

// snapView is the subset of a snapshot the tests look at.
type snapView struct {
	Session string `json:"session"`
	State   string `json:"state"`
	Model   string `json:"model"`
	Error   *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
	Controls struct {
		CartEnabled bool `json:"cart_enabled"`
	} `json:"controls"`
}

type opView struct {
	Accepted bool     `json:"accepted"`
	Snapshot snapView `json:"snapshot"`
}

func (ts *testServer) waitSession(t *testing.T, id, state string) snapView {
	t.Helper()
	var last snapView
	require.Eventually(t, func() bool {
		resp := ts.do(t, http.MethodGet, "/api/tryon/"+id, nil)
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return false
		}
		last = decode[snapView](t, resp)
		return last.State == state
	}, 3*time.Second, 5*time.Millisecond, "session never reached %s", state)
	return last
}

func (ts *testServer) waitStep(t *testing.T, id string, step flow.Step) flow.View {
	t.Helper()
	var last flow.View
	require.Eventually(t, func() bool {
		last = decode[flow.View](t, ts.do(t, http.MethodGet, "/api/flow/"+id, nil))
		return last.Step == step
	}, 3*time.Second, 5*time.Millisecond, "flow never reached %s", step)
	return last
}

func TestCatalogEndpoints(t *testing.T) {
	ts := newTestServer(t)

	all := decode[[]map[string]any](t, ts.do(t, http.MethodGet, "/api/catalog", nil))
	assert.NotEmpty(t, all)

	resp := ts.do(t, http.MethodGet, "/api/catalog/1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodGet, "/api/catalog/999", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodGet, "/api/catalog/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	qs := decode[[]flow.Question](t, ts.do(t, http.MethodGet, "/api/questions", nil))
	assert.Len(t, qs, 7)

	models := decode[[]engine.Model](t, ts.do(t, http.MethodGet, "/api/models", nil))
	assert.Equal(t, engine.Models(), models)
}

func TestOpsEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	require.Eventually(t, ts.Hub().IsRunning, time.Second, time.Millisecond)
	resp = ts.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodGet, "/metrics", nil)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "tryon_sessions_active")
}

func TestTryOnSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/tryon", MountRequest{FrameID: 1})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	snap := decode[snapView](t, resp)
	require.NotEmpty(t, snap.Session)

	ready := ts.waitSession(t, snap.Session, "ready")
	assert.Equal(t, engine.DefaultModelID, ready.Model)
	assert.True(t, ready.Controls.CartEnabled)
	assert.Equal(t, 1, ts.device.LiveTracks())

	op := decode[opView](t, ts.do(t, http.MethodPost, "/api/tryon/"+snap.Session+"/adjust/enter", nil))
	assert.True(t, op.Accepted)
	ts.waitSession(t, snap.Session, "adjust_mode")

	// Retry is only meaningful from an error.
	op = decode[opView](t, ts.do(t, http.MethodPost, "/api/tryon/"+snap.Session+"/retry", nil))
	assert.False(t, op.Accepted)

	op = decode[opView](t, ts.do(t, http.MethodPost, "/api/tryon/"+snap.Session+"/adjust/exit", nil))
	assert.True(t, op.Accepted)
	ts.waitSession(t, snap.Session, "ready")

	resp = ts.do(t, http.MethodPost, "/api/tryon/"+snap.Session+"/model", ModelRequest{Model: "carrera_113S_blue"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodDelete, "/api/tryon/"+snap.Session, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 0, ts.device.LiveTracks(), "camera released on teardown")

	resp = ts.do(t, http.MethodGet, "/api/tryon/"+snap.Session, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestTryOnRejectsBadRequests(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/tryon", MountRequest{FrameID: 999})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/api/tryon", MountRequest{FrameID: 1, Model: "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
	assert.Zero(t, ts.sessions.Count())

	resp = ts.do(t, http.MethodPost, "/api/tryon/missing/retry", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestTryOnSwitchRejectsUnknownModel(t *testing.T) {
	ts := newTestServer(t)

	snap := decode[snapView](t, ts.do(t, http.MethodPost, "/api/tryon", MountRequest{FrameID: 1}))
	ts.waitSession(t, snap.Session, "ready")

	resp := ts.do(t, http.MethodPost, "/api/tryon/"+snap.Session+"/model", ModelRequest{Model: "no_such_sku"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	ready := ts.waitSession(t, snap.Session, "ready")
	assert.Equal(t, engine.DefaultModelID, ready.Model)
}

func TestTryOnCameraDenied(t *testing.T) {
	ts := newTestServer(t, func(c *Config) {
		c.Device = camera.NewMockDevice(nil, camera.WithFailure(camera.ErrPermissionDenied))
	})

	snap := decode[snapView](t, ts.do(t, http.MethodPost, "/api/tryon", MountRequest{FrameID: 1}))
	failed := ts.waitSession(t, snap.Session, "error")
	require.NotNil(t, failed.Error)
	assert.Equal(t, "camera_acquisition_failed", failed.Error.Kind)
	assert.Contains(t, failed.Error.Message, "Camera access is required")
	assert.False(t, failed.Controls.CartEnabled)

	op := decode[opView](t, ts.do(t, http.MethodPost, "/api/tryon/"+snap.Session+"/demo", nil))
	assert.False(t, op.Accepted, "demo waits until retries are exhausted")

	op = decode[opView](t, ts.do(t, http.MethodPost, "/api/tryon/"+snap.Session+"/retry", nil))
	assert.True(t, op.Accepted)
	assert.NotEqual(t, "error", op.Snapshot.State)
}

func answerAll(t *testing.T, ts *testServer, id string) {
	t.Helper()
	answers := []AnswerRequest{
		{Option: "RM200-350"},
		{Option: "Classic"},
		{Option: "Skip"},
		{Option: "Office/Indoor"},
		{Option: "2-6 hours"},
		{Option: "Daily commuter"},
		{Text: "Mostly reading at a desk"},
	}
	for i, a := range answers {
		resp := ts.do(t, http.MethodPost, "/api/flow/"+id+"/answer", a)
		require.Equal(t, http.StatusOK, resp.StatusCode, "answer %d", i)
		resp.Body.Close()
	}
}

func TestFlowJourney(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/flow", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	v := decode[flow.View](t, resp)
	assert.Equal(t, flow.StepSelfie, v.Step)

	sr := decode[SelfieResult](t, ts.do(t, http.MethodPost, "/api/flow/"+v.ID+"/selfie", nil))
	assert.Empty(t, sr.CameraError)
	assert.Equal(t, flow.StepChat, sr.Flow.Step)
	require.NotNil(t, sr.Flow.Selfie)
	assert.False(t, sr.Flow.Selfie.Placeholder)
	assert.Equal(t, 0, ts.device.LiveTracks(), "selfie camera released")

	resp = ts.do(t, http.MethodPost, "/api/flow/"+v.ID+"/answer", AnswerRequest{Option: "Cheap"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	answerAll(t, ts, v.ID)
	results := ts.waitStep(t, v.ID, flow.StepResults)
	require.NotEmpty(t, results.Results)
	assert.Equal(t, "classic", results.Preferences.Style)
	frame := results.Results[0]

	resp = ts.do(t, http.MethodPost, "/api/flow/"+v.ID+"/cart", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, "nothing selected yet")
	resp.Body.Close()

	sel := decode[struct {
		Flow    flow.View `json:"flow"`
		Session snapView  `json:"session"`
	}](t, ts.do(t, http.MethodPost, "/api/flow/"+v.ID+"/select/"+strconv.Itoa(frame.ID), nil))
	assert.Equal(t, flow.StepTryOn, sel.Flow.Step)
	require.NotEmpty(t, sel.Session.Session)
	ts.waitSession(t, sel.Session.Session, "ready")

	checkout := decode[flow.View](t, ts.do(t, http.MethodPost, "/api/flow/"+v.ID+"/cart", nil))
	assert.Equal(t, flow.StepCheckout, checkout.Step)
	assert.Equal(t, frame.Price, checkout.CartTotal)
	assert.Zero(t, ts.sessions.Count(), "leaving try-on tears the session down")
	assert.Equal(t, 0, ts.device.LiveTracks())

	resp = ts.do(t, http.MethodPost, "/api/flow/"+v.ID+"/rating", RatingRequest{Stars: 9})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	done := decode[flow.View](t, ts.do(t, http.MethodPost, "/api/flow/"+v.ID+"/rating", RatingRequest{Stars: 5}))
	assert.Equal(t, flow.StepFeedback, done.Step)
	assert.Equal(t, 5, done.Rating)

	reset := decode[flow.View](t, ts.do(t, http.MethodPost, "/api/flow/"+v.ID+"/reset", nil))
	assert.Equal(t, flow.StepSelfie, reset.Step)
	assert.Empty(t, reset.Cart)

	resp = ts.do(t, http.MethodDelete, "/api/flow/"+v.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()
}

func TestFlowBackClosesSession(t *testing.T) {
	ts := newTestServer(t)

	v := decode[flow.View](t, ts.do(t, http.MethodPost, "/api/flow", nil))
	decode[SelfieResult](t, ts.do(t, http.MethodPost, "/api/flow/"+v.ID+"/selfie", nil))
	answerAll(t, ts, v.ID)
	ts.waitStep(t, v.ID, flow.StepResults)

	resp := ts.do(t, http.MethodPost, "/api/flow/"+v.ID+"/select/1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	assert.Equal(t, 1, ts.sessions.Count())

	back := decode[flow.View](t, ts.do(t, http.MethodPost, "/api/flow/"+v.ID+"/back", nil))
	assert.Equal(t, flow.StepResults, back.Step)
	assert.Zero(t, ts.sessions.Count())
}

func TestSelfieFallsBackToPlaceholder(t *testing.T) {
	ts := newTestServer(t, func(c *Config) {
		c.Device = camera.NewMockDevice(nil, camera.WithFailure(camera.ErrPermissionDenied))
	})

	v := decode[flow.View](t, ts.do(t, http.MethodPost, "/api/flow", nil))
	sr := decode[SelfieResult](t, ts.do(t, http.MethodPost, "/api/flow/"+v.ID+"/selfie", nil))
	assert.Contains(t, sr.CameraError, "Camera access is required")
	assert.Equal(t, flow.StepChat, sr.Flow.Step)
	require.NotNil(t, sr.Flow.Selfie)
	assert.True(t, sr.Flow.Selfie.Placeholder)
}

func TestSelfieUpload(t *testing.T) {
	ts := newTestServer(t)
	v := decode[flow.View](t, ts.do(t, http.MethodPost, "/api/flow", nil))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("photo", "me.jpg")
	require.NoError(t, err)
	_, _ = fw.Write([]byte{0xff, 0xd8, 0xff, 0xd9})
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/flow/"+v.ID+"/selfie", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := ts.App().Test(req, -1)
	require.NoError(t, err)
	sr := decode[SelfieResult](t, resp)

	require.NotNil(t, sr.Flow.Selfie)
	assert.True(t, strings.HasPrefix(sr.Flow.Selfie.DataURL, "data:image/jpeg;base64,"))
	assert.Zero(t, ts.device.Opens(), "upload never touches the camera")
}

func TestChatStreams(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/chat", ChatRequest{
		Messages: []consult.Message{consult.NewUserMessage("What suits a round face?")},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()

	var text strings.Builder
	var done bool
	for _, line := range strings.Split(string(body), "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var chunk consult.StreamChunk
		require.NoError(t, json.Unmarshal([]byte(data), &chunk))
		text.WriteString(chunk.Delta)
		done = done || chunk.Done
	}
	assert.True(t, done)
	assert.Equal(t, "Round frames suit you", strings.TrimSpace(text.String()))

	resp = ts.do(t, http.MethodPost, "/api/chat", ChatRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = ts.do(t, http.MethodPost, "/api/chat", ChatRequest{
		Messages: []consult.Message{consult.NewUserMessage("hi")},
		FlowID:   "missing",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestShopperNotes(t *testing.T) {
	notes := shopperNotes(flow.View{
		Preferences: flow.Preferences{Budget: "RM200-350", FaceShape: flow.DefaultFaceShape},
		Extended:    flow.ExtendedPreferences{Driving: "Occasional"},
	})
	assert.Contains(t, notes, "- Budget: RM200-350\n")
	assert.Contains(t, notes, "- Face shape: heart-shaped\n")
	assert.Contains(t, notes, "- Driving: Occasional\n")
	assert.NotContains(t, notes, "Style")
}

func TestFlowFeed(t *testing.T) {
	ts := newTestServer(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = ts.Serve(ln) }()

	v := decode[flow.View](t, ts.do(t, http.MethodPost, "/api/flow", nil))

	url := "ws://" + ln.Addr().String() + "/ws/flow/" + v.ID
	var conn *gorillaws.Conn
	require.Eventually(t, func() bool {
		conn, _, err = gorillaws.DefaultDialer.Dial(url, nil)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()

	// The latest view is replayed on join.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var got flow.View
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, v.ID, got.ID)
	assert.Equal(t, flow.StepSelfie, got.Step)

	decode[SelfieResult](t, ts.do(t, http.MethodPost, "/api/flow/"+v.ID+"/selfie", nil))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err, "never saw the chat step")
		var next flow.View
		require.NoError(t, json.Unmarshal(data, &next))
		if next.Step == flow.StepChat {
			break
		}
	}

	_, resp, err := gorillaws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/flow/missing", nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	}
}
