package rest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/napper/internal/config"
	"github.com/roach88/napper/internal/engine"
	"github.com/roach88/napper/internal/fanout"
	"github.com/roach88/napper/internal/ir"
	"github.com/roach88/napper/internal/model"
	"github.com/roach88/napper/internal/snapshot"
	"github.com/roach88/napper/internal/store"
	"github.com/roach88/napper/internal/testutil"
	"github.com/roach88/napper/internal/transport/middleware"
)

var noon = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testServer struct {
	*httptest.Server
	engine  *engine.Engine
	hub     *fanout.Hub
	handler *Handler
}

func newTestServer(t *testing.T, mw middleware.Middleware) *testServer {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "napper.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	v, err := ir.NewValidator()
	require.NoError(t, err)
	clock := testutil.NewWallClock(noon)
	hub := fanout.NewHub()
	e, err := engine.New(context.Background(), s, v, snapshot.NewAssembler(time.UTC, clock.Now),
		engine.WithBroadcaster(hub), engine.WithNow(clock.Now))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	h := NewHandler(e, hub, Options{Heartbeat: time.Hour})
	srv := httptest.NewServer(NewRouter(h, NewHealthHandler(s.DB(), e, "test"), mw))
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-done
	})
	return &testServer{Server: srv, engine: e, hub: hub, handler: h}
}

func (ts *testServer) post(t *testing.T, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/events", strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.ClientIDHeader, "phone")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := ts.Client().Get(ts.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

const createMia = `{"type":"baby.created","payload":{"name":"Mia","birthdate":"2025-11-01"}}`

func TestPostEvents_Batch(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.post(t, `{"events":[`+createMia+`,
		{"type":"sleep.started","payload":{"startTime":"2026-03-01T11:30:00Z"},"clientId":"phone","clientSeq":1}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res := decode[engine.Result](t, resp)
	require.Len(t, res.Events, 2)
	assert.Equal(t, int64(2), res.Seq)
	require.NotNil(t, res.State.Baby)
	require.NotNil(t, res.State.ActiveSleep)
	assert.Nil(t, res.State.Prediction)
}

func TestPostEvents_SingleBareEvent(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.post(t, createMia)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[engine.Result](t, resp)
	require.Len(t, res.Events, 1)
	assert.Equal(t, ir.TypeBabyCreated, res.Events[0].Type)
}

func TestPostEvents_Malformed(t *testing.T) {
	ts := newTestServer(t, nil)

	for _, body := range []string{`{"events":[`, `[` + createMia + `]`, ``, `{"events":"x"}`} {
		resp := ts.post(t, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		e := decode[ErrorBody](t, resp)
		assert.Equal(t, "BAD_REQUEST", e.Error.Code)
	}
}

func TestPostEvents_InvalidReportsIndex(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.post(t, `{"events":[`+createMia+`,{"type":"sleep.ended","payload":{"sleepId":"x"}}]}`)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	e := decode[ErrorBody](t, resp)
	assert.Equal(t, string(engine.CodeInvalidEvent), e.Error.Code)
	require.NotNil(t, e.Error.Index)
	assert.Equal(t, 1, *e.Error.Index)
	assert.Equal(t, "sleep.ended", e.Error.Type)

	events := decode[[]ir.Event](t, ts.get(t, "/api/events"))
	assert.Empty(t, events, "nothing of the batch applied")
}

func TestPostEvents_StartWhileActiveIsConflict(t *testing.T) {
	ts := newTestServer(t, nil)
	start := `{"type":"sleep.started","payload":{"startTime":"2026-03-01T11:30:00Z"}}`
	require.Equal(t, http.StatusOK, ts.post(t, `{"events":[`+createMia+`,`+start+`]}`).StatusCode)

	resp := ts.post(t, start)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	e := decode[ErrorBody](t, resp)
	assert.Equal(t, string(engine.CodeSessionActive), e.Error.Code)
}

func TestPostEvents_BodyTooLarge(t *testing.T) {
	s := &fakeService{}
	h := NewHandler(s, fanout.NewHub(), Options{MaxBodyBytes: 16})
	rec := httptest.NewRecorder()
	h.PostEvents(rec, httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(createMia)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestGetEvents_Since(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.post(t, `{"events":[`+createMia+`,{"type":"diaper.logged","payload":{"time":"2026-03-01T08:00:00Z","type":"wet"}}]}`)

	events := decode[[]ir.Event](t, ts.get(t, "/api/events?since=1"))
	require.Len(t, events, 1)
	assert.Equal(t, int64(2), events[0].Seq)

	assert.Equal(t, http.StatusBadRequest, ts.get(t, "/api/events?since=-1").StatusCode)
	assert.Equal(t, http.StatusBadRequest, ts.get(t, "/api/events?since=abc").StatusCode)
}

func TestGetState_NoSubject(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.get(t, "/api/state")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0", resp.Header.Get("X-Seq"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"baby":null`)
	assert.Contains(t, string(body), `"todaySleeps":[]`)
}

func TestHistoryEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.post(t, `{"events":[`+createMia+`,
		{"type":"sleep.manual","payload":{"startTime":"2026-02-28T10:00:00Z","endTime":"2026-02-28T11:00:00Z"}},
		{"type":"sleep.manual","payload":{"startTime":"2026-03-01T09:00:00Z","endTime":"2026-03-01T10:00:00Z"}},
		{"type":"diaper.logged","payload":{"time":"2026-03-01T08:00:00Z","type":"wet"}}]}`)

	sleeps := decode[[]model.Sleep](t, ts.get(t, "/api/sleeps?limit=1"))
	require.Len(t, sleeps, 1)
	assert.True(t, sleeps[0].StartTime.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)))

	sleeps = decode[[]model.Sleep](t, ts.get(t, "/api/sleeps?to=2026-02-28T23:59:59Z"))
	assert.Len(t, sleeps, 1)

	diapers := decode[[]model.Diaper](t, ts.get(t, "/api/diapers"))
	assert.Len(t, diapers, 1)

	stats := decode[engine.Stats](t, ts.get(t, "/api/stats?days=2"))
	assert.Equal(t, 2, stats.Days)
	assert.Len(t, stats.Week.Days, 2)
	assert.Equal(t, 60, stats.Week.AvgNapMinutesPerDay)

	assert.Equal(t, http.StatusBadRequest, ts.get(t, "/api/sleeps?from=yesterday").StatusCode)
	assert.Equal(t, http.StatusBadRequest, ts.get(t, "/api/sleeps?limit=0").StatusCode)
	assert.Equal(t, http.StatusBadRequest, ts.get(t, "/api/stats?days=0").StatusCode)
	assert.Equal(t, http.StatusBadRequest, ts.get(t, "/api/stats?days=91").StatusCode)
}

// sseReader reads "state" events off a stream, skipping comments.
type sseReader struct {
	r *bufio.Reader
}

func (s sseReader) next(t *testing.T) fanout.Message {
	t.Helper()
	var event, data string
	for {
		line, err := s.r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && data != "":
			require.Equal(t, StreamEvent, event)
			var m fanout.Message
			require.NoError(t, json.Unmarshal([]byte(data), &m))
			return m
		}
	}
}

func openStream(t *testing.T, ts *testServer, clientID string) sseReader {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream?clientId="+clientID, nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return sseReader{r: bufio.NewReader(resp.Body)}
}

func TestStream_InitialThenBroadcast(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.post(t, createMia)

	stream := openStream(t, ts, "tablet")
	first := stream.next(t)
	assert.Equal(t, int64(1), first.Seq)
	assert.Empty(t, first.Origin)
	require.NotNil(t, first.State.Baby)

	require.Eventually(t, func() bool { return ts.hub.Len() == 1 }, time.Second, 10*time.Millisecond)
	ts.post(t, `{"type":"diaper.logged","payload":{"time":"2026-03-01T08:00:00Z","type":"wet"}}`)

	m := stream.next(t)
	assert.Equal(t, int64(2), m.Seq)
	assert.Equal(t, "phone", m.Origin)
	assert.Equal(t, 1, m.State.DiaperCount)
}

func TestStream_ClosingDetaches(t *testing.T) {
	ts := newTestServer(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/stream", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	sseReader{r: bufio.NewReader(resp.Body)}.next(t)
	require.Equal(t, 1, ts.hub.Len())

	cancel()
	resp.Body.Close()
	require.Eventually(t, func() bool { return ts.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	// Broadcasting to nobody is fine.
	assert.Equal(t, http.StatusOK, ts.post(t, createMia).StatusCode)
}

func TestStream_CloseStreamsLeavesRequestsServed(t *testing.T) {
	ts := newTestServer(t, nil)

	stream := openStream(t, ts, "tablet")
	stream.next(t)
	require.Equal(t, 1, ts.hub.Len())

	ts.handler.CloseStreams()
	ts.handler.CloseStreams()

	_, err := io.ReadAll(stream.r)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ts.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	// A stream opened after closing ends right after its initial state.
	late := openStream(t, ts, "laptop")
	late.next(t)
	_, err = io.ReadAll(late.r)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, ts.post(t, createMia).StatusCode)
	assert.Equal(t, http.StatusOK, ts.get(t, "/api/state").StatusCode)
}

func TestRouter_RateLimitsMutationsOnly(t *testing.T) {
	rl := middleware.NewRateLimiter(config.RateLimitConfig{Enabled: true, RPS: 0.01, Burst: 1, IdleTTL: time.Minute})
	ts := newTestServer(t, rl.Middleware)

	assert.Equal(t, http.StatusOK, ts.post(t, createMia).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, ts.post(t, createMia).StatusCode)
	assert.Equal(t, http.StatusOK, ts.get(t, "/api/state").StatusCode)
	assert.Equal(t, http.StatusOK, ts.get(t, "/live").StatusCode)
}

func TestRouter_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, nil)
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/api/state", nil)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

// fakeService fails every call with err.
type fakeService struct {
	err error
}

func (f *fakeService) Submit(context.Context, string, []ir.NewEvent) (engine.Result, error) {
	return engine.Result{}, f.err
}
func (f *fakeService) State(context.Context) (snapshot.Snapshot, int64, error) {
	return snapshot.Snapshot{}, 0, f.err
}
func (f *fakeService) Events(context.Context, int64) ([]ir.Event, error) { return nil, f.err }
func (f *fakeService) Sleeps(context.Context, store.SleepFilter) ([]model.Sleep, error) {
	return nil, f.err
}
func (f *fakeService) Diapers(context.Context, uint64) ([]model.Diaper, error) { return nil, f.err }
func (f *fakeService) Stats(context.Context, int) (engine.Stats, error) {
	return engine.Stats{}, f.err
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"durability", &engine.Error{Code: engine.CodeDurability, Message: "write rolled back", Index: -1, Err: errors.New("disk full")}, 500, "DURABILITY"},
		{"stopped", &engine.Error{Code: engine.CodeStopped, Message: "coordinator stopped", Index: -1}, 503, "ENGINE_STOPPED"},
		{"plain", errors.New("boom"), 500, "INTERNAL"},
		{"cancelled", context.Canceled, 503, "INTERNAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHandler(&fakeService{err: tt.err}, fanout.NewHub(), Options{})
			rec := httptest.NewRecorder()
			h.PostEvents(rec, httptest.NewRequest(http.MethodPost, "/api/events", strings.NewReader(createMia)))

			assert.Equal(t, tt.status, rec.Code)
			var body ErrorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Nil(t, body.Error.Index)
			assert.NotContains(t, body.Error.Message, "disk full")
		})
	}
}
