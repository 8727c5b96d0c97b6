package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"storyloom/internal/concat"
	"storyloom/internal/config"
	"storyloom/internal/generation"
	"storyloom/internal/logging"
	"storyloom/internal/pipeline"
	"storyloom/internal/testsupport"
)

type stubConcat struct {
	outputDir string
	calls     [][]string
}

func (s *stubConcat) Concat(_ context.Context, refs []string) (concat.Output, error) {
	s.calls = append(s.calls, refs)
	if len(refs) == 0 {
		return concat.Output{}, &concat.NoVideosError{}
	}
	return concat.Output{Location: filepath.Join(s.outputDir, "combined_test.mp4"), Success: true, Combined: len(refs) > 1}, nil
}

type echoChatter struct{}

func (echoChatter) Chat(_ context.Context, _ string, _ []generation.ChatMessage, message string) (string, error) {
	return "echo: " + message, nil
}

type harness struct {
	cfg     *config.Config
	daemon  *Daemon
	backend *testsupport.FakeBackend
	concat  *stubConcat
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	backend := testsupport.NewFakeBackend(testsupport.SamplePlan(3, 3, 3))
	joiner := &stubConcat{outputDir: cfg.Paths.OutputDir}
	d, err := New(cfg, logging.NewNop(), Dependencies{
		Store:      store,
		Backend:    backend,
		Chatter:    echoChatter{},
		Concat:     joiner,
		RunOptions: []pipeline.Option{pipeline.WithPollPolicy(testsupport.InstantPolls(3))},
	})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return &harness{cfg: cfg, daemon: d, backend: backend, concat: joiner}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.daemon.server.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func (h *harness) startRun(t *testing.T) string {
	t.Helper()
	w := h.do(t, http.MethodPost, "/api/runs", map[string]string{"description": "a fox", "lesson": "sharing"})
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	id := decode[map[string]string](t, w)["runId"]
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = h.daemon.Wait(ctx, id)
	return id
}

func TestStartRunRejectsInvalidInput(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/runs", map[string]string{"description": "a fox"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	w = h.do(t, http.MethodPost, "/api/runs", map[string]string{"lesson": "share", "image": "data:image/png;base64,!!!"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad image, got %d", w.Code)
	}
}

func TestRunLifecycle(t *testing.T) {
	h := newHarness(t)
	id := h.startRun(t)

	w := h.do(t, http.MethodGet, "/api/runs/"+id, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	run := decode[runResponse](t, w)
	if run.State != string(pipeline.StateClipsReady) || run.Plan == nil {
		t.Fatalf("unexpected run %+v", run)
	}
	if run.CharacterModel == nil || len(run.Keyframes) != 3 || len(run.Clips) != 3 || run.Final != nil {
		t.Fatalf("unexpected slots %+v", run)
	}
	for i, clip := range run.Clips {
		if clip == nil {
			t.Fatalf("clip %d unfilled", i+1)
		}
	}

	w = h.do(t, http.MethodPost, "/api/runs/"+id+"/combine", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected combine 200, got %d: %s", w.Code, w.Body.String())
	}
	combined := decode[map[string]any](t, w)
	if combined["videoUrl"] != "http://example.com/videos/combined_test.mp4" || combined["success"] != true {
		t.Fatalf("unexpected combine response %v", combined)
	}
	if len(h.concat.calls) != 1 || len(h.concat.calls[0]) != 3 {
		t.Fatalf("expected three clips combined, got %v", h.concat.calls)
	}

	w = h.do(t, http.MethodGet, "/api/plans/"+id+"/assets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected assets 200, got %d", w.Code)
	}
	list := decode[map[string][]map[string]any](t, w)["assets"]
	if len(list) != 8 {
		t.Fatalf("expected 1+3+3+1 assets, got %d", len(list))
	}
}

func TestRunErrorsMapToStatusCodes(t *testing.T) {
	h := newHarness(t)
	h.backend.FailVideoAt = 1
	h.backend.VideoErr = errors.New("safety filter")
	id := h.startRun(t)

	w := h.do(t, http.MethodGet, "/api/runs/"+id, nil)
	run := decode[runResponse](t, w)
	if run.State != string(pipeline.StateFailed) || run.Error == "" {
		t.Fatalf("expected failed run with reason, got %+v", run)
	}
	if w := h.do(t, http.MethodPost, "/api/runs/"+id+"/combine", nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for combine before clips, got %d", w.Code)
	}
	if w := h.do(t, http.MethodGet, "/api/runs/missing", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown run, got %d", w.Code)
	}
	if w := h.do(t, http.MethodGet, "/api/plans/missing", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown plan, got %d", w.Code)
	}
}

func TestStandaloneCombine(t *testing.T) {
	h := newHarness(t)
	w := h.do(t, http.MethodPost, "/api/videos/combine", map[string][]string{"videoUrls": {}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty list, got %d", w.Code)
	}
	if body := decode[map[string]any](t, w); body["success"] != false {
		t.Fatalf("expected success=false, got %v", body)
	}

	w = h.do(t, http.MethodPost, "/api/videos/combine", map[string][]string{"videoUrls": {"https://a/1.mp4", "https://a/2.mp4"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if body := decode[map[string]any](t, w); body["videoUrl"] != "http://example.com/videos/combined_test.mp4" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestStandaloneCombineRefusesLocalPaths(t *testing.T) {
	h := newHarness(t)
	secret := filepath.Join(t.TempDir(), "secret.txt")
	for _, refs := range [][]string{
		{secret, "https://a/2.mp4"},
		{"https://a/1.mp4", "file:///etc/hostname"},
	} {
		w := h.do(t, http.MethodPost, "/api/videos/combine", map[string][]string{"videoUrls": refs})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %v, got %d: %s", refs, w.Code, w.Body.String())
		}
		if body := decode[map[string]any](t, w); body["success"] != false {
			t.Fatalf("expected success=false, got %v", body)
		}
	}
	if len(h.concat.calls) != 0 {
		t.Fatalf("local inputs must never reach the concatenator, got %v", h.concat.calls)
	}

	w := h.do(t, http.MethodPost, "/api/videos/combine", map[string][]string{"videoUrls": {"data:video/mp4;base64,AA==", "https://a/2.mp4"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for remote inputs, got %d: %s", w.Code, w.Body.String())
	}
}

func TestChatRoutes(t *testing.T) {
	h := newHarness(t)
	id := h.startRun(t)

	w := h.do(t, http.MethodPost, "/api/chat/sessions", map[string]string{"planId": id})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	sessionID := decode[map[string]any](t, w)["id"].(string)

	w = h.do(t, http.MethodPost, "/api/chat/sessions/"+sessionID+"/messages", map[string]string{"message": "hi Pip"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if reply := decode[map[string]string](t, w); reply["text"] != "echo: hi Pip" {
		t.Fatalf("unexpected reply %v", reply)
	}

	w = h.do(t, http.MethodGet, "/api/chat/sessions/"+sessionID, nil)
	history := decode[map[string]json.RawMessage](t, w)
	var msgs []map[string]any
	if err := json.Unmarshal(history["messages"], &msgs); err != nil || len(msgs) != 2 {
		t.Fatalf("expected two messages, got %s (%v)", history["messages"], err)
	}

	if w := h.do(t, http.MethodDelete, "/api/chat/sessions/"+sessionID, nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w := h.do(t, http.MethodGet, "/api/chat/sessions/"+sessionID, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
}

func TestDeletePlan(t *testing.T) {
	h := newHarness(t)
	id := h.startRun(t)
	if w := h.do(t, http.MethodDelete, "/api/plans/"+id, nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", w.Code, w.Body.String())
	}
	if w := h.do(t, http.MethodGet, "/api/plans/"+id, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", w.Code)
	}
	if w := h.do(t, http.MethodGet, "/api/runs/"+id, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected run evicted, got %d", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	h := newHarness(t, testsupport.WithConfig(func(cfg *config.Config) { cfg.Server.Token = "s3cret" }))
	if w := h.do(t, http.MethodGet, "/api/status", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	h.daemon.server.engine.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", w.Code)
	}
	if w := h.do(t, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("expected healthz open, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.startRun(t)
	w := h.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte("storyloom_runs_started_total 1")) {
		t.Fatalf("unexpected metrics response %d:\n%s", w.Code, w.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&pipeline.InvalidInputError{Field: "lesson"}, http.StatusBadRequest},
		{&pipeline.NotReadyError{State: pipeline.StateIdle}, http.StatusConflict},
		{&pipeline.PlanGenerationError{Err: errors.New("x")}, http.StatusBadGateway},
		{&pipeline.VideoGenerationError{Index: 1, Err: errors.New("x")}, http.StatusBadGateway},
		{&concat.NoVideosError{}, http.StatusBadRequest},
		{&concat.LocalInputError{Ref: "/etc/hostname"}, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
