package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"statusloop/internal/audit"
	"statusloop/internal/clock"
	"statusloop/internal/delivery"
	"statusloop/internal/dispatch"
	"statusloop/internal/schedule"

	logx "statusloop/pkg/logx"
)

type fakeEngine struct {
	targets     []string
	saves       int
	lastContent dispatch.Content
	lastTargets []string
	batch       dispatch.Batch
}

func (f *fakeEngine) TestPost(ctx context.Context, c dispatch.Content, targets []string) dispatch.Batch {
	f.lastContent = c
	f.lastTargets = targets
	return f.batch
}
func (f *fakeEngine) SaveNow(ctx context.Context) error { f.saves++; return nil }
func (f *fakeEngine) Targets() []string                 { return f.targets }

type fakeProbe struct {
	instances []delivery.Instance
	fetchErr  error
	postErr   error
	keyOK     bool
	posted    []string
}

func (f *fakeProbe) FetchInstances(ctx context.Context) ([]delivery.Instance, error) {
	return f.instances, f.fetchErr
}
func (f *fakeProbe) Deliver(ctx context.Context, target string, c dispatch.Content) error {
	f.posted = append(f.posted, target)
	return f.postErr
}
func (f *fakeProbe) KeyConfigured() bool { return f.keyOK }

func testServer(t *testing.T, state *schedule.State) (*Server, *fakeEngine, *fakeProbe) {
	t.Helper()
	eng := &fakeEngine{targets: []string{"GABY01", "GABY02"}}
	probe := &fakeProbe{keyOK: true}
	clk := &clock.Fixed{T: time.Date(2024, 1, 15, 9, 5, 0, 0, time.UTC)}
	s := New(Config{GatewayURL: "http://gw"}, state, audit.New(audit.DefaultCapacity), eng, probe, clk, logx.Nop())
	return s, eng, probe
}

func do(t *testing.T, s *Server, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router().ServeHTTP(w, req)
	out := map[string]any{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, w.Body.String())
	}
	return w, out
}

func anchoredState() *schedule.State {
	days := []schedule.Day{
		{Number: 1, Posts: []schedule.Post{
			{Time: "09:05", Type: schedule.ContentText, Text: "bom dia"},
			{Time: "18:30", Type: schedule.ContentImage, MediaURL: "https://cdn/x.jpg"},
		}},
		{Number: 2, Posts: []schedule.Post{}},
	}
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return schedule.NewState(days, true, anchor)
}

func TestGetStatus(t *testing.T) {
	s, _, _ := testServer(t, anchoredState())
	w, out := do(t, s, http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("status = %d body = %v", w.Code, out)
	}
	data := out["data"].(map[string]any)
	// Jan 15 with a 2-day cycle anchored Jan 1: 14 elapsed, day 1 again.
	if data["currentDay"] != float64(1) || data["totalDays"] != float64(2) {
		t.Fatalf("day resolution wrong: %v", data)
	}
	if data["daysInCurrentCycle"] != float64(15) {
		t.Fatalf("daysInCurrentCycle = %v", data["daysInCurrentCycle"])
	}
	if data["totalInstances"] != float64(2) || data["postsToday"] != float64(2) {
		t.Fatalf("counts wrong: %v", data)
	}
	if data["currentTime"] != "2024-01-15 09:05:00" {
		t.Fatalf("currentTime = %v", data["currentTime"])
	}
	if len(data["nextPosts"].([]any)) != 2 {
		t.Fatalf("nextPosts = %v", data["nextPosts"])
	}
}

func TestGetStatusEmptySchedule(t *testing.T) {
	s, _, _ := testServer(t, schedule.NewState(nil, true, time.Time{}))
	_, out := do(t, s, http.MethodGet, "/api/status", nil)
	data := out["data"].(map[string]any)
	if data["totalDays"] != float64(0) || data["currentDay"] != float64(0) {
		t.Fatalf("empty schedule snapshot wrong: %v", data)
	}
}

func TestPostScheduleRejectsNonArray(t *testing.T) {
	s, eng, _ := testServer(t, anchoredState())
	w, out := do(t, s, http.MethodPost, "/api/schedule", map[string]any{"schedule": "nope"})
	if w.Code != http.StatusBadRequest || out["success"] != false {
		t.Fatalf("expected 400, got %d %v", w.Code, out)
	}
	if eng.saves != 0 {
		t.Fatalf("rejected update must not persist")
	}
}

func TestPostScheduleNormalizesAndResets(t *testing.T) {
	state := anchoredState()
	state.MarkSent(1, 0, time.Date(2024, 1, 15, 9, 5, 0, 0, time.UTC))
	s, eng, _ := testServer(t, state)

	body := map[string]any{"schedule": []map[string]any{
		{"day": 7, "posts": []map[string]any{
			{"time": "9:5", "type": "text", "text": "novo"},
		}},
	}}
	w, out := do(t, s, http.MethodPost, "/api/schedule", body)
	if w.Code != http.StatusOK || out["success"] != true {
		t.Fatalf("update failed: %d %v", w.Code, out)
	}
	if eng.saves != 1 {
		t.Fatalf("update must persist once, got %d", eng.saves)
	}
	snap := state.Snapshot()
	if len(snap.Days) != 1 || snap.Days[0].Number != 1 {
		t.Fatalf("days not renumbered: %+v", snap.Days)
	}
	if snap.Days[0].Posts[0].Time != "09:05" {
		t.Fatalf("time not normalized: %q", snap.Days[0].Posts[0].Time)
	}
	if snap.Days[0].Posts[0].SentToday {
		t.Fatalf("replace must reset sent flags")
	}
	if clock.DateString(snap.CycleStart) != "2024-01-15" {
		t.Fatalf("replace must re-anchor, got %v", snap.CycleStart)
	}
}

func TestPostScheduleInvalidTime(t *testing.T) {
	s, _, _ := testServer(t, anchoredState())
	body := map[string]any{"schedule": []map[string]any{
		{"day": 1, "posts": []map[string]any{{"time": "25:00", "type": "text", "text": "x"}}},
	}}
	w, _ := do(t, s, http.MethodPost, "/api/schedule", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid time, got %d", w.Code)
	}
}

func TestToggle(t *testing.T) {
	state := anchoredState()
	s, eng, _ := testServer(t, state)
	_, out := do(t, s, http.MethodPost, "/api/toggle", nil)
	if out["isActive"] != false {
		t.Fatalf("toggle body = %v", out)
	}
	if state.Active() {
		t.Fatalf("state not toggled")
	}
	if eng.saves != 1 {
		t.Fatalf("toggle must persist")
	}
	_, out = do(t, s, http.MethodPost, "/api/toggle", nil)
	if out["isActive"] != true {
		t.Fatalf("second toggle body = %v", out)
	}
}

func TestRestartCycle(t *testing.T) {
	state := anchoredState()
	state.MarkSent(1, 0, time.Now())
	s, eng, _ := testServer(t, state)
	_, out := do(t, s, http.MethodPost, "/api/restart-cycle", nil)
	if out["newStartDate"] != "2024-01-15" {
		t.Fatalf("newStartDate = %v", out["newStartDate"])
	}
	snap := state.Snapshot()
	if snap.Days[0].Posts[0].SentToday {
		t.Fatalf("restart must clear flags")
	}
	if eng.saves != 1 {
		t.Fatalf("restart must persist")
	}
}

func TestGetLogsLimit(t *testing.T) {
	s, _, _ := testServer(t, anchoredState())
	for i := 0; i < 5; i++ {
		s.aud.Record("SYSTEM_TOGGLE", "entry", nil)
	}
	_, out := do(t, s, http.MethodGet, "/api/logs?limit=2", nil)
	if got := len(out["data"].([]any)); got != 2 {
		t.Fatalf("logs = %d, want 2", got)
	}
}

func TestTestPostRequiresType(t *testing.T) {
	s, _, _ := testServer(t, anchoredState())
	w, _ := do(t, s, http.MethodPost, "/api/test-post", map[string]any{"text": "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestTestPostPassesSubset(t *testing.T) {
	s, eng, _ := testServer(t, anchoredState())
	eng.batch = dispatch.Batch{SuccessCount: 1, Results: []dispatch.Result{{Target: "GABY02", Status: dispatch.StatusSuccess}}}
	_, out := do(t, s, http.MethodPost, "/api/test-post", map[string]any{
		"type": "text", "text": "ping", "instances": []string{"GABY02"},
	})
	if len(eng.lastTargets) != 1 || eng.lastTargets[0] != "GABY02" {
		t.Fatalf("subset not passed: %v", eng.lastTargets)
	}
	results := out["results"].(map[string]any)
	if results["successCount"] != float64(1) {
		t.Fatalf("results = %v", results)
	}
}

func TestGatewayDebug(t *testing.T) {
	s, _, probe := testServer(t, anchoredState())
	probe.instances = []delivery.Instance{
		{Name: "GABY01", ConnectionStatus: "open"},
		{Name: "GABY02", ConnectionStatus: "close"},
		{Name: "OTHER", ConnectionStatus: "open"},
	}
	_, out := do(t, s, http.MethodGet, "/api/gateway-debug", nil)
	if out["api_key_configured"] != true || out["gateway_url"] != "http://gw" {
		t.Fatalf("debug header wrong: %v", out)
	}
	tests := out["tests"].([]any)
	if len(tests) != 2 {
		t.Fatalf("tests = %v", tests)
	}
	first := tests[0].(map[string]any)
	if first["status"] != "success" {
		t.Fatalf("instance test failed: %v", first)
	}
	data := first["data"].(map[string]any)
	if data["targetsFound"] != float64(1) {
		t.Fatalf("only GABY01 is open and configured: %v", data)
	}
	if len(probe.posted) != 1 || probe.posted[0] != "GABY01" {
		t.Fatalf("dry post target = %v", probe.posted)
	}
}
