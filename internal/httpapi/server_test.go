package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/samueltauil/devdash/internal/agent"
	"github.com/samueltauil/devdash/internal/audio"
	"github.com/samueltauil/devdash/internal/completion"
	"github.com/samueltauil/devdash/internal/config"
	"github.com/samueltauil/devdash/internal/gate"
	"github.com/samueltauil/devdash/internal/hardware"
	"github.com/samueltauil/devdash/internal/store"
	"github.com/samueltauil/devdash/internal/tool"
)

type testServer struct {
	ts     *httptest.Server
	mock   *completion.MockAdapter
	gate   *gate.Gate
	button *hardware.SimulatedButton
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := store.NewInMemoryStore()
	reg := tool.NewRegistry()
	mock := completion.NewMockAdapter()
	g := gate.New(2*time.Second, st, nil)
	roles := map[string]agent.Role{
		"helper": {Name: "helper", SystemPrompt: "You help.", MemoryScope: "test"},
	}
	mgr := agent.NewManager(agent.Config{MaxToolRounds: 3}, roles, st, reg, mock, g, nil)
	button := hardware.NewSimulatedButton(0)

	srv := New(config.Config{GitHubRepos: []string{"acme/site"}}, mgr, g, button, &hardware.MockTranscriber{Text: "status please"}, st, nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { button.Close() })
	return &testServer{ts: ts, mock: mock, gate: g, button: button}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func TestSubmitTurnAndHistory(t *testing.T) {
	f := newTestServer(t)
	f.mock.Enqueue(completion.Response{Text: "three PRs open"})

	res := postJSON(t, f.ts.URL+"/v1/agents/helper/turns", map[string]string{"input": "any open PRs?"})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("submit status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var reply agent.Reply
	if err := json.NewDecoder(res.Body).Decode(&reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Text != "three PRs open" {
		t.Fatalf("reply text = %q", reply.Text)
	}

	histRes, err := http.Get(f.ts.URL + "/v1/agents/helper/turns")
	if err != nil {
		t.Fatalf("GET history error = %v", err)
	}
	defer histRes.Body.Close()
	var hist struct {
		Turns []store.Turn `json:"turns"`
	}
	if err := json.NewDecoder(histRes.Body).Decode(&hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Turns) != 2 {
		t.Fatalf("history turns = %d, want 2", len(hist.Turns))
	}
}

func TestSubmitTurnValidation(t *testing.T) {
	f := newTestServer(t)

	res := postJSON(t, f.ts.URL+"/v1/agents/helper/turns", map[string]string{"input": "  "})
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank input status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}

	f.mock.Enqueue(completion.Response{Text: "hi"})
	unknown := postJSON(t, f.ts.URL+"/v1/agents/wizard/turns", map[string]string{"input": "hello"})
	defer unknown.Body.Close()
	if unknown.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown role status = %d, want %d", unknown.StatusCode, http.StatusNotFound)
	}
}

func TestTerminateSession(t *testing.T) {
	f := newTestServer(t)
	req, _ := http.NewRequest(http.MethodDelete, f.ts.URL+"/v1/agents/helper", nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("terminate status = %d, want %d", res.StatusCode, http.StatusOK)
	}
}

func TestResolveConfirmationEndpoint(t *testing.T) {
	f := newTestServer(t)

	missing := postJSON(t, f.ts.URL+"/v1/confirmations/nope", map[string]bool{"approved": true})
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("missing confirmation status = %d, want %d", missing.StatusCode, http.StatusNotFound)
	}

	done := make(chan error, 1)
	go func() {
		done <- f.gate.Require(context.Background(), "call-1", "trigger_deploy", "")
	}()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(f.gate.Pending()) == 0 {
		time.Sleep(2 * time.Millisecond)
	}

	res := postJSON(t, f.ts.URL+"/v1/confirmations/call-1", map[string]bool{"approved": false})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resolve status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if err := <-done; !errors.Is(err, gate.ErrConfirmationDenied) {
		t.Fatalf("Require() error = %v, want %v", err, gate.ErrConfirmationDenied)
	}
}

func TestHardwarePressEndpoint(t *testing.T) {
	f := newTestServer(t)

	res := postJSON(t, f.ts.URL+"/v1/hardware/press", nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusAccepted {
		t.Fatalf("press status = %d, want %d", res.StatusCode, http.StatusAccepted)
	}
	select {
	case <-f.button.Presses():
	case <-time.After(time.Second):
		t.Fatalf("press never reached the button channel")
	}
}

func TestVoiceTurn(t *testing.T) {
	f := newTestServer(t)
	f.mock.Enqueue(completion.Response{Text: "all green"})

	wav, err := audio.EncodeWAVPCM16LE([]byte{1, 2, 3, 4}, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	res, err := http.Post(f.ts.URL+"/v1/voice/turns?role=helper", "audio/wav", bytes.NewReader(wav))
	if err != nil {
		t.Fatalf("POST voice turn error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("voice status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	var out struct {
		Transcript string      `json:"transcript"`
		Reply      agent.Reply `json:"reply"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode voice response: %v", err)
	}
	if out.Transcript != "status please" || out.Reply.Text != "all green" {
		t.Fatalf("voice response = %+v", out)
	}

	bad, err := http.Post(f.ts.URL+"/v1/voice/turns?role=helper", "audio/wav", strings.NewReader("not audio"))
	if err != nil {
		t.Fatalf("POST invalid voice turn error = %v", err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("invalid audio status = %d, want %d", bad.StatusCode, http.StatusUnprocessableEntity)
	}
}

func TestEventsWSStreamsTurns(t *testing.T) {
	f := newTestServer(t)
	f.mock.Enqueue(completion.Response{Text: "hello there"})

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/v1/events/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("ws dial error = %v", err)
	}
	defer conn.Close()

	res := postJSON(t, f.ts.URL+"/v1/agents/helper/turns", map[string]string{"input": "hi"})
	res.Body.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got []string
	for len(got) < 2 {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("ws read error = %v (got %v)", err, got)
		}
		var env struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &env); err != nil {
			t.Fatalf("decode ws frame: %v", err)
		}
		got = append(got, env.Type)
	}
	for _, typ := range got {
		if typ != "turn_appended" {
			t.Fatalf("ws event types = %v, want turn_appended frames", got)
		}
	}
}

func TestHealthAndReady(t *testing.T) {
	f := newTestServer(t)
	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(f.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}

func TestTurnStatsEndpoint(t *testing.T) {
	f := newTestServer(t)
	res, err := http.Get(f.ts.URL + "/v1/perf/turns")
	if err != nil {
		t.Fatalf("GET /v1/perf/turns error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type = %q", ct)
	}
}
