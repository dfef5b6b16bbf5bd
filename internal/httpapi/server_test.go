package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mlaurenti/eleonora/internal/avatar"
	"github.com/mlaurenti/eleonora/internal/call"
	"github.com/mlaurenti/eleonora/internal/config"
	"github.com/mlaurenti/eleonora/internal/observability"
	"github.com/mlaurenti/eleonora/internal/oracle"
	"github.com/mlaurenti/eleonora/internal/protocol"
	"github.com/mlaurenti/eleonora/internal/transcript"
	"github.com/mlaurenti/eleonora/internal/wallet"
)

var metricsSeq atomic.Int64

func testMetrics() *observability.Metrics {
	return observability.NewMetrics(fmt.Sprintf("httptest%d", metricsSeq.Add(1)))
}

type stubCalls struct {
	placed   *call.Call
	startErr error
	msgErr   error
	hangUps  int
	known    map[string]*call.Call
}

func newStubCalls() *stubCalls {
	return &stubCalls{known: make(map[string]*call.Call)}
}

func (s *stubCalls) Place(userID, advisor string, mode call.ReplyMode) *call.Call {
	c := &call.Call{
		ID:        "call-1",
		UserID:    userID,
		Advisor:   advisor,
		ReplyMode: mode,
		State:     call.StateIdle,
		Phase:     call.PhaseIdle,
		StartedAt: time.Now().UTC(),
	}
	s.placed = c
	s.known[c.ID] = c
	return c
}

func (s *stubCalls) Start(_ context.Context, callID string) error {
	if _, ok := s.known[callID]; !ok {
		return call.ErrNotFound
	}
	if s.startErr != nil {
		return s.startErr
	}
	s.known[callID].State = call.StateConnected
	return nil
}

func (s *stubCalls) SubmitMessage(_ context.Context, callID, _ string) error {
	if _, ok := s.known[callID]; !ok {
		return call.ErrNotFound
	}
	return s.msgErr
}

func (s *stubCalls) HangUp(callID string) {
	s.hangUps++
	if c, ok := s.known[callID]; ok {
		c.State = call.StateEnded
	}
}

func (s *stubCalls) Snapshot(callID string) (*call.Call, error) {
	c, ok := s.known[callID]
	if !ok {
		return nil, call.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *stubCalls) Transcript(callID string) ([]call.Turn, error) {
	if _, ok := s.known[callID]; !ok {
		return nil, call.ErrNotFound
	}
	return nil, nil
}

func (s *stubCalls) RunConnection(ctx context.Context, c *call.Call, inbound <-chan any, outbound chan<- any) error {
	outbound <- protocol.CallState{Type: protocol.TypeCallState, CallID: c.ID, State: string(c.State), Phase: string(c.Phase)}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-inbound:
			if !ok {
				return nil
			}
			if text, isText := msg.(protocol.ClientText); isText {
				outbound <- protocol.TurnEvent{Type: protocol.TypeTurnEvent, CallID: c.ID, Speaker: "user", Text: text.Text}
			}
		}
	}
}

type stubPrices struct {
	feeds []oracle.PriceFeed
	err   error
	got   []int
}

func (s *stubPrices) GetPrices(_ context.Context, pairIndexes []int) ([]oracle.PriceFeed, error) {
	s.got = pairIndexes
	return s.feeds, s.err
}

type stubDeployer struct {
	dep *wallet.Deployment
	err error
}

func (s *stubDeployer) DeploySmartWallet(context.Context, string) (*wallet.Deployment, error) {
	return s.dep, s.err
}

func testConfig() config.Config {
	return config.Config{
		AvatarID:              "Elenora_IT_Sitting_public",
		ReplyMode:             "talk",
		CallInactivityTimeout: 2 * time.Minute,
		OraclePairIndexes:     []int{0, 1, 10, 16},
	}
}

func newTestServer(calls *stubCalls, prices *stubPrices, deployer *stubDeployer) *Server {
	return New(testConfig(), calls, transcript.NewInMemoryStore(), prices, deployer, testMetrics())
}

func TestCreateCallDefaults(t *testing.T) {
	calls := newStubCalls()
	srv := newTestServer(calls, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	var resp callResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.UserID != "anonymous" || resp.Advisor != "Elenora_IT_Sitting_public" || resp.ReplyMode != call.ModeTalk {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestCreateCallRejectsBadReplyMode(t *testing.T) {
	srv := newTestServer(newStubCalls(), nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(`{"reply_mode":"sing"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestStartCallQuotaMapsTo429(t *testing.T) {
	calls := newStubCalls()
	srv := newTestServer(calls, nil, nil)
	createCall(t, srv)
	calls.startErr = avatar.ErrQuotaExceeded

	req := httptest.NewRequest(http.MethodPost, "/v1/calls/call-1/start", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestStartCallProvisionErrorNamesStep(t *testing.T) {
	calls := newStubCalls()
	srv := newTestServer(calls, nil, nil)
	createCall(t, srv)
	calls.startErr = &avatar.ProvisionError{Step: "start_stream", Status: 500, Err: fmt.Errorf("boom")}

	req := httptest.NewRequest(http.MethodPost, "/v1/calls/call-1/start", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "provision_failed_start_stream") {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestMessageBeforeConnectConflicts(t *testing.T) {
	calls := newStubCalls()
	srv := newTestServer(calls, nil, nil)
	createCall(t, srv)
	calls.msgErr = call.ErrNotConnected

	req := httptest.NewRequest(http.MethodPost, "/v1/calls/call-1/message", strings.NewReader(`{"text":"hi"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
}

func TestEndCall(t *testing.T) {
	calls := newStubCalls()
	srv := newTestServer(calls, nil, nil)
	createCall(t, srv)

	req := httptest.NewRequest(http.MethodPost, "/v1/calls/call-1/end", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if calls.hangUps != 1 {
		t.Fatalf("hangUps = %d, want 1", calls.hangUps)
	}
	if !strings.Contains(rec.Body.String(), `"state":"ended"`) {
		t.Fatalf("body = %s", rec.Body.String())
	}
}

func TestGetUnknownCall(t *testing.T) {
	srv := newTestServer(newStubCalls(), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/calls/nope", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRecentCalls(t *testing.T) {
	store := transcript.NewInMemoryStore()
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		rec := transcript.CallRecord{
			CallID:    fmt.Sprintf("call-%d", i),
			UserID:    "u1",
			Advisor:   "Elenora_IT_Sitting_public",
			ReplyMode: "talk",
			StartedAt: now.Add(time.Duration(i) * time.Minute),
			EndedAt:   now.Add(time.Duration(i)*time.Minute + 30*time.Second),
		}
		if err := store.SaveCall(context.Background(), rec); err != nil {
			t.Fatalf("SaveCall() error = %v", err)
		}
	}
	srv := New(testConfig(), newStubCalls(), store, nil, nil, testMetrics())

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/u1/calls?limit=2", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Calls []transcript.CallRecord `json:"calls"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(resp.Calls))
	}
	if resp.Calls[0].CallID != "call-1" || resp.Calls[1].CallID != "call-2" {
		t.Fatalf("unexpected call order: %+v", resp.Calls)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/nobody/calls", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status for unknown user = %d, want 200", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "call-") {
		t.Fatalf("unknown user must get an empty history, body = %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/u1/calls?limit=zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status for bad limit = %d, want 400", rec.Code)
	}
}

func TestOraclePricesDefaultsAndOverride(t *testing.T) {
	prices := &stubPrices{feeds: []oracle.PriceFeed{{PairIndex: "0", Price: "1", Decimals: "8", Timestamp: "2"}}}
	srv := newTestServer(newStubCalls(), prices, nil)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/oracle/prices", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if fmt.Sprint(prices.got) != "[0 1 10 16]" {
		t.Fatalf("default indexes = %v", prices.got)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/oracle/prices?indexes=5,7", nil))
	if fmt.Sprint(prices.got) != "[5 7]" {
		t.Fatalf("override indexes = %v", prices.got)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/oracle/prices?indexes=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWalletDeploy(t *testing.T) {
	deployer := &stubDeployer{dep: &wallet.Deployment{Address: "0xabc", Deployed: true, ChainID: 84532}}
	srv := newTestServer(newStubCalls(), nil, deployer)

	body := bytes.NewReader([]byte(`{"owner":"0xowner"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/wallet/deploy", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/wallet/deploy", strings.NewReader(`{}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status without owner = %d, want 400", rec.Code)
	}
}

func TestCallWebSocketRoundTrip(t *testing.T) {
	calls := newStubCalls()
	srv := newTestServer(calls, nil, nil)
	createCall(t, srv)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/calls/ws?call_id=call-1"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var state protocol.CallState
	if err := conn.ReadJSON(&state); err != nil {
		t.Fatalf("read call_state: %v", err)
	}
	if state.Type != protocol.TypeCallState || state.CallID != "call-1" {
		t.Fatalf("unexpected first message: %+v", state)
	}

	if err := conn.WriteJSON(protocol.ClientText{Type: protocol.TypeClientText, CallID: "call-1", Text: "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var turn protocol.TurnEvent
	if err := conn.ReadJSON(&turn); err != nil {
		t.Fatalf("read turn_event: %v", err)
	}
	if turn.Text != "hello" {
		t.Fatalf("turn text = %q", turn.Text)
	}
}

func TestCallWebSocketRejectsCrossOrigin(t *testing.T) {
	calls := newStubCalls()
	srv := newTestServer(calls, nil, nil)
	createCall(t, srv)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/calls/ws?call_id=call-1"
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatalf("cross-origin dial should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 handshake rejection, got %+v", resp)
	}
}

func createCall(t *testing.T, srv *Server) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/calls", strings.NewReader(`{"user_id":"u1"}`))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create call status = %d", rec.Code)
	}
}
