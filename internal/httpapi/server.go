package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
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

// CallService is the slice of the orchestrator the HTTP surface needs.
type CallService interface {
	Place(userID, advisor string, mode call.ReplyMode) *call.Call
	Start(ctx context.Context, callID string) error
	SubmitMessage(ctx context.Context, callID, text string) error
	HangUp(callID string)
	Snapshot(callID string) (*call.Call, error)
	Transcript(callID string) ([]call.Turn, error)
	RunConnection(ctx context.Context, c *call.Call, inbound <-chan any, outbound chan<- any) error
}

// CallArchive reads back completed calls for a user's history view.
type CallArchive interface {
	RecentCalls(ctx context.Context, userID string, limit int) ([]transcript.CallRecord, error)
}

// PriceSource feeds the portfolio display.
type PriceSource interface {
	GetPrices(ctx context.Context, pairIndexes []int) ([]oracle.PriceFeed, error)
}

// WalletDeployer provisions gasless smart wallets.
type WalletDeployer interface {
	DeploySmartWallet(ctx context.Context, owner string) (*wallet.Deployment, error)
}

type Server struct {
	cfg      config.Config
	calls    CallService
	archive  CallArchive
	prices   PriceSource
	deployer WalletDeployer
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, calls CallService, archive CallArchive, prices PriceSource, deployer WalletDeployer, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		calls:    calls,
		archive:  archive,
		prices:   prices,
		deployer: deployer,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browsers may drive a call's microphone
				// over the websocket, unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/calls", s.handleCreateCall)
	r.Get("/v1/calls/{id}", s.handleGetCall)
	r.Post("/v1/calls/{id}/start", s.handleStartCall)
	r.Post("/v1/calls/{id}/message", s.handleMessage)
	r.Post("/v1/calls/{id}/end", s.handleEndCall)
	r.Get("/v1/calls/ws", s.handleCallWS)

	r.Get("/v1/users/{id}/calls", s.handleRecentCalls)

	r.Get("/v1/oracle/prices", s.handleOraclePrices)
	r.Post("/v1/wallet/deploy", s.handleWalletDeploy)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type createCallRequest struct {
	UserID    string `json:"user_id"`
	Advisor   string `json:"advisor"`
	ReplyMode string `json:"reply_mode"`
}

type callResponse struct {
	CallID          string         `json:"call_id"`
	UserID          string         `json:"user_id"`
	Advisor         string         `json:"advisor"`
	ReplyMode       call.ReplyMode `json:"reply_mode"`
	State           call.ConnState `json:"state"`
	Phase           call.TurnPhase `json:"phase"`
	StartedAt       time.Time      `json:"started_at"`
	InactivityTTLMS int64          `json:"inactivity_ttl_ms"`
}

func (s *Server) handleCreateCall(w http.ResponseWriter, r *http.Request) {
	var req createCallRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	if strings.TrimSpace(req.Advisor) == "" {
		req.Advisor = s.cfg.AvatarID
	}
	mode := call.ReplyMode(s.cfg.ReplyMode)
	if req.ReplyMode != "" {
		parsed, ok := call.ParseReplyMode(req.ReplyMode)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid_reply_mode", "reply_mode must be talk or repeat")
			return
		}
		mode = parsed
	}

	c := s.calls.Place(req.UserID, req.Advisor, mode)
	respondJSON(w, http.StatusCreated, callResponse{
		CallID:          c.ID,
		UserID:          c.UserID,
		Advisor:         c.Advisor,
		ReplyMode:       c.ReplyMode,
		State:           c.State,
		Phase:           c.Phase,
		StartedAt:       c.StartedAt,
		InactivityTTLMS: s.cfg.CallInactivityTimeout.Milliseconds(),
	})
}

func (s *Server) handleGetCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, err := s.calls.Snapshot(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	}
	turns, err := s.calls.Transcript(id)
	if err != nil {
		turns = nil
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"call":       c,
		"transcript": turns,
	})
}

func (s *Server) handleStartCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.calls.Start(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, call.ErrNotFound):
			respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		case errors.Is(err, avatar.ErrQuotaExceeded):
			respondError(w, http.StatusTooManyRequests, "quota_exceeded", "avatar provider concurrent session quota exhausted")
		default:
			var perr *avatar.ProvisionError
			if errors.As(err, &perr) {
				respondError(w, http.StatusBadGateway, "provision_failed_"+perr.Step, perr.Error())
				return
			}
			respondError(w, http.StatusBadGateway, "start_failed", err.Error())
		}
		return
	}

	c, err := s.calls.Snapshot(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, c)
}

type messageRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req messageRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "empty_message", "text is required")
		return
	}

	if err := s.calls.SubmitMessage(r.Context(), id, req.Text); err != nil {
		switch {
		case errors.Is(err, call.ErrNotFound):
			respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		case errors.Is(err, call.ErrNotConnected):
			respondError(w, http.StatusConflict, "not_connected", "the call is not connected yet")
		default:
			respondError(w, http.StatusBadGateway, "message_failed", err.Error())
		}
		return
	}

	turns, _ := s.calls.Transcript(id)
	respondJSON(w, http.StatusOK, map[string]any{"transcript": turns})
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.calls.Snapshot(id); err != nil {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	}

	s.calls.HangUp(id)
	c, err := s.calls.Snapshot(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) handleCallWS(w http.ResponseWriter, r *http.Request) {
	callID := strings.TrimSpace(r.URL.Query().Get("call_id"))
	if callID == "" {
		respondError(w, http.StatusBadRequest, "missing_call_id", "query parameter call_id is required")
		return
	}

	c, err := s.calls.Snapshot(callID)
	if err != nil {
		respondError(w, http.StatusNotFound, "call_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.metrics.CallEvents.WithLabelValues("ws_connected").Inc()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	inbound := make(chan any, 256)
	outbound := make(chan any, 256)
	runDone := make(chan struct{})

	go func() {
		defer close(runDone)
		_ = s.calls.RunConnection(ctx, c, inbound, outbound)
		cancel()
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-outbound:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				CallID:    callID,
				Code:      "invalid_client_message",
				Source:    "gateway",
				Retryable: false,
				Detail:    err.Error(),
			}
			select {
			case outbound <- errEvent:
			default:
				// Keep websocket writes single-threaded; drop if the
				// outbound queue is saturated.
			}
			continue
		}

		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		select {
		case <-ctx.Done():
			break readLoop
		case inbound <- parsed:
		}
	}

	cancel()
	close(inbound)
	<-runDone
	<-writerDone
	s.metrics.CallEvents.WithLabelValues("ws_disconnected").Inc()
}

func (s *Server) handleRecentCalls(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "call archive not configured")
		return
	}

	userID := chi.URLParam(r, "id")
	limit := 10
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.archive.RecentCalls(r.Context(), userID, limit)
	if err != nil {
		s.metrics.ProviderErrors.WithLabelValues("archive", "fetch").Inc()
		respondError(w, http.StatusBadGateway, "archive_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"calls": records})
}

func (s *Server) handleOraclePrices(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "oracle not configured")
		return
	}

	indexes := s.cfg.OraclePairIndexes
	if raw := strings.TrimSpace(r.URL.Query().Get("indexes")); raw != "" {
		indexes = nil
		for _, part := range strings.Split(raw, ",") {
			idx, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid_indexes", "indexes must be a comma separated list of integers")
				return
			}
			indexes = append(indexes, idx)
		}
	}

	feeds, err := s.prices.GetPrices(r.Context(), indexes)
	if err != nil {
		s.metrics.ProviderErrors.WithLabelValues("oracle", "fetch").Inc()
		respondError(w, http.StatusBadGateway, "oracle_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": feeds})
}

type walletDeployRequest struct {
	Owner string `json:"owner"`
}

func (s *Server) handleWalletDeploy(w http.ResponseWriter, r *http.Request) {
	if s.deployer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "wallet relay not configured")
		return
	}

	var req walletDeployRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Owner) == "" {
		respondError(w, http.StatusBadRequest, "missing_owner", "owner address is required")
		return
	}

	dep, err := s.deployer.DeploySmartWallet(r.Context(), req.Owner)
	if err != nil {
		s.metrics.ProviderErrors.WithLabelValues("wallet", "deploy").Inc()
		respondError(w, http.StatusBadGateway, "deploy_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, dep)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.ClientText:
		return m.Type, true
	case protocol.CallState:
		return m.Type, true
	case protocol.StatusEvent:
		return m.Type, true
	case protocol.TurnEvent:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
