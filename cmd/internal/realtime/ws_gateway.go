package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"relay/cmd/internal/auth/token"
	"relay/cmd/internal/metrics"
	"relay/cmd/internal/presence"
	v1 "relay/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "relay.realtime.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsDefaultHistoryLimit = 50
	wsMaxHistoryLimit     = 200

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// TokenVerifier validates access tokens presented at the handshake.
type TokenVerifier interface {
	VerifyAccess(raw string, now time.Time) (token.Claims, error)
}

// WSGateway is the WebSocket entrypoint for Relay realtime.
//
// It enforces token auth at the handshake, origin policy, subprotocol
// selection, rate limits, heartbeats, and routes validated envelopes to the
// Hub, MessageStore, and presence Tracker.
type WSGateway struct {
	log        *slog.Logger
	hub        *Hub
	store      MessageStore
	verifier   TokenVerifier
	membership MembershipStore
	presence   *presence.Tracker
	metrics    *metrics.Metrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	requireMembership bool

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults.
// The verifier is mandatory: connections without a valid access token are
// never upgraded. When hub/store/tracker are nil, in-memory fallbacks are
// used for dev.
func NewWSGateway(log *slog.Logger, hub *Hub, store MessageStore, verifier TokenVerifier, membership MembershipStore, tracker *presence.Tracker) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if store == nil {
		store = NewInMemoryStore()
	}
	if tracker == nil {
		tracker = presence.NewTracker(log, NewHubPublisher(log, hub))
	}

	g := &WSGateway{
		log:        log,
		hub:        hub,
		store:      store,
		verifier:   verifier,
		membership: membership,
		presence:   tracker,
	}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("RELAY_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("RELAY_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("RELAY_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// IMPORTANT:
	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.requireMembership = envBoolWS("RELAY_WS_REQUIRE_MEMBERSHIP", membership != nil)

	g.writeTimeout = envDurationWS("RELAY_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("RELAY_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("RELAY_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("RELAY_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("RELAY_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("RELAY_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("RELAY_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// SetMetrics wires the Prometheus collectors. Optional; nil disables.
func (g *WSGateway) SetMetrics(m *metrics.Metrics) { g.metrics = m }

// Tracker exposes the presence tracker for the app runtime (sweeper, metrics).
func (g *WSGateway) Tracker() *presence.Tracker { return g.presence }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS authenticates and upgrades an HTTP request to a WebSocket
// session and runs the realtime loop.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	// Handshake auth happens before the upgrade: a missing or invalid token
	// never becomes a websocket connection.
	claims, err := g.authenticate(r, time.Now().UTC())
	if err != nil {
		g.log.Info("ws.reject.token", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	participantID := claims.Subject

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsSubprotocolV1},

		// Authorize allowed origin hosts (e.g. localhost) for cross-origin requests.
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	sessionID, err := NewSessionID(time.Now().UTC())
	if err != nil || sessionID == "" {
		sessionID = NewRandomHex(10)
	}
	client := NewClient(participantID, sessionID, g.sendQueueSize)

	if g.metrics != nil {
		g.metrics.WSConnections.Inc()
		defer g.metrics.WSConnections.Dec()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// joined is written by the read loop and read by shutdown, which can run
	// on the writer, heartbeat, or supersede-watcher goroutine. All access is
	// atomic; swap-to-nil makes the room leave exactly-once.
	var (
		closeOnce sync.Once
		joined    atomic.Pointer[Room]
	)

	// shutdown is idempotent. It does NOT close client.Send.
	// Leaving presence before closing keeps count == live sessions: the
	// decrement and its broadcast happen as part of the disconnect.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			if room := joined.Swap(nil); room != nil {
				room.Leave(sessionID)
				g.presence.Leave(context.Background(), time.Now().UTC(), room.ID, participantID, client)
			}

			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	// A superseding connection or a sweeper eviction closes the client from
	// outside this handler; tear the connection down when that happens.
	go func() {
		select {
		case <-ctx.Done():
		case <-client.Done():
			shutdown(websocket.StatusPolicyViolation, "session superseded")
		}
	}()

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		// Every inbound frame counts as liveness for the joined room.
		if room := joined.Load(); room != nil {
			g.presence.Touch(room.ID, participantID, now)
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		switch env.Type {
		case v1.TypeHello:
			if err := g.onHello(ctx, client, env); err != nil {
				g.trySendError(ctx, client, "hello_failed", err.Error())
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}

		case v1.TypeRoomJoin:
			room, err := g.onJoin(ctx, client, env, now)
			if err != nil {
				g.trySendError(ctx, client, "join_failed", err.Error())
				continue readLoop
			}

			// Membership stability: switching rooms leaves the old one.
			if old := joined.Swap(room); old != nil && old.ID != room.ID {
				old.Leave(sessionID)
				g.presence.Leave(ctx, now, old.ID, participantID, client)
			}

		case v1.TypeRoomLeave:
			room := joined.Swap(nil)
			if room == nil {
				continue readLoop
			}
			room.Leave(sessionID)
			g.presence.Leave(ctx, now, room.ID, participantID, client)

		case v1.TypeMessageSend:
			room := joined.Load()
			if room == nil {
				g.trySendError(ctx, client, "not_joined", "join first")
				continue readLoop
			}
			if err := g.onMessageSend(ctx, client, room, env, now); err != nil {
				g.trySendError(ctx, client, "send_failed", err.Error())
				continue readLoop
			}

		case v1.TypePresenceList:
			room := joined.Load()
			if room == nil {
				g.trySendError(ctx, client, "not_joined", "join first")
				continue readLoop
			}
			if err := g.onPresenceList(ctx, client, room, now); err != nil {
				g.trySendError(ctx, client, "presence_failed", err.Error())
				continue readLoop
			}

		case v1.TypeRoomHistoryFetch:
			room := joined.Load()
			if room == nil {
				g.trySendError(ctx, client, "not_joined", "join first")
				continue readLoop
			}
			if err := g.onHistoryFetch(ctx, client, room, env); err != nil {
				g.trySendError(ctx, client, "history_failed", err.Error())
				continue readLoop
			}

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handshake auth ----

func (g *WSGateway) authenticate(r *http.Request, now time.Time) (token.Claims, error) {
	if g.verifier == nil {
		return token.Claims{}, errors.New("no verifier configured")
	}

	raw := strings.TrimSpace(r.URL.Query().Get("token"))
	if raw == "" {
		h := strings.TrimSpace(r.Header.Get("Authorization"))
		if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
			raw = strings.TrimSpace(h[7:])
		}
	}
	if raw == "" {
		return token.Claims{}, errors.New("missing token")
	}

	claims, err := g.verifier.VerifyAccess(raw, now)
	if err != nil {
		return token.Claims{}, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return token.Claims{}, errors.New("empty subject")
	}
	return claims, nil
}

// ---- handlers ----

func (g *WSGateway) onHello(ctx context.Context, client *Client, env v1.Envelope) error {
	var p v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	ackPayload, _ := json.Marshal(v1.HelloAckPayload{
		SessionID:     client.SessionID,
		ParticipantID: client.ParticipantID,
	})
	ack := newEnvelope(v1.TypeHelloAck, ackPayload, time.Now().UTC())

	if !g.enqueue(ctx, client, ack) {
		return errors.New("backpressure: hello_ack")
	}
	return nil
}

func (g *WSGateway) onJoin(ctx context.Context, client *Client, env v1.Envelope, now time.Time) (*Room, error) {
	var p v1.RoomJoinPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}

	roomID := strings.TrimSpace(p.RoomID)
	if roomID == "" {
		return nil, errors.New("missing room_id")
	}

	if g.requireMembership {
		if g.membership == nil {
			return nil, errors.New("membership required but not configured")
		}
		ok, err := g.membership.IsMember(ctx, client.ParticipantID, roomID)
		if err != nil {
			return nil, fmt.Errorf("membership check: %w", err)
		}
		if !ok {
			g.log.Info("ws.reject.membership", "room_id", roomID, "participant_id", client.ParticipantID)
			return nil, errors.New("not a member")
		}
	}

	room := g.hub.GetOrCreateRoom(roomID)
	room.Join(client)
	g.presence.Join(ctx, now, roomID, client.ParticipantID, client)

	echoPayload, _ := json.Marshal(v1.RoomJoinPayload{RoomID: room.ID})
	echo := newEnvelope(v1.TypeRoomJoin, echoPayload, now)

	if !g.enqueue(ctx, client, echo) {
		room.Leave(client.SessionID)
		g.presence.Leave(ctx, now, roomID, client.ParticipantID, client)
		return nil, errors.New("backpressure: join echo")
	}

	return room, nil
}

func (g *WSGateway) onMessageSend(ctx context.Context, client *Client, room *Room, env v1.Envelope, now time.Time) error {
	var p v1.MessageSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	if strings.TrimSpace(p.RoomID) == "" || p.RoomID != room.ID {
		return errors.New("invalid room_id")
	}
	if strings.TrimSpace(p.ClientMsgID) == "" {
		return errors.New("missing client_msg_id")
	}

	text := strings.TrimSpace(p.Text)
	if text == "" {
		return errors.New("empty text")
	}
	if len([]rune(text)) > maxMessageChars {
		return fmt.Errorf("message too long: max=%d chars", maxMessageChars)
	}

	res, err := g.store.AppendMessage(ctx, AppendMessageInput{
		RoomID:      p.RoomID,
		ClientMsgID: p.ClientMsgID,
		Sender:      client.ParticipantID,
		Text:        text,
		Now:         now,
	})
	if err != nil {
		return fmt.Errorf("store append: %w", err)
	}

	stored := res.Stored

	ackPayload, _ := json.Marshal(v1.MessageAckPayload{
		RoomID:      stored.RoomID,
		ClientMsgID: stored.ClientMsgID,
		ServerMsgID: stored.ServerMsgID,
		Seq:         stored.Seq,
	})
	ack := newEnvelope(v1.TypeMessageAck, ackPayload, now)

	if !g.enqueue(ctx, client, ack) {
		return errors.New("backpressure: ack")
	}

	if res.Duplicated {
		return nil
	}
	if g.metrics != nil {
		g.metrics.MessagesAccepted.Inc()
	}

	newPayload, _ := json.Marshal(v1.MessageNewPayload{
		RoomID:      stored.RoomID,
		ClientMsgID: stored.ClientMsgID,
		ServerMsgID: stored.ServerMsgID,
		Seq:         stored.Seq,
		Sender:      stored.Sender,
		Text:        stored.Text,
		ServerTS:    stored.ServerTS,
	})
	newEnv := newEnvelope(v1.TypeMessageNew, newPayload, now)
	room.Broadcast(newEnv)
	return nil
}

func (g *WSGateway) onPresenceList(ctx context.Context, client *Client, room *Room, now time.Time) error {
	members := g.presence.ListLive(room.ID)
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ParticipantID)
	}

	payload, _ := json.Marshal(v1.PresenceListPayload{
		RoomID:       room.ID,
		Participants: ids,
		AtMS:         now.UnixMilli(),
	})
	env := newEnvelope(v1.TypePresenceList, payload, now)

	if !g.enqueue(ctx, client, env) {
		return errors.New("backpressure: presence list")
	}
	return nil
}

func (g *WSGateway) onHistoryFetch(ctx context.Context, client *Client, room *Room, env v1.Envelope) error {
	var p v1.RoomHistoryFetchPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}

	roomID := strings.TrimSpace(p.RoomID)
	if roomID == "" {
		return errors.New("missing room_id")
	}
	if roomID != room.ID {
		return errors.New("not a member of room_id")
	}

	limit := p.Limit
	if limit <= 0 {
		limit = wsDefaultHistoryLimit
	}
	if limit > wsMaxHistoryLimit {
		limit = wsMaxHistoryLimit
	}

	out, err := g.store.FetchHistory(ctx, FetchHistoryInput{
		RoomID:   roomID,
		AfterSeq: p.AfterSeq,
		Limit:    limit,
	})
	if err != nil {
		return err
	}

	msgs := make([]v1.MessageNewPayload, 0, len(out.Messages))
	for _, m := range out.Messages {
		msgs = append(msgs, v1.MessageNewPayload{
			RoomID:      m.RoomID,
			ClientMsgID: m.ClientMsgID,
			ServerMsgID: m.ServerMsgID,
			Seq:         m.Seq,
			Sender:      m.Sender,
			Text:        m.Text,
			ServerTS:    m.ServerTS,
		})
	}

	chunkPayload, _ := json.Marshal(v1.RoomHistoryChunkPayload{
		RoomID:   roomID,
		Messages: msgs,
		HasMore:  out.HasMore,
	})
	chunk := newEnvelope(v1.TypeRoomHistoryChunk, chunkPayload, time.Now().UTC())

	if !g.enqueue(ctx, client, chunk) {
		return errors.New("backpressure: history chunk")
	}
	return nil
}

// ---- send helpers ----

func (g *WSGateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := newEnvelope(v1.TypeError, p, time.Now().UTC())
	_ = g.enqueue(ctx, client, env)
}

func (g *WSGateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewRandomHex(10),
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
