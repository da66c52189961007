package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"relay/cmd/internal/auth/token"
	"relay/cmd/internal/presence"
	v1 "relay/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

type codecVerifier struct {
	codec *token.Codec
}

func (v codecVerifier) VerifyAccess(raw string, now time.Time) (token.Claims, error) {
	return v.codec.Verify(raw, now)
}

func newGatewayCodec(t *testing.T) *token.Codec {
	t.Helper()
	c, err := token.NewCodec([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}
	return c
}

func signAccess(t *testing.T, c *token.Codec, subject string, ttl time.Duration) string {
	t.Helper()
	now := time.Now().UTC()
	raw, err := c.Sign(subject, []string{"member"}, now, now.Add(ttl))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return raw
}

// newGatewayServer builds a gateway over in-memory stores and serves it.
// Origin enforcement is off because test dials carry no Origin header.
func newGatewayServer(t *testing.T, membership MembershipStore) (*WSGateway, *httptest.Server) {
	t.Helper()
	t.Setenv("RELAY_WS_ORIGIN_REQUIRED", "false")

	codec := newGatewayCodec(t)
	g := NewWSGateway(discardLogger(), nil, nil, codecVerifier{codec}, membership, nil)

	srv := httptest.NewServer(http.HandlerFunc(g.HandleWS))
	t.Cleanup(srv.Close)
	return g, srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialWS(t *testing.T, ctx context.Context, rawURL, accessToken string) *websocket.Conn {
	t.Helper()

	hdr := http.Header{}
	if accessToken != "" {
		hdr.Set("Authorization", "Bearer "+accessToken)
	}
	conn, _, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
		HTTPHeader:   hdr,
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "test done") })
	return conn
}

func writeWS(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, payload any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	env := v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewRandomHex(6),
		TS:      time.Now().UTC(),
		Payload: raw,
	}
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readWS(t *testing.T, ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("bad server envelope: %v", err)
	}
	return env, nil
}

// readUntilType drains server envelopes until one of the wanted type arrives.
// Presence broadcasts interleave with direct replies, so tests skip past them.
func readUntilType(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) v1.Envelope {
	t.Helper()

	for {
		env, err := readWS(t, ctx, conn)
		if err != nil {
			t.Fatalf("read while waiting for %s: %v", typ, err)
		}
		if env.Type == typ {
			return env
		}
		if env.Type == v1.TypeError {
			var p v1.ErrorPayload
			_ = json.Unmarshal(env.Payload, &p)
			t.Fatalf("server error while waiting for %s: %s %s", typ, p.Code, p.Message)
		}
	}
}

func joinRoom(t *testing.T, ctx context.Context, conn *websocket.Conn, roomID string) {
	t.Helper()
	writeWS(t, ctx, conn, v1.TypeRoomJoin, v1.RoomJoinPayload{RoomID: roomID})
	readUntilType(t, ctx, conn, v1.TypeRoomJoin)
}

func dialExpectStatus(t *testing.T, ctx context.Context, rawURL, accessToken string, want int) {
	t.Helper()

	hdr := http.Header{}
	if accessToken != "" {
		hdr.Set("Authorization", "Bearer "+accessToken)
	}
	conn, resp, err := websocket.Dial(ctx, rawURL, &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
		HTTPHeader:   hdr,
	})
	if err == nil {
		_ = conn.Close(websocket.StatusNormalClosure, "unexpected upgrade")
		t.Fatalf("dial succeeded, want HTTP %d", want)
	}
	if resp == nil {
		t.Fatalf("no HTTP response: %v", err)
	}
	if resp.StatusCode != want {
		t.Fatalf("status = %d, want %d", resp.StatusCode, want)
	}
}

func TestWSGateway_RejectsMissingToken(t *testing.T) {
	_, srv := newGatewayServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialExpectStatus(t, ctx, wsURL(srv), "", http.StatusUnauthorized)
}

func TestWSGateway_RejectsInvalidToken(t *testing.T) {
	_, srv := newGatewayServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dialExpectStatus(t, ctx, wsURL(srv), "not-a-token", http.StatusUnauthorized)
}

func TestWSGateway_RejectsExpiredToken(t *testing.T) {
	t.Setenv("RELAY_WS_ORIGIN_REQUIRED", "false")

	codec := newGatewayCodec(t)
	g := NewWSGateway(discardLogger(), nil, nil, codecVerifier{codec}, nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(g.HandleWS))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	expired := signAccess(t, codec, "alice", -time.Minute)
	dialExpectStatus(t, ctx, wsURL(srv), expired, http.StatusUnauthorized)
}

func TestWSGateway_QueryTokenAndHelloAck(t *testing.T) {
	t.Setenv("RELAY_WS_ORIGIN_REQUIRED", "false")

	codec := newGatewayCodec(t)
	g := NewWSGateway(discardLogger(), nil, nil, codecVerifier{codec}, nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(g.HandleWS))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Token via query parameter instead of the Authorization header.
	raw := signAccess(t, codec, "alice", time.Minute)
	conn := dialWS(t, ctx, wsURL(srv)+"/?token="+raw, "")

	writeWS(t, ctx, conn, v1.TypeHello, v1.HelloPayload{})
	ack := readUntilType(t, ctx, conn, v1.TypeHelloAck)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		t.Fatalf("unmarshal hello_ack: %v", err)
	}
	if p.ParticipantID != "alice" {
		t.Fatalf("participant_id = %q, want alice", p.ParticipantID)
	}
	if p.SessionID == "" {
		t.Fatalf("missing session_id")
	}
}

func TestWSGateway_JoinSendAckBroadcast(t *testing.T) {
	_, srv := newGatewayServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	codec := newGatewayCodec(t)
	alice := dialWS(t, ctx, wsURL(srv), signAccess(t, codec, "alice", time.Minute))
	bob := dialWS(t, ctx, wsURL(srv), signAccess(t, codec, "bob", time.Minute))

	joinRoom(t, ctx, alice, "room-a")
	joinRoom(t, ctx, bob, "room-a")

	writeWS(t, ctx, alice, v1.TypeMessageSend, v1.MessageSendPayload{
		RoomID:      "room-a",
		ClientMsgID: "cli-1",
		Text:        "hello there",
	})

	ackEnv := readUntilType(t, ctx, alice, v1.TypeMessageAck)
	var ack v1.MessageAckPayload
	if err := json.Unmarshal(ackEnv.Payload, &ack); err != nil {
		t.Fatalf("unmarshal ack: %v", err)
	}
	if ack.ClientMsgID != "cli-1" || ack.Seq != 1 || ack.ServerMsgID == "" {
		t.Fatalf("ack = %+v", ack)
	}

	newEnv := readUntilType(t, ctx, bob, v1.TypeMessageNew)
	var msg v1.MessageNewPayload
	if err := json.Unmarshal(newEnv.Payload, &msg); err != nil {
		t.Fatalf("unmarshal message_new: %v", err)
	}
	if msg.Sender != "alice" || msg.Text != "hello there" || msg.Seq != ack.Seq {
		t.Fatalf("message_new = %+v", msg)
	}

	// Resending the same client_msg_id acks the original ids without a
	// second broadcast.
	writeWS(t, ctx, alice, v1.TypeMessageSend, v1.MessageSendPayload{
		RoomID:      "room-a",
		ClientMsgID: "cli-1",
		Text:        "hello there",
	})
	dupEnv := readUntilType(t, ctx, alice, v1.TypeMessageAck)
	var dup v1.MessageAckPayload
	if err := json.Unmarshal(dupEnv.Payload, &dup); err != nil {
		t.Fatalf("unmarshal dup ack: %v", err)
	}
	if dup.Seq != ack.Seq || dup.ServerMsgID != ack.ServerMsgID {
		t.Fatalf("duplicate ack = %+v, want original ids %+v", dup, ack)
	}
}

func TestWSGateway_MembershipDenied(t *testing.T) {
	acl := NewMemoryMembershipStore()
	acl.Grant("room-a", "alice")

	_, srv := newGatewayServer(t, acl)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	codec := newGatewayCodec(t)
	bob := dialWS(t, ctx, wsURL(srv), signAccess(t, codec, "bob", time.Minute))

	writeWS(t, ctx, bob, v1.TypeRoomJoin, v1.RoomJoinPayload{RoomID: "room-a"})

	env, err := readWS(t, ctx, bob)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Type != v1.TypeError {
		t.Fatalf("type = %s, want error", env.Type)
	}
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if p.Code != "join_failed" {
		t.Fatalf("code = %q", p.Code)
	}

	// Members pass the same check.
	alice := dialWS(t, ctx, wsURL(srv), signAccess(t, codec, "alice", time.Minute))
	joinRoom(t, ctx, alice, "room-a")
}

func TestWSGateway_PresenceBroadcastOnJoinAndLeave(t *testing.T) {
	_, srv := newGatewayServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	codec := newGatewayCodec(t)
	alice := dialWS(t, ctx, wsURL(srv), signAccess(t, codec, "alice", time.Minute))
	joinRoom(t, ctx, alice, "room-a")

	bob := dialWS(t, ctx, wsURL(srv), signAccess(t, codec, "bob", time.Minute))
	joinRoom(t, ctx, bob, "room-a")

	// Alice observes the count move to 2 when bob arrives.
	countEnv := readUntilType(t, ctx, alice, v1.TypePresenceCount)
	var count v1.PresenceCountPayload
	if err := json.Unmarshal(countEnv.Payload, &count); err != nil {
		t.Fatalf("unmarshal count: %v", err)
	}
	if count.RoomID != "room-a" || count.Count != 2 || count.AtMS == 0 {
		t.Fatalf("count = %+v", count)
	}

	// The roster request returns both participants.
	writeWS(t, ctx, alice, v1.TypePresenceList, struct{}{})
	listEnv := readUntilType(t, ctx, alice, v1.TypePresenceList)
	var list v1.PresenceListPayload
	if err := json.Unmarshal(listEnv.Payload, &list); err != nil {
		t.Fatalf("unmarshal list: %v", err)
	}
	if len(list.Participants) != 2 {
		t.Fatalf("participants = %v", list.Participants)
	}

	// Bob leaving broadcasts the decrement to the remaining members.
	writeWS(t, ctx, bob, v1.TypeRoomLeave, v1.RoomLeavePayload{RoomID: "room-a"})
	downEnv := readUntilType(t, ctx, alice, v1.TypePresenceCount)
	var down v1.PresenceCountPayload
	if err := json.Unmarshal(downEnv.Payload, &down); err != nil {
		t.Fatalf("unmarshal count: %v", err)
	}
	if down.Count != 1 {
		t.Fatalf("count after leave = %d, want 1", down.Count)
	}
}

func TestWSGateway_SupersededConnectionIsClosed(t *testing.T) {
	g, srv := newGatewayServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	codec := newGatewayCodec(t)
	raw := signAccess(t, codec, "alice", time.Minute)

	first := dialWS(t, ctx, wsURL(srv), raw)
	joinRoom(t, ctx, first, "room-a")

	second := dialWS(t, ctx, wsURL(srv), raw)
	joinRoom(t, ctx, second, "room-a")

	// The first connection is torn down by the replacing join.
	readCtx, readCancel := context.WithTimeout(ctx, 5*time.Second)
	defer readCancel()
	for {
		if _, err := readWS(t, readCtx, first); err != nil {
			break
		}
	}

	// Exactly one live session remains and the count agrees.
	deadline := time.Now().Add(3 * time.Second)
	for {
		live := g.Tracker().ListLive("room-a")
		if len(live) == 1 && g.Tracker().Count("room-a") == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("live = %+v count = %d", live, g.Tracker().Count("room-a"))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// The watcher goroutine tears a superseded connection down while its read
// loop is still handling frames. Keeping traffic flowing through the
// takeover exercises that interleaving; the room state must still settle on
// exactly the surviving session.
func TestWSGateway_SupersedeDuringActiveTraffic(t *testing.T) {
	g, srv := newGatewayServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	codec := newGatewayCodec(t)
	raw := signAccess(t, codec, "alice", time.Minute)

	first := dialWS(t, ctx, wsURL(srv), raw)
	joinRoom(t, ctx, first, "room-a")

	// Hammer the first connection with sends until the server closes it.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for i := 0; ; i++ {
			payload, _ := json.Marshal(v1.MessageSendPayload{
				RoomID:      "room-a",
				ClientMsgID: "cli-" + NewRandomHex(4),
				Text:        "m",
			})
			env := v1.Envelope{
				V:       v1.Version,
				Type:    v1.TypeMessageSend,
				ID:      NewRandomHex(6),
				TS:      time.Now().UTC(),
				Payload: payload,
			}
			b, _ := json.Marshal(env)
			if err := first.Write(ctx, websocket.MessageText, b); err != nil {
				return
			}
		}
	}()

	second := dialWS(t, ctx, wsURL(srv), raw)
	joinRoom(t, ctx, second, "room-a")

	// The first connection dies mid-traffic; its writer notices via Write.
	select {
	case <-writerDone:
	case <-ctx.Done():
		t.Fatalf("superseded connection kept accepting writes")
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		live := g.Tracker().ListLive("room-a")
		if len(live) == 1 && g.Tracker().Count("room-a") == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("live = %+v count = %d", live, g.Tracker().Count("room-a"))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWSGateway_HistoryFetchPages(t *testing.T) {
	_, srv := newGatewayServer(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	codec := newGatewayCodec(t)
	alice := dialWS(t, ctx, wsURL(srv), signAccess(t, codec, "alice", time.Minute))
	joinRoom(t, ctx, alice, "room-a")

	for i := 0; i < 3; i++ {
		writeWS(t, ctx, alice, v1.TypeMessageSend, v1.MessageSendPayload{
			RoomID:      "room-a",
			ClientMsgID: "cli-" + NewRandomHex(4),
			Text:        "m",
		})
		readUntilType(t, ctx, alice, v1.TypeMessageAck)
	}

	after := int64(1)
	writeWS(t, ctx, alice, v1.TypeRoomHistoryFetch, v1.RoomHistoryFetchPayload{
		RoomID:   "room-a",
		AfterSeq: &after,
		Limit:    1,
	})
	chunkEnv := readUntilType(t, ctx, alice, v1.TypeRoomHistoryChunk)
	var chunk v1.RoomHistoryChunkPayload
	if err := json.Unmarshal(chunkEnv.Payload, &chunk); err != nil {
		t.Fatalf("unmarshal chunk: %v", err)
	}
	if len(chunk.Messages) != 1 || chunk.Messages[0].Seq != 2 || !chunk.HasMore {
		t.Fatalf("chunk = %+v", chunk)
	}
}

// Tracker wiring sanity without a network in the middle: the default hub
// publisher must exist when no tracker is supplied.
func TestWSGateway_DefaultTracker(t *testing.T) {
	t.Setenv("RELAY_WS_ORIGIN_REQUIRED", "false")
	codec := newGatewayCodec(t)
	g := NewWSGateway(discardLogger(), nil, nil, codecVerifier{codec}, nil, nil)
	if g.Tracker() == nil {
		t.Fatalf("nil tracker")
	}
	var _ *presence.Tracker = g.Tracker()
}
