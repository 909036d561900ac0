package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/quckchat/call-service/internal/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, hub *Hub) *httptest.Server {
	t.Helper()
	ctl := &Controller{Hub: hub, Opts: DefaultOptions()}
	r := gin.New()
	r.GET("/events", func(c *gin.Context) {
		c.Set("user_id", c.Query("user"))
		c.Set("device_token", c.Query("device"))
		ctl.HandleEvents(context.Background(), c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, user, device string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events?user=" + user + "&device=" + device
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *domain.Event {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev domain.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return &ev
}

func testSnapshot(users ...domain.UserID) *domain.Snapshot {
	s := domain.NewSession(domain.KindCall, domain.MediaAudio, users[0])
	parts := make([]*domain.Participant, 0, len(users))
	for i, u := range users {
		role := domain.RoleCallee
		if i == 0 {
			role = domain.RoleCaller
		}
		parts = append(parts, domain.NewParticipant(s.ID, u, role, domain.ConnRinging, s.MediaType))
	}
	return domain.NewSnapshot(s, parts)
}

func TestInviteReachesTargetOnly(t *testing.T) {
	hub := NewHub()
	srv := newTestServer(t, hub)

	bob := dial(t, srv, "bob", "d1")
	// Registration happens in the upgrade handler goroutine; give the
	// hub a beat before publishing.
	waitForClients(t, hub, 1)

	snap := testSnapshot("alice", "bob")
	inv := domain.NewInvite(snap.Session.ID, "bob", "alice", time.Minute)
	hub.PublishInvite("bob", inv, snap)

	ev := readEvent(t, bob)
	if ev.Type != domain.EventInviteReceived {
		t.Errorf("Type = %s, want inviteReceived", ev.Type)
	}
	if ev.Invite == nil || ev.Invite.TargetUserID != "bob" {
		t.Errorf("Invite = %+v, want target bob", ev.Invite)
	}
	if ev.Snapshot == nil || ev.Snapshot.Session.ID != snap.Session.ID {
		t.Error("snapshot missing from invite event")
	}
}

func TestSessionStateFansOutToParticipants(t *testing.T) {
	hub := NewHub()
	srv := newTestServer(t, hub)

	alicePhone := dial(t, srv, "alice", "phone")
	aliceLaptop := dial(t, srv, "alice", "laptop")
	bob := dial(t, srv, "bob", "d1")
	dial(t, srv, "stranger", "d2")
	waitForClients(t, hub, 4)

	snap := testSnapshot("alice", "bob")
	hub.PublishSessionState(snap)

	for name, conn := range map[string]*websocket.Conn{"alice-phone": alicePhone, "alice-laptop": aliceLaptop, "bob": bob} {
		ev := readEvent(t, conn)
		if ev.Type != domain.EventSessionStateChanged {
			t.Errorf("%s got %s, want sessionStateChanged", name, ev.Type)
		}
	}
}

func TestPublishRacingCloseDoesNotPanic(t *testing.T) {
	hub := NewHub()
	srv := newTestServer(t, hub)

	dial(t, srv, "bob", "d1")
	waitForClients(t, hub, 1)
	hub.mu.RLock()
	client := hub.clients["bob"]["d1"]
	hub.mu.RUnlock()

	snap := testSnapshot("alice", "bob")
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		client.Close()
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			hub.PublishSessionState(snap)
		}
	}()
	wg.Wait()

	if err := client.TrySend([]byte("{}")); !errors.Is(err, ErrClosed) {
		t.Errorf("TrySend after close err = %v, want ErrClosed", err)
	}
	// Close is idempotent.
	client.Close()
	// Publishing to a session whose only watcher is gone stays a no-op.
	hub.PublishSessionState(snap)
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		hub.mu.RLock()
		n := 0
		for _, devices := range hub.clients {
			n += len(devices)
		}
		hub.mu.RUnlock()
		if n >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("hub never reached %d clients", want)
}
