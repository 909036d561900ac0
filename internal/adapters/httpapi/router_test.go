package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/quckchat/call-service/internal/adapters/identity"
	"github.com/quckchat/call-service/internal/adapters/notify"
	"github.com/quckchat/call-service/internal/adapters/ws"
	"github.com/quckchat/call-service/internal/app"
	"github.com/quckchat/call-service/internal/config"
	"github.com/quckchat/call-service/internal/domain"
	"github.com/quckchat/call-service/internal/store/memory"
)

const (
	testSecret   = "test-secret-key-for-unit-tests-minimum-32-chars"
	testInternal = "internal-callback-secret"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testToken(sub string, issuer string, expiry time.Duration) string {
	claims := Claims{
		Sub:       sub,
		Email:     sub + "@example.com",
		SessionID: "sess-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, _ := token.SignedString([]byte(testSecret))
	return signed
}

func setupTestRouter() *gin.Engine {
	cfg := &config.Config{
		Mode:              "release",
		Store:             "memory",
		JWTSecret:         testSecret,
		JWTIssuer:         "quckapp-auth",
		CookieSecret:      "cookie-secret",
		MediaSharedSecret: testInternal,
		ReadLimit:         32768,
		PingPeriod:        54 * time.Second,
	}
	st := memory.New()
	hub := ws.NewHub()
	coord := app.NewCoordinator(st, app.NewRegistry(st), hub, notify.Nop{}, identity.AllowAll{}, app.DefaultSettings())
	return SetupRouter(context.Background(), cfg, coord, hub, st)
}

func doJSON(t *testing.T, r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-Device-ID", "dev-"+token[:8])
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	r := setupTestRouter()

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, w.Code)
		}
	}
}

func TestAuthRequired(t *testing.T) {
	r := setupTestRouter()

	req := httptest.NewRequest("POST", "/api/v1/sessions", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated = %d, want 401", w.Code)
	}

	req = httptest.NewRequest("POST", "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("garbage token = %d, want 401", w.Code)
	}

	wrongIssuer := testToken("alice", "someone-else", time.Hour)
	w = doJSON(t, r, "POST", "/api/v1/sessions", wrongIssuer, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong issuer = %d, want 401", w.Code)
	}

	expired := testToken("alice", "quckapp-auth", -time.Hour)
	w = doJSON(t, r, "POST", "/api/v1/sessions", expired, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expired token = %d, want 401", w.Code)
	}
}

func TestCallFlowOverHTTP(t *testing.T) {
	r := setupTestRouter()
	alice := testToken("alice", "quckapp-auth", time.Hour)
	bob := testToken("bob", "quckapp-auth", time.Hour)
	mallory := testToken("mallory", "quckapp-auth", time.Hour)

	w := doJSON(t, r, "POST", "/api/v1/sessions", alice, gin.H{
		"kind":      "call",
		"mediaType": "video",
		"targets":   []string{"bob"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("start = %d: %s", w.Code, w.Body.String())
	}
	var snap domain.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	sid := string(snap.Session.ID)
	if snap.Session.State != domain.StateRinging {
		t.Errorf("state = %s, want ringing", snap.Session.State)
	}

	w = doJSON(t, r, "POST", "/api/v1/sessions/"+sid+"/answer", bob, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("answer = %d: %s", w.Code, w.Body.String())
	}

	// Outsiders cannot read the session.
	w = doJSON(t, r, "GET", "/api/v1/sessions/"+sid, mallory, nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("outsider read = %d, want 403", w.Code)
	}
	w = doJSON(t, r, "GET", "/api/v1/sessions/"+sid, bob, nil)
	if w.Code != http.StatusOK {
		t.Errorf("member read = %d, want 200", w.Code)
	}

	// Media callbacks need the shared secret.
	body, _ := json.Marshal(gin.H{"userId": "alice"})
	req := httptest.NewRequest("POST", "/internal/v1/sessions/"+sid+"/peer-connected", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("callback without secret = %d, want 401", rec.Code)
	}

	for _, uid := range []string{"alice", "bob"} {
		body, _ := json.Marshal(gin.H{"userId": uid})
		req := httptest.NewRequest("POST", "/internal/v1/sessions/"+sid+"/peer-connected", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Internal-Secret", testInternal)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("peer-connected %s = %d: %s", uid, rec.Code, rec.Body.String())
		}
	}

	w = doJSON(t, r, "GET", "/api/v1/sessions/"+sid, alice, nil)
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Session.State != domain.StateActive {
		t.Errorf("state = %s, want active", snap.Session.State)
	}

	w = doJSON(t, r, "POST", "/api/v1/sessions/"+sid+"/leave", alice, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("leave = %d: %s", w.Code, w.Body.String())
	}
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Session.State != domain.StateEnded {
		t.Errorf("state = %s, want ended", snap.Session.State)
	}

	// A second hangup maps to 409 stale.
	w = doJSON(t, r, "POST", "/api/v1/sessions/"+sid+"/leave", bob, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("double leave = %d, want 409", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	r := setupTestRouter()
	alice := testToken("alice", "quckapp-auth", time.Hour)

	w := doJSON(t, r, "GET", "/api/v1/sessions/nonexistent", alice, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing session = %d, want 404", w.Code)
	}

	w = doJSON(t, r, "POST", "/api/v1/sessions", alice, gin.H{"kind": "call"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("malformed body = %d, want 400", w.Code)
	}

	// Calling only yourself leaves no valid targets.
	w = doJSON(t, r, "POST", "/api/v1/sessions", alice, gin.H{
		"kind":      "call",
		"mediaType": "audio",
		"targets":   []string{"alice"},
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("self-call = %d, want 403", w.Code)
	}

	// Adding participants while ringing is rejected.
	w = doJSON(t, r, "POST", "/api/v1/sessions", alice, gin.H{
		"kind":      "call",
		"mediaType": "audio",
		"targets":   []string{"bob"},
	})
	var snap domain.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	w = doJSON(t, r, "POST", "/api/v1/sessions/"+string(snap.Session.ID)+"/participants", alice, gin.H{
		"targets": []string{"carol"},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("add during ringing = %d, want 422", w.Code)
	}
}
