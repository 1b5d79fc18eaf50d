package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func sessionRequest(t *testing.T, uid uint) *http.Request {
	t.Helper()
	w := httptest.NewRecorder()
	CreateSession(w, uid)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range w.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestSessionRoundTrip(t *testing.T) {
	req := sessionRequest(t, 42)
	uid, ok := ParseSession(req)
	if !ok || uid != 42 {
		t.Fatalf("expected 42, got %d ok=%v", uid, ok)
	}
}

func TestSessionTampered(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	CreateSession(w, 7)
	c := w.Result().Cookies()[0]
	c.Value = "8" + c.Value[1:]
	req.AddCookie(c)
	if _, ok := ParseSession(req); ok {
		t.Fatalf("tampered cookie must not parse")
	}
}

func TestSessionExpired(t *testing.T) {
	req := sessionRequest(t, 3)
	defer func() { now = time.Now }()
	now = func() time.Time { return time.Now().Add(SessionTTL + time.Minute) }
	if _, ok := ParseSession(req); ok {
		t.Fatalf("expired session must not parse")
	}
}

func TestRequireAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Middleware(RequireAuth(ok))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: expected 401 got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, sessionRequest(t, 5))
	if w.Code != http.StatusNoContent {
		t.Fatalf("signed in: expected 204 got %d", w.Code)
	}

	SetUserVerifier(func(_ context.Context, uid uint) bool { return uid != 5 })
	defer SetUserVerifier(nil)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, sessionRequest(t, 5))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("deleted user: expected 401 got %d", w.Code)
	}
}

func TestPasswordHash(t *testing.T) {
	h, err := HashPassword("geheim123")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(h, "geheim123") || CheckPassword(h, "fout") {
		t.Fatalf("bcrypt check mismatch")
	}
}

func TestNewToken(t *testing.T) {
	a, da, err := NewToken()
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	b, _, _ := NewToken()
	if a == b {
		t.Fatalf("tokens must differ")
	}
	if HashToken(a) != da || len(da) != 64 {
		t.Fatalf("digest mismatch: %s", da)
	}
}

func TestBearerMatches(t *testing.T) {
	cases := []struct {
		header, secret string
		want           bool
	}{
		{"Bearer cron-geheim", "cron-geheim", true},
		{"Bearer cron-geheim ", "cron-geheim", true},
		{"Bearer cron-geheim2", "cron-geheim", false},
		{"bearer cron-geheim", "cron-geheim", false},
		{"cron-geheim", "cron-geheim", false},
		{"", "", false},
		{"Bearer ", "", false},
	}
	for _, c := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/cron/reminders", nil)
		if c.header != "" {
			req.Header.Set("Authorization", c.header)
		}
		if got := BearerMatches(req, c.secret); got != c.want {
			t.Errorf("%q / %q: got %v want %v", c.header, c.secret, got, c.want)
		}
	}
}
