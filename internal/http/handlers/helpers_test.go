package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"storefront/internal/config"
	"storefront/internal/events"
	"storefront/internal/http/handlers"
	"storefront/internal/repos"
)

type harness struct {
	app    *fiber.App
	store  *repos.SQLStore
	events *events.Recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := repos.OpenDB(":memory:", true)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.Config{
		ServiceName:            "storefront-test",
		RateLimit:              1000,
		RequestTimeout:         5 * time.Second,
		RestoreInitialInterval: time.Millisecond,
		RestoreMaxElapsed:      200 * time.Millisecond,
	}
	rec := &events.Recorder{}
	deps := handlers.NewDeps(store, cfg, rec, nil)
	return &harness{app: handlers.NewApp(deps, cfg), store: store, events: rec}
}

// client keeps the csrf and session cookies between requests like a browser would.
type client struct {
	t       *testing.T
	h       *harness
	cookies map[string]string
}

func (h *harness) client(t *testing.T) *client {
	t.Helper()
	c := &client{t: t, h: h, cookies: map[string]string{}}
	resp, _ := c.do(http.MethodGet, "/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: %d", resp.StatusCode)
	}
	if c.cookies["csrf_"] == "" {
		t.Fatal("csrf token missing")
	}
	return c
}

func (h *harness) login(t *testing.T, email string) *client {
	t.Helper()
	c := h.client(t)
	resp, body := c.do(http.MethodPost, "/api/v1/login", map[string]string{"email": email, "password": "Passw0rd!"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: %d %s", email, resp.StatusCode, body)
	}
	return c
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func (c *client) do(method, path string, body any) (*http.Response, []byte) {
	c.t.Helper()
	return c.send(jsonRequest(c.t, method, path, body))
}

func (c *client) send(req *http.Request) (*http.Response, []byte) {
	c.t.Helper()
	for name, v := range c.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: v})
	}
	if tok := c.cookies["csrf_"]; tok != "" && req.Header.Get("X-Csrf-Token") == "" {
		req.Header.Set("X-Csrf-Token", tok)
	}
	resp, err := c.h.app.Test(req, -1)
	if err != nil {
		c.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	for _, ck := range resp.Cookies() {
		if ck.Value == "" || (!ck.Expires.IsZero() && ck.Expires.Before(time.Now())) {
			delete(c.cookies, ck.Name)
			continue
		}
		c.cookies[ck.Name] = ck.Value
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

type apiError struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
		Lines   []struct {
			ProductID string `json:"productId"`
			Requested int    `json:"requested"`
			Available int    `json:"available"`
		} `json:"lines"`
	} `json:"error"`
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
	return v
}

type logEntry struct {
	Level  string         `json:"level"`
	Action string         `json:"action"`
	Fields map[string]any `json:"fields"`
}

type lockedWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

// captureLogs redirects the standard logger while fn runs and returns the JSON entries it wrote.
func captureLogs(t *testing.T, fn func()) []logEntry {
	t.Helper()
	w := &lockedWriter{}
	oldW, oldFlags := log.Writer(), log.Flags()
	log.SetOutput(w)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(oldW)
		log.SetFlags(oldFlags)
	}()

	fn()

	w.mu.Lock()
	defer w.mu.Unlock()
	var entries []logEntry
	for _, line := range strings.Split(strings.TrimSpace(w.buf.String()), "\n") {
		var e logEntry
		if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &e); err == nil {
			entries = append(entries, e)
		}
	}
	return entries
}

func hasAction(entries []logEntry, level, action string) bool {
	for _, e := range entries {
		if e.Action == action && (level == "" || e.Level == level) {
			return true
		}
	}
	return false
}

var shipTo = map[string]string{
	"fullName":    "Alice Doe",
	"phoneNumber": "9800000000",
	"address":     "1 Main St",
	"city":        "Kathmandu",
	"state":       "Bagmati",
	"zipCode":     "44600",
}
