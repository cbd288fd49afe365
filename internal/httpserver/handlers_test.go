package httpserver

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"pastebin-lite/internal/clock"
	"pastebin-lite/internal/storage/memstore"
)

var linkPattern = regexp.MustCompile(`http://example\.com/p/([A-Za-z0-9]{7})`)

func postForm(t *testing.T, srv *Server, values url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/pastes", strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	return rr
}

func TestIndexPage(t *testing.T) {
	srv := newTestServer(t, testOptions{})
	rr := do(t, srv, http.MethodGet, "/", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `action="/pastes"`) {
		t.Fatalf("index page missing form")
	}
}

func TestFormCreateThenView(t *testing.T) {
	srv := newTestServer(t, testOptions{})
	rr := postForm(t, srv, url.Values{
		"content":   {"<script>alert(1)</script>"},
		"max_views": {"2"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rr.Code, rr.Body.String())
	}
	m := linkPattern.FindStringSubmatch(rr.Body.String())
	if m == nil {
		t.Fatalf("created page has no paste link: %s", rr.Body.String())
	}
	id := m[1]

	view := do(t, srv, http.MethodGet, "/p/"+id, "", nil)
	if view.Code != http.StatusOK {
		t.Fatalf("view status %d", view.Code)
	}
	body := view.Body.String()
	if strings.Contains(body, "<script>alert(1)</script>") {
		t.Fatalf("paste content was not escaped")
	}
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Fatalf("escaped content missing: %s", body)
	}
	if !strings.Contains(body, "Remaining views:</strong> 1") {
		t.Fatalf("remaining views missing: %s", body)
	}
	if got := view.Header().Get("Cache-Control"); got != "no-store" {
		t.Fatalf("unexpected cache-control %q", got)
	}

	// The HTML page and the API draw on the same view budget.
	code, _ := fetchRaw(t, srv, id, nil)
	if code != http.StatusOK {
		t.Fatalf("api fetch status %d", code)
	}
	if again := do(t, srv, http.MethodGet, "/p/"+id, "", nil); again.Code != http.StatusNotFound {
		t.Fatalf("expected exhausted paste to 404, got %d", again.Code)
	}
}

func TestFormValidation(t *testing.T) {
	srv := newTestServer(t, testOptions{maxBytes: 8})
	cases := []struct {
		name   string
		values url.Values
		status int
		want   string
	}{
		{"empty content", url.Values{"content": {""}}, http.StatusBadRequest, "Content is required"},
		{"bad ttl", url.Values{"content": {"x"}, "ttl_seconds": {"soon"}}, http.StatusBadRequest, "Expiry must be a whole number of seconds"},
		{"bad views", url.Values{"content": {"x"}, "max_views": {"1.5"}}, http.StatusBadRequest, "Maximum views must be a whole number"},
		{"zero views", url.Values{"content": {"x"}, "max_views": {"0"}}, http.StatusBadRequest, "greater than or equal to 1"},
		{"too large", url.Values{"content": {"0123456789"}}, http.StatusRequestEntityTooLarge, "Content exceeds 8 byte limit"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := postForm(t, srv, tc.values)
			if rr.Code != tc.status {
				t.Fatalf("status %d, want %d", rr.Code, tc.status)
			}
			if !strings.Contains(rr.Body.String(), tc.want) {
				t.Fatalf("body missing %q: %s", tc.want, rr.Body.String())
			}
		})
	}
}

func TestViewNotFoundPage(t *testing.T) {
	srv := newTestServer(t, testOptions{})
	rr := do(t, srv, http.MethodGet, "/p/nothere", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "404 - Paste Not Found") {
		t.Fatalf("unexpected body: %s", rr.Body.String())
	}
}

func TestViewShowsExpiry(t *testing.T) {
	srv := newTestServer(t, testOptions{testMode: true})
	headers := map[string]string{TestNowHeader: "1700000000000"}
	created := createPaste(t, srv, `{"content":"x","ttl_seconds":3720}`, headers)

	rr := do(t, srv, http.MethodGet, "/p/"+created.ID, "", headers)
	if rr.Code != http.StatusOK {
		t.Fatalf("view status %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "in 1 hour, 2 minutes") {
		t.Fatalf("expiry countdown missing: %s", rr.Body.String())
	}
}

func TestQRDoesNotConsumeViews(t *testing.T) {
	srv := newTestServer(t, testOptions{})
	created := createPaste(t, srv, `{"content":"x","max_views":1}`, nil)

	for i := 0; i < 3; i++ {
		rr := do(t, srv, http.MethodGet, "/p/"+created.ID+"/qr", "", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("qr status %d", rr.Code)
		}
		if got := rr.Header().Get("Content-Type"); got != "image/png" {
			t.Fatalf("unexpected content type %q", got)
		}
		if !bytes.HasPrefix(rr.Body.Bytes(), []byte("\x89PNG")) {
			t.Fatalf("body is not a png")
		}
	}

	if code, _ := fetchRaw(t, srv, created.ID, nil); code != http.StatusOK {
		t.Fatalf("paste should still be readable, got %d", code)
	}
	if rr := do(t, srv, http.MethodGet, "/p/"+created.ID+"/qr", "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("qr for exhausted paste should 404, got %d", rr.Code)
	}
}

func TestStaticAssets(t *testing.T) {
	srv := newTestServer(t, testOptions{})
	rr := do(t, srv, http.MethodGet, "/static/style.css", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
}

func TestCanonicalURLBehindProxy(t *testing.T) {
	srv := newTestServer(t, testOptions{})
	srv.trustProxy = true
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Host = "paste.local"
	req.Header.Set("X-Forwarded-Proto", "https")
	if got := srv.canonicalURL(req, "abc1234"); got != "https://paste.local/p/abc1234" {
		t.Fatalf("unexpected url %q", got)
	}

	srv.trustProxy = false
	if got := srv.canonicalURL(req, "abc1234"); got != "http://paste.local/p/abc1234" {
		t.Fatalf("forwarded proto must be ignored without proxy trust, got %q", got)
	}
}

func TestRemaining(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		d    time.Duration
		want string
	}{
		{0, "expired"},
		{500 * time.Millisecond, "in less than a second"},
		{45 * time.Second, "in 45 seconds"},
		{time.Minute, "in 1 minute"},
		{26*time.Hour + 5*time.Minute, "in 1 day, 2 hours, 5 minutes"},
	}
	for _, tc := range cases {
		if got := remaining(now.Add(tc.d), now); got != tc.want {
			t.Errorf("remaining(%v) = %q, want %q", tc.d, got, tc.want)
		}
	}
}

func TestCleanOnce(t *testing.T) {
	c := clock.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	store := memstore.NewWithClock(c)
	ctx := context.Background()
	if err := store.SetEx(ctx, "paste:short", []byte("a"), time.Second); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(ctx, "paste:forever", []byte("b")); err != nil {
		t.Fatal(err)
	}

	if removed := cleanOnce(ctx, store, c, nil); removed != 0 {
		t.Fatalf("nothing should be swept yet, removed %d", removed)
	}
	c.Advance(time.Second)
	if removed := cleanOnce(ctx, store, c, nil); removed != 1 {
		t.Fatalf("expected 1 key swept, got %d", removed)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 key left, got %d", store.Len())
	}
}
