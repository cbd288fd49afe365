package httpserver

import (
	"net/http"
	"strconv"
	"strings"

	"pastebin-lite/internal/clock"
)

// TestNowHeader carries the simulated current time, in epoch milliseconds,
// when the server runs in test mode.
const TestNowHeader = "x-test-now-ms"

// testClock builds a fixed clock from TestNowHeader. Missing or malformed
// values are ignored.
func testClock(r *http.Request) (clock.Clock, bool) {
	raw := strings.TrimSpace(r.Header.Get(TestNowHeader))
	if raw == "" {
		return nil, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms < 0 {
		return nil, false
	}
	return clock.Fixed(clock.FromMillis(ms)), true
}

// limitBody caps the request body at n bytes plus room for form or JSON framing.
func (s *Server) limitBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.maxBytes)+4096)
}
