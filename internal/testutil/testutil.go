// Package testutil provides shared test helpers and event fixtures.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/eventcam/internal/events"
	"github.com/banshee-data/eventcam/internal/monitoring"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// MuteLogs silences monitoring.Logf for the duration of the test.
func MuteLogs(t *testing.T) {
	t.Helper()
	original := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = original })
}

// LocalRequest creates a request that appears to come from localhost, so
// debug handlers that only allow loopback access accept it.
func LocalRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

// PolarityEvents returns n valid events with consecutive timestamps from
// start, x running from 0, y fixed at 1 and alternating polarity starting
// with ON.
func PolarityEvents(n int, start uint64) []events.PolarityEvent {
	evts := make([]events.PolarityEvent, n)
	for i := range evts {
		evts[i] = events.PolarityEvent{
			Timestamp: start + uint64(i),
			X:         uint16(i),
			Y:         1,
			Valid:     true,
			Polarity:  i%2 == 0,
		}
	}
	return evts
}
