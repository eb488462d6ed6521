package testutil

import (
	"net/http"
	"testing"

	"github.com/banshee-data/eventcam/internal/monitoring"
)

func TestAssertStatusCode(t *testing.T) {
	t.Parallel()
	AssertStatusCode(t, http.StatusOK, http.StatusOK)
}

func TestAssertStatusCode_FailurePath(t *testing.T) {
	t.Parallel()

	ok := t.Run("status mismatch", func(t *testing.T) {
		AssertStatusCode(t, http.StatusOK, http.StatusBadRequest)
	})
	if ok {
		t.Fatal("expected subtest to fail on mismatched status code")
	}
}

func TestMuteLogs(t *testing.T) {
	original := monitoring.Logf
	called := false
	monitoring.SetLogger(func(string, ...interface{}) { called = true })
	defer func() { monitoring.Logf = original }()

	t.Run("muted", func(t *testing.T) {
		MuteLogs(t)
		monitoring.Logf("hidden")
	})
	if called {
		t.Error("logger was called while muted")
	}
	monitoring.Logf("visible")
	if !called {
		t.Error("logger was not restored after the subtest")
	}
}

func TestLocalRequest(t *testing.T) {
	t.Parallel()
	req := LocalRequest(http.MethodGet, "/debug/", nil)
	if req.RemoteAddr != "127.0.0.1:12345" {
		t.Errorf("RemoteAddr = %q", req.RemoteAddr)
	}
}

func TestPolarityEvents(t *testing.T) {
	t.Parallel()
	evts := PolarityEvents(3, 10)
	if len(evts) != 3 {
		t.Fatalf("len = %d, want 3", len(evts))
	}
	for i, e := range evts {
		if e.Timestamp != uint64(10+i) || int(e.X) != i || e.Y != 1 || !e.Valid || e.Polarity != (i%2 == 0) {
			t.Errorf("event %d = %+v", i, e)
		}
	}
}
