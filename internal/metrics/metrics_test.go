package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

// TestObserveFunctionsRegisterLazily confirms the Observe helpers work without an explicit Init.
func TestObserveFunctionsRegisterLazily(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(tasksTotal.WithLabelValues("crawl", "crawl-source", "ok"))
	ObserveTask("crawl", "crawl-source", "ok", 10*time.Millisecond)
	after := testutil.ToFloat64(tasksTotal.WithLabelValues("crawl", "crawl-source", "ok"))
	require.InDelta(t, before+1, after, 0.0001)

	ObservePage("https://example.com", "created")
	require.GreaterOrEqual(t, testutil.ToFloat64(pagesTotal.WithLabelValues("example.com", "created")), 1.0)

	IncActiveWorkers("embed")
	DecActiveWorkers("embed")
	require.InDelta(t, 0, testutil.ToFloat64(laneActiveWorkers.WithLabelValues("embed")), 0.0001)
}

func TestStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, "ok", Status(nil))
	require.Equal(t, "error", Status(errors.New("x")))
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
