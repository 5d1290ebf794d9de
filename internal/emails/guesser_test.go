package emails

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pressroom/internal/cache"
	"github.com/JakeFAU/pressroom/internal/clock/system"
	"github.com/JakeFAU/pressroom/internal/core"
	"github.com/JakeFAU/pressroom/internal/events"
	"github.com/JakeFAU/pressroom/internal/retry"
)

func TestSplitName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		in        string
		first     string
		last      string
		wantValid bool
	}{
		{name: "simple", in: "Jane Doe", first: "jane", last: "doe", wantValid: true},
		{name: "middle name dropped", in: "Jane Q. Doe", first: "jane", last: "doe", wantValid: true},
		{name: "diacritics folded", in: "José Núñez", first: "jose", last: "nunez", wantValid: true},
		{name: "hyphenated last", in: "Ann Smith-Jones", first: "ann", last: "smithjones", wantValid: true},
		{name: "single word", in: "Cher", wantValid: false},
		{name: "empty", in: "  ", wantValid: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			first, last, ok := SplitName(tc.in)
			require.Equal(t, tc.wantValid, ok)
			if ok {
				require.Equal(t, tc.first, first)
				require.Equal(t, tc.last, last)
			}
		})
	}
	require.Equal(t, "jane.doe@example.com", Pattern("jane", "doe", "Example.com"))
}

func TestGuesserPatternWithoutFinder(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addSource(1, "https://www.example.com/")
	store.addJournalist(10, "Jane Doe", 1)
	store.addJournalist(11, "Madonna", 1)
	bus := &recordingBus{}

	g := New(store, fakeResolver{ok: map[string]bool{"example.com": true}}, nil, nil, bus, zap.NewNop())
	res, err := g.Run(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, Result{Checked: 2, Guessed: 1, Skipped: 1}, res)
	require.Equal(t, "jane.doe@example.com", store.emails[10])
	require.Equal(t, core.EmailStatusGuessed, store.statuses[10])
	require.Equal(t, []int64{10}, bus.journalistIDs())
}

func TestGuesserUsesHunterWhenConfigured(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/email-finder", r.URL.Path)
		require.Equal(t, "secret", r.URL.Query().Get("api_key"))
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("first_name") == "jane" {
			_, _ = w.Write([]byte(`{"data":{"email":"J.Doe@Example.com","score":91}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"email":null,"score":0}}`))
	}))
	t.Cleanup(srv.Close)

	store := newFakeStore()
	store.addSource(1, "https://example.com")
	store.addJournalist(10, "Jane Doe", 1)
	store.addJournalist(11, "John Roe", 1)

	hunter := NewHunter(HunterConfig{BaseURL: srv.URL, APIKey: "secret", Retry: fastPolicy()})
	g := New(store, fakeResolver{ok: map[string]bool{"example.com": true}}, hunter, nil, nil, zap.NewNop())
	res, err := g.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.ThirdParty)
	require.Equal(t, 1, res.Guessed)
	require.Equal(t, "j.doe@example.com", store.emails[10])
	require.Equal(t, core.EmailStatusGuessedByThirdParty, store.statuses[10])
	require.Equal(t, "john.roe@example.com", store.emails[11])
	require.Equal(t, core.EmailStatusGuessed, store.statuses[11])
}

func TestHunterRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data":{"email":"jane@example.com"}}`))
	}))
	t.Cleanup(srv.Close)

	hunter := NewHunter(HunterConfig{BaseURL: srv.URL, APIKey: "k", Retry: fastPolicy()})
	email, err := hunter.Find(context.Background(), "example.com", "jane", "doe")
	require.NoError(t, err)
	require.Equal(t, "jane@example.com", email)
	mu.Lock()
	require.Equal(t, 2, calls)
	mu.Unlock()
}

func TestGuesserMarksDomainsWithoutMX(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addSource(1, "https://nomail.test")
	store.addJournalist(10, "Jane Doe", 1)
	failed := cache.NewMemory(time.Hour, system.New())

	g := New(store, fakeResolver{}, nil, failed, nil, zap.NewNop())
	res, err := g.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)
	require.Empty(t, store.emails)

	failing, err := failed.IsFailed(context.Background(), "nomail.test")
	require.NoError(t, err)
	require.True(t, failing)
}

func TestGuesserSkipsCachedFailedDomains(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addSource(1, "https://example.com")
	store.addJournalist(10, "Jane Doe", 1)
	failed := cache.NewMemory(time.Hour, system.New())
	require.NoError(t, failed.MarkFailed(context.Background(), "example.com"))
	resolver := &countingResolver{}

	g := New(store, resolver, nil, failed, nil, zap.NewNop())
	res, err := g.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped)
	require.Zero(t, resolver.calls)
}

func TestGuesserSkipsEmailConflicts(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.addSource(1, "https://example.com")
	store.addJournalist(10, "Jane Doe", 1)
	store.addJournalist(11, "Jane Doe", 1)

	g := New(store, fakeResolver{ok: map[string]bool{"example.com": true}}, nil, nil, nil, zap.NewNop())
	res, err := g.Run(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, 1, res.Guessed)
	require.Equal(t, 1, res.Conflicts)
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, Initial: time.Millisecond, Max: 2 * time.Millisecond, Multiplier: 2}
}

// --- fakes ---

type fakeStore struct {
	sources     map[int64]core.Source
	journalists []core.Journalist
	emails      map[int64]string
	statuses    map[int64]core.EmailStatus
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sources:  make(map[int64]core.Source),
		emails:   make(map[int64]string),
		statuses: make(map[int64]core.EmailStatus),
	}
}

func (f *fakeStore) addSource(id int64, url string) {
	f.sources[id] = core.Source{ID: id, URL: url}
}

func (f *fakeStore) addJournalist(id int64, name string, sourceIDs ...int64) {
	f.journalists = append(f.journalists, core.Journalist{ID: id, Name: name, SourceIDs: sourceIDs})
}

func (f *fakeStore) FindJournalistsWithoutEmail(_ context.Context, limit int) ([]core.Journalist, error) {
	out := make([]core.Journalist, 0, len(f.journalists))
	for _, j := range f.journalists {
		if f.emails[j.ID] == "" && len(j.SourceIDs) > 0 {
			out = append(out, j)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) GetSource(_ context.Context, id int64) (core.Source, error) {
	src, ok := f.sources[id]
	if !ok {
		return core.Source{}, core.ErrNotFound
	}
	return src, nil
}

func (f *fakeStore) SetEmail(_ context.Context, id int64, email string, status core.EmailStatus) error {
	for other, e := range f.emails {
		if other != id && strings.EqualFold(e, email) {
			return core.ErrAlreadyExists
		}
	}
	f.emails[id] = email
	f.statuses[id] = status
	return nil
}

type fakeResolver struct {
	ok map[string]bool
}

func (f fakeResolver) LookupMX(_ context.Context, name string) ([]*net.MX, error) {
	if f.ok[name] {
		return []*net.MX{{Host: "mx." + name + ".", Pref: 10}}, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: name, IsNotFound: true}
}

type countingResolver struct {
	calls int
}

func (c *countingResolver) LookupMX(context.Context, string) ([]*net.MX, error) {
	c.calls++
	return nil, errors.New("unexpected lookup")
}

type recordingBus struct {
	mu  sync.Mutex
	evs []events.Event
}

func (b *recordingBus) Publish(_ context.Context, ev events.Event) error {
	b.mu.Lock()
	b.evs = append(b.evs, ev)
	b.mu.Unlock()
	return nil
}

func (b *recordingBus) journalistIDs() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []int64
	for _, ev := range b.evs {
		if jc, ok := ev.(events.JournalistChanged); ok {
			ids = append(ids, jc.JournalistID)
		}
	}
	return ids
}
