// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/trawl/internal/category"
	"github.com/autobrr/trawl/internal/indexer"
	"github.com/autobrr/trawl/internal/ratelimit"
	"github.com/autobrr/trawl/internal/session"
	"github.com/autobrr/trawl/internal/transport"
)

// linePlugin parses bodies of "title|guid|native-cat" lines. A body of
// "NO RESULTS" is the empty state.
type linePlugin struct {
	base    string
	pages   int
	tiers   []string
	panicOn string
}

func (p *linePlugin) BuildRequests(c *indexer.Criteria, cats []string) (indexer.Chain, error) {
	tiers := p.tiers
	if len(tiers) == 0 {
		tiers = []string{"search"}
	}
	pages := p.pages
	if pages == 0 {
		pages = 1
	}
	var chain indexer.Chain
	for _, tier := range tiers {
		var batch indexer.Batch
		for page := range pages {
			q := url.Values{"q": {c.Term}, "page": {strconv.Itoa(page)}, "cat": cats}
			batch = append(batch, indexer.NewRequest(p.base+"/"+tier+"?"+q.Encode()))
		}
		chain = chain.Add(batch)
	}
	return chain, nil
}

func (p *linePlugin) ParseResponse(resp *indexer.Response) ([]*indexer.Release, error) {
	body := strings.TrimSpace(resp.Content())
	if p.panicOn != "" && body == p.panicOn {
		panic("unexpected markup")
	}
	if body == "NO RESULTS" || body == "" {
		return nil, nil
	}
	if strings.HasPrefix(body, "<html") {
		return nil, errors.New("unexpected html")
	}
	var out []*indexer.Release
	for _, line := range strings.Split(body, "\n") {
		parts := strings.Split(line, "|")
		if len(parts) != 3 {
			continue
		}
		out = append(out, &indexer.Release{Title: parts[0], GUID: parts[1], NativeCategories: []string{parts[2]}})
	}
	return out, nil
}

func (p *linePlugin) IsLoginNeeded(resp *indexer.Response) bool {
	return strings.Contains(resp.RedirectURL, "login.php")
}

func (p *linePlugin) BuildLogin(creds indexer.Credentials) (indexer.Batch, error) {
	return indexer.Batch{
		indexer.NewFormRequest(p.base+"/login.php", url.Values{"username": {creds.Username}, "password": {creds.Password}}),
	}, nil
}

func (p *linePlugin) IsLoginSuccessful(resp *indexer.Response) bool {
	return strings.Contains(resp.Content(), "logged-in")
}

// fakeTracker is a private tracker that issues numbered session cookies.
type fakeTracker struct {
	mu          sync.Mutex
	logins      atomic.Int32
	searches    atomic.Int32
	validSID    int
	sid         int
	rejectAll   bool
	loginDelay  time.Duration
	password    string
	pages       map[string]string
	failPage    string
	failStatus  int
	failTimes   int
	retryAfter  string
	stall       time.Duration
	stallTimes  int
	seenQueries []url.Values
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{password: "secret", pages: map[string]string{}}
}

func (f *fakeTracker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/login.php" {
		if r.Method != http.MethodPost {
			_, _ = w.Write([]byte("login form"))
			return
		}
		f.logins.Add(1)
		time.Sleep(f.loginDelay)
		_ = r.ParseForm()
		if r.PostForm.Get("password") != f.password {
			_, _ = w.Write([]byte("invalid credentials"))
			return
		}
		f.mu.Lock()
		f.sid++
		f.validSID = f.sid
		sid := f.sid
		f.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: strconv.Itoa(sid), Path: "/"})
		http.Redirect(w, r, "/index.php", http.StatusFound)
		return
	}
	if r.URL.Path == "/index.php" {
		_, _ = w.Write([]byte("<div id=\"logged-in\">"))
		return
	}

	f.searches.Add(1)
	f.mu.Lock()
	f.seenQueries = append(f.seenQueries, r.URL.Query())
	valid := f.validSID
	reject := f.rejectAll
	page := r.URL.Path + "?" + r.URL.Query().Get("page")
	body, ok := f.pages[page]
	fail := page == f.failPage && f.failTimes != 0
	if fail && f.failTimes > 0 {
		f.failTimes--
	}
	stall := f.stallTimes > 0
	if stall {
		f.stallTimes--
	}
	f.mu.Unlock()

	if stall {
		select {
		case <-time.After(f.stall):
		case <-r.Context().Done():
		}
	}

	c, err := r.Cookie("sid")
	if reject || err != nil || c.Value != strconv.Itoa(valid) {
		http.Redirect(w, r, "/login.php?returnto="+url.QueryEscape(r.URL.Path), http.StatusFound)
		return
	}
	if fail {
		if f.retryAfter != "" {
			w.Header().Set("Retry-After", f.retryAfter)
		}
		w.WriteHeader(f.failStatus)
		return
	}
	if !ok {
		body = "NO RESULTS"
	}
	_, _ = w.Write([]byte(body))
}

func (f *fakeTracker) invalidateSessions() {
	f.mu.Lock()
	f.validSID = -1
	f.mu.Unlock()
}

type harness struct {
	tracker *fakeTracker
	server  *httptest.Server
	target  *indexer.Target
	plugin  *linePlugin
	exec    *Executor
	limiter *ratelimit.Limiter
	store   *session.Store
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()

	tracker := newFakeTracker()
	srv := httptest.NewServer(tracker)
	t.Cleanup(srv.Close)

	plugin := &linePlugin{base: srv.URL}
	def := &indexer.Definition{
		ID:           "private",
		Name:         "Private",
		Links:        []string{srv.URL},
		Protocol:     indexer.ProtocolTorrent,
		Privacy:      indexer.PrivacyPrivate,
		RequiresAuth: true,
		Categories: category.MustMapping([]category.Entry{
			{Standard: category.MoviesHD, Native: "cat7"},
			{Standard: category.TVHD, Native: "cat9"},
		}),
	}
	target := &indexer.Target{
		Definition:  def,
		Plugin:      plugin,
		Credentials: indexer.Credentials{Username: "user", Password: "secret"},
		Enabled:     true,
	}

	limiter := ratelimit.New(0)
	store := session.NewStore()
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	exec := New(transport.NewClient(nil), store, limiter, cfg)

	return &harness{tracker: tracker, server: srv, target: target, plugin: plugin, exec: exec, limiter: limiter, store: store}
}

func (h *harness) run(ctx context.Context, term string, cats []string) ([]*indexer.Release, error) {
	chain, err := h.plugin.BuildRequests(&indexer.Criteria{Term: term}, cats)
	if err != nil {
		return nil, err
	}
	return h.exec.Run(ctx, h.target, chain)
}

func TestExecutor_LoginPrecedesSearchAndMapsCategories(t *testing.T) {
	h := newHarness(t, Config{})
	h.tracker.pages["/search?0"] = "Movie.2024.1080p|g1|cat7\nShow.S01E01|g2|cat9\nOdd|g3|cat99"

	releases, err := h.run(context.Background(), "example", []string{"cat7"})
	require.NoError(t, err)
	require.Len(t, releases, 3)

	assert.Equal(t, int32(1), h.tracker.logins.Load())
	assert.Equal(t, []string{"cat7"}, h.tracker.seenQueries[0]["cat"])
	assert.Equal(t, []int{category.Movies, category.MoviesHD}, releases[0].Categories)
	assert.Equal(t, []int{category.TV, category.TVHD}, releases[1].Categories)
	assert.Equal(t, []int{category.Other}, releases[2].Categories)
}

func TestExecutor_ParseKeepsPluginFields(t *testing.T) {
	h := newHarness(t, Config{})
	h.target.Plugin = neutralPlugin{}

	releases, err := h.exec.Parse(h.target, &indexer.Response{StatusCode: http.StatusOK, Body: []byte("ignored")})
	require.NoError(t, err)
	require.Len(t, releases, 1)

	r := releases[0]
	assert.Equal(t, 0.0, r.DownloadVolumeFactor)
	assert.Equal(t, 0.0, r.UploadVolumeFactor)
	assert.True(t, r.Freeleech())
	assert.Equal(t, []int{category.Movies, category.MoviesHD}, r.Categories)
}

// neutralPlugin returns a neutral leech release, which counts toward
// neither download nor upload.
type neutralPlugin struct{}

func (neutralPlugin) BuildRequests(*indexer.Criteria, []string) (indexer.Chain, error) {
	return nil, nil
}

func (neutralPlugin) ParseResponse(*indexer.Response) ([]*indexer.Release, error) {
	return []*indexer.Release{{
		GUID:             "n1",
		Title:            "Neutral.Release.2024.1080p",
		NativeCategories: []string{"cat7"},
	}}, nil
}

func TestExecutor_ConcurrentSearchesShareOneLogin(t *testing.T) {
	h := newHarness(t, Config{})
	h.tracker.loginDelay = 50 * time.Millisecond
	h.tracker.pages["/search?0"] = "A|a|cat7"

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			releases, err := h.run(context.Background(), "example", nil)
			assert.NoError(t, err)
			assert.Len(t, releases, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), h.tracker.logins.Load(), "exactly one login for concurrent searches")
}

func TestExecutor_ReloginOnceAfterServerSideExpiry(t *testing.T) {
	h := newHarness(t, Config{})
	h.tracker.pages["/search?0"] = "A|a|cat7"

	_, err := h.run(context.Background(), "first", nil)
	require.NoError(t, err)
	require.Equal(t, int32(1), h.tracker.logins.Load())

	h.tracker.invalidateSessions()

	releases, err := h.run(context.Background(), "second", nil)
	require.NoError(t, err)
	assert.Len(t, releases, 1)
	assert.Equal(t, int32(2), h.tracker.logins.Load())
	assert.Equal(t, session.Authenticated, h.store.For("private").State())
}

func TestExecutor_SecondLoginNeededIsTerminal(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 3})
	h.tracker.rejectAll = true

	_, err := h.run(context.Background(), "example", nil)
	require.Error(t, err)
	assert.Equal(t, indexer.KindAuth, indexer.KindOf(err))
	assert.Equal(t, int32(2), h.tracker.logins.Load(), "initial login plus exactly one re-login")
	assert.Equal(t, int32(2), h.tracker.searches.Load(), "no third attempt")
}

func TestExecutor_LoginFailure(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 3})
	h.target.Credentials.Password = "wrong"

	_, err := h.run(context.Background(), "example", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, indexer.ErrAuth)
	assert.Equal(t, int32(1), h.tracker.logins.Load())
	assert.Equal(t, int32(0), h.tracker.searches.Load())
	assert.Equal(t, session.Invalidated, h.store.For("private").State())
}

func TestExecutor_StaticCookieRejected(t *testing.T) {
	h := newHarness(t, Config{})
	h.target.Credentials = indexer.Credentials{Cookie: "sid=12345"}
	require.NoError(t, h.store.For("private").SeedCookies(h.server.URL, "sid=12345"))

	_, err := h.run(context.Background(), "example", nil)
	require.Error(t, err)
	assert.Equal(t, indexer.KindAuth, indexer.KindOf(err))
	assert.Equal(t, int32(0), h.tracker.logins.Load(), "static cookie targets never log in")
	assert.Equal(t, int32(1), h.tracker.searches.Load())
}

func TestExecutor_Paging(t *testing.T) {
	tests := []struct {
		name         string
		pageSize     int
		pages        map[string]string
		wantReleases int
		wantRequests int32
	}{
		{
			name:         "stops on empty page",
			pages:        map[string]string{"/search?0": "A|a|cat7\nB|b|cat7", "/search?1": "C|c|cat7"},
			wantReleases: 3,
			wantRequests: 3,
		},
		{
			name:         "stops on short page",
			pageSize:     2,
			pages:        map[string]string{"/search?0": "A|a|cat7", "/search?1": "C|c|cat7"},
			wantReleases: 1,
			wantRequests: 1,
		},
		{
			name:         "stops on repeated page",
			pages:        map[string]string{"/search?0": "A|a|cat7", "/search?1": "A|a|cat7", "/search?2": "B|b|cat7"},
			wantReleases: 1,
			wantRequests: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{})
			h.plugin.pages = 5
			h.target.Definition.PageSize = tt.pageSize
			h.tracker.pages = tt.pages

			releases, err := h.run(context.Background(), "example", nil)
			require.NoError(t, err)
			assert.Len(t, releases, tt.wantReleases)
			assert.Equal(t, tt.wantRequests, h.tracker.searches.Load())
		})
	}
}

func TestExecutor_TierFallback(t *testing.T) {
	h := newHarness(t, Config{})
	h.plugin.tiers = []string{"byid", "byterm", "unused"}
	h.tracker.pages["/byterm?0"] = "A|a|cat7"

	releases, err := h.run(context.Background(), "example", nil)
	require.NoError(t, err)
	require.Len(t, releases, 1)
	assert.Equal(t, int32(2), h.tracker.searches.Load(), "third tier is never tried")
}

func TestExecutor_PartialFailureKeepsReleases(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 0})
	h.plugin.pages = 3
	h.tracker.pages["/search?0"] = "A|a|cat7"
	h.tracker.failPage = "/search?1"
	h.tracker.failStatus = http.StatusBadGateway
	h.tracker.failTimes = -1

	releases, err := h.run(context.Background(), "example", nil)
	require.Error(t, err)
	assert.Equal(t, indexer.KindTransport, indexer.KindOf(err))
	assert.Len(t, releases, 1)
}

func TestExecutor_RetriesTransientServerErrors(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 2})
	h.tracker.pages["/search?0"] = "A|a|cat7"
	h.tracker.failPage = "/search?0"
	h.tracker.failStatus = http.StatusInternalServerError
	h.tracker.failTimes = 2

	releases, err := h.run(context.Background(), "example", nil)
	require.NoError(t, err)
	assert.Len(t, releases, 1)
	assert.Equal(t, int32(3), h.tracker.searches.Load())
}

func TestExecutor_RetriesRequestTimeouts(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 2, RequestTimeout: 100 * time.Millisecond})
	h.tracker.pages["/search?0"] = "A|a|cat7"
	h.tracker.stall = 2 * time.Second
	h.tracker.stallTimes = 1

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	releases, err := h.run(ctx, "example", nil)
	require.NoError(t, err)
	assert.Len(t, releases, 1)
	assert.Equal(t, int32(2), h.tracker.searches.Load())
}

func TestExecutor_RequestTimeoutsExhaustRetries(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 1, RequestTimeout: 50 * time.Millisecond})
	h.tracker.stall = 2 * time.Second
	h.tracker.stallTimes = 5

	_, err := h.run(context.Background(), "example", nil)
	assert.Equal(t, indexer.KindTimeout, indexer.KindOf(err))
	assert.Equal(t, int32(2), h.tracker.searches.Load())
}

func TestExecutor_ClientErrorsAreNotRetried(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 2})
	h.tracker.failPage = "/search?0"
	h.tracker.failStatus = http.StatusNotFound
	h.tracker.failTimes = -1

	_, err := h.run(context.Background(), "example", nil)
	require.Error(t, err)

	var ie *indexer.Error
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, http.StatusNotFound, ie.StatusCode)
	assert.Equal(t, int32(1), h.tracker.searches.Load())
}

func TestExecutor_RateLimitedSetsCooldown(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 2})
	h.tracker.failPage = "/search?0"
	h.tracker.failStatus = http.StatusTooManyRequests
	h.tracker.retryAfter = "120"
	h.tracker.failTimes = -1

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := h.run(ctx, "example", nil)
	require.Error(t, err)

	var ie *indexer.Error
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, indexer.KindRateLimited, ie.Kind)
	assert.Equal(t, 120*time.Second, ie.RetryAfter)
	assert.Equal(t, int32(1), h.tracker.searches.Load(), "cooldown outlives the deadline so no retry")

	inCooldown, _ := h.limiter.IsInCooldown("private")
	assert.True(t, inCooldown)
}

func TestExecutor_ParseFailureAndPanic(t *testing.T) {
	h := newHarness(t, Config{})
	h.tracker.pages["/search?0"] = "<html>maintenance</html>"

	_, err := h.run(context.Background(), "example", nil)
	assert.Equal(t, indexer.KindParse, indexer.KindOf(err))

	h2 := newHarness(t, Config{})
	h2.plugin.panicOn = "BOOM"
	h2.tracker.pages["/search?0"] = "BOOM"

	_, err = h2.run(context.Background(), "example", nil)
	assert.Equal(t, indexer.KindInternal, indexer.KindOf(err))
}

func TestExecutor_EmptyStateIsNotAnError(t *testing.T) {
	h := newHarness(t, Config{})

	releases, err := h.run(context.Background(), "nothing", nil)
	require.NoError(t, err)
	assert.Empty(t, releases)
}

func TestExecutor_DeadlineBecomesTimeout(t *testing.T) {
	h := newHarness(t, Config{})
	h.tracker.loginDelay = 300 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := h.run(ctx, "example", nil)
	require.Error(t, err)
	assert.Contains(t, []indexer.Kind{indexer.KindTimeout, indexer.KindCanceled}, indexer.KindOf(err))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{in: "", want: 0},
		{in: "30", want: 30 * time.Second},
		{in: now.Add(time.Minute).Format(http.TimeFormat), want: time.Minute},
		{in: "garbage", want: 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%q", tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, parseRetryAfter(tt.in, now))
		})
	}
}
