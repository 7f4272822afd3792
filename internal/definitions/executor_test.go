// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package definitions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/autobrr/trawl/internal/category"
	"github.com/autobrr/trawl/internal/executor"
	"github.com/autobrr/trawl/internal/indexer"
	"github.com/autobrr/trawl/internal/ratelimit"
	"github.com/autobrr/trawl/internal/session"
	"github.com/autobrr/trawl/internal/transport"
)

// fakeRutracker serves a cookie-protected tracker.php in windows-1251 and a
// form login that issues the cookie.
func fakeRutracker(t *testing.T, logins *atomic.Int32) *httptest.Server {
	t.Helper()

	page, err := charmap.Windows1251.NewEncoder().String(rutrackerPage)
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/forum/login.php", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Write([]byte(`<form action="login.php"></form>`))
			return
		}
		require.NoError(t, r.ParseForm())
		if r.PostForm.Get("login_username") != "alice" || r.PostForm.Get("login_password") != "s3cret" {
			w.Write([]byte(`<form action="login.php">wrong password</form>`))
			return
		}
		logins.Add(1)
		http.SetCookie(w, &http.Cookie{Name: "bb_session", Value: "ok", Path: "/"})
		http.Redirect(w, r, "/forum/index.php", http.StatusFound)
	})
	mux.HandleFunc("/forum/index.php", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a id="logged-in-username">alice</a>`))
	})
	mux.HandleFunc("/forum/tracker.php", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("bb_session"); err != nil || c.Value != "ok" {
			http.Redirect(w, r, "/forum/login.php?redirect=tracker.php", http.StatusFound)
			return
		}
		assert.Equal(t, "2366,33", r.URL.Query().Get("f"))
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(page))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func rutrackerTarget(t *testing.T, baseURL string, creds indexer.Credentials) *indexer.Target {
	t.Helper()

	catalog, err := Load("")
	require.NoError(t, err)
	f, ok := catalog.Get("rutracker")
	require.True(t, ok)

	def, err := f.Definition([]string{baseURL + "/"})
	require.NoError(t, err)
	def.MinRequestInterval = 0

	p, err := f.NewPlugin(def, creds)
	require.NoError(t, err)
	return &indexer.Target{Definition: def, Plugin: p, Credentials: creds, Enabled: true}
}

func TestDefinition_EndToEnd(t *testing.T) {
	var logins atomic.Int32
	srv := fakeRutracker(t, &logins)

	creds := indexer.Credentials{Username: "alice", Password: "s3cret"}
	target := rutrackerTarget(t, srv.URL, creds)

	exec := executor.New(transport.NewClient(nil), session.NewStore(), ratelimit.New(0), executor.Config{})

	c := &indexer.Criteria{Type: indexer.ContentTV, Term: "show", Categories: []int{category.TVHD, category.TVAnime}}
	chain, err := target.Plugin.BuildRequests(c, target.Definition.Categories.ToNative(c.Categories))
	require.NoError(t, err)

	releases, err := exec.Run(context.Background(), target, chain)
	require.NoError(t, err)
	require.Len(t, releases, 2)
	assert.EqualValues(t, 1, logins.Load())

	assert.Equal(t, "Show / Шоу S01 1080p", releases[0].Title)
	assert.Contains(t, releases[0].Categories, category.TVHD)
	assert.Contains(t, releases[0].Categories, category.TV)
	assert.Contains(t, releases[1].Categories, category.TVAnime)

	// The session is reused for the next search.
	_, err = exec.Run(context.Background(), target, chain)
	require.NoError(t, err)
	assert.EqualValues(t, 1, logins.Load())
}

func TestDefinition_EndToEnd_BadCredentials(t *testing.T) {
	var logins atomic.Int32
	srv := fakeRutracker(t, &logins)

	target := rutrackerTarget(t, srv.URL, indexer.Credentials{Username: "alice", Password: "wrong"})
	exec := executor.New(transport.NewClient(nil), session.NewStore(), ratelimit.New(0), executor.Config{})

	chain, err := target.Plugin.BuildRequests(&indexer.Criteria{Type: indexer.ContentSearch, Term: "show"}, nil)
	require.NoError(t, err)

	_, err = exec.Run(context.Background(), target, chain)
	require.Error(t, err)
	assert.Equal(t, indexer.KindAuth, indexer.KindOf(err))
	assert.Zero(t, logins.Load())
}
