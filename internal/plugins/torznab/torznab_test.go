// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package torznab

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/trawl/internal/category"
	"github.com/autobrr/trawl/internal/indexer"
)

const endpoint = "http://jackett.test/api/v2.0/indexers/all/results/torznab/api"

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom" xmlns:torznab="http://torznab.com/schemas/2015/feed">
  <channel>
    <title>AggregateSearch</title>
    <item>
      <title>Some.Show.S01E02.1080p.WEB.h264-GRP</title>
      <guid>https://tracker.test/details/77</guid>
      <comments>https://tracker.test/details/77</comments>
      <pubDate>Mon, 02 Jan 2006 15:04:05 +0000</pubDate>
      <size>1610612736</size>
      <category>5040</category>
      <enclosure url="http://jackett.test/dl/77.torrent" length="1610612736" type="application/x-bittorrent" />
      <torznab:attr name="category" value="5000" />
      <torznab:attr name="category" value="5040" />
      <torznab:attr name="seeders" value="12" />
      <torznab:attr name="peers" value="15" />
      <torznab:attr name="grabs" value="300" />
      <torznab:attr name="infohash" value="ABCDEF0123456789ABCDEF0123456789ABCDEF01" />
      <torznab:attr name="downloadvolumefactor" value="0" />
      <torznab:attr name="uploadvolumefactor" value="1" />
      <torznab:attr name="minimumseedtime" value="172800" />
      <torznab:attr name="imdb" value="tt0944947" />
      <torznab:attr name="tvdbid" value="121361" />
    </item>
    <item>
      <title>Magnet.Only.Release</title>
      <link>magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567</link>
      <pubDate>2024-05-01T10:00:00Z</pubDate>
      <torznab:attr name="size" value="1024" />
    </item>
    <item>
      <title></title>
      <enclosure url="http://jackett.test/dl/broken.torrent" />
    </item>
  </channel>
</rss>`

func newPlugin(t *testing.T, apiKey string) *Plugin {
	t.Helper()
	def, err := Definition([]string{endpoint})
	require.NoError(t, err)
	require.NoError(t, def.Validate())
	return New(def, apiKey)
}

func TestBuildRequests(t *testing.T) {
	season, episode := 1, 2

	tests := []struct {
		name     string
		criteria *indexer.Criteria
		cats     []int
		want     map[string]string
		absent   []string
	}{
		{
			name:     "basic search",
			criteria: &indexer.Criteria{Type: indexer.ContentSearch, Term: "ubuntu"},
			want:     map[string]string{"t": "search", "q": "ubuntu", "apikey": "secret"},
			absent:   []string{"cat", "season"},
		},
		{
			name:     "tv episode",
			criteria: &indexer.Criteria{Type: indexer.ContentTV, Term: "some show", Season: &season, Episode: &episode, TVDbID: 121361},
			cats:     []int{category.TVHD},
			want:     map[string]string{"t": "tvsearch", "q": "some show", "season": "1", "ep": "2", "tvdbid": "121361", "cat": "5040"},
		},
		{
			name:     "movie by imdb",
			criteria: &indexer.Criteria{Type: indexer.ContentMovie, IMDbID: "tt0133093", Year: 1999},
			want:     map[string]string{"t": "movie", "imdbid": "0133093", "year": "1999"},
			absent:   []string{"q"},
		},
		{
			name:     "parent category expands",
			criteria: &indexer.Criteria{Type: indexer.ContentMusic, Artist: "artist", Limit: 20, Offset: 40},
			cats:     []int{category.Audio},
			want:     map[string]string{"t": "music", "artist": "artist", "limit": "20", "offset": "40"},
		},
	}

	p := newPlugin(t, "secret")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain, err := p.BuildRequests(tt.criteria, p.def.Categories.ToNative(tt.cats))
			require.NoError(t, err)
			require.Equal(t, 1, chain.Len())

			u, err := url.Parse(chain[0][0].URL)
			require.NoError(t, err)
			assert.Equal(t, "/api/v2.0/indexers/all/results/torznab/api", u.Path)

			q := u.Query()
			for k, v := range tt.want {
				assert.Equal(t, v, q.Get(k), k)
			}
			for _, k := range tt.absent {
				assert.False(t, q.Has(k), k)
			}
		})
	}
}

func TestBuildRequests_KeepsEndpointQuery(t *testing.T) {
	def, err := Definition([]string{"https://tracker.test/api?passkey=abc"})
	require.NoError(t, err)

	chain, err := New(def, "").BuildRequests(&indexer.Criteria{Term: "x"}, nil)
	require.NoError(t, err)

	u, err := url.Parse(chain[0][0].URL)
	require.NoError(t, err)
	assert.Equal(t, "abc", u.Query().Get("passkey"))
	assert.False(t, u.Query().Has("apikey"))
}

func TestBuildRequests_UnsupportedType(t *testing.T) {
	def, err := Definition([]string{"https://tracker.test/api"})
	require.NoError(t, err)

	_, err = New(def, "").BuildRequests(&indexer.Criteria{Type: "podcast", Term: "x"}, nil)
	assert.Equal(t, indexer.KindCapability, indexer.KindOf(err))
}

func TestParseResponse(t *testing.T) {
	p := newPlugin(t, "")

	releases, err := p.ParseResponse(&indexer.Response{StatusCode: 200, Body: []byte(sampleFeed)})
	require.NoError(t, err)
	require.Len(t, releases, 2, "item without a title is skipped")

	r := releases[0]
	assert.Equal(t, "Some.Show.S01E02.1080p.WEB.h264-GRP", r.Title)
	assert.Equal(t, "https://tracker.test/details/77", r.GUID)
	assert.Equal(t, "https://tracker.test/details/77", r.DetailsURL)
	assert.Equal(t, "http://jackett.test/dl/77.torrent", r.DownloadURL)
	assert.Equal(t, int64(1610612736), r.Size)
	assert.Equal(t, time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC), r.PublishDate)
	assert.Equal(t, []string{"5040", "5000"}, r.NativeCategories)
	require.NotNil(t, r.Seeders)
	require.NotNil(t, r.Peers)
	require.NotNil(t, r.Grabs)
	assert.Equal(t, 12, *r.Seeders)
	assert.Equal(t, 15, *r.Peers)
	assert.Equal(t, 300, *r.Grabs)
	assert.Equal(t, "abcdef0123456789abcdef0123456789abcdef01", r.InfoHash)
	assert.True(t, r.Freeleech())
	assert.Equal(t, int64(172800), r.MinimumSeedTime)
	assert.Equal(t, 944947, r.IMDbID)
	assert.Equal(t, 121361, r.TVDbID)

	m := releases[1]
	assert.Empty(t, m.DownloadURL)
	assert.Equal(t, "magnet:?xt=urn:btih:0123456789abcdef0123456789abcdef01234567", m.MagnetURL)
	assert.Equal(t, m.MagnetURL, m.GUID)
	assert.Equal(t, int64(1024), m.Size)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), m.PublishDate)
	assert.Equal(t, 1.0, m.DownloadVolumeFactor)
	assert.Nil(t, m.Seeders)
}

func TestParseResponse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantKind indexer.Kind
		wantErr  string
	}{
		{name: "bad api key", body: `<?xml version="1.0" encoding="UTF-8"?><error code="100" description="Invalid API Key" />`, wantKind: indexer.KindAuth, wantErr: "Invalid API Key"},
		{name: "other feed error", body: `<error code="201" description="Incorrect parameter" />`, wantErr: "torznab error 201"},
		{name: "not xml", body: `<html><body>502 Bad Gateway`, wantErr: "decode torznab feed"},
	}

	p := newPlugin(t, "")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ParseResponse(&indexer.Response{StatusCode: 200, Body: []byte(tt.body)})
			require.Error(t, err)
			assert.ErrorContains(t, err, tt.wantErr)

			var ie *indexer.Error
			if tt.wantKind != "" {
				require.True(t, errors.As(err, &ie))
				assert.Equal(t, tt.wantKind, ie.Kind)
			} else {
				assert.False(t, errors.As(err, &ie))
			}
		})
	}
}

func TestParseResponse_EmptyFeed(t *testing.T) {
	releases, err := newPlugin(t, "").ParseResponse(&indexer.Response{
		StatusCode: 200,
		Body:       []byte(`<rss version="2.0"><channel><title>x</title></channel></rss>`),
	})
	require.NoError(t, err)
	assert.NotNil(t, releases)
	assert.Empty(t, releases)
}

func TestDefinition_RequiresEndpoint(t *testing.T) {
	_, err := Definition(nil)
	assert.Error(t, err)
}
