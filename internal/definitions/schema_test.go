// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package definitions

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/trawl/internal/category"
	"github.com/autobrr/trawl/internal/indexer"
)

const minimalDefinition = `
id: example
links: [https://example.org/]
privacy: public
requestDelay: 3s
caps:
  modes:
    search: [q]
  categories:
    - {id: "movies", cat: 2000}
search:
  paths:
    - path: search
  rows:
    selector: tr
  fields:
    title:
      selector: a
`

func TestParse(t *testing.T) {
	f, err := Parse([]byte(minimalDefinition))
	require.NoError(t, err)
	assert.Equal(t, "example", f.ID)
	assert.Equal(t, 3*time.Second, time.Duration(f.RequestDelay))

	def, err := f.Definition(nil)
	require.NoError(t, err)
	assert.Equal(t, "example", def.Name)
	assert.Equal(t, indexer.ProtocolTorrent, def.Protocol)
	assert.False(t, def.RequiresAuth)
	assert.Equal(t, "https://example.org", def.BaseURL())
	assert.Equal(t, []string{"movies"}, def.Categories.ToNative([]int{category.Movies}))

	mirror, err := f.Definition([]string{"https://mirror.example.net/"})
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example.net", mirror.BaseURL())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing id",
			yaml: `search: {paths: [{path: x}], fields: {title: {selector: a}}}`,
			want: "missing an id",
		},
		{
			name: "no paths",
			yaml: `{id: x, search: {fields: {title: {selector: a}}}}`,
			want: "no search paths",
		},
		{
			name: "no title",
			yaml: `{id: x, search: {paths: [{path: x}], fields: {size: {selector: a}}}}`,
			want: "does not extract a title",
		},
		{
			name: "unknown filter",
			yaml: `{id: x, search: {paths: [{path: x}], fields: {title: {selector: a, filters: [{name: nope}]}}}}`,
			want: "unknown filter",
		},
		{
			name: "form login without path",
			yaml: `{id: x, login: {method: form}, search: {paths: [{path: x}], fields: {title: {selector: a}}}}`,
			want: "without a path",
		},
		{
			name: "bad duration",
			yaml: `{id: x, requestDelay: soon, search: {paths: [{path: x}], fields: {title: {selector: a}}}}`,
			want: "invalid duration",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDefinition_InvalidPrivacy(t *testing.T) {
	f, err := Parse([]byte(`{id: x, links: [https://x.org], privacy: secret, search: {paths: [{path: x}], fields: {title: {selector: a}}}}`))
	require.NoError(t, err)

	_, err = f.Definition(nil)
	assert.ErrorContains(t, err, "unknown privacy")
}

func TestLoad_Builtin(t *testing.T) {
	catalog, err := Load("")
	require.NoError(t, err)

	var ids []string
	for _, f := range catalog.List() {
		ids = append(ids, f.ID)
		def, err := f.Definition(nil)
		require.NoError(t, err, f.ID)

		_, err = f.NewPlugin(def, indexer.Credentials{})
		require.NoError(t, err, f.ID)
	}
	assert.Subset(t, ids, []string{"iptorrents", "rutracker", "torrentleech"})

	rt, ok := catalog.Get("rutracker")
	require.True(t, ok)
	assert.Equal(t, "windows-1251", rt.Encoding)
	assert.Equal(t, LoginForm, rt.Login.Method)
}

func TestLoad_Override(t *testing.T) {
	dir := t.TempDir()
	override := []byte(`
id: rutracker
name: RuTracker Mirror
links: [https://rutracker.example/]
privacy: semi-private
caps:
  modes: {search: [q]}
  categories: [{id: "1", cat: 2000}]
search:
  paths: [{path: forum/tracker.php}]
  rows: {selector: tr}
  fields: {title: {selector: a}}
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rutracker.yml"), override, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	catalog, err := Load(dir)
	require.NoError(t, err)

	f, ok := catalog.Get("rutracker")
	require.True(t, ok)
	assert.Equal(t, "RuTracker Mirror", f.Name)

	_, ok = catalog.Get("torrentleech")
	assert.True(t, ok)
}

func TestLoad_MissingDirAndBrokenFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("id: [unterminated"), 0o644))
	_, err = Load(dir)
	assert.ErrorContains(t, err, "broken.yaml")
}
