// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package indexer

import (
	"time"
)

// Release is the target-agnostic form of one search result. Plugins create
// releases; after parsing only the annotation fields below Info are written.
type Release struct {
	GUID        string    `json:"guid"`
	Title       string    `json:"title"`
	DetailsURL  string    `json:"detailsUrl,omitempty"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	MagnetURL   string    `json:"magnetUrl,omitempty"`
	InfoHash    string    `json:"infoHash,omitempty"`
	PublishDate time.Time `json:"publishDate"`
	Size        int64     `json:"size"`
	Files       int       `json:"files,omitempty"`

	// Categories are standard ids. Plugins fill NativeCategories and the
	// executor derives Categories from them.
	Categories       []int    `json:"categories"`
	NativeCategories []string `json:"-"`

	// torrent
	Seeders *int `json:"seeders,omitempty"`
	Peers   *int `json:"peers,omitempty"`
	Grabs   *int `json:"grabs,omitempty"`

	// usenet
	Poster string `json:"poster,omitempty"`
	Group  string `json:"group,omitempty"`

	DownloadVolumeFactor float64 `json:"downloadVolumeFactor"`
	UploadVolumeFactor   float64 `json:"uploadVolumeFactor"`
	MinimumRatio         float64 `json:"minimumRatio,omitempty"`
	MinimumSeedTime      int64   `json:"minimumSeedTime,omitempty"`

	IMDbID int `json:"imdbId,omitempty"`
	TMDbID int `json:"tmdbId,omitempty"`
	TVDbID int `json:"tvdbId,omitempty"`

	Info *ReleaseInfo `json:"info,omitempty"`

	TargetID   string   `json:"targetId"`
	TargetName string   `json:"targetName"`
	Protocol   Protocol `json:"protocol"`
}

// ReleaseInfo is what the release name parser extracted from the title.
type ReleaseInfo struct {
	Type       string `json:"type,omitempty"`
	Title      string `json:"title,omitempty"`
	Year       int    `json:"year,omitempty"`
	Series     int    `json:"series,omitempty"`
	Episode    int    `json:"episode,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	Source     string `json:"source,omitempty"`
	Codec      string `json:"codec,omitempty"`
	Group      string `json:"group,omitempty"`
}

// Link returns the preferred fetch link: the download URL, else the magnet.
func (r *Release) Link() string {
	if r.DownloadURL != "" {
		return r.DownloadURL
	}
	return r.MagnetURL
}

// Key identifies the release within one target for deduplication.
func (r *Release) Key() string {
	if r.GUID != "" {
		return r.GUID
	}
	if link := r.Link(); link != "" {
		return link
	}
	return r.InfoHash
}

// SeederCount returns the seeders or zero when unknown.
func (r *Release) SeederCount() int {
	if r.Seeders == nil {
		return 0
	}
	return *r.Seeders
}

// Freeleech reports whether downloading the release costs no ratio.
func (r *Release) Freeleech() bool {
	return r.DownloadVolumeFactor == 0
}

// IntPtr is a helper for the optional counters.
func IntPtr(v int) *int {
	return &v
}
