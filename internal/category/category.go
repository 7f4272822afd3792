// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package category implements the standard torznab/newznab category taxonomy
// and the per-target translation between it and native category tokens.
package category

import (
	"slices"
	"sort"
)

// Standard category constants
const (
	// Console
	Console      = 1000
	ConsoleNDS   = 1010
	ConsolePSP   = 1020
	ConsoleWii   = 1030
	ConsoleXBox  = 1040
	ConsolePS3   = 1080
	ConsoleOther = 1090

	// Movies
	Movies        = 2000
	MoviesForeign = 2010
	MoviesOther   = 2020
	MoviesSD      = 2030
	MoviesHD      = 2040
	MoviesUHD     = 2045
	MoviesBluRay  = 2050
	Movies3D      = 2060
	MoviesDVD     = 2070
	MoviesWEBDL   = 2080

	// Audio
	Audio          = 3000
	AudioMP3       = 3010
	AudioVideo     = 3020
	AudioAudiobook = 3030
	AudioLossless  = 3040
	AudioOther     = 3050
	AudioForeign   = 3060

	// PC
	PC         = 4000
	PC0day     = 4010
	PCISO      = 4020
	PCMac      = 4030
	PCMobile   = 4040
	PCGames    = 4050
	PCMobileOS = 4060

	// TV
	TV            = 5000
	TVWEBDL       = 5010
	TVForeign     = 5020
	TVSD          = 5030
	TVHD          = 5040
	TVUHD         = 5045
	TVOther       = 5050
	TVSport       = 5060
	TVAnime       = 5070
	TVDocumentary = 5080

	// XXX
	XXX      = 6000
	XXXDVD   = 6010
	XXXWMV   = 6020
	XXXXviD  = 6030
	XXXx264  = 6040
	XXXUHD   = 6045
	XXXPack  = 6050
	XXXOther = 6070

	// Books
	Books          = 7000
	BooksMags      = 7010
	BooksEBook     = 7020
	BooksComics    = 7030
	BooksTechnical = 7040
	BooksOther     = 7050
	BooksForeign   = 7060

	// Other
	Other       = 8000
	OtherMisc   = 8010
	OtherHashed = 8020
)

// Category is one node of the standard taxonomy.
type Category struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Parent int    `json:"parent,omitempty"`
}

var standard = []Category{
	{ID: Console, Name: "Console"},
	{ID: ConsoleNDS, Name: "Console/NDS", Parent: Console},
	{ID: ConsolePSP, Name: "Console/PSP", Parent: Console},
	{ID: ConsoleWii, Name: "Console/Wii", Parent: Console},
	{ID: ConsoleXBox, Name: "Console/XBox", Parent: Console},
	{ID: ConsolePS3, Name: "Console/PS3", Parent: Console},
	{ID: ConsoleOther, Name: "Console/Other", Parent: Console},
	{ID: Movies, Name: "Movies"},
	{ID: MoviesForeign, Name: "Movies/Foreign", Parent: Movies},
	{ID: MoviesOther, Name: "Movies/Other", Parent: Movies},
	{ID: MoviesSD, Name: "Movies/SD", Parent: Movies},
	{ID: MoviesHD, Name: "Movies/HD", Parent: Movies},
	{ID: MoviesUHD, Name: "Movies/UHD", Parent: Movies},
	{ID: MoviesBluRay, Name: "Movies/BluRay", Parent: Movies},
	{ID: Movies3D, Name: "Movies/3D", Parent: Movies},
	{ID: MoviesDVD, Name: "Movies/DVD", Parent: Movies},
	{ID: MoviesWEBDL, Name: "Movies/WEB-DL", Parent: Movies},
	{ID: Audio, Name: "Audio"},
	{ID: AudioMP3, Name: "Audio/MP3", Parent: Audio},
	{ID: AudioVideo, Name: "Audio/Video", Parent: Audio},
	{ID: AudioAudiobook, Name: "Audio/Audiobook", Parent: Audio},
	{ID: AudioLossless, Name: "Audio/Lossless", Parent: Audio},
	{ID: AudioOther, Name: "Audio/Other", Parent: Audio},
	{ID: AudioForeign, Name: "Audio/Foreign", Parent: Audio},
	{ID: PC, Name: "PC"},
	{ID: PC0day, Name: "PC/0day", Parent: PC},
	{ID: PCISO, Name: "PC/ISO", Parent: PC},
	{ID: PCMac, Name: "PC/Mac", Parent: PC},
	{ID: PCMobile, Name: "PC/Mobile-Other", Parent: PC},
	{ID: PCGames, Name: "PC/Games", Parent: PC},
	{ID: PCMobileOS, Name: "PC/Mobile-iOS", Parent: PC},
	{ID: TV, Name: "TV"},
	{ID: TVWEBDL, Name: "TV/WEB-DL", Parent: TV},
	{ID: TVForeign, Name: "TV/Foreign", Parent: TV},
	{ID: TVSD, Name: "TV/SD", Parent: TV},
	{ID: TVHD, Name: "TV/HD", Parent: TV},
	{ID: TVUHD, Name: "TV/UHD", Parent: TV},
	{ID: TVOther, Name: "TV/Other", Parent: TV},
	{ID: TVSport, Name: "TV/Sport", Parent: TV},
	{ID: TVAnime, Name: "TV/Anime", Parent: TV},
	{ID: TVDocumentary, Name: "TV/Documentary", Parent: TV},
	{ID: XXX, Name: "XXX"},
	{ID: XXXDVD, Name: "XXX/DVD", Parent: XXX},
	{ID: XXXWMV, Name: "XXX/WMV", Parent: XXX},
	{ID: XXXXviD, Name: "XXX/XviD", Parent: XXX},
	{ID: XXXx264, Name: "XXX/x264", Parent: XXX},
	{ID: XXXUHD, Name: "XXX/UHD", Parent: XXX},
	{ID: XXXPack, Name: "XXX/Pack", Parent: XXX},
	{ID: XXXOther, Name: "XXX/Other", Parent: XXX},
	{ID: Books, Name: "Books"},
	{ID: BooksMags, Name: "Books/Mags", Parent: Books},
	{ID: BooksEBook, Name: "Books/EBook", Parent: Books},
	{ID: BooksComics, Name: "Books/Comics", Parent: Books},
	{ID: BooksTechnical, Name: "Books/Technical", Parent: Books},
	{ID: BooksOther, Name: "Books/Other", Parent: Books},
	{ID: BooksForeign, Name: "Books/Foreign", Parent: Books},
	{ID: Other, Name: "Other"},
	{ID: OtherMisc, Name: "Other/Misc", Parent: Other},
	{ID: OtherHashed, Name: "Other/Hashed", Parent: Other},
}

var byID = func() map[int]Category {
	m := make(map[int]Category, len(standard))
	for _, c := range standard {
		m[c.ID] = c
	}
	return m
}()

// All returns the full standard taxonomy in declaration order.
func All() []Category {
	return slices.Clone(standard)
}

// Lookup returns the standard category for id.
func Lookup(id int) (Category, bool) {
	c, ok := byID[id]
	return c, ok
}

// Parent returns the top level category for id. Top level ids and ids outside
// the thousand-block scheme are returned unchanged.
func Parent(id int) int {
	if c, ok := byID[id]; ok && c.Parent != 0 {
		return c.Parent
	}
	if id < 1000 {
		return id
	}
	return (id / 1000) * 1000
}

// IsParent reports whether id is a top level category.
func IsParent(id int) bool {
	return Parent(id) == id
}

// Name returns the display name for id, or an empty string for unknown ids.
func Name(id int) string {
	return byID[id].Name
}

func sortedUnique(ids []int) []int {
	if len(ids) == 0 {
		return nil
	}
	out := slices.Clone(ids)
	sort.Ints(out)
	return slices.Compact(out)
}
