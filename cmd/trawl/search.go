// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/autobrr/trawl/internal/aggregator"
	"github.com/autobrr/trawl/internal/indexer"
)

func RunSearchCommand() *cobra.Command {
	var (
		configDir string
		criteria  indexer.Criteria
		search    string
		season    int
		episode   int
		bypass    bool
		asJSON    bool
	)

	command := &cobra.Command{
		Use:   "search [terms]",
		Short: "Run one search against the configured targets and print the results",
		Example: `  trawl search --type movie --imdb tt1160419
  trawl search --type tv --season 1 --episode 2 "some show"
  trawl search --cat 3000 --targets thepiratebay,rutracker "artist album"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			criteria.Type = indexer.ContentType(search)
			criteria.Term = strings.Join(args, " ")
			if cmd.Flags().Changed("season") {
				criteria.Season = &season
			}
			if cmd.Flags().Changed("episode") {
				criteria.Episode = &episode
			}
			if bypass {
				criteria.CacheMode = indexer.CacheModeBypass
			}
			if err := criteria.Validate(); err != nil {
				return err
			}

			app := NewApplication(configDir, "", "", false)
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			s, err := buildStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			resp, err := s.aggregator.Search(ctx, &criteria)
			if err != nil {
				return errors.Wrap(err, "search failed")
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			return printSearchResponse(cmd.OutOrStdout(), resp)
		},
	}

	f := command.Flags()
	f.StringVar(&configDir, "config-dir", "", "config directory or file path (defaults to OS-specific location)")
	f.StringVarP(&search, "type", "t", string(indexer.ContentSearch), "search type: search, movie, tv, music or book")
	f.IntSliceVarP(&criteria.Categories, "cat", "c", nil, "standard category ids")
	f.StringVar(&criteria.IMDbID, "imdb", "", "IMDb id")
	f.IntVar(&criteria.TMDbID, "tmdb", 0, "TMDb id")
	f.IntVar(&criteria.TVDbID, "tvdb", 0, "TVDb id")
	f.IntVar(&season, "season", 0, "season number")
	f.IntVar(&episode, "episode", 0, "episode number")
	f.IntVar(&criteria.Year, "year", 0, "release year")
	f.StringVar(&criteria.Artist, "artist", "", "artist")
	f.StringVar(&criteria.Album, "album", "", "album")
	f.StringVar(&criteria.Author, "author", "", "author")
	f.StringVar(&criteria.Title, "title", "", "book title")
	f.IntVarP(&criteria.Limit, "limit", "n", 50, "maximum number of results")
	f.StringSliceVar(&criteria.TargetIDs, "targets", nil, "only search these target ids")
	f.BoolVar(&criteria.StrictTerm, "strict", false, "drop results whose title does not contain the terms")
	f.BoolVar(&bypass, "no-cache", false, "ignore cached results")
	f.BoolVar(&asJSON, "json", false, "print the raw JSON response")

	return command
}

func printSearchResponse(out io.Writer, resp *aggregator.SearchResponse) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintln(w, "TITLE\tSIZE\tSEEDERS\tAGE\tTARGET")
	for _, r := range resp.Releases {
		seeders := "-"
		if r.Seeders != nil {
			seeders = fmt.Sprint(*r.Seeders)
		}
		age := "-"
		if !r.PublishDate.IsZero() {
			age = humanize.Time(r.PublishDate)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Title, humanize.Bytes(uint64(max(r.Size, 0))), seeders, age, r.TargetID)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d of %d results in %s", len(resp.Releases), resp.Total, resp.Took.Round(time.Millisecond))
	if resp.Cached {
		fmt.Fprint(out, " (cached)")
	}
	fmt.Fprintln(out)

	for _, t := range resp.Targets {
		line := fmt.Sprintf("  %-20s %-8s %3d", t.TargetID, t.Status, t.Count)
		if t.Error != "" {
			line += fmt.Sprintf("  %s: %s", t.Kind, t.Error)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
