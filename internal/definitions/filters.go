// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package definitions

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

type filterFunc func(value string, args []string) (string, error)

var filters = map[string]filterFunc{
	"regexp":      regexpFilter,
	"re_replace":  reReplaceFilter,
	"replace":     replaceFilter,
	"split":       splitFilter,
	"trim":        trimFilter,
	"prepend":     func(v string, args []string) (string, error) { return strings.Join(args, "") + v, nil },
	"append":      func(v string, args []string) (string, error) { return v + strings.Join(args, ""), nil },
	"tolower":     func(v string, _ []string) (string, error) { return strings.ToLower(v), nil },
	"toupper":     func(v string, _ []string) (string, error) { return strings.ToUpper(v), nil },
	"querystring": queryStringFilter,
	"dateparse":   dateParseFilter,
}

func applyFilters(value string, list []Filter) (string, error) {
	for _, f := range list {
		fn := filters[f.Name]
		var err error
		value, err = fn(value, f.Args)
		if err != nil {
			return "", fmt.Errorf("filter %s: %w", f.Name, err)
		}
	}
	return value, nil
}

func requireArgs(args []string, n int) error {
	if len(args) < n {
		return fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	return nil
}

// regexpFilter returns the first capture group, or the whole match when the
// pattern has no groups.
func regexpFilter(value string, args []string) (string, error) {
	if err := requireArgs(args, 1); err != nil {
		return "", err
	}
	re, err := compileRegexp(args[0])
	if err != nil {
		return "", err
	}
	m := re.FindStringSubmatch(value)
	switch {
	case m == nil:
		return "", nil
	case len(m) > 1:
		return m[1], nil
	default:
		return m[0], nil
	}
}

func reReplaceFilter(value string, args []string) (string, error) {
	if err := requireArgs(args, 2); err != nil {
		return "", err
	}
	re, err := compileRegexp(args[0])
	if err != nil {
		return "", err
	}
	return re.ReplaceAllString(value, args[1]), nil
}

func replaceFilter(value string, args []string) (string, error) {
	if err := requireArgs(args, 2); err != nil {
		return "", err
	}
	return strings.ReplaceAll(value, args[0], args[1]), nil
}

func splitFilter(value string, args []string) (string, error) {
	if err := requireArgs(args, 2); err != nil {
		return "", err
	}
	idx, err := strconv.Atoi(args[1])
	if err != nil {
		return "", fmt.Errorf("invalid index %q", args[1])
	}
	parts := strings.Split(value, args[0])
	if idx < 0 {
		idx += len(parts)
	}
	if idx < 0 || idx >= len(parts) {
		return "", nil
	}
	return parts[idx], nil
}

func trimFilter(value string, args []string) (string, error) {
	if len(args) == 0 {
		return strings.TrimSpace(value), nil
	}
	return strings.Trim(value, args[0]), nil
}

func queryStringFilter(value string, args []string) (string, error) {
	if err := requireArgs(args, 1); err != nil {
		return "", err
	}
	u, err := url.Parse(value)
	if err != nil {
		return "", err
	}
	return u.Query().Get(args[0]), nil
}

// dateParseFilter reformats a date with a Go layout into RFC 3339.
func dateParseFilter(value string, args []string) (string, error) {
	if err := requireArgs(args, 1); err != nil {
		return "", err
	}
	t, err := time.Parse(args[0], strings.TrimSpace(value))
	if err != nil {
		return "", err
	}
	return t.UTC().Format(time.RFC3339), nil
}

var nbspReplacer = strings.NewReplacer("\u00a0", " ", "\u202f", " ")

// binaryUnits maps the decimal unit names trackers print to the binary
// units they actually mean.
var binaryUnits = map[string]string{
	"kb": "KiB",
	"mb": "MiB",
	"gb": "GiB",
	"tb": "TiB",
	"pb": "PiB",
}

// parseSize reads sizes like "1.46 GB", "700 MiB" or a plain byte count.
// Decimal unit names are read as binary multiples.
func parseSize(s string) (int64, error) {
	s = strings.TrimSpace(nbspReplacer.Replace(s))
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}

	i := strings.LastIndexFunc(s, func(r rune) bool { return (r >= '0' && r <= '9') || r == '.' || r == ',' })
	num, unit := s[:i+1], strings.ToLower(strings.TrimSpace(s[i+1:]))
	if binary, ok := binaryUnits[unit]; ok {
		unit = binary
	}
	// Some sites use a comma as decimal separator ("1,5 GB").
	if !strings.Contains(num, ".") && strings.Count(num, ",") == 1 && len(num)-strings.Index(num, ",") <= 3 {
		num = strings.Replace(num, ",", ".", 1)
	}

	n, err := humanize.ParseBytes(num + " " + unit)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// parseInt extracts the integer in s, tolerating thousands separators and
// surrounding text. An empty value is zero.
func parseInt(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		case r == ',' || r == ' ' || r == '\u00a0':
		default:
			if b.Len() > 0 {
				return strconv.Atoi(b.String())
			}
		}
	}
	if b.Len() == 0 {
		return 0, fmt.Errorf("no number in %q", s)
	}
	return strconv.Atoi(b.String())
}

func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

var dateLayouts = []string{
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02-01-2006 15:04",
	"Jan 2 2006",
}

// parseDate accepts unix timestamps and the common layouts above; times
// without a zone are read as UTC.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(nbspReplacer.Replace(s))
	if s == "" {
		return time.Time{}, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	if d, ok := parseTimeAgo(s); ok {
		return time.Now().Add(-d).UTC(), nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

var agoUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
	"month":  30 * 24 * time.Hour,
	"year":   365 * 24 * time.Hour,
}

// parseTimeAgo reads relative dates like "3 hours ago".
func parseTimeAgo(s string) (time.Duration, bool) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) != 3 || fields[2] != "ago" {
		return 0, false
	}
	n, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, false
	}
	unit, ok := agoUnits[strings.TrimSuffix(fields[1], "s")]
	if !ok {
		return 0, false
	}
	return time.Duration(n * float64(unit)), true
}
