// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package definitions

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/trawl/internal/indexer"
)

// responseEnv is what login and no-results predicates can see, e.g.
// `redirect contains "login.php" || !(body contains "logout.php")`.
type responseEnv struct {
	Status   int               `expr:"status"`
	Body     string            `expr:"body"`
	Redirect string            `expr:"redirect"`
	URL      string            `expr:"url"`
	Header   map[string]string `expr:"header"`
}

func newResponseEnv(resp *indexer.Response) responseEnv {
	env := responseEnv{
		Status:   resp.StatusCode,
		Body:     resp.Content(),
		Redirect: resp.RedirectURL,
		Header:   make(map[string]string, len(resp.Header)),
	}
	if resp.Request != nil {
		env.URL = resp.Request.URL
	}
	for k := range resp.Header {
		env.Header[k] = resp.Header.Get(k)
	}
	return env
}

type predicate struct {
	source  string
	program *vm.Program
}

func compilePredicate(source string) (*predicate, error) {
	if source == "" {
		return nil, nil
	}
	program, err := expr.Compile(source, expr.Env(responseEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", source, err)
	}
	return &predicate{source: source, program: program}, nil
}

// eval reports the predicate result; a nil predicate is false.
func (p *predicate) eval(resp *indexer.Response) bool {
	if p == nil || resp == nil {
		return false
	}
	out, err := expr.Run(p.program, newResponseEnv(resp))
	if err != nil {
		log.Error().Err(err).Str("expr", p.source).Msg("failed to evaluate definition predicate")
		return false
	}
	result, ok := out.(bool)
	return ok && result
}
