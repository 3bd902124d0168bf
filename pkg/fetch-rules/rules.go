package fetchrules

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

type Strategy string

const (
	// CacheFirst serves from the cache, falling back to the network and
	// storing what the network returns.
	CacheFirst Strategy = "cache-first"
	// NetworkOnly never looks at or writes to the cache.
	NetworkOnly Strategy = "network-only"
)

type Rules []Rule

type Rule struct {
	Prefix   string            `yaml:"prefix" toml:"prefix"`
	Path     string            `yaml:"path" toml:"path"`
	Method   string            `yaml:"method" toml:"method"`
	Query    map[string]string `yaml:"query" toml:"query"`
	Strategy Strategy          `yaml:"strategy" toml:"strategy"`
}

// Validate checks that every rule names a known strategy.
func (r Rules) Validate() error {
	for i, rule := range r {
		switch rule.Strategy {
		case CacheFirst, NetworkOnly, "":
		default:
			return fmt.Errorf("rule %d: unknown strategy %q", i, rule.Strategy)
		}
	}
	return nil
}

// Strategy returns the strategy of the first rule matching the request.
// Requests matching no rule are handled cache-first.
func (r Rules) Strategy(req *http.Request, logger zerolog.Logger) Strategy {
	if rule := r.find(req, logger); rule != nil && rule.Strategy != "" {
		return rule.Strategy
	}
	return CacheFirst
}

func (r Rules) find(req *http.Request, logger zerolog.Logger) *Rule {
	logger.Trace().Msgf("Finding rule for request %s:%s", req.Method, req.URL.Path)
rulesLoop:
	for i := range r {
		rule := &r[i]
		if rule.Method != "" && !strings.EqualFold(rule.Method, req.Method) {
			continue
		}
		if rule.Path != "" && rule.Path != req.URL.Path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(req.URL.Path, rule.Prefix) {
			continue
		}
		if len(rule.Query) > 0 {
			qry := req.URL.Query()
			for name, value := range rule.Query {
				if value == "" && !qry.Has(name) {
					continue rulesLoop
				} else if value != "" && qry.Get(name) != value {
					continue rulesLoop
				}
			}
		}
		logger.Trace().Msgf("Found rule %+v", *rule)
		return rule
	}
	return nil
}
