package fetchrules

import (
	"bytes"
	"net/http"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestRuleFinder(t *testing.T) {
	makeReq := func(method, path string) *http.Request {
		req, _ := http.NewRequest(method, path, nil)
		return req
	}

	rules := Rules{
		Rule{Prefix: "/api/auth", Strategy: NetworkOnly},
		Rule{Path: "/api/chat", Method: "POST", Strategy: NetworkOnly},
		Rule{Prefix: "/search", Query: map[string]string{"live": ""}, Strategy: NetworkOnly},
		Rule{Prefix: "/static/", Strategy: CacheFirst},
	}

	cases := []struct {
		method, path string
		want         Strategy
	}{
		{"GET", "/", CacheFirst},
		{"GET", "/api/auth/login", NetworkOnly},
		{"POST", "/api/chat", NetworkOnly},
		{"GET", "/api/chat", CacheFirst},
		{"GET", "/search?q=x", CacheFirst},
		{"GET", "/search?q=x&live", NetworkOnly},
		{"GET", "/static/manifest.json", CacheFirst},
	}
	for _, c := range cases {
		if got := rules.Strategy(makeReq(c.method, c.path), zerolog.Nop()); got != c.want {
			t.Errorf("%s %s: strategy is %s, expected %s", c.method, c.path, got, c.want)
		}
	}
}

func TestNoRules(t *testing.T) {
	req, _ := http.NewRequest("GET", "/", nil)
	if s := Rules(nil).Strategy(req, zerolog.Nop()); s != CacheFirst {
		t.Fatalf("Strategy is %s", s)
	}
}

func TestValidate(t *testing.T) {
	if err := (Rules{{Strategy: NetworkOnly}, {}}).Validate(); err != nil {
		t.Fatal(err)
	}
	if err := (Rules{{Strategy: "stale-while-revalidate"}}).Validate(); err == nil {
		t.Fatal("Expected unknown strategy error")
	}
}

func TestStrategyLogsToGivenLogger(t *testing.T) {
	out := &bytes.Buffer{}
	req, _ := http.NewRequest("GET", "/api/auth/login", nil)
	rules := Rules{{Prefix: "/api/auth", Strategy: NetworkOnly}}
	rules.Strategy(req, zerolog.New(out).Level(zerolog.TraceLevel))
	if !strings.Contains(out.String(), "Found rule") {
		t.Fatalf("Expected rule trace in given logger, got %q", out.String())
	}
}
