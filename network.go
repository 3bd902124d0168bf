package offlinecache

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	serializer "github.com/bassam-ai/offline-cache/pkg/response-serializer"
)

const defaultClientTimeout = 30 * time.Second

type ClientOption func(*http.Client)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *http.Client) {
		c.Timeout = timeout
	}
}

func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *http.Client) {
		c.Transport = transport
	}
}

// WithServerName uses the given hostname for TLS negotiation with the origin.
// Use it if needed if e.g. the origin URL is just an IP address.
func WithServerName(host string) ClientOption {
	return func(c *http.Client) {
		c.Transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				ServerName: host,
			},
		}
	}
}

// NewClient creates the client used for network requests.
func NewClient(opts ...ClientOption) *http.Client {
	client := &http.Client{
		Timeout:   defaultClientTimeout,
		Transport: http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// network issues requests against the origin.
type network struct {
	originURL  url.URL
	originHost string
	// proxy does not follow redirects, they are passed on to the client
	proxy *http.Client
	// follow follows redirects, like a plain fetch does
	follow *http.Client
}

func newNetwork(client *http.Client, originURL url.URL, originHost string) *network {
	if client == nil {
		client = NewClient()
	}
	proxy := *client
	proxy.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &network{
		originURL:  originURL,
		originHost: originHost,
		proxy:      &proxy,
		follow:     client,
	}
}

// fetch the resource specified in the incoming request from the origin.
// The body is read in full, so any network failure surfaces here.
func (n *network) fetch(ctx context.Context, r *http.Request, followRedirects bool) (serializer.TimedResponse, error) {
	timedRes := serializer.TimedResponse{RequestTime: time.Now()}
	req, err := n.forwardRequest(ctx, r)
	if err != nil {
		return timedRes, err
	}
	client := n.proxy
	if followRedirects {
		client = n.follow
	}

	res, err := client.Do(req)
	if err != nil {
		return timedRes, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return timedRes, fmt.Errorf("read body of %s: %w", req.URL, err)
	}
	res.Body = io.NopCloser(bytes.NewReader(body))
	res.ContentLength = int64(len(body))
	res.TransferEncoding = nil

	timedRes.ResponseTime = time.Now()
	// as per https://www.rfc-editor.org/rfc/rfc9110#section-6.6.1-8
	if res.Header.Get("Date") == "" {
		res.Header.Set("Date", timedRes.ResponseTime.UTC().Format(http.TimeFormat))
	}
	timedRes.Response = res
	return timedRes, nil
}

// forwardRequest creates the outgoing request for the origin.
func (n *network) forwardRequest(ctx context.Context, r *http.Request) (*http.Request, error) {
	uri := strings.TrimSuffix(n.originURL.String(), "/") + r.URL.RequestURI()
	// need to specifically set body to nil on the outgoing request if content is zero length
	// see https://github.com/golang/go/issues/16036
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, uri, body)
	if err != nil {
		return nil, fmt.Errorf("create request for %s: %w", uri, err)
	}
	req.ContentLength = r.ContentLength
	if n.originHost != "" {
		req.Host = n.originHost
	}
	copyHeader(req.Header, r.Header)
	removeHopByHopHeaders(req.Header)
	return req, nil
}
