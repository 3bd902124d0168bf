package cachekey

import (
	"fmt"
	"net/http"
	"strings"
)

var ErrorMalformedKey = fmt.Errorf("Malformed key")

const (
	methodSeparator = ":"
	varySeparator   = "\t"
	varyLine        = "\n"
	varyValueSep    = ": "
)

// KeyPrefix returns the cache key for a request without the vary headers (i.e. a key prefix).
// The returned key is suitable for finding all stored response variants for a particular request.
func KeyPrefix(r *http.Request) string {
	return r.Method + methodSeparator + r.URL.RequestURI() + varySeparator
}

// AddVaryKeys returns the full cache key (including vary headers) based on a previously generated
// cache key prefix and the request and response involved.
// Every field named by the response `Vary` header is recorded, also when the request
// does not carry it, so that a later request sending the field does not match.
func AddVaryKeys(prefix string, req *http.Request, res *http.Response) string {
	key := prefix
	for _, name := range VaryFields(res.Header) {
		key = key + varyLine + strings.ToLower(name) + varyValueSep + req.Header.Get(name)
	}
	return key
}

// VaryFields lists the field names of the `Vary` header(s).
func VaryFields(header http.Header) []string {
	list := make([]string, 0)
	for _, hdr := range header.Values("Vary") {
		for _, item := range strings.Split(hdr, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
	}
	return list
}

// VaryAll reports whether the response varies on everything (`Vary: *`).
// Such responses can never be selected for a later request.
func VaryAll(header http.Header) bool {
	for _, name := range VaryFields(header) {
		if name == "*" {
			return true
		}
	}
	return false
}

// Matches reports whether the request header fields recorded in the key
// equal the ones of the given request.
func Matches(key string, req *http.Request) bool {
	for name, values := range VaryHeaders(key) {
		if req.Header.Get(name) != values[0] {
			return false
		}
	}
	return true
}

// RequestFromKey generates a caching-wise equal request than the request that resulted in the
// provided key. This means it takes vary headers into account.
func RequestFromKey(key string) (*http.Request, error) {
	keyNoVary, _, found := strings.Cut(key, varySeparator)
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrorMalformedKey, key)
	}
	method, uri, found := strings.Cut(keyNoVary, methodSeparator)
	if !found {
		return nil, fmt.Errorf("%w: %q", ErrorMalformedKey, key)
	}
	req, err := http.NewRequest(method, uri, nil)
	if err != nil {
		return req, err
	}
	req.Header = VaryHeaders(key)
	return req, nil
}

// VaryHeaders creates a http.Header instance containing all the vary keys included in a key.
func VaryHeaders(key string) http.Header {
	header := make(http.Header)
	lines := strings.Split(key, varyLine)
	for i := 1; i < len(lines); i++ {
		name, value, _ := strings.Cut(lines[i], varyValueSep)
		header.Add(name, value)
	}
	return header
}
