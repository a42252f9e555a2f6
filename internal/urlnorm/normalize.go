package urlnorm

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// schemePrefix matches an explicit "scheme://" prefix. Inputs without one get https:// injected.
var schemePrefix = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]*://`)

var (
	ErrEmptyURL    = errors.New("empty URL")
	ErrMalformed   = errors.New("malformed URL")
	ErrMissingHost = errors.New("URL has no host")
)

// UrlNormalizationError is returned when an input cannot be turned into a canonical URL.
// Callers skip the offending input instead of aborting the batch.
type UrlNormalizationError struct {
	Input string
	Err   error
}

func (e *UrlNormalizationError) Error() string {
	return fmt.Sprintf("normalize url %q: %v", e.Input, e.Err)
}

func (e *UrlNormalizationError) Unwrap() error {
	return e.Err
}

// Options controls normalization policy.
type Options struct {
	// KeepQueryParams lists query parameter names retained in the canonical URL.
	// Everything else in the query string is dropped.
	KeepQueryParams []string `mapstructure:"keep_query_params" yaml:"keep_query_params"`
}

// Normalizer canonicalizes URLs into comparison keys.
// The zero value drops every query parameter.
type Normalizer struct {
	keep map[string]struct{}
}

// New builds a Normalizer for the given options.
func New(opts Options) *Normalizer {
	n := &Normalizer{}
	if len(opts.KeepQueryParams) > 0 {
		n.keep = make(map[string]struct{}, len(opts.KeepQueryParams))
		for _, p := range opts.KeepQueryParams {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" {
				n.keep[p] = struct{}{}
			}
		}
	}
	return n
}

var defaultNormalizer = New(Options{})

// Normalize canonicalizes input with the default policy (all query parameters dropped).
func Normalize(input string) (string, error) {
	return defaultNormalizer.Normalize(input)
}

// DomainOf returns the domain of input with the default policy.
func DomainOf(input string) (string, error) {
	return defaultNormalizer.DomainOf(input)
}

// Normalize returns the canonical form of input:
//   - https scheme, injected when the input has none
//   - lowercased host without a leading "www." and without default ports
//   - lowercased path without trailing slashes
//   - no userinfo, fragment, or query parameters outside the allow-list
//
// Normalize is idempotent.
func (n *Normalizer) Normalize(input string) (string, error) {
	u, err := parse(input)
	if err != nil {
		return "", err
	}

	host, err := canonicalHost(u)
	if err != nil {
		return "", &UrlNormalizationError{Input: input, Err: err}
	}

	var b strings.Builder
	b.WriteString("https://")
	b.WriteString(host)
	b.WriteString(strings.TrimRight(strings.ToLower(u.EscapedPath()), "/"))
	if q := n.retainedQuery(u); q != "" {
		b.WriteByte('?')
		b.WriteString(q)
	}
	return b.String(), nil
}

// DomainOf returns the host of the canonical URL without port, e.g. "acme.com".
func (n *Normalizer) DomainOf(input string) (string, error) {
	u, err := parse(input)
	if err != nil {
		return "", err
	}
	host := stripWWW(strings.ToLower(u.Hostname()))
	if host == "" {
		return "", &UrlNormalizationError{Input: input, Err: ErrMissingHost}
	}
	return host, nil
}

func parse(input string) (*url.URL, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, &UrlNormalizationError{Input: input, Err: ErrEmptyURL}
	}
	if !schemePrefix.MatchString(trimmed) {
		trimmed = "https://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, &UrlNormalizationError{Input: input, Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if u.Hostname() == "" {
		return nil, &UrlNormalizationError{Input: input, Err: ErrMissingHost}
	}
	return u, nil
}

func canonicalHost(u *url.URL) (string, error) {
	host := stripWWW(strings.ToLower(u.Hostname()))
	if host == "" {
		return "", ErrMissingHost
	}
	if strings.Contains(host, ":") {
		// IPv6 literal
		host = "[" + host + "]"
	}

	port := u.Port()
	scheme := strings.ToLower(u.Scheme)
	switch {
	case port == "", port == "443":
		return host, nil
	case port == "80" && scheme == "http":
		return host, nil
	default:
		return net.JoinHostPort(strings.Trim(host, "[]"), port), nil
	}
}

func (n *Normalizer) retainedQuery(u *url.URL) string {
	if len(n.keep) == 0 || u.RawQuery == "" {
		return ""
	}
	kept := url.Values{}
	for key, values := range u.Query() {
		lk := strings.ToLower(key)
		if _, ok := n.keep[lk]; !ok {
			continue
		}
		for _, v := range values {
			kept.Add(lk, v)
		}
	}
	for _, values := range kept {
		sort.Strings(values)
	}
	// Encode sorts by key
	return kept.Encode()
}

// stripWWW removes every leading "www." label so the result is a fixed point.
func stripWWW(host string) string {
	for strings.HasPrefix(host, "www.") {
		host = host[len("www."):]
	}
	return host
}
