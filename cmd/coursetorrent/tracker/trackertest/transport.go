// Package trackertest provides a scripted tracker transport for tests.
package trackertest

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
)

// ErrUnreachable is returned for trackers that have no scripted response.
var ErrUnreachable = errors.New("connection refused")

// Transport answers requests from canned bodies keyed by the request URL
// without its query string. Unknown URLs fail with ErrUnreachable.
type Transport struct {
	mu        sync.Mutex
	responses map[string][]byte
	requests  []string
}

func New() *Transport {
	return &Transport{responses: make(map[string][]byte)}
}

// Respond makes requests to base return body. Calling it again replaces the
// body.
func (t *Transport) Respond(base, body string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses[base] = []byte(body)
}

// Unreachable removes the response for base.
func (t *Transport) Unreachable(base string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.responses, base)
}

func (t *Transport) Get(_ context.Context, rawURL string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.requests = append(t.requests, rawURL)

	base, _, _ := strings.Cut(rawURL, "?")
	body, ok := t.responses[base]
	if !ok {
		return nil, ErrUnreachable
	}
	return append([]byte(nil), body...), nil
}

// Requests returns every requested URL in order.
func (t *Transport) Requests() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.requests...)
}

// Bases returns the requested URLs without query strings.
func (t *Transport) Bases() []string {
	var bases []string
	for _, r := range t.Requests() {
		base, _, _ := strings.Cut(r, "?")
		bases = append(bases, base)
	}
	return bases
}

// LastQuery returns the decoded query of the most recent request.
func (t *Transport) LastQuery() url.Values {
	requests := t.Requests()
	if len(requests) == 0 {
		return nil
	}
	_, query, _ := strings.Cut(requests[len(requests)-1], "?")
	values, _ := url.ParseQuery(query)
	return values
}
