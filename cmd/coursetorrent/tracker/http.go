package tracker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/c2h5oh/datasize"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPOptions configures an HTTPTransport.
type HTTPOptions struct {
	Timeout time.Duration
	// RateLimit is the number of requests per second; zero disables limiting.
	RateLimit       float64
	Burst           int
	MaxResponseSize datasize.ByteSize
}

// HTTPTransport sends tracker requests with net/http.
type HTTPTransport struct {
	client  *http.Client
	limiter *rate.Limiter
	maxBody datasize.ByteSize
	logger  *zap.Logger

	requests atomic.Int64
	failures atomic.Int64
}

func NewHTTPTransport(opts HTTPOptions, logger *zap.Logger) *HTTPTransport {
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	maxBody := opts.MaxResponseSize
	if maxBody == 0 {
		maxBody = datasize.MB
	}

	return &HTTPTransport{
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: rate.NewLimiter(limit, burst),
		maxBody: maxBody,
		logger:  logger,
	}
}

func (t *HTTPTransport) Get(ctx context.Context, url string) ([]byte, error) {
	t.requests.Inc()
	body, err := t.get(ctx, url)
	if err != nil {
		t.failures.Inc()
		return nil, err
	}
	return body, nil
}

func (t *HTTPTransport) get(ctx context.Context, url string) ([]byte, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build tracker request: %w", err)
	}

	t.logger.Debug("Sending tracker request", zap.String("url", url))
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to contact tracker: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected tracker response: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(t.maxBody.Bytes())+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read tracker response: %w", err)
	}
	if uint64(len(body)) > t.maxBody.Bytes() {
		return nil, fmt.Errorf("tracker response exceeds %s", t.maxBody.HumanReadable())
	}
	return body, nil
}

// Stats returns how many requests were sent and how many of them failed.
func (t *HTTPTransport) Stats() (requests, failures int64) {
	return t.requests.Load(), t.failures.Load()
}
