// Package shared provides the transport and normalization helpers common to
// every exchange adapter: a paced REST client with retry and deadlines,
// defensive field parsing, the futures probe cascade, and health measurement.
package shared

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/profitlens/exsync/config"
	"github.com/profitlens/exsync/errs"
)

// maxBodyBytes bounds response reads so a misbehaving venue cannot exhaust memory.
const maxBodyBytes = 4 << 20

const retryMaxAttempts = 3

// Client is the paced, deadline-bound HTTP client every adapter issues its
// signed calls through. The limiter serializes the adapter's own outbound
// requests; transient transport failures retry with fresh request
// construction so signatures carry current timestamps.
type Client struct {
	exchange string
	http     *http.Client
	limiter  *rate.Limiter
	timeout  time.Duration
	log      zerolog.Logger
	metrics  *Metrics
}

// NewClient builds a client from the venue's transport settings.
func NewClient(exchange string, settings config.ExchangeSettings, log zerolog.Logger) *Client {
	pacing := settings.Pacing
	if pacing <= 0 {
		pacing = 100 * time.Millisecond
	}
	return &Client{
		exchange: exchange,
		http:     &http.Client{Timeout: settings.Timeout()},
		limiter:  rate.NewLimiter(rate.Every(pacing), 1),
		timeout:  settings.Timeout(),
		log:      log.With().Str("exchange", exchange).Logger(),
		metrics:  NewMetrics(exchange),
	}
}

// Do executes one logical API call. The build function is invoked per attempt
// so retried requests are re-signed. Non-2xx responses come back as *errs.E
// carrying the HTTP status and raw body; 429 and 5xx responses retry a
// bounded number of times before surfacing.
func (c *Client) Do(ctx context.Context, op string, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errs.New(c.exchange, errs.CodeTimeout,
			errs.WithOperation(op),
			errs.WithCause(err),
			errs.WithCanonicalCode(errs.CanonicalTimeout))
	}

	attempt := func() ([]byte, error) {
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		req, err := build(reqCtx)
		if err != nil {
			return nil, backoff.Permanent(errs.New(c.exchange, errs.CodeInvalid,
				errs.WithOperation(op), errs.WithCause(err)))
		}

		start := time.Now()
		resp, err := c.http.Do(req)
		elapsed := time.Since(start)
		if err != nil {
			c.metrics.Record(ctx, op, "network_error", elapsed)
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
				return nil, errs.New(c.exchange, errs.CodeTimeout,
					errs.WithOperation(op),
					errs.WithCause(err),
					errs.WithCanonicalCode(errs.CanonicalTimeout))
			}
			return nil, errs.New(c.exchange, errs.CodeNetwork,
				errs.WithOperation(op), errs.WithCause(err))
		}
		defer func() {
			_ = resp.Body.Close()
		}()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			c.metrics.Record(ctx, op, "read_error", elapsed)
			return nil, errs.New(c.exchange, errs.CodeNetwork,
				errs.WithOperation(op), errs.WithCause(err))
		}

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			c.metrics.Record(ctx, op, "http_error", elapsed)
			httpErr := errs.FromHTTPStatus(c.exchange, op, resp.StatusCode, truncate(string(body), 512))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
				return nil, httpErr
			}
			return nil, backoff.Permanent(httpErr)
		}

		c.metrics.Record(ctx, op, "ok", elapsed)
		return body, nil
	}

	body, err := backoff.Retry(ctx, attempt,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(retryMaxAttempts))
	if err != nil {
		c.log.Debug().Err(err).Str("op", op).Msg("request failed")
		return nil, err
	}
	return body, nil
}

// Exchange returns the venue key the client is bound to.
func (c *Client) Exchange() string { return c.exchange }

// Log exposes the client's venue-scoped logger for adapter warnings.
func (c *Client) Log() zerolog.Logger { return c.log }

func truncate(s string, n int) string {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) <= n {
		return trimmed
	}
	return trimmed[:n]
}
