// Package session owns the single HTTP client the whole tool shares: a
// resty client with a cookie jar, a challenge-tolerant transport and a
// desktop browser profile, plus the retry policy every request goes
// through.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/avast/retry-go/v4"
	"github.com/go-resty/resty/v2"

	"scribdl/models"
)

// Desktop Chrome profile. The host serves challenge pages to clients that
// look like scripts, so every request carries these.
const (
	userAgent  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptLang = "en-US,en;q=0.9"
)

// Client is the reusable session passed to every component that talks to
// the host. Construct it once in main and share it; the pipeline is
// sequential so no locking is involved.
type Client struct {
	http   *resty.Client
	policy models.RetryPolicy
	log    *slog.Logger
}

// New builds the session. The challenge bypass wraps the transport so its
// browser-like headers apply to every request, including redirects.
func New(timeout time.Duration, policy models.RetryPolicy, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := resty.New()
	jar, _ := cookiejar.New(nil)
	httpClient.SetCookieJar(jar)
	httpClient.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(httpClient.GetClient().Transport)
	httpClient.SetHeader("User-Agent", userAgent)
	httpClient.SetHeader("Accept", acceptHTML)
	httpClient.SetHeader("Accept-Language", acceptLang)
	httpClient.SetTimeout(timeout)
	httpClient.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	return &Client{
		http:   httpClient,
		policy: policy,
		log:    logger.With("component", "session"),
	}
}

// Policy returns the retry policy the session was built with.
func (c *Client) Policy() models.RetryPolicy { return c.policy }

// Request describes one exchange with the host. An empty Method means GET,
// or POST when Form is set. Validate runs inside the retry loop, so a
// response that decodes fine but fails validation burns an attempt and is
// retried like any transport error.
type Request struct {
	Method   string
	URL      string
	Referer  string
	Form     url.Values
	Validate func(body []byte) error
	OnRetry  func(attempt int, wait time.Duration, err error)
}

// Fetch performs the request under the shared retry policy and returns the
// decoded response body. Transient failures (transport errors, 4xx/5xx
// statuses, failed validation) back off exponentially between attempts
// until the budget runs out, then the last error comes back. A canceled
// context stops the loop right away.
func (c *Client) Fetch(ctx context.Context, req Request) ([]byte, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
		if req.Form != nil {
			method = http.MethodPost
		}
	}

	var body []byte
	attempt := func() error {
		r := c.http.R().SetContext(ctx)
		if req.Referer != "" {
			r.SetHeader("Referer", req.Referer)
		}
		if req.Form != nil {
			r.SetFormDataFromValues(req.Form)
		}

		resp, err := r.Execute(method, req.URL)
		if err != nil {
			return err
		}
		if resp.StatusCode() >= http.StatusBadRequest {
			// Interstitials arrive compressed like any other page, so the
			// sniff needs the decoded bytes here too.
			if decoded, decErr := decode(resp.Body(), resp.Header().Get("Content-Encoding")); decErr == nil {
				if marker, ok := challenged(decoded); ok {
					return fmt.Errorf("%s %s: anti-bot challenge (%s)", method, req.URL, marker)
				}
			}
			return fmt.Errorf("%s %s: unexpected status %s", method, req.URL, resp.Status())
		}

		decoded, err := decode(resp.Body(), resp.Header().Get("Content-Encoding"))
		if err != nil {
			return fmt.Errorf("decoding response from %s: %w", req.URL, err)
		}
		if marker, ok := challenged(decoded); ok {
			return fmt.Errorf("%s %s: anti-bot challenge (%s)", method, req.URL, marker)
		}
		if req.Validate != nil {
			if err := req.Validate(decoded); err != nil {
				return err
			}
		}

		c.log.Debug("response received",
			"url", req.URL,
			"status", resp.StatusCode(),
			"encoding", resp.Header().Get("Content-Encoding"),
			"bytes", len(decoded))
		body = decoded
		return nil
	}

	err := retry.Do(
		attempt,
		retry.Context(ctx),
		retry.Attempts(uint(c.policy.MaxAttempts)),
		retry.Delay(c.policy.Delay()),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(error) bool { return ctx.Err() == nil }),
		retry.OnRetry(func(n uint, attemptErr error) {
			failed := int(n) + 1
			if failed >= c.policy.MaxAttempts {
				// Budget exhausted, no retry follows.
				return
			}
			wait := c.policy.WaitBefore(failed + 1)
			c.log.Warn("request failed, backing off",
				"url", req.URL,
				"attempt", failed,
				"max_attempts", c.policy.MaxAttempts,
				"wait", wait,
				"err", attemptErr)
			if req.OnRetry != nil {
				req.OnRetry(failed, wait, attemptErr)
			}
		}),
	)
	if err != nil {
		return nil, err
	}
	return body, nil
}
