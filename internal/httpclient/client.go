// Package httpclient issues authenticated JSON POST requests and normalizes
// the responses of the external APIs the backend talks to.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
)

// ErrTimeout is returned when the upstream did not answer within the client timeout.
var ErrTimeout = errors.New("request timed out")

// Auth decorates an outgoing request with credentials.
type Auth interface {
	apply(h *fasthttp.RequestHeader)
}

type apiKeyAuth string

func (a apiKeyAuth) apply(h *fasthttp.RequestHeader) { h.Set("x-api-key", string(a)) }

type bearerAuth string

func (b bearerAuth) apply(h *fasthttp.RequestHeader) { h.Set("Authorization", "Bearer "+string(b)) }

// APIKey authenticates with an x-api-key header.
func APIKey(key string) Auth { return apiKeyAuth(key) }

// Bearer authenticates with an Authorization: Bearer header.
func Bearer(token string) Auth { return bearerAuth(token) }

// StatusError classifies an upstream HTTP status >= 400.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s: %s", e.StatusCode, e.URL, truncate(e.Body, 512))
}

// Response is a normalized upstream reply.
type Response struct {
	StatusCode int
	Body       Body
	Raw        []byte
}

// Client wraps a fasthttp client with a fixed per-request timeout.
type Client struct {
	client  *fasthttp.Client
	timeout time.Duration
}

// New creates a client; timeout <= 0 falls back to 60s.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		client: &fasthttp.Client{
			Name:                "avatharam-backend",
			MaxIdleConnDuration: 30 * time.Second,
		},
		timeout: timeout,
	}
}

// Timeout returns the per-request timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

type roundTrip struct {
	status int
	body   []byte
	err    error
}

// PostJSON marshals payload, posts it to url and decodes the JSON reply.
// Status >= 400 yields a *StatusError; a timeout yields an error wrapping ErrTimeout.
func (c *Client) PostJSON(ctx context.Context, url string, auth Auth, payload any) (*Response, error) {
	body, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	return c.post(ctx, url, auth, "application/json", body, nil)
}

// PostMultipart posts a multipart/form-data body already encoded by the caller.
// headers are set verbatim after auth.
func (c *Client) PostMultipart(ctx context.Context, url string, auth Auth, contentType string, body []byte, headers map[string]string) (*Response, error) {
	return c.post(ctx, url, auth, contentType, body, headers)
}

func (c *Client) post(ctx context.Context, url string, auth Auth, contentType string, body []byte, headers map[string]string) (*Response, error) {
	timeout := c.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("post %s: %w", url, context.DeadlineExceeded)
	}

	// fasthttp has no context support; the request runs in its own goroutine
	// and owns the pooled request/response objects.
	done := make(chan roundTrip, 1)
	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(url)
		req.Header.SetMethod(fasthttp.MethodPost)
		req.Header.SetContentType(contentType)
		req.Header.Set("Accept", "application/json")
		if auth != nil {
			auth.apply(&req.Header)
		}
		for key, value := range headers {
			req.Header.Set(key, value)
		}
		req.SetBody(body)

		err := c.client.DoTimeout(req, resp, timeout)
		done <- roundTrip{
			status: resp.StatusCode(),
			body:   append([]byte(nil), resp.Body()...),
			err:    err,
		}
	}()

	var rt roundTrip
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("post %s: %w", url, ctx.Err())
	case rt = <-done:
	}

	if rt.err != nil {
		if errors.Is(rt.err, fasthttp.ErrTimeout) {
			return nil, fmt.Errorf("post %s: %w", url, ErrTimeout)
		}
		return nil, fmt.Errorf("post %s: %w", url, rt.err)
	}

	if rt.status >= fasthttp.StatusBadRequest {
		return nil, &StatusError{URL: url, StatusCode: rt.status, Body: string(rt.body)}
	}

	return &Response{StatusCode: rt.status, Body: decodeBody(rt.body), Raw: rt.body}, nil
}

// IsTimeout reports whether err came from an upstream or context timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// StatusCode extracts the upstream status from err, if any.
func StatusCode(err error) (int, bool) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode, true
	}
	return 0, false
}

// decodeBody normalizes a reply to a JSON object. Non-object or invalid bodies
// are kept under the "raw" key so callers always receive structured data.
func decodeBody(raw []byte) Body {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return Body{}
	}
	var out map[string]any
	if err := sonic.Unmarshal(raw, &out); err != nil || out == nil {
		return Body{"raw": trimmed}
	}
	return Body(out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
