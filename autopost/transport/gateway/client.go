package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/heraldhq/herald/autopost/transport"

	"github.com/carlmjohnson/versioninfo"
	"golang.org/x/time/rate"
)

// Wait used when the gateway rate-limits without saying for how long
const DefaultRateLimitWait = 5 * time.Second

// Transport implementation which talks JSON over HTTP to a session gateway. The gateway holds each account's session with the remote network.
type Client struct {
	// base URL, eg "https://gateway.internal:8443"
	Host  string
	Token string
	// underlying HTTP client. Defaults to NewHTTPClient
	Client *http.Client
	// client-side limit on requests to the gateway, across all accounts. nil means unlimited
	Limiter   *rate.Limiter
	UserAgent string
	Logger    *slog.Logger
}

var _ transport.Transport = (*Client)(nil)
var _ transport.TypingIndicator = (*Client)(nil)

func NewClient(host, token string, requestsPerSecond float64, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
	}
	return &Client{
		Host:      strings.TrimSuffix(host, "/"),
		Token:     token,
		Client:    NewHTTPClient(logger),
		Limiter:   limiter,
		UserAgent: "herald/" + versioninfo.Short(),
		Logger:    logger,
	}
}

// Non-2xx response from the gateway which does not map to a transport error.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway error %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway error %d: %s", e.StatusCode, e.Message)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type sendRequest struct {
	Text    string `json:"text"`
	ReplyTo string `json:"reply_to,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

type presenceResponse struct {
	ID       string    `json:"id"`
	Status   string    `json:"status"`
	LastSeen time.Time `json:"last_seen"`
}

type roleResponse struct {
	Role string `json:"role"`
}

func accountPath(acct transport.AccountID, parts ...string) string {
	segs := []string{"/v1/accounts", url.PathEscape(string(acct))}
	for _, p := range parts {
		segs = append(segs, url.PathEscape(p))
	}
	return strings.Join(segs, "/")
}

func (c *Client) Send(ctx context.Context, acct transport.AccountID, dest transport.DestinationID, payload transport.Payload, replyTo transport.MessageID) (transport.MessageID, error) {
	var out sendResponse
	body := sendRequest{Text: payload.Text, ReplyTo: string(replyTo)}
	if err := c.do(withNoRetry(ctx), http.MethodPost, accountPath(acct, "destinations", string(dest), "messages"), body, &out, false); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("gateway returned empty message id")
	}
	return transport.MessageID(out.ID), nil
}

func (c *Client) Delete(ctx context.Context, acct transport.AccountID, dest transport.DestinationID, msg transport.MessageID) error {
	return c.do(ctx, http.MethodDelete, accountPath(acct, "destinations", string(dest), "messages", string(msg)), nil, nil, false)
}

func (c *Client) Presence(ctx context.Context, acct transport.AccountID, ref transport.IdentityRef) (*transport.Presence, error) {
	var out presenceResponse
	if err := c.do(ctx, http.MethodGet, accountPath(acct, "identities", string(ref), "presence"), nil, &out, true); err != nil {
		return nil, err
	}
	return &transport.Presence{
		Identity: transport.IdentityID(out.ID),
		Status:   transport.PresenceStatus(out.Status),
		LastSeen: out.LastSeen,
	}, nil
}

func (c *Client) Role(ctx context.Context, acct transport.AccountID, dest transport.DestinationID, ident transport.IdentityID) (transport.Role, error) {
	var out roleResponse
	if err := c.do(ctx, http.MethodGet, accountPath(acct, "destinations", string(dest), "members", string(ident)), nil, &out, true); err != nil {
		return "", err
	}
	return transport.Role(out.Role), nil
}

func (c *Client) Join(ctx context.Context, acct transport.AccountID, dest transport.DestinationID) error {
	return c.do(ctx, http.MethodPost, accountPath(acct, "destinations", string(dest), "join"), nil, nil, false)
}

// Shows the account as typing in dest. The gateway clears the action on the next send, or after a few seconds.
func (c *Client) Typing(ctx context.Context, acct transport.AccountID, dest transport.DestinationID) error {
	return c.do(withNoRetry(ctx), http.MethodPost, accountPath(acct, "destinations", string(dest), "typing"), nil, nil, false)
}

func (c *Client) Leave(ctx context.Context, acct transport.AccountID, dest transport.DestinationID) error {
	return c.do(ctx, http.MethodPost, accountPath(acct, "destinations", string(dest), "leave"), nil, nil, false)
}

// identityLookup selects whether a 404 means transport.ErrIdentityNotFound
func (c *Client) do(ctx context.Context, method, path string, bodyobj, out any, identityLookup bool) error {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var body io.Reader
	if bodyobj != nil {
		b, err := json.Marshal(bodyobj)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.Host+path, body)
	if err != nil {
		return err
	}
	if bodyobj != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.UserAgent)
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		gatewayRequests.WithLabelValues(method, "error").Inc()
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()
	gatewayRequests.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()
	gatewayDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errorFromResponse(resp, identityLookup)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding gateway response: %w", err)
		}
	}
	return nil
}

func errorFromResponse(resp *http.Response, identityLookup bool) error {
	var eb errorBody
	// best-effort; many error responses have no body
	_ = json.NewDecoder(resp.Body).Decode(&eb)
	gerr := &Error{StatusCode: resp.StatusCode, Message: eb.Message}
	if gerr.Message == "" {
		gerr.Message = eb.Error
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return &transport.RateLimitError{Wait: parseRetryAfter(resp.Header, time.Now())}
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", transport.ErrCredentialsInvalid, gerr)
	case http.StatusNotFound:
		if identityLookup {
			return fmt.Errorf("%w: %w", transport.ErrIdentityNotFound, gerr)
		}
	}
	return gerr
}

// Parses a Retry-After header, given either as delay-seconds or as an HTTP date. Falls back to the "ratelimit-reset" unix timestamp, then to DefaultRateLimitWait.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	if v := strings.TrimSpace(h.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseInt(v, 10, 64); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(v); err == nil {
			if d := t.Sub(now); d > 0 {
				return d
			}
			return 0
		}
	}
	if n, err := strconv.ParseInt(h.Get("ratelimit-reset"), 10, 64); err == nil {
		if d := time.Unix(n, 0).Sub(now); d > 0 {
			return d
		}
	}
	return DefaultRateLimitWait
}
