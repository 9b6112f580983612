package twitter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"twarchive/pkg/config"
	errs "twarchive/pkg/errors"
	"twarchive/pkg/logger"
	"twarchive/pkg/ratelimit"
)

// Endpoint paths relative to the REST base URL.
const (
	EndpointUserShow     = "users/show.json"
	EndpointUserTimeline = "statuses/user_timeline.json"
	EndpointStatusShow   = "statuses/show.json"
	EndpointFilter       = "statuses/filter.json"
)

// Upstream error codes that change how a response is classified.
var (
	notFoundCodes = map[int]bool{34: true, 50: true, 63: true, 144: true}
	authCodes     = map[int]bool{32: true, 89: true, 135: true, 215: true}
)

const rateLimitCode = 88

// Client talks to the REST API as one user-context credential.
type Client struct {
	httpClient *http.Client
	signer     *Signer
	limiter    ratelimit.Limiter
	baseURL    string
	userAgent  string
	pageSize   int
	logger     logger.Logger

	mu       sync.RWMutex
	advisory ratelimit.Advisory
}

// NewClient creates a client from the api and rate_limit config sections.
func NewClient(cfg *config.Config, creds Credentials, log logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.API.Timeout},
		signer:     NewSigner(creds),
		limiter:    ratelimit.PerMinute(cfg.RateLimit.RequestsPerMinute),
		baseURL:    strings.TrimRight(cfg.API.BaseURL, "/"),
		userAgent:  cfg.API.UserAgent,
		pageSize:   cfg.API.PageSize,
		logger:     logger.OrDefault(log),
	}
}

// SetBaseURL points the client at another REST root, such as a test server.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = strings.TrimRight(u, "/")
}

// SetTransport replaces the HTTP transport, for example with an
// instrumented one.
func (c *Client) SetTransport(rt http.RoundTripper) {
	c.httpClient.Transport = rt
}

// SetLimiter replaces the client-side request budget.
func (c *Client) SetLimiter(l ratelimit.Limiter) {
	c.limiter = l
}

// RateLimit returns the advisory from the most recent response.
func (c *Client) RateLimit() ratelimit.Advisory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.advisory
}

func (c *Client) recordAdvisory(h http.Header) {
	c.mu.Lock()
	c.advisory = ratelimit.ParseHeaders(h)
	c.mu.Unlock()
}

// LookupByHandle resolves a screen name to a user.
func (c *Client) LookupByHandle(ctx context.Context, handle string) (*User, error) {
	var user User
	params := url.Values{"screen_name": {handle}}
	if err := c.getJSON(ctx, EndpointUserShow, params, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// LookupByID fetches the current profile for a stable user id.
func (c *Client) LookupByID(ctx context.Context, id int64) (*User, error) {
	var user User
	params := url.Values{"user_id": {strconv.FormatInt(id, 10)}}
	if err := c.getJSON(ctx, EndpointUserShow, params, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// FetchPage returns one page of a user's timeline. HasMore is false when the
// page came back shorter than requested.
func (c *Client) FetchPage(ctx context.Context, req PageRequest) (*Page, error) {
	count := req.Count
	if count <= 0 {
		count = c.pageSize
	}
	params := url.Values{
		"user_id":     {strconv.FormatInt(req.UserID, 10)},
		"count":       {strconv.Itoa(count)},
		"include_rts": {"true"},
	}
	if req.SinceID > 0 {
		params.Set("since_id", strconv.FormatInt(req.SinceID, 10))
	}
	if req.MaxID > 0 {
		params.Set("max_id", strconv.FormatInt(req.MaxID, 10))
	}

	var items []json.RawMessage
	if err := c.getJSON(ctx, EndpointUserTimeline, params, &items); err != nil {
		return nil, err
	}

	// Items without a readable id are passed through for the caller to
	// reject; they do not move the page bounds.
	page := &Page{Items: items, HasMore: len(items) >= count}
	for _, raw := range items {
		h, err := DecodeHeader(raw)
		if err != nil || h.StatusID() == 0 {
			continue
		}
		id := h.StatusID()
		if page.MinID == 0 || id < page.MinID {
			page.MinID = id
		}
		if id > page.MaxID {
			page.MaxID = id
		}
	}

	c.logger.DebugWithFields("fetched timeline page", map[string]interface{}{
		"user_id":  req.UserID,
		"since_id": req.SinceID,
		"max_id":   req.MaxID,
		"items":    len(items),
	})
	return page, nil
}

// FetchStatus returns the raw payload of a single item.
func (c *Client) FetchStatus(ctx context.Context, id int64) (json.RawMessage, error) {
	var raw json.RawMessage
	params := url.Values{
		"id":               {strconv.FormatInt(id, 10)},
		"include_entities": {"true"},
	}
	if err := c.getJSON(ctx, EndpointStatusShow, params, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// getJSON performs a signed GET and decodes the JSON response into target
func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, target interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	reqURL := c.baseURL + "/" + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeUnknown, err, "failed to create request")
	}

	resp, err := c.doRequest(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := CheckResponse(resp); err != nil {
		c.logger.WarnWithFields("upstream request failed", map[string]interface{}{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
			"error":    err.Error(),
		})
		return err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errs.Wrap(errs.ErrorTypeNetwork, err, "failed to read response body")
	}
	if err := json.Unmarshal(body, target); err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.ErrorWithFields("failed to parse JSON response", map[string]interface{}{
			"endpoint":     endpoint,
			"error":        err.Error(),
			"body_preview": preview,
		})
		return errs.Wrap(errs.ErrorTypeParsing, err, "failed to parse %s response", endpoint)
	}
	return nil
}

// doRequest signs and sends req, recording the rate-limit advisory of
// whatever response comes back.
func (c *Client) doRequest(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	c.signer.Sign(req, nil)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.ErrorWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"path":     req.URL.Path,
			"error":    err.Error(),
			"duration": duration,
		})
		return nil, errs.Wrap(errs.ErrorTypeNetwork, err, "%s %s", req.Method, req.URL.Path)
	}

	c.recordAdvisory(resp.Header)
	c.logger.DebugWithFields("HTTP request completed", map[string]interface{}{
		"method":   req.Method,
		"path":     req.URL.Path,
		"status":   resp.StatusCode,
		"duration": duration,
	})
	return resp, nil
}

// CheckResponse maps a non-2xx response to a typed error. It consumes the
// body of failed responses.
func CheckResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var apiErr apiErrorBody
	_ = json.Unmarshal(body, &apiErr)

	code, message := 0, http.StatusText(resp.StatusCode)
	for _, e := range apiErr.Errors {
		if code == 0 || notFoundCodes[e.Code] || authCodes[e.Code] || e.Code == rateLimitCode {
			code, message = e.Code, e.Message
		}
	}

	return classify(resp.StatusCode, code, message)
}

func classify(status, code int, message string) error {
	switch {
	case notFoundCodes[code] || status == http.StatusNotFound:
		return errs.New(errs.ErrorTypeNotFound, status, "%s", describe(code, message))
	case code == rateLimitCode || status == http.StatusTooManyRequests || status == 420:
		return errs.New(errs.ErrorTypeRateLimit, status, "%s", describe(code, message))
	case authCodes[code] || status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errs.New(errs.ErrorTypeAuth, status, "%s", describe(code, message))
	case status >= 500:
		return errs.New(errs.ErrorTypeServerError, status, "%s", describe(code, message))
	default:
		return errs.New(errs.ErrorTypeUnknown, status, "%s", describe(code, message))
	}
}

func describe(code int, message string) string {
	if code == 0 {
		return message
	}
	return fmt.Sprintf("%s (api code %d)", message, code)
}
