// Package cloudstack talks to the CloudStack management server API and maps its
// JSON records onto inventory entities.
package cloudstack

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	simplejson "github.com/bitly/go-simplejson"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/stackpanel/stackpanel/internal/config"
	"github.com/stackpanel/stackpanel/internal/domain"
)

// Params are the query parameters of an API command.
type Params map[string]string

// APIError is a CloudStack error envelope or an unexpected HTTP reply.
type APIError struct {
	Command    string
	StatusCode int
	Code       int
	Text       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloudstack %s: error %d: %s", e.Command, e.Code, e.Text)
}

func (e *APIError) Unwrap() error {
	switch e.Code {
	case 401, 432:
		return domain.ErrPermissionDenied
	case 431:
		return domain.ErrInvalidArgument
	default:
		return domain.ErrUnavailable
	}
}

// Client is a signing, paging CloudStack API client.
type Client struct {
	baseURL   string
	apiKey    string
	secretKey string
	pageSize  int
	http      *retryablehttp.Client
	logger    *zap.Logger
}

// NewClient creates a client for the management server at cfg.URL.
func NewClient(cfg config.CloudStackConfig, logger *zap.Logger) *Client {
	logger = logger.With(zap.String("component", "cloudstack"))

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = cfg.RetryMax
	httpClient.HTTPClient.Timeout = cfg.Timeout
	httpClient.Logger = leveledLogger{logger.Sugar()}
	httpClient.CheckRetry = checkRetry
	httpClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = 500
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.URL, "?"),
		apiKey:    cfg.APIKey,
		secretKey: cfg.SecretKey,
		pageSize:  pageSize,
		http:      httpClient,
		logger:    logger,
	}
}

// List runs a list command across all pages and returns every record.
func (c *Client) List(ctx context.Context, command string, params Params) ([]*simplejson.Json, error) {
	var records []*simplejson.Json

	for page := 1; ; page++ {
		p := Params{"listall": "true"}
		for k, v := range params {
			p[k] = v
		}
		p["page"] = strconv.Itoa(page)
		p["pagesize"] = strconv.Itoa(c.pageSize)

		items, total, err := c.call(ctx, command, p)
		if err != nil {
			return nil, err
		}
		records = append(records, items...)

		if len(items) < c.pageSize || (total > 0 && len(records) >= total) {
			break
		}
	}

	c.logger.Debug("Listed records", zap.String("command", command), zap.Int("count", len(records)))
	return records, nil
}

// ListOnce runs a list command that does not support paging.
func (c *Client) ListOnce(ctx context.Context, command string, params Params) ([]*simplejson.Json, error) {
	items, _, err := c.call(ctx, command, params)
	return items, err
}

// CheckAuth verifies the endpoint and credentials.
func (c *Client) CheckAuth(ctx context.Context) error {
	_, _, err := c.call(ctx, "listCapabilities", nil)
	return err
}

func (c *Client) call(ctx context.Context, command string, params Params) ([]*simplejson.Json, int, error) {
	p := Params{"command": command, "response": "json", "apiKey": c.apiKey}
	for k, v := range params {
		p[k] = v
	}
	query := encode(p)
	requestURL := fmt.Sprintf("%s?%s&signature=%s", c.baseURL, query, url.QueryEscape(Sign(query, c.secretKey)))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("new %s request: %w", command, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("cloudstack %s: %w: %w", command, domain.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("read %s response: %w", command, err)
	}

	js, err := simplejson.NewJson(body)
	if err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, 0, &APIError{Command: command, StatusCode: resp.StatusCode, Code: resp.StatusCode, Text: http.StatusText(resp.StatusCode)}
		}
		return nil, 0, fmt.Errorf("parse %s response: %w", command, err)
	}

	envelope, ok := js.CheckGet(strings.ToLower(command) + "response")
	if !ok {
		envelope, ok = js.CheckGet("errorresponse")
	}
	if !ok {
		return nil, 0, &APIError{Command: command, StatusCode: resp.StatusCode, Code: resp.StatusCode, Text: "missing response envelope"}
	}

	if text, ok := envelope.CheckGet("errortext"); ok {
		code := envelope.Get("errorcode").MustInt(resp.StatusCode)
		return nil, 0, &APIError{Command: command, StatusCode: resp.StatusCode, Code: code, Text: text.MustString()}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, &APIError{Command: command, StatusCode: resp.StatusCode, Code: resp.StatusCode, Text: http.StatusText(resp.StatusCode)}
	}

	items := itemsOf(envelope)
	return items, envelope.Get("count").MustInt(0), nil
}

// itemsOf returns the records of a list envelope. The record key differs per command
// (zone, ostype, networkacllist, ...) but it is the only array in the envelope.
func itemsOf(envelope *simplejson.Json) []*simplejson.Json {
	m, err := envelope.Map()
	if err != nil {
		return nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		arr, ok := m[k].([]interface{})
		if !ok {
			continue
		}
		items := make([]*simplejson.Json, 0, len(arr))
		list := envelope.Get(k)
		for i := range arr {
			items = append(items, list.GetIndex(i))
		}
		return items
	}
	return nil
}

// encode builds the canonical query string: keys sorted case-insensitively,
// values escaped with spaces as %20.
func encode(params Params) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return strings.ToLower(keys[i]) < strings.ToLower(keys[j])
	})

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := strings.ReplaceAll(url.QueryEscape(params[k]), "+", "%20")
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, "&")
}

// Sign returns the base64 HMAC-SHA1 signature of the lowercased canonical query.
func Sign(query, secretKey string) string {
	mac := hmac.New(sha1.New, []byte(secretKey))
	mac.Write([]byte(strings.ToLower(query)))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// checkRetry retries transport failures and throttling. CloudStack reports
// command errors with 4xx and 530 codes which are not retried.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) && errors.Is(urlErr.Err, context.Canceled) {
			return false, err
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true, nil
	}
	return false, nil
}

// leveledLogger adapts zap to retryablehttp.LeveledLogger.
type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) { l.s.Errorw(msg, keysAndValues...) }
func (l leveledLogger) Info(msg string, keysAndValues ...interface{})  { l.s.Debugw(msg, keysAndValues...) }
func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) { l.s.Debugw(msg, keysAndValues...) }
func (l leveledLogger) Warn(msg string, keysAndValues ...interface{})  { l.s.Warnw(msg, keysAndValues...) }
