// Package binance implements the venue interface against the Binance USD-M
// futures REST API. Private endpoints are HMAC-signed; request timestamps are
// offset by a server-time delta sampled at startup so a skewed local clock
// does not fail the recvWindow check.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://fapi.binance.com"

	recvWindowMS = 5000

	// Transport retry policy for idempotent reads.
	retryAttempts  = 5
	retryBaseDelay = 200 * time.Millisecond
)

type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
	log       *zap.Logger

	// timeOffsetMS is serverTime - localTime, applied to every signed
	// request timestamp.
	timeOffsetMS atomic.Int64
}

func NewClient(baseURL, apiKey, apiSecret string, timeout time.Duration, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

// apiError is Binance's error envelope. Code 0 on a 2xx body means success.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("binance api error %d: %s", e.Code, e.Msg)
}

// statusError is a non-2xx response that did not carry the API error envelope.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// SyncTime samples the server clock and records the offset used for signed
// requests. Called once at startup; a failure leaves the offset at zero.
func (c *Client) SyncTime(ctx context.Context) error {
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := c.get(ctx, "/fapi/v1/time", nil, &out); err != nil {
		return fmt.Errorf("server time: %w", err)
	}
	offset := out.ServerTime - time.Now().UnixMilli()
	c.timeOffsetMS.Store(offset)
	c.log.Debug("binance clock synced", zap.Int64("offset_ms", offset))
	return nil
}

func (c *Client) timestampMS() int64 {
	return time.Now().UnixMilli() + c.timeOffsetMS.Load()
}

func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// get performs an unsigned GET against a public endpoint. Public reads are
// idempotent, so transport failures are retried.
func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	var body []byte
	err := c.withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		body, err = c.do(req)
		return err
	})
	if err != nil {
		return err
	}
	return decodeResponse(path, body, out)
}

// signed performs an authenticated request. Parameters travel in the query
// string for every method; the signature covers the full encoded query.
// Signed GETs are idempotent reads and retried with a fresh timestamp and
// signature per attempt. Mutating methods get exactly one attempt: a dropped
// response on POST /order may still have placed the order.
func (c *Client) signed(ctx context.Context, method, path string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	attempt := func() ([]byte, error) {
		params.Set("timestamp", fmt.Sprintf("%d", c.timestampMS()))
		params.Set("recvWindow", fmt.Sprintf("%d", recvWindowMS))
		query := params.Encode()
		query += "&signature=" + c.sign(query)

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?"+query, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-MBX-APIKEY", c.apiKey)
		return c.do(req)
	}

	var body []byte
	var err error
	if method == http.MethodGet {
		err = c.withRetry(ctx, func() error {
			var attemptErr error
			body, attemptErr = attempt()
			return attemptErr
		})
	} else {
		body, err = attempt()
	}
	if err != nil {
		return err
	}
	return decodeResponse(path, body, out)
}

// withRetry runs fn up to retryAttempts times with doubling backoff. Errors
// the API answered itself are final; only transport-level failures and 5xx
// responses are retried.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	backoff := retryBaseDelay
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil || !transientError(err) {
			return err
		}
		if attempt == retryAttempts-1 {
			break
		}
		c.log.Debug("binance request retried",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", retryAttempts, err)
}

// transientError reports whether a failure is worth retrying: connection
// errors and 5xx responses. API rejections and context cancellation are final.
func transientError(err error) bool {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return false
	}
	var st *statusError
	if errors.As(err, &st) {
		return st.Status >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 {
			return nil, &apiErr
		}
		return nil, &statusError{Status: resp.StatusCode, Body: string(body[:min(len(body), 2048)])}
	}
	return body, nil
}

func decodeResponse(path string, body []byte, out interface{}) error {
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
