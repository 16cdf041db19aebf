// Package hyperliquid implements the venue interface against the Hyperliquid
// L1. Market data comes from the /info endpoint; orders are msgpack-hashed,
// EIP-712 signed actions posted to /exchange by the exchange subpackage.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://api.hyperliquid.xyz"

	// Transport retry policy for /info queries, which are all reads.
	retryAttempts  = 5
	retryBaseDelay = 200 * time.Millisecond
)

// InfoClient posts typed queries to /info.
type InfoClient struct {
	baseURL string
	http    *http.Client
	log     *zap.Logger
}

func NewInfoClient(baseURL string, timeout time.Duration, log *zap.Logger) *InfoClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &InfoClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
		},
		log: log,
	}
}

type AssetInfo struct {
	Name        string `json:"name"`
	SzDecimals  int    `json:"szDecimals"`
	MaxLeverage int    `json:"maxLeverage"`
}

type AssetCtx struct {
	Funding string `json:"funding"`
	MarkPx  string `json:"markPx"`
	MidPx   string `json:"midPx"`
}

// PerpMeta pairs the universe entry with its live context for one asset.
// Index is the asset id used on order wires.
type PerpMeta struct {
	Index int
	Asset AssetInfo
	Ctx   AssetCtx
}

// MetaAndAssetCtxs returns the full perp universe with per-asset contexts.
// The response is a two-element array: [{universe: [...]}, [ctx, ...]] with
// the arrays index-aligned.
func (c *InfoClient) MetaAndAssetCtxs(ctx context.Context) ([]PerpMeta, error) {
	raw, err := c.post(ctx, map[string]string{"type": "metaAndAssetCtxs"})
	if err != nil {
		return nil, err
	}
	var payload []json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode metaAndAssetCtxs: %w", err)
	}
	if len(payload) < 2 {
		return nil, fmt.Errorf("metaAndAssetCtxs returned %d elements", len(payload))
	}
	var meta struct {
		Universe []AssetInfo `json:"universe"`
	}
	if err := json.Unmarshal(payload[0], &meta); err != nil {
		return nil, fmt.Errorf("decode universe: %w", err)
	}
	var ctxs []AssetCtx
	if err := json.Unmarshal(payload[1], &ctxs); err != nil {
		return nil, fmt.Errorf("decode asset contexts: %w", err)
	}
	out := make([]PerpMeta, 0, len(meta.Universe))
	for i, asset := range meta.Universe {
		pm := PerpMeta{Index: i, Asset: asset}
		if i < len(ctxs) {
			pm.Ctx = ctxs[i]
		}
		out = append(out, pm)
	}
	return out, nil
}

type ClearinghouseState struct {
	Withdrawable   string `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			Coin     string `json:"coin"`
			Szi      string `json:"szi"`
			EntryPx  string `json:"entryPx"`
			Leverage struct {
				Type  string  `json:"type"`
				Value float64 `json:"value"`
			} `json:"leverage"`
		} `json:"position"`
	} `json:"assetPositions"`
}

func (c *InfoClient) ClearinghouseState(ctx context.Context, user string) (ClearinghouseState, error) {
	raw, err := c.post(ctx, map[string]string{"type": "clearinghouseState", "user": user})
	if err != nil {
		return ClearinghouseState{}, err
	}
	var out ClearinghouseState
	if err := json.Unmarshal(raw, &out); err != nil {
		return ClearinghouseState{}, fmt.Errorf("decode clearinghouseState: %w", err)
	}
	return out, nil
}

type OrderStatus struct {
	Found  bool
	Status string
	SzLeft string
	Sz     string
	AvgPx  string
}

// QueryOrderStatus looks an order up by oid. Status values of interest:
// "open", "filled", "canceled", "rejected", "marginCanceled".
func (c *InfoClient) QueryOrderStatus(ctx context.Context, user string, oid int64) (OrderStatus, error) {
	raw, err := c.post(ctx, map[string]any{"type": "orderStatus", "user": user, "oid": oid})
	if err != nil {
		return OrderStatus{}, err
	}
	var out struct {
		Status string `json:"status"`
		Order  struct {
			Status string `json:"status"`
			Order  struct {
				Sz      string `json:"sz"`
				OrigSz  string `json:"origSz"`
				LimitPx string `json:"limitPx"`
			} `json:"order"`
		} `json:"order"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return OrderStatus{}, fmt.Errorf("decode orderStatus: %w", err)
	}
	if out.Status != "order" {
		return OrderStatus{Found: false}, nil
	}
	return OrderStatus{
		Found:  true,
		Status: out.Order.Status,
		SzLeft: out.Order.Order.Sz,
		Sz:     out.Order.Order.OrigSz,
		AvgPx:  out.Order.Order.LimitPx,
	}, nil
}

// AllMids returns the current mid price per coin.
func (c *InfoClient) AllMids(ctx context.Context) (map[string]string, error) {
	raw, err := c.post(ctx, map[string]string{"type": "allMids"})
	if err != nil {
		return nil, err
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode allMids: %w", err)
	}
	return out, nil
}

// post sends a typed /info query. Every /info query is idempotent, so
// transport failures and 5xx responses are retried with doubling backoff;
// answers the API rejected itself are returned as-is.
func (c *InfoClient) post(ctx context.Context, req any) (json.RawMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	backoff := retryBaseDelay
	for attempt := 0; ; attempt++ {
		body, err := c.postOnce(ctx, payload)
		if err == nil || !transientError(err) {
			return body, err
		}
		if attempt == retryAttempts-1 {
			return nil, fmt.Errorf("gave up after %d attempts: %w", retryAttempts, err)
		}
		c.log.Debug("info request retried",
			zap.Int("attempt", attempt+1),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

func (c *InfoClient) postOnce(ctx context.Context, payload []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/info", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &statusError{Status: resp.StatusCode, Body: string(body[:min(len(body), 2048)])}
	}
	return body, nil
}

// statusError is a non-2xx /info response.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// transientError reports whether a failure is worth retrying: connection
// errors and 5xx responses. Client errors and context cancellation are final.
func transientError(err error) bool {
	var st *statusError
	if errors.As(err, &st) {
		return st.Status >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
