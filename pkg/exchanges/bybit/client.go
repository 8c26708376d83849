// Package bybit implements the exchange contract for Bybit v5 linear
// perpetuals.
package bybit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/unkuseni/rs-smm-v2/internal/book"
	"github.com/unkuseni/rs-smm-v2/internal/logging"
	"github.com/unkuseni/rs-smm-v2/pkg/exchanges/common"
	"github.com/unkuseni/rs-smm-v2/pkg/timeutil"
)

// Every request targets the USDT perpetual product line.
const category = "linear"

// maxBatch is Bybit's per-call limit for batch order endpoints.
const maxBatch = 10

// Config holds Bybit credentials and connection options.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
}

// Client handles Bybit v5 linear REST and websocket access.
type Client struct {
	cfg          Config
	baseURL      string
	wsPublicURL  string
	wsPrivateURL string
	httpClient   *http.Client
	timeSync     *common.TimeSync
	rateLimiter  *common.RateLimiter
	log          *logging.Logger
}

// New creates a Bybit client.
func New(cfg Config, log *logging.Logger) *Client {
	base := "https://api.bybit.com"
	wsPublic := "wss://stream.bybit.com/v5/public/linear"
	wsPrivate := "wss://stream.bybit.com/v5/private"
	if cfg.Testnet {
		base = "https://api-testnet.bybit.com"
		wsPublic = "wss://stream-testnet.bybit.com/v5/public/linear"
		wsPrivate = "wss://stream-testnet.bybit.com/v5/private"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if log == nil {
		log = logging.Discard()
	}
	c := &Client{
		cfg:          cfg,
		baseURL:      base,
		wsPublicURL:  wsPublic,
		wsPrivateURL: wsPrivate,
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		log:          log.With("bybit"),
	}
	c.timeSync = common.NewTimeSync(c.serverTime, c.log)
	// 600 requests per 5s window on the shared IP limit.
	c.rateLimiter = common.NewRateLimiter(100, 20, 600, 5*time.Second, c.log)
	return c
}

// Name identifies the venue.
func (c *Client) Name() string { return "bybit" }

// MaxBatchSize is the per-call batch limit.
func (c *Client) MaxBatchSize() int { return maxBatch }

// SequenceRule returns Bybit's book numbering contract: one strictly
// increasing update id per delta.
func (c *Client) SequenceRule() book.SequenceRule { return book.StrictRule }

// SyncTime measures the venue clock offset.
func (c *Client) SyncTime(ctx context.Context) (time.Duration, error) {
	if err := c.timeSync.Sync(ctx); err != nil {
		return 0, err
	}
	return c.timeSync.Offset(), nil
}

func (c *Client) serverTime(ctx context.Context) (int64, error) {
	env, err := c.do(ctx, http.MethodGet, "/v5/market/time", nil, nil, false)
	if err != nil {
		return 0, err
	}
	var out struct {
		TimeNano string `json:"timeNano"`
	}
	if err := json.Unmarshal(env.Result, &out); err != nil {
		return 0, err
	}
	nanos, err := strconv.ParseInt(out.TimeNano, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse timeNano: %w", err)
	}
	return nanos / int64(time.Millisecond), nil
}

func (c *Client) now() int64 {
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		return c.timeSync.Now()
	}
	return timeutil.NowMillis()
}

// envelope is the common v5 response wrapper.
type envelope struct {
	RetCode    int             `json:"retCode"`
	RetMsg     string          `json:"retMsg"`
	Result     json.RawMessage `json:"result"`
	RetExtInfo json.RawMessage `json:"retExtInfo"`
	Time       int64           `json:"time"`
}

// do sends one request and decodes the envelope. query is used for GET,
// body for POST; signed requests carry the X-BAPI headers over
// timestamp + key + recvWindow + payload.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, signed bool) (*envelope, error) {
	if err := c.rateLimiter.Acquire(ctx); err != nil {
		return nil, err
	}

	var (
		payload string
		reader  io.Reader
	)
	endpoint := c.baseURL + path
	switch method {
	case http.MethodGet:
		if len(query) > 0 {
			payload = query.Encode()
			endpoint += "?" + payload
		}
	default:
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		payload = string(raw)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	if method != http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
			return nil, fmt.Errorf("bybit: %w: API key/secret required", common.ErrAuth)
		}
		ts := strconv.FormatInt(c.now(), 10)
		recv := strconv.FormatInt(c.cfg.RecvWindow, 10)
		req.Header.Set("X-BAPI-API-KEY", c.cfg.APIKey)
		req.Header.Set("X-BAPI-TIMESTAMP", ts)
		req.Header.Set("X-BAPI-RECV-WINDOW", recv)
		req.Header.Set("X-BAPI-SIGN", sign(ts+c.cfg.APIKey+recv+payload, c.cfg.APISecret))
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConnection, err)
	}
	defer res.Body.Close()

	c.trackUsage(res.Header)

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", common.ErrConnection, err)
	}
	if res.StatusCode == http.StatusTooManyRequests {
		return nil, common.ErrRateLimited
	}
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: bybit %s %s status %d: %s", common.ErrConnection, method, path, res.StatusCode, string(raw))
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if err := mapRetCode(env.RetCode, env.RetMsg); err != nil {
		return nil, err
	}
	return &env, nil
}

// trackUsage converts Bybit's remaining-quota headers into used weight for
// the shared limiter.
func (c *Client) trackUsage(h http.Header) {
	limitStr := h.Get("X-Bapi-Limit")
	remStr := h.Get("X-Bapi-Limit-Status")
	if limitStr == "" || remStr == "" {
		return
	}
	limit, err1 := strconv.Atoi(limitStr)
	rem, err2 := strconv.Atoi(remStr)
	if err1 != nil || err2 != nil || rem > limit {
		return
	}
	c.rateLimiter.UpdateFromHeader(strconv.Itoa(limit - rem))
}

// mapRetCode translates v5 return codes into the shared taxonomy. Unmapped
// nonzero codes are venue rejections, preserved verbatim.
func mapRetCode(code int, msg string) error {
	switch code {
	case 0:
		return nil
	case 10003, 10004, 33004:
		// Invalid key, signature error, expired key.
		return fmt.Errorf("bybit: %w: retCode %d: %s", common.ErrAuth, code, msg)
	case 10006, 10018:
		return fmt.Errorf("bybit: %w: retCode %d: %s", common.ErrRateLimited, code, msg)
	case 10016:
		// Internal server error, safe to retry.
		return fmt.Errorf("bybit: %w: retCode %d: %s", common.ErrConnection, code, msg)
	default:
		return &common.RejectionError{Code: code, Reason: msg}
	}
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
