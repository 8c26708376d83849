// Package binance implements the exchange contract for Binance USDT-M
// futures.
package binance

import (
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
	"strings"
	"time"

	"github.com/unkuseni/rs-smm-v2/internal/book"
	"github.com/unkuseni/rs-smm-v2/internal/logging"
	"github.com/unkuseni/rs-smm-v2/pkg/exchanges/common"
	"github.com/unkuseni/rs-smm-v2/pkg/timeutil"
)

// maxBatch is the per-call limit of /fapi/v1/batchOrders.
const maxBatch = 5

// Config holds Binance USDT-M futures credentials.
type Config struct {
	APIKey     string
	APISecret  string
	Testnet    bool
	RecvWindow int64 // ms
}

// Client handles Binance USDT-M futures REST and websocket access.
type Client struct {
	cfg         Config
	baseURL     string
	wsBaseURL   string
	httpClient  *http.Client
	timeSync    *common.TimeSync
	rateLimiter *common.RateLimiter
	log         *logging.Logger
}

// New creates a USDT-M futures client.
func New(cfg Config, log *logging.Logger) *Client {
	base := "https://fapi.binance.com"
	wsBase := "wss://fstream.binance.com"
	if cfg.Testnet {
		base = "https://testnet.binancefuture.com"
		wsBase = "wss://stream.binancefuture.com"
	}
	if cfg.RecvWindow == 0 {
		cfg.RecvWindow = 5000
	}
	if log == nil {
		log = logging.Discard()
	}
	c := &Client{
		cfg:        cfg,
		baseURL:    base,
		wsBaseURL:  wsBase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.With("binance"),
	}
	c.timeSync = common.NewTimeSync(c.serverTime, c.log)
	// 2400 weight per minute on the futures REST API.
	c.rateLimiter = common.NewRateLimiter(40, 10, 2400, time.Minute, c.log)
	return c
}

// Name identifies the venue.
func (c *Client) Name() string { return "binance" }

// MaxBatchSize is the per-call batch limit.
func (c *Client) MaxBatchSize() int { return maxBatch }

// SequenceRule returns Binance's book numbering contract: each delta spans
// update ids [U, u] and applies when the span covers last+1.
func (c *Client) SequenceRule() book.SequenceRule { return book.SpanRule }

// SyncTime measures the venue clock offset.
func (c *Client) SyncTime(ctx context.Context) (time.Duration, error) {
	if err := c.timeSync.Sync(ctx); err != nil {
		return 0, err
	}
	return c.timeSync.Offset(), nil
}

func (c *Client) serverTime(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/fapi/v1/time", nil)
	if err != nil {
		return 0, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrConnection, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 300 {
		b, _ := io.ReadAll(res.Body)
		return 0, fmt.Errorf("%w: server time status %d: %s", common.ErrConnection, res.StatusCode, string(b))
	}
	var out struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return 0, err
	}
	return out.ServerTime, nil
}

func (c *Client) now() int64 {
	if c.timeSync != nil && c.timeSync.Offset() != 0 {
		return c.timeSync.Now()
	}
	return timeutil.NowMillis()
}

// doPublic sends an unsigned request.
func (c *Client) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if err := c.rateLimiter.Acquire(ctx); err != nil {
		return nil, err
	}
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.send(req, path)
}

// doSigned signs the query string and sends the request. All signed fapi
// endpoints take form-encoded parameters, query-string style, regardless of
// method.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if c.cfg.APIKey == "" || c.cfg.APISecret == "" {
		return nil, fmt.Errorf("binance: %w: API key/secret required", common.ErrAuth)
	}
	if err := c.rateLimiter.Acquire(ctx); err != nil {
		return nil, err
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(c.now(), 10))
	params.Set("recvWindow", strconv.FormatInt(c.cfg.RecvWindow, 10))
	params.Set("signature", sign(params.Encode(), c.cfg.APISecret))

	var (
		req *http.Request
		err error
	)
	encoded := params.Encode()
	endpoint := c.baseURL + path
	switch method {
	case http.MethodGet, http.MethodDelete:
		req, err = http.NewRequestWithContext(ctx, method, endpoint+"?"+encoded, nil)
	default:
		req, err = http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(encoded))
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	return c.send(req, path)
}

func (c *Client) send(req *http.Request, path string) ([]byte, error) {
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConnection, err)
	}
	defer res.Body.Close()

	c.rateLimiter.UpdateFromHeader(res.Header.Get("X-MBX-USED-WEIGHT-1M"))

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", common.ErrConnection, err)
	}
	if res.StatusCode >= 300 {
		return nil, mapAPIError(res.StatusCode, body, path)
	}
	return body, nil
}

// mapAPIError translates a non-2xx fapi response into the shared taxonomy.
func mapAPIError(status int, body []byte, path string) error {
	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	_ = json.Unmarshal(body, &apiErr)

	if status == http.StatusTooManyRequests || status == 418 || apiErr.Code == -1003 {
		return fmt.Errorf("binance: %w: %s", common.ErrRateLimited, apiErr.Msg)
	}
	switch apiErr.Code {
	case -1021, -1022, -2014, -2015:
		// Timestamp drift, bad signature, bad key format, rejected key.
		return fmt.Errorf("binance: %w: code %d: %s", common.ErrAuth, apiErr.Code, apiErr.Msg)
	}
	if apiErr.Code != 0 {
		return &common.RejectionError{Code: apiErr.Code, Reason: apiErr.Msg}
	}
	return fmt.Errorf("%w: binance %s status %d: %s", common.ErrConnection, path, status, string(body))
}

// CreateListenKey opens a user data stream.
func (c *Client) CreateListenKey(ctx context.Context) (string, error) {
	if err := c.rateLimiter.Acquire(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/fapi/v1/listenKey", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	body, err := c.send(req, "/fapi/v1/listenKey")
	if err != nil {
		return "", err
	}
	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	return out.ListenKey, nil
}

// KeepAliveListenKey extends listen key life; the venue expires an idle key
// after 60 minutes.
func (c *Client) KeepAliveListenKey(ctx context.Context) error {
	if err := c.rateLimiter.Acquire(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/fapi/v1/listenKey", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.APIKey)
	_, err = c.send(req, "/fapi/v1/listenKey")
	return err
}

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
