package cryptocompare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeovahfialho/cctool/pkg/metrics"
	"go.uber.org/zap"
)

const (
	DefaultAuthURL   = "https://auth-api.cryptocompare.com"
	DefaultSiteURL   = "https://www.cryptocompare.com"
	DefaultMinAPIURL = "https://min-api.cryptocompare.com"
)

// Client talks to the CryptoCompare portfolio service. It keeps no session
// state: every authenticated call takes the Session it acts for.
type Client struct {
	httpClient *http.Client
	authURL    string
	siteURL    string
	minAPIURL  string
	logger     *zap.Logger
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithBaseURLs overrides the service endpoints. Empty values keep the default.
func WithBaseURLs(auth, site, minAPI string) ClientOption {
	return func(c *Client) {
		if auth != "" {
			c.authURL = strings.TrimRight(auth, "/")
		}
		if site != "" {
			c.siteURL = strings.TrimRight(site, "/")
		}
		if minAPI != "" {
			c.minAPIURL = strings.TrimRight(minAPI, "/")
		}
	}
}

func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.logger = l
	}
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		authURL:    DefaultAuthURL,
		siteURL:    DefaultSiteURL,
		minAPIURL:  DefaultMinAPIURL,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError is a response whose envelope is not "Success".
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("cryptocompare %s: status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("cryptocompare %s: %s", e.Operation, e.Message)
}

type envelope struct {
	Response string          `json:"Response"`
	Message  string          `json:"Message"`
	Data     json.RawMessage `json:"Data"`
}

// ID accepts identifiers sent either as JSON strings or numbers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	s := string(b)
	if s == "null" {
		*id = ""
		return nil
	}
	*id = ID(strings.Trim(s, `"`))
	return nil
}

func (id ID) String() string { return string(id) }

// call performs one envelope request and decodes Data into out.
func (c *Client) call(ctx context.Context, op, method, url, authKey string, payload, out interface{}) error {
	body, status, err := c.do(ctx, op, method, url, authKey, payload)
	if err != nil {
		return err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("cryptocompare %s: decode response (status %d): %w", op, status, err)
	}
	if env.Response != "Success" {
		return &APIError{Operation: op, StatusCode: status, Message: env.Message}
	}

	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("cryptocompare %s: decode data: %w", op, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, url, authKey string, payload interface{}) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("cryptocompare %s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("cryptocompare %s: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authKey != "" {
		req.AddCookie(&http.Cookie{Name: "auth_key", Value: authKey})
	}

	timer := metrics.NewTimer()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordRemoteCall(op, err, timer.Elapsed().Seconds())
		return nil, 0, fmt.Errorf("cryptocompare %s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	metrics.RecordRemoteCall(op, err, timer.Elapsed().Seconds())
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("cryptocompare %s: read response: %w", op, err)
	}

	c.logger.Debug("remote call",
		zap.String("operation", op),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", timer.Elapsed()),
	)

	return body, resp.StatusCode, nil
}
