// Package tuya is a small client for the Tuya cloud OpenAPI covering token,
// device info, status and command endpoints.
package tuya

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
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	CodeTokenInvalid  = 1010
	CodeDeviceOffline = 1106
)

// APIError is a response with success=false.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tuya: code %d: %s", e.Code, e.Msg)
}

// IsDeviceOffline reports whether err is the cloud's device-offline error.
func IsDeviceOffline(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeDeviceOffline
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Result  json.RawMessage `json:"result"`
	T       int64           `json:"t"`
}

type tokenResult struct {
	AccessToken  string `json:"access_token"`
	ExpireTime   int64  `json:"expire_time"`
	RefreshToken string `json:"refresh_token"`
	UID          string `json:"uid"`
}

// Client signs and sends OpenAPI requests. It is safe for concurrent use.
type Client struct {
	endpoint  string
	accessID  string
	accessKey string

	http  *http.Client
	log   *logrus.Entry
	now   func() time.Time
	nonce func() string

	mu      sync.Mutex
	token   string
	expires time.Time
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithLogger(l *logrus.Entry) Option {
	return func(cl *Client) {
		if l != nil {
			cl.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(cl *Client) {
		if now != nil {
			cl.now = now
		}
	}
}

// NewClient returns a client for endpoint, e.g. https://openapi.tuyain.com.
func NewClient(endpoint, accessID, accessKey string, opts ...Option) *Client {
	c := &Client{
		endpoint:  strings.TrimRight(endpoint, "/"),
		accessID:  accessID,
		accessKey: accessKey,
		http:      &http.Client{Timeout: 10 * time.Second},
		log:       logrus.NewEntry(logrus.StandardLogger()),
		now:       time.Now,
		nonce:     uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Connect obtains a token, retrying with exponential backoff until maxElapsed
// (0 means the backoff default) or ctx is done.
func (c *Client) Connect(ctx context.Context, maxElapsed time.Duration) error {
	b := backoff.NewExponentialBackOff()
	if maxElapsed > 0 {
		b.MaxElapsedTime = maxElapsed
	}
	attempt := 0
	op := func() error {
		attempt++
		err := c.login(ctx)
		if err != nil {
			c.log.WithError(err).WithField("attempt", attempt).Warn("tuya connect failed")
		}
		return err
	}
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return errors.Wrap(err, "tuya connect")
	}
	c.log.Info("connected to tuya cloud")
	return nil
}

func (c *Client) login(ctx context.Context) error {
	env, err := c.send(ctx, http.MethodGet, "/v1.0/token?grant_type=1", nil, "")
	if err != nil {
		return err
	}
	if !env.Success {
		return &APIError{Code: env.Code, Msg: env.Msg}
	}
	var tr tokenResult
	if err := json.Unmarshal(env.Result, &tr); err != nil {
		return errors.Wrap(err, "decode token")
	}
	if tr.AccessToken == "" {
		return errors.New("tuya: empty access token")
	}
	c.mu.Lock()
	c.token = tr.AccessToken
	c.expires = c.now().Add(time.Duration(tr.ExpireTime) * time.Second)
	c.mu.Unlock()
	return nil
}

func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	tok, exp := c.token, c.expires
	c.mu.Unlock()
	if tok != "" && c.now().Before(exp.Add(-time.Minute)) {
		return tok, nil
	}
	if err := c.login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token, nil
}

func (c *Client) invalidate() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// call performs an authenticated request. A token-invalid response forces a
// re-login and one retry.
func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		payload = b
	}

	for attempt := 0; ; attempt++ {
		tok, err := c.currentToken(ctx)
		if err != nil {
			return errors.Wrap(err, "tuya token")
		}
		env, err := c.send(ctx, method, path, payload, tok)
		if err != nil {
			return err
		}
		if !env.Success {
			if env.Code == CodeTokenInvalid && attempt == 0 {
				c.log.WithField("path", path).Warn("tuya token invalid, logging in again")
				c.invalidate()
				continue
			}
			return &APIError{Code: env.Code, Msg: env.Msg}
		}
		if out == nil || len(env.Result) == 0 {
			return nil
		}
		return errors.Wrapf(json.Unmarshal(env.Result, out), "decode %s", path)
	}
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, token string) (*envelope, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	t := strconv.FormatInt(c.now().UnixMilli(), 10)
	nonce := c.nonce()
	req.Header.Set("client_id", c.accessID)
	req.Header.Set("t", t)
	req.Header.Set("nonce", nonce)
	req.Header.Set("sign_method", "HMAC-SHA256")
	req.Header.Set("sign", c.sign(method, req.URL, body, token, t, nonce))
	if token != "" {
		req.Header.Set("access_token", token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("%s %s: http %d", method, path, resp.StatusCode)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errors.Wrapf(err, "decode %s response", path)
	}
	return &env, nil
}

// sign computes HMAC-SHA256(secret, client_id + access_token + t + nonce + stringToSign).
func (c *Client) sign(method string, u *url.URL, body []byte, token, t, nonce string) string {
	sum := sha256.Sum256(body)
	stringToSign := strings.Join([]string{
		strings.ToUpper(method),
		hex.EncodeToString(sum[:]),
		"",
		signedURL(u),
	}, "\n")
	mac := hmac.New(sha256.New, []byte(c.accessKey))
	mac.Write([]byte(c.accessID + token + t + nonce + stringToSign))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// signedURL is the path with query parameters sorted by key.
func signedURL(u *url.URL) string {
	q := u.Query()
	if len(q) == 0 {
		return u.Path
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, v := range q[k] {
			parts = append(parts, k+"="+v)
		}
	}
	return u.Path + "?" + strings.Join(parts, "&")
}
