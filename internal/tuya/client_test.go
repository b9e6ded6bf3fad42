package tuya

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloud struct {
	t *testing.T

	mu          sync.Mutex
	logins      int
	rejectNext  bool
	online      bool
	status      []map[string]any
	commands    []string
	acceptCodes map[string]bool
	lastHeaders http.Header
}

func (f *fakeCloud) reply(w http.ResponseWriter, success bool, code int, msg string, result any) {
	b, _ := json.Marshal(result)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"success": success, "code": code, "msg": msg, "result": json.RawMessage(b), "t": 0,
	})
}

func (f *fakeCloud) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastHeaders = r.Header.Clone()

	if r.URL.Path == "/v1.0/token" {
		f.logins++
		f.reply(w, true, 0, "", map[string]any{"access_token": "tok", "expire_time": 7200})
		return
	}
	if r.Header.Get("access_token") != "tok" {
		f.reply(w, false, CodeTokenInvalid, "token invalid", nil)
		return
	}
	if f.rejectNext {
		f.rejectNext = false
		f.reply(w, false, CodeTokenInvalid, "token invalid", nil)
		return
	}
	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1.0/devices/dev1":
		f.reply(w, true, 0, "", map[string]any{"id": "dev1", "online": f.online})
	case r.Method == http.MethodGet && r.URL.Path == "/v1.0/devices/dev1/status":
		f.reply(w, true, 0, "", f.status)
	case r.Method == http.MethodPost && r.URL.Path == "/v1.0/devices/dev1/commands":
		body, _ := io.ReadAll(r.Body)
		var req struct {
			Commands []Command `json:"commands"`
		}
		assert.NoError(f.t, json.Unmarshal(body, &req))
		code := req.Commands[0].Code
		f.commands = append(f.commands, code)
		if f.acceptCodes[code] {
			f.reply(w, true, 0, "", true)
			return
		}
		f.reply(w, false, 2008, "command or value not support", nil)
	case r.URL.Path == "/v1.0/devices/gone":
		f.reply(w, false, CodeDeviceOffline, "device is offline", nil)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeCloud) loginCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.logins
}

func (f *fakeCloud) header(key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastHeaders.Get(key)
}

func (f *fakeCloud) sentCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeCloud) set(fn func(f *fakeCloud)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func newTestClient(t *testing.T, cloud *fakeCloud) *Client {
	t.Helper()
	srv := httptest.NewServer(cloud)
	t.Cleanup(srv.Close)
	logger, _ := test.NewNullLogger()
	return NewClient(srv.URL, "client-id", "secret", WithLogger(logrus.NewEntry(logger)))
}

func TestConnectAndDeviceOnline(t *testing.T) {
	cloud := &fakeCloud{t: t, online: true}
	c := newTestClient(t, cloud)

	require.NoError(t, c.Connect(context.Background(), time.Second))
	online, err := c.DeviceOnline(context.Background(), "dev1")
	require.NoError(t, err)

	assert.True(t, online)
	assert.Equal(t, 1, cloud.loginCount())
	assert.Equal(t, "client-id", cloud.header("client_id"))
	assert.Equal(t, "HMAC-SHA256", cloud.header("sign_method"))
	assert.NotEmpty(t, cloud.header("nonce"))
	assert.Len(t, cloud.header("sign"), 64)
}

func TestTokenInvalidForcesReloginOnce(t *testing.T) {
	cloud := &fakeCloud{t: t, online: false}
	c := newTestClient(t, cloud)
	require.NoError(t, c.Connect(context.Background(), time.Second))

	cloud.set(func(f *fakeCloud) { f.rejectNext = true })
	online, err := c.DeviceOnline(context.Background(), "dev1")

	require.NoError(t, err)
	assert.False(t, online)
	assert.Equal(t, 2, cloud.loginCount())
}

func TestLazyLoginWithoutConnect(t *testing.T) {
	cloud := &fakeCloud{t: t, status: []map[string]any{
		{"code": "switch", "value": true},
		{"code": "output_voltage", "value": 2301},
	}}
	c := newTestClient(t, cloud)

	points, err := c.DeviceStatus(context.Background(), "dev1")
	require.NoError(t, err)

	require.Len(t, points, 2)
	assert.Equal(t, "switch", points[0].Code)
	assert.Equal(t, true, points[0].Value)
	assert.Equal(t, float64(2301), points[1].Value)
	assert.Equal(t, 1, cloud.loginCount())
}

func TestDeviceOfflineError(t *testing.T) {
	c := newTestClient(t, &fakeCloud{t: t})

	_, err := c.DeviceOnline(context.Background(), "gone")

	require.Error(t, err)
	assert.True(t, IsDeviceOffline(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, CodeDeviceOffline, apiErr.Code)
}

func TestSetSwitchFallsBackToSwitch1(t *testing.T) {
	cloud := &fakeCloud{t: t, acceptCodes: map[string]bool{"switch_1": true}}
	c := newTestClient(t, cloud)

	require.NoError(t, c.SetSwitch(context.Background(), "dev1", false))
	assert.Equal(t, []string{"switch", "switch_1"}, cloud.sentCommands())
}

func TestSetSwitchAllRejected(t *testing.T) {
	cloud := &fakeCloud{t: t, acceptCodes: map[string]bool{}}
	c := newTestClient(t, cloud)

	err := c.SetSwitch(context.Background(), "dev1", true)
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 2008, apiErr.Code)
}

func TestSwitchStatus(t *testing.T) {
	cloud := &fakeCloud{t: t, status: []map[string]any{
		{"code": "output_power", "value": 10},
		{"code": "relay", "value": true, "dp_id": 16},
	}}
	c := newTestClient(t, cloud)

	on, err := c.SwitchStatus(context.Background(), "dev1")
	require.NoError(t, err)
	assert.True(t, on)

	cloud.set(func(f *fakeCloud) { f.status = []map[string]any{{"code": "output_power", "value": 10}} })
	_, err = c.SwitchStatus(context.Background(), "dev1")
	assert.ErrorIs(t, err, ErrSwitchNotFound)
}

func TestSignIsDeterministic(t *testing.T) {
	c := NewClient("https://example.invalid", "id", "key")
	u, err := url.Parse("https://example.invalid/v1.0/token?grant_type=1&a=2")
	require.NoError(t, err)

	s1 := c.sign("GET", u, nil, "", "1700000000000", "n")
	s2 := c.sign("get", u, nil, "", "1700000000000", "n")
	s3 := c.sign("GET", u, nil, "tok", "1700000000000", "n")

	assert.Equal(t, s1, s2)
	assert.NotEqual(t, s1, s3)
	assert.Equal(t, "/v1.0/token?a=2&grant_type=1", signedURL(u))
}

func TestConnectGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	logger, _ := test.NewNullLogger()
	c := NewClient(srv.URL, "id", "key", WithLogger(logrus.NewEntry(logger)))

	err := c.Connect(context.Background(), 200*time.Millisecond)
	assert.Error(t, err)
}
