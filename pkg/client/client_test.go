package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/tap-adp/pkg/auth"
	"github.com/ajitpratap0/tap-adp/pkg/catalog"
	"github.com/ajitpratap0/tap-adp/pkg/config"
	"github.com/ajitpratap0/tap-adp/pkg/errors"
)

// newTestClient wires a client against an API handler, with a local token
// endpoint issuing token-1, token-2, ... per request.
func newTestClient(t *testing.T, apiHandler http.Handler) (*Client, *int64) {
	t.Helper()

	var tokenHits int64
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&tokenHits, 1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"token-%d","token_type":"Bearer","expires_in":3600}`, n)
	}))
	t.Cleanup(tokenSrv.Close)

	apiSrv := httptest.NewServer(apiHandler)
	t.Cleanup(apiSrv.Close)

	cfg := config.NewConfig()
	cfg.AuthMode = config.AuthModeOAuth
	cfg.AuthURL = tokenSrv.URL
	cfg.APIURL = apiSrv.URL
	cfg.Credentials.ClientID = "id"
	cfg.Credentials.ClientSecret = "secret"
	cfg.Reliability.RetryAttempts = 3
	cfg.Reliability.RetryDelay = time.Millisecond
	cfg.Reliability.MaxRetryDelay = 10 * time.Millisecond

	a, err := auth.New(cfg)
	require.NoError(t, err)
	return New(cfg, a), &tokenHits
}

func TestGetRetriesServerErrors(t *testing.T) {
	var hits int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))

	resp, err := c.Get(context.Background(), RequestSpec{Path: "/thing"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int64(3), atomic.LoadInt64(&hits))
}

func TestGetFailsAfterRetriesExhausted(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.Get(context.Background(), RequestSpec{Path: "/thing"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTransient))
}

func TestGetHonorsRetryAfter(t *testing.T) {
	var hits int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&hits, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))

	resp, err := c.Get(context.Background(), RequestSpec{Path: "/thing"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int64(2), atomic.LoadInt64(&hits))
}

func TestGetRenewsTokenOnceOn401(t *testing.T) {
	var hits int64
	c, tokenHits := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		if r.Header.Get("Authorization") == "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))

	resp, err := c.Get(context.Background(), RequestSpec{Path: "/thing"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)

	// exactly one replay with a fresh token
	assert.Equal(t, int64(2), atomic.LoadInt64(&hits))
	assert.Equal(t, int64(2), atomic.LoadInt64(tokenHits))
}

func TestGetPersistent401IsAuthError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := c.Get(context.Background(), RequestSpec{Path: "/thing"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAuthentication))
}

func TestGet403IsPermissionError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := c.Get(context.Background(), RequestSpec{Path: "/thing"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePermission))
}

func TestGetUnexpectedStatusIsDataError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	_, err := c.Get(context.Background(), RequestSpec{Path: "/thing"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestGetSendsUserAgentAndHeaders(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "tap-adp")
		assert.Equal(t, "application/json;masked=false", r.Header.Get("Accept"))
		fmt.Fprint(w, `{}`)
	}))

	_, err := c.Get(context.Background(), RequestSpec{
		Path:    "/thing",
		Headers: map[string]string{"Accept": "application/json;masked=false"},
	})
	require.NoError(t, err)
}

func TestGetSkippableConditionByMessage(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"confirmMessage":{"processMessages":[
			{"developerMessage":{"codeValue":"X","messageTxt":"Mass Processing is currently Disabled."}}
		]}}`)
	}))

	resp, err := c.Get(context.Background(), RequestSpec{
		Path: "/thing",
		Skippable: []catalog.SkippableCondition{
			{Status: 400, MessageContains: "Mass Processing is currently Disabled"},
		},
	})
	require.NoError(t, err)
	assert.True(t, resp.Skipped)
}

func TestGetSkippableConditionByCode(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"confirmMessage":{"processMessages":[
			{"developerMessage":{"codeValue":"PAYGEN00030","messageTxt":"invalid state"}}
		]}}`)
	}))

	resp, err := c.Get(context.Background(), RequestSpec{
		Path: "/thing",
		Skippable: []catalog.SkippableCondition{
			{Status: 400, CodeValue: "PAYGEN00030"},
		},
	})
	require.NoError(t, err)
	assert.True(t, resp.Skipped)
}

func TestGetSkippable500IsNotRetried(t *testing.T) {
	var hits int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"confirmMessage":{"resourceMessages":[{"processMessages":[
			{"processMessageID":{"idValue":"Exception in the requestHTTP 500 Internal Server Error"}}
		]}]}}`)
	}))

	resp, err := c.Get(context.Background(), RequestSpec{
		Path: "/thing",
		Skippable: []catalog.SkippableCondition{
			{Status: 500, MessageContains: "Exception in the request"},
		},
	})
	require.NoError(t, err)
	assert.True(t, resp.Skipped)
	assert.Equal(t, int64(1), atomic.LoadInt64(&hits))
}

func TestGetEmptyOnStatus(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	resp, err := c.Get(context.Background(), RequestSpec{
		Path:          "/thing",
		EmptyOnStatus: []int{404},
	})
	require.NoError(t, err)
	assert.True(t, resp.Empty)
}

func TestParseRetryAfter(t *testing.T) {
	d, ok := parseRetryAfter("30")
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, d)

	_, ok = parseRetryAfter("")
	assert.False(t, ok)

	_, ok = parseRetryAfter("garbage")
	assert.False(t, ok)

	d, ok = parseRetryAfter(time.Now().Add(time.Minute).UTC().Format(http.TimeFormat))
	require.True(t, ok)
	assert.Greater(t, d, 30*time.Second)
}
