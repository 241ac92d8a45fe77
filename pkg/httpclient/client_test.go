package httpclient

import (
	"context"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	c := New()
	assert.Equal(t, 3, c.maxRetries)
	assert.Equal(t, time.Second, c.baseDelay)
	assert.Equal(t, 60*time.Second, c.client.Timeout)
	assert.NotNil(t, c.strategyFunc)

	c = New(WithMaxRetries(1), WithBaseDelay(5*time.Millisecond), WithTimeout(time.Second))
	assert.Equal(t, 1, c.maxRetries)
	assert.Equal(t, 5*time.Millisecond, c.baseDelay)
	assert.Equal(t, time.Second, c.client.Timeout)
}

func TestDefaultRetryStrategy(t *testing.T) {
	assert.Equal(t, SmartRetry, DefaultRetryStrategy(http.StatusTooManyRequests))
	assert.Equal(t, SmartRetry, DefaultRetryStrategy(http.StatusServiceUnavailable))
	assert.Equal(t, ConservativeRetry, DefaultRetryStrategy(http.StatusBadGateway))
	assert.Equal(t, NoRetry, DefaultRetryStrategy(http.StatusBadRequest))
	assert.Equal(t, NoRetry, DefaultRetryStrategy(http.StatusOK))
}

func TestDoJSON_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"answer":"ok"}`))
	}))
	defer srv.Close()

	var out struct {
		Answer string `json:"answer"`
	}
	err := New().DoJSON(context.Background(), http.MethodPost, srv.URL, map[string]string{"Authorization": "Bearer k"}, map[string]string{"q": "x"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Answer)
}

func TestDoJSON_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(WithBaseDelay(time.Millisecond))
	err := c.DoJSON(context.Background(), http.MethodPost, srv.URL, nil, map[string]int{"a": 1}, &struct{}{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoJSON_NonRetryableError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`invalid key`))
	}))
	defer srv.Close()

	err := New().DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)
	require.Error(t, err)

	var he *HTTPError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, http.StatusUnauthorized, he.StatusCode)
	assert.Equal(t, "invalid key", he.Body)
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoJSON_GivesUp(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(WithMaxRetries(2), WithBaseDelay(time.Millisecond))
	err := c.DoJSON(context.Background(), http.MethodGet, srv.URL, nil, nil, nil)

	var re *RetryableError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusTooManyRequests, re.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := New().DoJSON(ctx, http.MethodGet, srv.URL, nil, nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseRetryHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "7")
	h.Set("x-ratelimit-remaining-requests", "12")
	info := ParseRetryHeaders(h)
	assert.Equal(t, 7*time.Second, info.RetryAfter)
	assert.Equal(t, 12, info.RequestsRemaining)
}

func TestWithTLSConfig_CustomCA(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	caPath := filepath.Join(t.TempDir(), "ca.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(caPath, pemBytes, 0o600))

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	_, err = New(WithMaxRetries(0)).Do(req)
	assert.Error(t, err, "self-signed server is rejected by default")

	resp, err := New(WithMaxRetries(0), WithTLSConfig(&TLSConfig{CACertificate: caPath})).Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestConfigureTLS_Errors(t *testing.T) {
	_, err := ConfigureTLS(&TLSConfig{CACertificate: filepath.Join(t.TempDir(), "missing.pem")})
	assert.ErrorContains(t, err, "failed to read CA certificate")

	bad := filepath.Join(t.TempDir(), "bad.pem")
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o600))
	_, err = ConfigureTLS(&TLSConfig{CACertificate: bad})
	assert.ErrorContains(t, err, "failed to parse CA certificate")

	tr, err := ConfigureTLS(&TLSConfig{InsecureSkipVerify: true})
	require.NoError(t, err)
	assert.True(t, tr.TLSClientConfig.InsecureSkipVerify)
}
