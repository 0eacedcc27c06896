package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServe_EndToEnd(t *testing.T) {
	opts := testOptions(t, map[string]string{
		"SAFEGUARD_ADMIN_TOKEN":       "s3cret",
		"SAFEGUARD_RISK_MAX_NOTIONAL": "100",
		"SAFEGUARD_RISK_PERSIST":      "true",
	})
	listening := make(chan string, 1)
	serveOpts := &ServeOptions{RootOptions: opts, Addr: "127.0.0.1:0", listening: listening}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd := NewServeCommand(opts)
	cmd.SetContext(ctx)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	done := make(chan error, 1)
	go func() { done <- runServe(cmd, serveOpts) }()

	var addr string
	select {
	case addr = <-listening:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not start")
	}
	base := "http://" + addr

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	post := func(body, key string) (*http.Response, map[string]any) {
		req, err := http.NewRequest(http.MethodPost, base+"/risk/action", strings.NewReader(body))
		require.NoError(t, err)
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		raw, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		var out map[string]any
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
		return resp, out
	}

	resp, body := post(`{"symbol":"BTC-USD","side":"buy","quantity":"0.003","price":"50000"}`, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "MaxNotionalExceeded", body["error"])

	order := `{"symbol":"BTC-USD","side":"buy","quantity":"0.001","price":"50000"}`
	first, firstBody := post(order, "order-42")
	require.Equal(t, http.StatusOK, first.StatusCode)
	second, secondBody := post(order, "order-42")
	require.Equal(t, http.StatusOK, second.StatusCode)
	assert.Equal(t, "true", second.Header.Get("Idempotent-Replayed"))
	assert.Equal(t, firstBody, secondBody)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServe_BadListenAddress(t *testing.T) {
	opts := testOptions(t, nil)
	serveOpts := &ServeOptions{RootOptions: opts, Addr: "256.0.0.1:bad"}
	cmd := NewServeCommand(opts)
	cmd.SetContext(context.Background())
	cmd.SetErr(&bytes.Buffer{})

	err := runServe(cmd, serveOpts)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
