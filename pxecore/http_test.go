// Copyright 2016 Google Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pxecore

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const bootScript = "#!ipxe\nchain http://192.168.1.10:8080/menu.ipxe\n"

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestHTTPHandler(t *testing.T) {
	s, logs := testProxy()
	s.HTTPRoot = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(s.HTTPRoot, "boot.ipxe"), []byte(bootScript), 0644))

	srv := httptest.NewServer(s.httpHandler())
	defer srv.Close()

	code, body := get(t, srv.URL+"/boot.ipxe")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, bootScript, body)

	code, _ = get(t, srv.URL+"/missing.ipxe")
	assert.Equal(t, http.StatusNotFound, code)

	// Metrics are off by default.
	code, _ = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusNotFound, code)

	// Access records are written once the handler returns, which can
	// be after the client has read the body.
	access := func() *observer.ObservedLogs {
		return logs.FilterField(zap.String("subsystem", "HTTP")).FilterMessageSnippet("GET /boot.ipxe")
	}
	require.Eventually(t, func() bool { return access().Len() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(http.StatusOK), access().All()[0].ContextMap()["status"])
}

func TestHTTPMetrics(t *testing.T) {
	s, _ := testProxy()
	s.HTTPRoot = t.TempDir()
	s.Metrics = true
	s.counters().conflicts.Inc()

	srv := httptest.NewServer(s.httpHandler())
	defer srv.Close()

	code, body := get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "pxeproxy_dhcp_conflicts_total 1")
}

func TestServeHTTPShutdown(t *testing.T) {
	s, _ := testProxy()
	s.HTTPRoot = t.TempDir()
	l, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serveHTTP(ctx, l) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + l.Addr().String() + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(httpShutdownTimeout + time.Second):
		t.Fatal("HTTP server did not shut down")
	}

	_, err = http.Get("http://" + l.Addr().String() + "/")
	assert.Error(t, err)
}
