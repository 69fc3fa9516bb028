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
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/mash/go-accesslog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const httpShutdownTimeout = 5 * time.Second

// httpHandler serves HTTPRoot, which holds the iPXE scripts and
// whatever they chain into.
func (s *Server) httpHandler() http.Handler {
	mux := http.NewServeMux()
	if s.Metrics {
		mux.Handle("/metrics", promhttp.HandlerFor(s.Registry(), promhttp.HandlerOpts{}))
	}
	mux.Handle("/", http.FileServer(http.Dir(s.HTTPRoot)))
	return accesslog.NewLoggingHandler(mux, accessLogger{s.logger("HTTP")})
}

func (s *Server) serveHTTP(ctx context.Context, l net.Listener) error {
	srv := &http.Server{
		Handler:           s.httpHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			s.warn("HTTP", "Unclean shutdown: %s", err)
		}
	}()

	s.log("HTTP", "Serving %s on %s", s.HTTPRoot, l.Addr())
	err := srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		s.log("HTTP", "Stopped")
		return nil
	}
	return err
}
