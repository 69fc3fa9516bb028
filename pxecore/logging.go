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
	"time"

	"github.com/mash/go-accesslog"
	"go.uber.org/zap"
)

func (s *Server) logger(subsystem string) *zap.SugaredLogger {
	if s.Log == nil {
		return zap.NewNop().Sugar()
	}
	return s.Log.With("subsystem", subsystem)
}

func (s *Server) log(subsystem, format string, args ...interface{}) {
	s.logger(subsystem).Infof(format, args...)
}

func (s *Server) debug(subsystem, format string, args ...interface{}) {
	s.logger(subsystem).Debugf(format, args...)
}

func (s *Server) warn(subsystem, format string, args ...interface{}) {
	s.logger(subsystem).Warnf(format, args...)
}

// accessLogger forwards HTTP access records to zap.
type accessLogger struct {
	log *zap.SugaredLogger
}

func (l accessLogger) Log(record accesslog.LogRecord) {
	l.log.Infow(record.Method+" "+record.Uri,
		"status", record.Status,
		"size", record.Size,
		"remote", record.Ip,
		"duration", record.ElapsedTime.Round(time.Microsecond),
	)
}
