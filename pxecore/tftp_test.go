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
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"

	"github.com/metal-stack/pxeproxy/tftp"
)

func TestLogTFTPTransfer(t *testing.T) {
	client := &net.UDPAddr{IP: net.IPv4(192, 168, 1, 50), Port: 2070}

	tests := []struct {
		err    error
		result string
		level  zapcore.Level
	}{
		{nil, resultOK, zapcore.InfoLevel},
		{fmt.Errorf("/srv/tftp/nope: %w", tftp.ErrNotFound), resultNotFound, zapcore.InfoLevel},
		{fmt.Errorf("block 3: %w", tftp.ErrAbandoned), resultAborted, zapcore.WarnLevel},
		{errors.New("client aborted transfer at block 2"), resultError, zapcore.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.result, func(t *testing.T) {
			s, logs := testProxy()
			s.logTFTPTransfer(client, "ipxe.efi", tt.err)

			assert.Equal(t, float64(1), testutil.ToFloat64(s.counters().transfers.WithLabelValues(tt.result)))
			assert.Equal(t, 1, testutil.CollectAndCount(s.counters().transfers))
			entries := logs.All()
			if assert.Len(t, entries, 1) {
				assert.Equal(t, tt.level, entries[0].Level)
			}
		})
	}
}
