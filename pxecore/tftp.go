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
	"os"

	"github.com/metal-stack/pxeproxy/tftp"
)

func (s *Server) serveTFTP(ctx context.Context, l net.PacketConn) error {
	h, err := tftp.FilesystemHandler(s.TFTPRoot)
	if err != nil {
		return err
	}
	ts := &tftp.Server{
		Handler:         h,
		InfoLog:         func(msg string) { s.log("TFTP", "%s", msg) },
		TransferLog:     s.logTFTPTransfer,
		BIOSQuirkSuffix: s.BootFiles.BIOS,
		UEFIQuirkSuffix: s.BootFiles.UEFI,
		PollInterval:    s.pollInterval(),
	}
	s.log("TFTP", "Serving %s on %s", s.TFTPRoot, l.LocalAddr())
	if err := ts.Serve(ctx, l); err != nil {
		return err
	}
	s.log("TFTP", "Stopped")
	return nil
}

func (s *Server) logTFTPTransfer(clientAddr net.Addr, path string, err error) {
	transfers := s.counters().transfers
	switch {
	case err == nil:
		transfers.WithLabelValues(resultOK).Inc()
		s.log("TFTP", "Sent %q to %s", path, clientAddr)
	case errors.Is(err, tftp.ErrNotFound), errors.Is(err, os.ErrNotExist):
		transfers.WithLabelValues(resultNotFound).Inc()
		s.log("TFTP", "%s asked for missing file %q", clientAddr, path)
	case errors.Is(err, tftp.ErrAbandoned):
		transfers.WithLabelValues(resultAborted).Inc()
		s.warn("TFTP", "Transfer of %q to %s abandoned: %s", path, clientAddr, err)
	default:
		transfers.WithLabelValues(resultError).Inc()
		s.warn("TFTP", "Failed to send %q to %s: %s", path, clientAddr, err)
	}
}
