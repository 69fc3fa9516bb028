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

// Package pxecore boots PXE machines on a network that already has a
// DHCP server.
//
// It answers PXE Discovers and Requests as a proxyDHCP server,
// without handing out leases, and points each client at the boot file
// for its firmware. The files themselves are served over TFTP and
// HTTP.
package pxecore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"inet.af/netaddr"

	"github.com/metal-stack/pxeproxy/dhcp"
	"github.com/metal-stack/pxeproxy/pcap"
)

const (
	portTFTP = 69
	portHTTP = 8080
	portPXE  = 4011
)

// A Server answers PXE clients and serves their boot files.
type Server struct {
	// ServerIP is the address handed to clients as next server and
	// TFTP server. It must be IPv4.
	ServerIP netaddr.IP
	// Address to bind the TFTP and HTTP listeners to, or empty for
	// all interfaces.
	Address string

	// Interface carries the DHCP traffic. If nil, it is resolved
	// from ServerIP, or from InterfaceName if that is set.
	Interface     *net.Interface
	InterfaceName string

	// TFTP firmware hardcodes port 69 and PXE firmware port 4011, so
	// only change TFTPPort for testing.
	TFTPPort int
	HTTPPort int

	TFTPRoot string
	HTTPRoot string

	BootFiles BootFiles

	// PXEOnly ignores DHCP clients whose vendor class does not start
	// with "PXEClient".
	PXEOnly bool
	// Metrics exposes the Prometheus registry on /metrics of the HTTP
	// server.
	Metrics bool

	// Log receives the server's logs. If nil, logging is suppressed.
	Log *zap.SugaredLogger
	// Trace receives every DHCP frame the proxy handles and sends.
	// It should be nil unless you are chasing a bug.
	Trace *pcap.Writer

	// PollInterval bounds how long each loop blocks before checking
	// for shutdown. Defaults to 1s.
	PollInterval time.Duration

	intf *net.Interface
	mac  net.HardwareAddr

	metricsOnce sync.Once
	stats       *metrics

	// Overridable for tests.
	newConn func(*net.Interface) (dhcp.Conn, error)
}

func (s *Server) pollInterval() time.Duration {
	if s.PollInterval > 0 {
		return s.PollInterval
	}
	return time.Second
}

func (s *Server) applyDefaults() {
	if s.TFTPPort == 0 {
		s.TFTPPort = portTFTP
	}
	if s.HTTPPort == 0 {
		s.HTTPPort = portHTTP
	}
	if s.TFTPRoot == "" {
		s.TFTPRoot = "srv/tftp"
	}
	if s.HTTPRoot == "" {
		s.HTTPRoot = "srv/http"
	}
	if s.BootFiles.BIOS == "" {
		s.BootFiles.BIOS = DefaultBootFiles.BIOS
	}
	if s.BootFiles.UEFI == "" {
		s.BootFiles.UEFI = DefaultBootFiles.UEFI
	}
	if s.BootFiles.IPXE == "" {
		s.BootFiles.IPXE = DefaultBootFiles.IPXE
	}
	if s.newConn == nil {
		s.newConn = dhcp.NewConn
	}
}

// Serve runs the DHCP proxy, the TFTP server and the HTTP server until
// ctx is cancelled or one of them fails. Errors while opening sockets
// are returned right away.
func (s *Server) Serve(ctx context.Context) error {
	if !s.ServerIP.Is4() {
		return fmt.Errorf("server address %s is not IPv4", s.ServerIP)
	}
	s.applyDefaults()

	for _, dir := range []string{s.TFTPRoot, s.HTTPRoot} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	s.intf, s.mac = s.Interface, nil
	if s.intf == nil {
		intf, mac, err := ResolveInterface(s.ServerIP, s.InterfaceName, s.logger("DHCP"))
		if err != nil {
			return err
		}
		s.intf, s.mac = intf, mac
	} else {
		s.mac = hardwareAddr(s.intf)
	}

	dhcpConn, err := s.newConn(s.intf)
	if err != nil {
		return fmt.Errorf("opening DHCP socket on %s: %w", s.intf.Name, err)
	}
	defer dhcpConn.Close()

	tftpConn, err := net.ListenPacket("udp4", fmt.Sprintf("%s:%d", s.Address, s.TFTPPort))
	if err != nil {
		return fmt.Errorf("opening TFTP socket: %w", err)
	}
	defer tftpConn.Close()

	httpListener, err := net.Listen("tcp4", fmt.Sprintf("%s:%d", s.Address, s.HTTPPort))
	if err != nil {
		return fmt.Errorf("opening HTTP listener: %w", err)
	}
	defer httpListener.Close()

	s.log("Init", "Proxying PXE boots for %s on %s (%s)", s.ServerIP, s.intf.Name, s.mac)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(s.supervise("DHCP", cancel, func() error { return s.serveDHCP(ctx, dhcpConn) }))
	g.Go(s.supervise("TFTP", cancel, func() error { return s.serveTFTP(ctx, tftpConn) }))
	g.Go(s.supervise("HTTP", cancel, func() error { return s.serveHTTP(ctx, httpListener) }))
	return g.Wait()
}

// errLoopPanic marks a loop that died of a panic.
var errLoopPanic = errors.New("service loop panicked")

// supervise wraps a service loop so that its exit, for whatever
// reason, stops the other loops too.
func (s *Server) supervise(subsystem string, cancel context.CancelFunc, loop func() error) func() error {
	return func() (err error) {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				s.logger(subsystem).Errorw("Service loop crashed", "panic", r)
				err = fmt.Errorf("%s: %w: %v", subsystem, errLoopPanic, r)
			}
		}()
		if err := loop(); err != nil {
			return fmt.Errorf("%s: %w", subsystem, err)
		}
		return nil
	}
}
