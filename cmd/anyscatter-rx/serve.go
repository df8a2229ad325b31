package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 3 * time.Second
)

// servers groups handlers by listen address so the websocket hub and the
// metrics endpoint can share a port.
type servers struct {
	logger  *log.Logger
	order   []string
	muxes   map[string]*http.ServeMux
	running []*http.Server
	addrs   map[string]net.Addr
}

func newServers(logger *log.Logger) *servers {
	return &servers{
		logger: logger,
		muxes:  make(map[string]*http.ServeMux),
		addrs:  make(map[string]net.Addr),
	}
}

func (s *servers) handle(addr, path string, h http.Handler) {
	mux, ok := s.muxes[addr]
	if !ok {
		mux = http.NewServeMux()
		s.muxes[addr] = mux
		s.order = append(s.order, addr)
	}
	mux.Handle(path, h)
}

// start binds every address before returning so bind errors surface here.
func (s *servers) start() error {
	for _, addr := range s.order {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.shutdown()
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		srv := &http.Server{Handler: s.muxes[addr], ReadHeaderTimeout: readHeaderTimeout}
		s.running = append(s.running, srv)
		s.addrs[addr] = ln.Addr()
		s.logger.Info("serving", "addr", ln.Addr().String())

		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("http server stopped", "addr", addr, "err", err)
			}
		}()
	}
	return nil
}

// addr returns the bound address for a configured listen address.
func (s *servers) addr(listen string) net.Addr { return s.addrs[listen] }

func (s *servers) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range s.running {
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Warn("http shutdown", "err", err)
		}
	}
	s.running = nil
}
