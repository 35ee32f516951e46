// Copyright (c) 2025 Mouts and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package rest

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/mouts-info/orderservice"

	"golang.org/x/sync/errgroup"
)

// Server runs the read API over HTTP.
type Server struct {
	log    *slog.Logger
	addr   string
	server *http.Server
}

// NewServer initializes a [Server] listening on addr.
func NewServer(addr string, h http.Handler) *Server {
	log := orderservice.Logger("github.com/mouts-info/orderservice/rest")

	return &Server{
		log:  log,
		addr: addr,
		server: &http.Server{
			Handler:  h,
			ErrorLog: slog.NewLogLogger(log.Handler(), slog.LevelError),
		},
	}
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ls, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.log.InfoContext(ctx, "serving http", slog.String("addr", ls.Addr().String()))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return s.server.Serve(ls)
	})
	eg.Go(func() error {
		<-egCtx.Done()

		return s.server.Shutdown(context.Background())
	})

	err = eg.Wait()
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
