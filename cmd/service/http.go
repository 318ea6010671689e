package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	_ "net/http/pprof"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/terrama2/services/pkg/instance"
	"github.com/terrama2/services/pkg/log"
	"github.com/terrama2/services/pkg/utils"
)

const defaultHttpPort = 8080

type httpServer struct {
	server   *http.Server
	listener net.Listener
}

func newHttpServer(uri string, i *instance.Instance, gatherer prometheus.Gatherer) (*httpServer, error) {
	host, err := utils.ParseTcpUrl(uri, defaultHttpPort)
	if err != nil {
		return nil, err
	}

	r := echo.New()
	r.HideBanner = true
	r.HidePort = true
	r.Use(utils.HttpLogger)
	r.Add(echo.GET, "/debug/pprof/*", echo.WrapHandler(http.DefaultServeMux))

	instance.NewHttpHandler(i, gatherer, r)

	listener, err := net.Listen("tcp", host)
	if err != nil {
		return nil, err
	}

	log.Info("Listening on http", listener.Addr())
	return &httpServer{
		server:   &http.Server{Handler: r},
		listener: listener,
	}, nil
}

func (s *httpServer) serve() error {
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *httpServer) shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
