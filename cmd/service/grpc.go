package main

import (
	"net"

	"github.com/terrama2/services/pkg/log"
	"github.com/terrama2/services/pkg/utils"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const defaultGrpcPort = 9090

// gRPC health endpoint. The service reports SERVING while it dispatches.
type healthServer struct {
	server *grpc.Server
	health *health.Server
	name   string
}

func newHealthServer(name string) *healthServer {
	h := &healthServer{
		server: grpc.NewServer(config.GRPCOptions.ToServerOptions()...),
		health: health.NewServer(),
		name:   name,
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	return h
}

func (h *healthServer) listen(uri string) (net.Listener, error) {
	host, err := utils.ParseTcpUrl(uri, defaultGrpcPort)
	if err != nil {
		return nil, err
	}

	socket, err := net.Listen("tcp", host)
	if err != nil {
		return nil, err
	}

	log.Info("Listening on grpc", socket.Addr())
	return socket, nil
}

func (h *healthServer) stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
