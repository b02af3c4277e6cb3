package server

import (
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/joshp123/deyehome/internal/logging"
)

// GRPCServer is the host's gRPC endpoint. Reflection is always on so the
// CLI can reach plugin services it has no types for.
type GRPCServer struct {
	Server   *grpc.Server
	Listener net.Listener
}

func NewGRPCServer(addr string, log *logrus.Entry) (*GRPCServer, error) {
	if log == nil {
		log = logging.Component(nil, "grpc")
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(recoveryInterceptor(log), loggingInterceptor(log)),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	reflection.Register(s)
	return &GRPCServer{Server: s, Listener: ln}, nil
}

func (s *GRPCServer) Addr() string { return s.Listener.Addr().String() }

func (s *GRPCServer) Serve() error {
	return s.Server.Serve(s.Listener)
}
