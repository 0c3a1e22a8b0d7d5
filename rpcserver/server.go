package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"slices"
	"time"

	"CoDetServer/engine"
	"CoDetServer/eventlog"
	iface "CoDetServer/interface"
	"CoDetServer/session"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Controller is the session surface exposed over RPC. *session.Manager implements it.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Status() session.Status
}

// Feed is the event source for WatchEvents. *eventlog.Log implements it.
type Feed interface {
	Events() []iface.Event
	Subscribe(buffer int) (<-chan eventlog.Entry, func())
}

const (
	streamBuffer  = 64
	shutdownGrace = 5 * time.Second
)

type Server struct {
	ctrl   Controller
	feed   Feed
	logger *zap.Logger
}

func NewServer(ctrl Controller, feed Feed, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{ctrl: ctrl, feed: feed, logger: logger}
}

func (s *Server) Start(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ctrl.Start(ctx); err != nil {
		s.logger.Warn("start over rpc failed", zap.Error(err))
		return nil, ToStatus(err)
	}
	return toStruct(s.ctrl.Status())
}

func (s *Server) Stop(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ctrl.Stop(); err != nil {
		return nil, ToStatus(err)
	}
	return toStruct(s.ctrl.Status())
}

func (s *Server) Status(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(s.ctrl.Status())
}

// WatchEvents replays the current log oldest first and then streams live entries until the
// client goes away.
func (s *Server) WatchEvents(_ *emptypb.Empty, stream WatchService_WatchEventsServer) error {
	entries, cancel := s.feed.Subscribe(streamBuffer)
	defer cancel()

	backlog := s.feed.Events()
	slices.Reverse(backlog)
	for _, e := range backlog {
		if err := send(stream, eventlog.Entry{Event: e}); err != nil {
			return err
		}
	}
	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-entries:
			if !ok {
				return nil
			}
			if err := send(stream, entry); err != nil {
				return err
			}
		}
	}
}

func send(stream WatchService_WatchEventsServer, entry eventlog.Entry) error {
	msg, err := toStruct(entry)
	if err != nil {
		return err
	}
	return stream.Send(msg)
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return out, nil
}

// ToStatus converts an engine error into a gRPC status carrying the user facing message.
func ToStatus(err error) error {
	if err == nil {
		return nil
	}
	var (
		capErr   *iface.CaptureError
		modelErr *engine.ModelLoadError
		notReady *engine.NotReadyError
	)
	code := codes.Internal
	switch {
	case errors.As(err, &capErr):
		switch capErr.Kind {
		case iface.CaptureDenied:
			code = codes.PermissionDenied
		case iface.CaptureNotFound:
			code = codes.NotFound
		case iface.CaptureUnsupported:
			code = codes.Unimplemented
		default:
			code = codes.Unavailable
		}
	case errors.As(err, &modelErr):
		code = codes.FailedPrecondition
	case errors.As(err, &notReady):
		code = codes.FailedPrecondition
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, engine.Message(err))
}

// NewGRPCServer builds a grpc.Server with the service registered and the given interceptors.
func NewGRPCServer(srv *Server, unary []grpc.UnaryServerInterceptor, stream []grpc.StreamServerInterceptor) *grpc.Server {
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	)
	RegisterWatchServiceServer(s, srv)
	return s
}

// Serve runs s on lis until ctx is done, then stops it gracefully.
func Serve(ctx context.Context, s *grpc.Server, lis net.Listener, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		errCh <- s.Serve(lis)
	}()
	select {
	case <-ctx.Done():
		stopped := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(stopped)
		}()
		// Open event streams keep GracefulStop waiting.
		select {
		case <-stopped:
		case <-time.After(shutdownGrace):
			s.Stop()
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve gRPC server: %w", err)
		}
		return nil
	}
}
