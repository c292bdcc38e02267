// Package server exposes a document store to other processes over gRPC
// and an HTTP gateway
package server

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/nainya/draftsync/internal/logger"
	"github.com/nainya/draftsync/internal/metrics"
	"github.com/nainya/draftsync/pkg/docstore"
)

// Server implements the DocumentStore service on top of a local store
type Server struct {
	store docstore.Store
	log   *logger.Logger

	startTime time.Time
}

// NewServer serves store. The server does not close it.
func NewServer(store docstore.Store, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	return &Server{
		store:     store,
		log:       log,
		startTime: time.Now(),
	}
}

// Uptime reports how long the server has been running
func (s *Server) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Store returns the served store
func (s *Server) Store() docstore.Store {
	return s.store
}

// NewGRPCServer creates a gRPC server with srv registered and the metrics
// interceptors installed
func NewGRPCServer(srv *Server, m *metrics.Metrics, log *logger.Logger) *grpc.Server {
	gs := grpc.NewServer(
		grpc.MaxRecvMsgSize(16*1024*1024),
		grpc.MaxSendMsgSize(16*1024*1024),
		grpc.UnaryInterceptor(GrpcMetricsInterceptor(m, log)),
		grpc.StreamInterceptor(GrpcStreamInterceptor(m, log)),
	)
	docstore.RegisterDocumentStoreServer(gs, srv)
	return gs
}

// ========== Record Operations ==========

func (s *Server) Get(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "key is required")
	}

	value, err := s.store.Get(ctx, req.GetValue())
	if err != nil {
		return nil, docstore.ToStatus(err)
	}
	return wrapperspb.Bytes(value), nil
}

func (s *Server) Put(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	entry, err := docstore.DecodeEntry(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid entry: %v", err)
	}

	if err := s.store.Put(ctx, entry.Key, entry.Value); err != nil {
		return nil, docstore.ToStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Merge(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	entry, err := docstore.DecodeEntry(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid entry: %v", err)
	}

	if err := s.store.Merge(ctx, entry.Key, entry.Value); err != nil {
		return nil, docstore.ToStatus(err)
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) Delete(ctx context.Context, req *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if req.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "key is required")
	}

	if err := s.store.Delete(ctx, req.GetValue()); err != nil {
		return nil, docstore.ToStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// ========== Watch ==========

// Watch streams the current snapshot of a key and then every change until
// the client goes away or the store closes
func (s *Server) Watch(req *wrapperspb.StringValue, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	key := req.GetValue()
	if key == "" {
		return status.Error(codes.InvalidArgument, "key is required")
	}

	ctx := stream.Context()
	updates, err := s.store.Watch(ctx, key)
	if err != nil {
		return docstore.ToStatus(err)
	}

	for snap := range updates {
		if err := stream.Send(docstore.EncodeEntry(snap)); err != nil {
			return err
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	s.log.Debug("watch ended by store").Str("key", key).Send()
	return docstore.ToStatus(docstore.ErrClosed)
}
