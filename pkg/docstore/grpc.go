// ABOUTME: Document store client for the remote gRPC DocumentStore service
// ABOUTME: Maps gRPC status codes back onto store sentinel errors

package docstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// GRPCStore talks to a DocumentStore service
type GRPCStore struct {
	conn  *grpc.ClientConn
	owned bool
}

// DialGRPC connects to the service at target without transport security
func DialGRPC(target string, opts ...grpc.DialOption) (*GRPCStore, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &GRPCStore{conn: conn, owned: true}, nil
}

// NewGRPCStore wraps an existing connection; Close leaves it open
func NewGRPCStore(conn *grpc.ClientConn) *GRPCStore {
	return &GRPCStore{conn: conn}
}

// Get returns the record at key
func (g *GRPCStore) Get(ctx context.Context, key string) ([]byte, error) {
	out := new(wrapperspb.BytesValue)
	if err := g.conn.Invoke(ctx, MethodGet, wrapperspb.String(key), out); err != nil {
		return nil, fromStatus(err)
	}
	value := out.GetValue()
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

// Put replaces the record at key
func (g *GRPCStore) Put(ctx context.Context, key string, value []byte) error {
	in := EncodeEntry(Snapshot{Key: key, Value: value, Exists: true})
	if err := g.conn.Invoke(ctx, MethodPut, in, new(emptypb.Empty)); err != nil {
		return fromStatus(err)
	}
	return nil
}

// Merge patches the record at key on the server side
func (g *GRPCStore) Merge(ctx context.Context, key string, patch []byte) error {
	in := EncodeEntry(Snapshot{Key: key, Value: patch, Exists: true})
	if err := g.conn.Invoke(ctx, MethodMerge, in, new(emptypb.Empty)); err != nil {
		return fromStatus(err)
	}
	return nil
}

// Delete removes the record at key
func (g *GRPCStore) Delete(ctx context.Context, key string) error {
	if err := g.conn.Invoke(ctx, MethodDelete, wrapperspb.String(key), new(emptypb.Empty)); err != nil {
		return fromStatus(err)
	}
	return nil
}

// Watch opens a server stream for key. The first snapshot is read before
// returning so a failed watch surfaces as an error here.
func (g *GRPCStore) Watch(ctx context.Context, key string) (<-chan Snapshot, error) {
	ctx, cancel := context.WithCancel(ctx)

	desc := &DocumentStoreServiceDesc.Streams[0]
	cs, err := g.conn.NewStream(ctx, desc, MethodWatch)
	if err != nil {
		cancel()
		return nil, fromStatus(err)
	}
	stream := &grpc.GenericClientStream[wrapperspb.StringValue, structpb.Struct]{ClientStream: cs}
	if err := stream.SendMsg(wrapperspb.String(key)); err != nil {
		cancel()
		return nil, fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, fromStatus(err)
	}

	first, err := recvSnapshot(stream)
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan Snapshot, watchBuffer)
	out <- first

	go func() {
		defer cancel()
		defer close(out)
		for {
			snap, err := recvSnapshot(stream)
			if err != nil {
				return
			}
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

func recvSnapshot(stream grpc.ServerStreamingClient[structpb.Struct]) (Snapshot, error) {
	msg, err := stream.Recv()
	if errors.Is(err, io.EOF) {
		return Snapshot{}, ErrClosed
	}
	if err != nil {
		return Snapshot{}, fromStatus(err)
	}
	return DecodeEntry(msg)
}

// Close releases the connection when this store dialed it
func (g *GRPCStore) Close() error {
	if !g.owned {
		return nil
	}
	return g.conn.Close()
}

// fromStatus maps service status codes onto store errors
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return ErrNotFound
	case codes.Unavailable:
		if st.Message() == ErrClosed.Error() {
			return ErrClosed
		}
	case codes.FailedPrecondition:
		return fmt.Errorf("%s: %w", st.Message(), ErrNotObject)
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	return fmt.Errorf("docstore rpc: %w", err)
}

// ToStatus maps store errors onto gRPC status errors for the service side
func ToStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrClosed):
		return status.Error(codes.Unavailable, ErrClosed.Error())
	case errors.Is(err, ErrNotObject):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
