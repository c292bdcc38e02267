// ABOUTME: gRPC service description for remote document stores
// ABOUTME: Messages are protobuf well-known types so no generated code is needed

package docstore

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Fully qualified service and method names
const (
	ServiceName   = "draftsync.docstore.v1.DocumentStore"
	MethodGet     = "/" + ServiceName + "/Get"
	MethodPut     = "/" + ServiceName + "/Put"
	MethodMerge   = "/" + ServiceName + "/Merge"
	MethodDelete  = "/" + ServiceName + "/Delete"
	MethodWatch   = "/" + ServiceName + "/Watch"
	entryKey      = "key"
	entryValue    = "value"
	entryExists   = "exists"
	watchStreamID = "Watch"
)

// DocumentStoreServer is implemented by the remote store service
type DocumentStoreServer interface {
	Get(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	Put(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Merge(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	Delete(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Watch(*wrapperspb.StringValue, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterDocumentStoreServer registers srv on s
func RegisterDocumentStoreServer(s grpc.ServiceRegistrar, srv DocumentStoreServer) {
	s.RegisterService(&DocumentStoreServiceDesc, srv)
}

// DocumentStoreServiceDesc describes the DocumentStore service
var DocumentStoreServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DocumentStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Get", Handler: getHandler},
		{MethodName: "Put", Handler: putHandler},
		{MethodName: "Merge", Handler: mergeHandler},
		{MethodName: "Delete", Handler: deleteHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: watchStreamID, Handler: watchHandler, ServerStreams: true},
	},
	Metadata: "draftsync/docstore/v1/docstore.proto",
}

func getHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DocumentStoreServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGet}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DocumentStoreServer).Get(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func putHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DocumentStoreServer).Put(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodPut}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DocumentStoreServer).Put(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func mergeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DocumentStoreServer).Merge(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodMerge}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DocumentStoreServer).Merge(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func deleteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DocumentStoreServer).Delete(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodDelete}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DocumentStoreServer).Delete(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func watchHandler(srv interface{}, stream grpc.ServerStream) error {
	in := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(DocumentStoreServer).Watch(in, &grpc.GenericServerStream[wrapperspb.StringValue, structpb.Struct]{ServerStream: stream})
}

// EncodeEntry converts a snapshot to its wire form
func EncodeEntry(s Snapshot) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		entryKey:    structpb.NewStringValue(s.Key),
		entryValue:  structpb.NewStringValue(base64.StdEncoding.EncodeToString(s.Value)),
		entryExists: structpb.NewBoolValue(s.Exists),
	}}
}

// DecodeEntry converts a wire entry back to a snapshot
func DecodeEntry(msg *structpb.Struct) (Snapshot, error) {
	fields := msg.GetFields()
	key := fields[entryKey].GetStringValue()
	if key == "" {
		return Snapshot{}, fmt.Errorf("entry without key")
	}

	value, err := base64.StdEncoding.DecodeString(fields[entryValue].GetStringValue())
	if err != nil {
		return Snapshot{}, fmt.Errorf("entry %s: decode value: %w", key, err)
	}

	return Snapshot{
		Key:    key,
		Value:  value,
		Exists: fields[entryExists].GetBoolValue(),
	}, nil
}
