package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "groundtrack.v1.TrackService"

// Full method names.
const (
	MethodListSatellites = "/" + ServiceName + "/ListSatellites"
	MethodGetPosition    = "/" + ServiceName + "/GetPosition"
	MethodGetTrack       = "/" + ServiceName + "/GetTrack"
	MethodGetLive        = "/" + ServiceName + "/GetLive"
	MethodReloadCatalog  = "/" + ServiceName + "/ReloadCatalog"
)

// TrackServer is the server API for TrackService. Requests and responses
// are google.protobuf.Struct messages; field names match the HTTP JSON API.
type TrackServer interface {
	ListSatellites(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPosition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTrack(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLive(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ReloadCatalog(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// TrackServiceDesc describes TrackService for grpc.Server.RegisterService.
var TrackServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TrackServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListSatellites", Handler: unaryHandler(MethodListSatellites, TrackServer.ListSatellites)},
		{MethodName: "GetPosition", Handler: unaryHandler(MethodGetPosition, TrackServer.GetPosition)},
		{MethodName: "GetTrack", Handler: unaryHandler(MethodGetTrack, TrackServer.GetTrack)},
		{MethodName: "GetLive", Handler: unaryHandler(MethodGetLive, TrackServer.GetLive)},
		{MethodName: "ReloadCatalog", Handler: unaryHandler(MethodReloadCatalog, TrackServer.ReloadCatalog)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "groundtrack/v1/track.proto",
}

// RegisterTrackServer registers srv on s.
func RegisterTrackServer(s grpc.ServiceRegistrar, srv TrackServer) {
	s.RegisterService(&TrackServiceDesc, srv)
}

type unaryMethod func(TrackServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TrackServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TrackServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
