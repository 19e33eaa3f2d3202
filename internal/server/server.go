package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

var log = slog.Default()

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "bulktranslator.v1.ToolService"

const (
	callToolMethod  = "/" + ServiceName + "/CallTool"
	listToolsMethod = "/" + ServiceName + "/ListTools"
)

// ToolServiceServer is the gRPC surface. CallTool takes
// {"name": string, "arguments": object} and returns the tool result;
// ListTools returns {"tools": [...]}.
type ToolServiceServer interface {
	CallTool(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListTools(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error)
}

// Server implements ToolServiceServer on top of a Registry.
type Server struct {
	tools *Registry
}

// NewServer creates a new gRPC server instance.
func NewServer(tools *Registry) *Server {
	return &Server{tools: tools}
}

// CallTool decodes the tool name and arguments and runs the tool.
func (s *Server) CallTool(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	name := fields["name"].GetStringValue()
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "tool name is required")
	}

	var args map[string]any
	if v, ok := fields["arguments"]; ok {
		if v.GetStructValue() == nil {
			return nil, status.Error(codes.InvalidArgument, "arguments must be an object")
		}
		args = v.GetStructValue().AsMap()
	}

	result, err := s.tools.Call(ctx, name, args)
	if err != nil {
		log.Debug("tool call failed", "tool", name, "error", err)
		return nil, grpcError(err)
	}

	out, err := structpb.NewStruct(result)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode result: %v", err)
	}
	return out, nil
}

// ListTools returns the tool catalogue.
func (s *Server) ListTools(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	catalog, err := toObject(map[string]any{"tools": s.tools.Tools()})
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out, err := structpb.NewStruct(catalog)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode catalogue: %v", err)
	}
	return out, nil
}

// RegisterToolServiceServer registers srv on s.
func RegisterToolServiceServer(s grpc.ServiceRegistrar, srv ToolServiceServer) {
	s.RegisterService(&ToolServiceDesc, srv)
}

// ToolServiceDesc describes the service for grpc.Server.
var ToolServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ToolServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CallTool", Handler: callToolHandler},
		{MethodName: "ListTools", Handler: listToolsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "bulktranslator/v1/tools.proto",
}

func callToolHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ToolServiceServer).CallTool(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: callToolMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ToolServiceServer).CallTool(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func listToolsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ToolServiceServer).ListTools(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: listToolsMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ToolServiceServer).ListTools(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// ServeGRPC listens on addr and serves the tool service until the listener
// fails or the returned server is stopped.
func ServeGRPC(addr string, tools *Registry) (*grpc.Server, net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer()
	RegisterToolServiceServer(grpcServer, NewServer(tools))

	go func() {
		if err := grpcServer.Serve(lis); err != nil {
			log.Error("gRPC server stopped", "error", err)
		}
	}()
	log.Info("gRPC server listening", "addr", lis.Addr().String())
	return grpcServer, lis.Addr(), nil
}

// ============================================================================
// Client
// ============================================================================

// Client calls a remote ToolService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call runs a tool remotely. args may hold any JSON-encodable values.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	generic, err := toObject(args)
	if err != nil {
		return nil, err
	}
	if generic == nil {
		generic = map[string]any{}
	}
	in, err := structpb.NewStruct(map[string]any{
		"name":      name,
		"arguments": generic,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode arguments: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, callToolMethod, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// ListTools fetches the catalogue as generic JSON.
func (c *Client) ListTools(ctx context.Context) ([]any, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, listToolsMethod, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	tools, _ := out.AsMap()["tools"].([]any)
	return tools, nil
}
