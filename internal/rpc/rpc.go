// Package rpc registers unary gRPC services whose requests and responses are
// google.protobuf.Struct values. Service and method descriptors are built at
// runtime and registered with the global protobuf registry, so server
// reflection and grpcurl see them like any compiled service.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"unicode"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"
)

const structType = ".google.protobuf.Struct"

// UnaryFunc handles one Struct-in/Struct-out call.
type UnaryFunc func(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

// Method is a single unary RPC.
type Method struct {
	Name    string
	Handler UnaryFunc
}

// Service describes a gRPC service by package and name.
type Service struct {
	Package string
	Name    string
	Methods []Method
}

// FullName returns the fully-qualified service name.
func (s Service) FullName() string {
	return s.Package + "." + s.Name
}

// FullMethod formats the invoke path "/<package>.<service>/<method>".
func FullMethod(pkg, service, method string) string {
	return "/" + pkg + "." + service + "/" + method
}

// FileName is the synthetic descriptor path for the service.
func (s Service) FileName() string {
	return fmt.Sprintf("%s/%s.proto", packagePath(s.Package), snake(s.Name))
}

// handler is the HandlerType every Struct service implements.
type handler interface {
	method(name string) (UnaryFunc, bool)
}

type serviceImpl struct {
	methods map[string]UnaryFunc
}

func (s *serviceImpl) method(name string) (UnaryFunc, bool) {
	fn, ok := s.methods[name]
	return fn, ok
}

var registryMu sync.Mutex

// Register adds the service to the server and publishes its descriptor.
func Register(server *grpc.Server, svc Service) error {
	if svc.Package == "" || svc.Name == "" {
		return fmt.Errorf("service package and name are required")
	}
	for _, m := range svc.Methods {
		if m.Handler == nil {
			return fmt.Errorf("%s/%s: handler is nil", svc.FullName(), m.Name)
		}
	}
	if err := registerDescriptor(svc); err != nil {
		return err
	}

	impl := &serviceImpl{methods: make(map[string]UnaryFunc, len(svc.Methods))}
	desc := grpc.ServiceDesc{
		ServiceName: svc.FullName(),
		HandlerType: (*handler)(nil),
		Metadata:    svc.FileName(),
	}
	for _, m := range svc.Methods {
		impl.methods[m.Name] = m.Handler
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: m.Name,
			Handler:    unaryHandler(svc.FullName(), m.Name),
		})
	}

	server.RegisterService(&desc, impl)
	return nil
}

// MustRegister panics when Register fails. Used at startup only.
func MustRegister(server *grpc.Server, svc Service) {
	if err := Register(server, svc); err != nil {
		panic(err)
	}
}

func unaryHandler(serviceName, methodName string) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + serviceName + "/" + methodName
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		fn, ok := srv.(handler).method(methodName)
		if !ok {
			return nil, fmt.Errorf("method %s not registered", fullMethod)
		}
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return fn(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return fn(ctx, req.(*structpb.Struct))
		})
	}
}

func registerDescriptor(svc Service) error {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, err := protoregistry.GlobalFiles.FindFileByPath(svc.FileName()); err == nil {
		return nil
	}

	fd, err := protodesc.NewFile(fileDescriptor(svc), protoregistry.GlobalFiles)
	if err != nil {
		return fmt.Errorf("build descriptor for %s: %w", svc.FullName(), err)
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		return fmt.Errorf("register descriptor for %s: %w", svc.FullName(), err)
	}
	return nil
}

func fileDescriptor(svc Service) *descriptorpb.FileDescriptorProto {
	methods := make([]*descriptorpb.MethodDescriptorProto, 0, len(svc.Methods))
	for _, m := range svc.Methods {
		methods = append(methods, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m.Name),
			InputType:  proto.String(structType),
			OutputType: proto.String(structType),
		})
	}
	return &descriptorpb.FileDescriptorProto{
		Name:       proto.String(svc.FileName()),
		Package:    proto.String(svc.Package),
		Dependency: []string{(&structpb.Struct{}).ProtoReflect().Descriptor().ParentFile().Path()},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name:   proto.String(svc.Name),
			Method: methods,
		}},
		Syntax: proto.String("proto3"),
	}
}

func packagePath(pkg string) string {
	return strings.ReplaceAll(pkg, ".", "/")
}

func snake(name string) string {
	var b strings.Builder
	for i, r := range name {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Decode copies a Struct request into a JSON-tagged Go value.
func Decode(req *structpb.Struct, out any) error {
	if req == nil {
		req = &structpb.Struct{}
	}
	data, err := protojson.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// Encode converts a JSON-tagged Go value into a Struct response.
func Encode(value any) (*structpb.Struct, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// Invoke calls a Struct method on conn, marshalling in and out through JSON.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, fullMethod string, in, out any) error {
	req, err := Encode(in)
	if err != nil {
		return err
	}
	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, fullMethod, req, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return Decode(resp, out)
}
