package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fullstorydev/grpcurl"
	"github.com/jhump/protoreflect/grpcreflect"
	"google.golang.org/grpc"
)

// Reflection commands work against any registered service, including
// plugin services the typed subcommands do not cover.

func servicesCmd(ctx context.Context, conn *grpc.ClientConn, _ []string) {
	services, err := grpcurl.ListServices(reflectionSource(ctx, conn))
	if err != nil {
		fatal("list services", err)
	}
	fmt.Println(strings.Join(services, "\n"))
}

func methodsCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	if len(args) == 0 {
		fatal("methods", fmt.Errorf("missing service name"))
	}
	methods, err := grpcurl.ListMethods(reflectionSource(ctx, conn), args[0])
	if err != nil {
		fatal("list methods", err)
	}
	fmt.Println(strings.Join(methods, "\n"))
}

func callCmd(ctx context.Context, conn *grpc.ClientConn, args []string) {
	flags := flag.NewFlagSet("call", flag.ExitOnError)
	data := flags.String("data", "", "JSON request body")
	_ = flags.Parse(args)
	if flags.NArg() == 0 {
		fatal("call", fmt.Errorf("missing method (service/method)"))
	}

	source := reflectionSource(ctx, conn)
	parser, formatter, err := grpcurl.RequestParserAndFormatter(grpcurl.FormatJSON, source, requestBody(*data), grpcurl.FormatOptions{})
	if err != nil {
		fatal("parse request", err)
	}
	handler := grpcurl.NewDefaultEventHandler(os.Stdout, source, formatter, false)
	if err := grpcurl.InvokeRPC(ctx, source, conn, flags.Arg(0), nil, handler, parser.Next); err != nil {
		fatal("invoke", err)
	}
	if handler.Status != nil && handler.Status.Err() != nil {
		fatal("call "+flags.Arg(0), handler.Status.Err())
	}
}

// requestBody uses --data, then piped stdin, then an empty message.
func requestBody(data string) io.Reader {
	if data != "" {
		return strings.NewReader(data)
	}
	if info, err := os.Stdin.Stat(); err == nil && info.Mode()&os.ModeCharDevice == 0 {
		return os.Stdin
	}
	return strings.NewReader("{}")
}

func reflectionSource(ctx context.Context, conn *grpc.ClientConn) grpcurl.DescriptorSource {
	return grpcurl.DescriptorSourceFromServer(ctx, grpcreflect.NewClientAuto(ctx, conn))
}
