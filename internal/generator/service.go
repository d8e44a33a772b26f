package generator

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
)

// Service is the server side of the generator RPC.
type Service interface {
	GenerateJava(ctx context.Context, req *GenerateRequest) (*Program, error)
	GenerateKotlin(ctx context.Context, req *GenerateRequest) (*Program, error)
}

// NewServiceHandler mounts svc under the service path. The handler accepts
// the gRPC, gRPC-Web and Connect protocols.
func NewServiceHandler(svc Service) (string, http.Handler) {
	opt := connect.WithCodec(protoCodec{})
	mux := http.NewServeMux()
	mux.Handle(GenerateJavaProcedure, connect.NewUnaryHandler(GenerateJavaProcedure, unary(svc.GenerateJava), opt))
	mux.Handle(GenerateKotlinProcedure, connect.NewUnaryHandler(GenerateKotlinProcedure, unary(svc.GenerateKotlin), opt))
	return "/" + ServiceName + "/", mux
}

func unary(fn func(context.Context, *GenerateRequest) (*Program, error)) func(context.Context, *connect.Request[GenerateRequest]) (*connect.Response[Program], error) {
	return func(ctx context.Context, req *connect.Request[GenerateRequest]) (*connect.Response[Program], error) {
		prog, err := fn(ctx, req.Msg)
		if err != nil {
			return nil, err
		}
		return connect.NewResponse(prog), nil
	}
}
