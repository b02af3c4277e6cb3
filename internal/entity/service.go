package entity

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/deyehome/internal/rpc"
)

const (
	ServicePackage = "deyehome.entities.v1"
	ServiceName    = "Entities"
)

type listRequest struct {
	Platform string `json:"platform"`
	EntryID  string `json:"entry_id"`
}

type listResponse struct {
	Entities []State `json:"entities"`
}

type getRequest struct {
	EntityID string `json:"entity_id"`
}

type callRequest struct {
	EntityID string         `json:"entity_id"`
	Service  string         `json:"service"`
	Data     map[string]any `json:"data"`
}

type callResponse struct {
	State State `json:"state"`
}

// RegisterGRPC exposes the registry as deyehome.entities.v1.Entities.
func (r *Registry) RegisterGRPC(server *grpc.Server) {
	rpc.MustRegister(server, rpc.Service{
		Package: ServicePackage,
		Name:    ServiceName,
		Methods: []rpc.Method{
			{Name: "ListEntities", Handler: r.listEntities},
			{Name: "GetEntity", Handler: r.getEntity},
			{Name: "CallService", Handler: r.callService},
		},
	})
}

func (r *Registry) listEntities(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in listRequest
	if err := rpc.Decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	states := r.States(Platform(in.Platform))
	if in.EntryID != "" {
		filtered := states[:0]
		for _, state := range states {
			if r.owner(state.EntityID) == in.EntryID {
				filtered = append(filtered, state)
			}
		}
		states = filtered
	}
	return rpc.Encode(listResponse{Entities: states})
}

func (r *Registry) getEntity(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in getRequest
	if err := rpc.Decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if in.EntityID == "" {
		return nil, status.Error(codes.InvalidArgument, "entity_id is required")
	}
	state, err := r.State(in.EntityID)
	if err != nil {
		return nil, StatusError(err)
	}
	return rpc.Encode(state)
}

func (r *Registry) callService(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in callRequest
	if err := rpc.Decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if in.EntityID == "" || in.Service == "" {
		return nil, status.Error(codes.InvalidArgument, "entity_id and service are required")
	}

	if err := r.Call(ctx, in.EntityID, in.Service, in.Data); err != nil {
		return nil, StatusError(err)
	}
	state, err := r.State(in.EntityID)
	if err != nil {
		return nil, StatusError(err)
	}
	return rpc.Encode(callResponse{State: state})
}

// StatusError maps entity errors onto gRPC codes.
func StatusError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrUnsupported):
		return status.Error(codes.Unimplemented, err.Error())
	case errors.Is(err, ErrInvalidData):
		return status.Error(codes.InvalidArgument, err.Error())
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
