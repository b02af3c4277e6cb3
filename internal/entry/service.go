package entry

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
	ServicePackage = "deyehome.entries.v1"
	ServiceName    = "ConfigEntries"
)

type listRequest struct {
	Domain string `json:"domain"`
}

type listResponse struct {
	Entries []Entry `json:"entries"`
}

type createRequest struct {
	Domain string            `json:"domain"`
	Data   map[string]string `json:"data"`
}

type idRequest struct {
	EntryID string            `json:"entry_id"`
	Data    map[string]string `json:"data,omitempty"`
}

type entryResponse struct {
	Entry Entry `json:"entry"`
}

// RegisterGRPC exposes the manager as deyehome.entries.v1.ConfigEntries.
func (m *Manager) RegisterGRPC(server *grpc.Server) {
	rpc.MustRegister(server, rpc.Service{
		Package: ServicePackage,
		Name:    ServiceName,
		Methods: []rpc.Method{
			{Name: "ListEntries", Handler: m.listEntries},
			{Name: "CreateEntry", Handler: m.createEntry},
			{Name: "Reauth", Handler: m.reauth},
			{Name: "ReloadEntry", Handler: m.reloadEntry},
			{Name: "UnloadEntry", Handler: m.unloadEntry},
			{Name: "RemoveEntry", Handler: m.removeEntry},
		},
	})
}

func (m *Manager) listEntries(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in listRequest
	if err := rpc.Decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out := listResponse{Entries: []Entry{}}
	for _, e := range m.List() {
		if in.Domain != "" && e.Domain != in.Domain {
			continue
		}
		out.Entries = append(out.Entries, e.Redacted())
	}
	return rpc.Encode(out)
}

func (m *Manager) createEntry(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in createRequest
	if err := rpc.Decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if in.Domain == "" {
		return nil, status.Error(codes.InvalidArgument, "domain is required")
	}
	outcome, err := m.Create(ctx, in.Domain, in.Data)
	if err != nil {
		return nil, StatusError(err)
	}
	return encodeOutcome(outcome)
}

func (m *Manager) reauth(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in, err := decodeID(req)
	if err != nil {
		return nil, err
	}
	outcome, err := m.Reauth(ctx, in.EntryID, in.Data)
	if err != nil {
		return nil, StatusError(err)
	}
	return encodeOutcome(outcome)
}

func (m *Manager) reloadEntry(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return m.lifecycle(ctx, req, m.Reload)
}

func (m *Manager) unloadEntry(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return m.lifecycle(ctx, req, m.Unload)
}

func (m *Manager) removeEntry(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	in, err := decodeID(req)
	if err != nil {
		return nil, err
	}
	if err := m.Remove(ctx, in.EntryID); err != nil {
		return nil, StatusError(err)
	}
	return rpc.Encode(map[string]any{"removed": in.EntryID})
}

func (m *Manager) lifecycle(ctx context.Context, req *structpb.Struct, op func(context.Context, string) error) (*structpb.Struct, error) {
	in, err := decodeID(req)
	if err != nil {
		return nil, err
	}
	// Setup failures are reported through the entry state.
	if err := op(ctx, in.EntryID); err != nil && errors.Is(err, ErrEntryNotFound) {
		return nil, StatusError(err)
	}
	e, ok := m.Get(in.EntryID)
	if !ok {
		return nil, status.Error(codes.NotFound, "config entry not found")
	}
	return rpc.Encode(entryResponse{Entry: e.Redacted()})
}

func decodeID(req *structpb.Struct) (idRequest, error) {
	var in idRequest
	if err := rpc.Decode(req, &in); err != nil {
		return idRequest{}, status.Error(codes.InvalidArgument, err.Error())
	}
	if in.EntryID == "" {
		return idRequest{}, status.Error(codes.InvalidArgument, "entry_id is required")
	}
	return in, nil
}

func encodeOutcome(outcome FlowOutcome) (*structpb.Struct, error) {
	if outcome.Entry != nil {
		redacted := outcome.Entry.Redacted()
		outcome.Entry = &redacted
	}
	return rpc.Encode(outcome)
}

// StatusError maps entry errors onto gRPC codes. Flow form errors carry
// their key in the message.
func StatusError(err error) error {
	var flowErr *FlowError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &flowErr):
		if flowErr.Key == ErrorInvalidAuth {
			return status.Error(codes.Unauthenticated, flowErr.Key)
		}
		if flowErr.Key == ErrorCannotConnect {
			return status.Error(codes.Unavailable, flowErr.Key)
		}
		return status.Error(codes.Unknown, flowErr.Key)
	case errors.Is(err, ErrEntryNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ErrUnknownDomain):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, ErrAuthFailed):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, ErrNotReady):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, ErrAlreadyLoaded), errors.Is(err, ErrSetupRunning), errors.Is(err, ErrSetupCancelled):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
