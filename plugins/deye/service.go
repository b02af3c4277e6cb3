package deye

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joshp123/deyehome/internal/rpc"
)

const (
	ServicePackage = "deyehome.plugins.deye.v1"
	ServiceName    = "DeyeService"
)

type accountView struct {
	EntryID     string    `json:"entry_id"`
	Title       string    `json:"title"`
	Devices     int       `json:"devices"`
	Healthy     bool      `json:"healthy"`
	LastUpdated time.Time `json:"last_updated"`
	LastError   string    `json:"last_error,omitempty"`
}

type deviceView struct {
	EntryID     string      `json:"entry_id"`
	DeviceID    string      `json:"device_id"`
	DeviceName  string      `json:"device_name"`
	ProductID   string      `json:"product_id"`
	ProductName string      `json:"product_name"`
	Platform    int         `json:"platform"`
	Online      bool        `json:"online"`
	Stale       bool        `json:"stale"`
	State       DeviceState `json:"state"`
}

type entryRequest struct {
	EntryID string `json:"entry_id"`
}

type deviceRequest struct {
	DeviceID string `json:"device_id"`
}

type service struct {
	handler *Handler
}

// RegisterDeyeService exposes loaded accounts as deyehome.plugins.deye.v1.DeyeService.
func RegisterDeyeService(server *grpc.Server, handler *Handler) {
	s := &service{handler: handler}
	rpc.MustRegister(server, rpc.Service{
		Package: ServicePackage,
		Name:    ServiceName,
		Methods: []rpc.Method{
			{Name: "ListAccounts", Handler: s.listAccounts},
			{Name: "ListDevices", Handler: s.listDevices},
			{Name: "GetDeviceState", Handler: s.getDeviceState},
			{Name: "Refresh", Handler: s.refresh},
		},
	})
}

func (s *service) listAccounts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	out := []accountView{}
	for _, a := range s.handler.Accounts() {
		out = append(out, viewAccount(a))
	}
	return rpc.Encode(map[string]any{"accounts": out})
}

func (s *service) listDevices(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in entryRequest
	if err := rpc.Decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	out := []deviceView{}
	for _, a := range s.handler.Accounts() {
		if in.EntryID != "" && a.EntryID() != in.EntryID {
			continue
		}
		for _, d := range a.Devices() {
			status, _ := a.Status(d.DeviceID)
			out = append(out, viewDevice(a.EntryID(), d, status))
		}
	}
	return rpc.Encode(map[string]any{"devices": out})
}

func (s *service) getDeviceState(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in deviceRequest
	if err := rpc.Decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if in.DeviceID == "" {
		return nil, status.Error(codes.InvalidArgument, "device_id is required")
	}
	for _, a := range s.handler.Accounts() {
		if st, ok := a.Status(in.DeviceID); ok {
			return rpc.Encode(viewDevice(a.EntryID(), st.Device, st))
		}
	}
	return nil, status.Errorf(codes.NotFound, "device %s not found", in.DeviceID)
}

func (s *service) refresh(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var in entryRequest
	if err := rpc.Decode(req, &in); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	a, ok := s.handler.Account(in.EntryID)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "account %s not loaded", in.EntryID)
	}
	if _, err := a.Refresh(ctx); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return rpc.Encode(viewAccount(a))
}

func viewAccount(a *Account) accountView {
	view := accountView{
		EntryID:     a.EntryID(),
		Title:       a.Title(),
		Devices:     len(a.Devices()),
		Healthy:     a.Healthy(),
		LastUpdated: a.coordinator.LastUpdated(),
	}
	if err := a.coordinator.LastError(); err != nil {
		view.LastError = err.Error()
	}
	return view
}

func viewDevice(entryID string, d Device, st DeviceStatus) deviceView {
	return deviceView{
		EntryID:     entryID,
		DeviceID:    d.DeviceID,
		DeviceName:  d.DeviceName,
		ProductID:   d.ProductID,
		ProductName: d.ProductName,
		Platform:    d.Platform,
		Online:      st.Online,
		Stale:       st.Stale,
		State:       st.State,
	}
}
