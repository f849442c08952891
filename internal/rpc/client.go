package rpc

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/groundtrack/model"
)

// Client is a thin typed wrapper over TrackService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, fields map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSatellites returns the catalog names.
func (c *Client) ListSatellites(ctx context.Context, opts ...grpc.CallOption) ([]string, error) {
	out, err := c.call(ctx, MethodListSatellites, nil, opts...)
	if err != nil {
		return nil, err
	}
	values := out.GetFields()["names"].GetListValue().GetValues()
	names := make([]string, len(values))
	for i, v := range values {
		names[i] = v.GetStringValue()
	}
	return names, nil
}

// GetPosition returns the sample of name at at; a zero at means now.
func (c *Client) GetPosition(ctx context.Context, name string, at time.Time, opts ...grpc.CallOption) (model.KinematicSample, error) {
	req := map[string]any{"name": name}
	if !at.IsZero() {
		req["at"] = at.Format(time.RFC3339Nano)
	}
	out, err := c.call(ctx, MethodGetPosition, req, opts...)
	if err != nil {
		return model.KinematicSample{}, err
	}
	return sampleFromStruct(out.GetFields()["sample"].GetStructValue())
}

// GetTrack returns the current sample and history of name.
func (c *Client) GetTrack(ctx context.Context, name string, at time.Time, span, step time.Duration, opts ...grpc.CallOption) (model.KinematicSample, model.TrackHistory, error) {
	req := map[string]any{
		"name":         name,
		"span_minutes": span.Minutes(),
		"step_minutes": step.Minutes(),
	}
	if !at.IsZero() {
		req["at"] = at.Format(time.RFC3339Nano)
	}
	out, err := c.call(ctx, MethodGetTrack, req, opts...)
	if err != nil {
		return model.KinematicSample{}, nil, err
	}
	cur, err := sampleFromStruct(out.GetFields()["current"].GetStructValue())
	if err != nil {
		return model.KinematicSample{}, nil, err
	}
	history, err := historyFromStruct(out.GetFields()["history"].GetStructValue())
	if err != nil {
		return model.KinematicSample{}, nil, err
	}
	return cur, history, nil
}

// GetLive returns the raw live snapshot message.
func (c *Client) GetLive(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.call(ctx, MethodGetLive, nil, opts...)
}

// ReloadCatalog asks the server to fetch the feed again and returns the new size.
func (c *Client) ReloadCatalog(ctx context.Context, opts ...grpc.CallOption) (int, error) {
	out, err := c.call(ctx, MethodReloadCatalog, nil, opts...)
	if err != nil {
		return 0, err
	}
	return int(out.GetFields()["count"].GetNumberValue()), nil
}
