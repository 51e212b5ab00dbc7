package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/nainya/eavstore/pkg/diff"
	"github.com/nainya/eavstore/pkg/patch"
	"github.com/nainya/eavstore/pkg/replica"
)

// Client is a typed client for the replication service
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// ApplyPatch sends p and returns how many instructions the server applied
func (c *Client) ApplyPatch(ctx context.Context, p patch.Patch, opts ...grpc.CallOption) (int, error) {
	data, err := p.MarshalBinary()
	if err != nil {
		return 0, err
	}
	out := new(wrapperspb.UInt32Value)
	if err := c.cc.Invoke(ctx, ApplyPatchMethod, wrapperspb.Bytes(data), out, opts...); err != nil {
		return 0, err
	}
	return int(out.GetValue()), nil
}

// ExportPatch fetches the server's database state
func (c *Client) ExportPatch(ctx context.Context, opts ...grpc.CallOption) (patch.Patch, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, ExportPatchMethod, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return patch.Decode(out.GetValue())
}

// Publish pushes d to the server's stores
func (c *Client) Publish(ctx context.Context, d diff.StoreDiff, opts ...grpc.CallOption) error {
	data, err := d.MarshalBinary()
	if err != nil {
		return err
	}
	return c.cc.Invoke(ctx, PublishMethod, wrapperspb.Bytes(data), new(emptypb.Empty), opts...)
}

// Sync sends a snapshot of the caller's stores and returns the delta that
// converges them with the server
func (c *Client) Sync(ctx context.Context, snapshot diff.StoreDiff, opts ...grpc.CallOption) (diff.StoreDiff, error) {
	data, err := snapshot.MarshalBinary()
	if err != nil {
		return diff.StoreDiff{}, err
	}
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, SyncMethod, wrapperspb.Bytes(data), out, opts...); err != nil {
		return diff.StoreDiff{}, err
	}
	var delta diff.StoreDiff
	if err := delta.UnmarshalBinary(out.GetValue()); err != nil {
		return diff.StoreDiff{}, fmt.Errorf("decoding sync response: %w", err)
	}
	return delta, nil
}

// SyncStore brings local up to date with the server and returns the delta
// it applied. Writes to local made during the exchange may be overwritten.
func (c *Client) SyncStore(ctx context.Context, local *replica.Store, opts ...grpc.CallOption) (diff.StoreDiff, error) {
	snapshot, err := diff.Snapshot(local)
	if err != nil {
		return diff.StoreDiff{}, err
	}
	delta, err := c.Sync(ctx, snapshot, opts...)
	if err != nil {
		return diff.StoreDiff{}, err
	}
	if err := delta.ApplyTo(local); err != nil {
		return diff.StoreDiff{}, fmt.Errorf("applying sync delta: %w", err)
	}
	return delta, nil
}
