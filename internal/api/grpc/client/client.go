// Package client is a Go client for the staffsync.Directory service.
package client

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	grpcctx "github.com/dtroode/staffsync/internal/api/grpc/context"
	"github.com/dtroode/staffsync/internal/api/grpc/directoryapi"
)

// Options configures the connection.
type Options struct {
	Addr string
	// TLS enables transport security. CAFile, if set, replaces the system
	// roots.
	TLS    bool
	CAFile string
}

// Client calls the Directory service. Every call carries a fresh request id.
type Client struct {
	conn           *grpc.ClientConn
	api            directoryapi.DirectoryClient
	contextManager *grpcctx.Manager
}

// New connects lazily to opts.Addr.
func New(opts Options, dialOpts ...grpc.DialOption) (*Client, error) {
	creds, err := transportCredentials(opts)
	if err != nil {
		return nil, err
	}

	dialOpts = append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, dialOpts...)
	conn, err := grpc.NewClient(opts.Addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client: %w", err)
	}

	return &Client{
		conn:           conn,
		api:            directoryapi.NewDirectoryClient(conn),
		contextManager: grpcctx.NewManager(),
	}, nil
}

func transportCredentials(opts Options) (credentials.TransportCredentials, error) {
	if !opts.TLS {
		return insecure.NewCredentials(), nil
	}
	if opts.CAFile != "" {
		creds, err := credentials.NewClientTLSFromFile(opts.CAFile, "")
		if err != nil {
			return nil, fmt.Errorf("failed to load CA file: %w", err)
		}
		return creds, nil
	}
	return credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}), nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) withRequestID(ctx context.Context) context.Context {
	return c.contextManager.OutgoingWithRequestID(ctx, uuid.New())
}

// Add stores a new employee. photo is an encoded image file.
func (c *Client) Add(ctx context.Context, name string, photo []byte) (directoryapi.Employee, error) {
	resp, err := c.api.Add(c.withRequestID(ctx), &directoryapi.AddRequest{Name: name, Photo: photo})
	if err != nil {
		return directoryapi.Employee{}, fmt.Errorf("failed to add employee: %w", err)
	}
	return resp.Employee, nil
}

func (c *Client) Remove(ctx context.Context, id int64) error {
	if _, err := c.api.Remove(c.withRequestID(ctx), &directoryapi.RemoveRequest{ID: id}); err != nil {
		return fmt.Errorf("failed to remove employee %d: %w", id, err)
	}
	return nil
}

func (c *Client) Clear(ctx context.Context) error {
	if _, err := c.api.Clear(c.withRequestID(ctx), &directoryapi.Empty{}); err != nil {
		return fmt.Errorf("failed to clear directory: %w", err)
	}
	return nil
}

func (c *Client) List(ctx context.Context) ([]directoryapi.Employee, error) {
	resp, err := c.api.List(c.withRequestID(ctx), &directoryapi.ListRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list employees: %w", err)
	}
	return resp.Employees, nil
}

// MarkSeen records that employee id was seen at at. A zero at lets the
// server use its own clock.
func (c *Client) MarkSeen(ctx context.Context, id int64, at time.Time) (directoryapi.Employee, error) {
	req := &directoryapi.MarkSeenRequest{ID: id}
	if !at.IsZero() {
		req.At = at.UnixMilli()
	}
	resp, err := c.api.MarkSeen(c.withRequestID(ctx), req)
	if err != nil {
		return directoryapi.Employee{}, fmt.Errorf("failed to mark employee %d seen: %w", id, err)
	}
	return resp.Employee, nil
}

func (c *Client) Reconcile(ctx context.Context) (int64, error) {
	resp, err := c.api.Reconcile(c.withRequestID(ctx), &directoryapi.Empty{})
	if err != nil {
		return 0, fmt.Errorf("failed to reconcile counter: %w", err)
	}
	return resp.Next, nil
}

// Watch calls fn for every snapshot until ctx is done, fn fails or the
// server ends the stream. Cancellation through ctx is not an error.
func (c *Client) Watch(ctx context.Context, fn func(*directoryapi.Snapshot) error) error {
	stream, err := c.api.Observe(c.withRequestID(ctx), &directoryapi.ObserveRequest{})
	if err != nil {
		return fmt.Errorf("failed to observe directory: %w", err)
	}

	for {
		snapshot, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) || (ctx.Err() != nil && status.Code(err) == codes.Canceled) {
				return nil
			}
			return fmt.Errorf("observe stream failed: %w", err)
		}
		if err := fn(snapshot); err != nil {
			return err
		}
	}
}
