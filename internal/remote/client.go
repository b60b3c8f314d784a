// Package remote talks to the Larder gRPC service on behalf of the CLI.
//
// Client implements reconcile.Remote. The owner is carried by the bearer
// token, so the ownerID arguments only label logs and stream changes.
package remote

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/larder/internal/convert"
	"github.com/and161185/larder/internal/errs"
	"github.com/and161185/larder/internal/model"
	"github.com/and161185/larder/internal/reconcile"
	"github.com/and161185/larder/internal/rpc"
	"github.com/and161185/larder/internal/session"
)

// TokenSource yields the bearer token attached to every call; "" sends none.
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed TokenSource.
type StaticToken string

func (s StaticToken) Token() string { return string(s) }

// Options selects the server and transport security.
type Options struct {
	Addr      string
	CACert    string // PEM bundle; empty uses system roots
	Insecure  bool   // TLS without certificate verification (dev)
	Plaintext bool   // no TLS at all (local dev server with -insecure-listen)
}

type bearerCreds struct {
	src    TokenSource
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	if b.src == nil {
		return nil, nil
	}
	tok := b.src.Token()
	if tok == "" {
		return nil, nil
	}
	return map[string]string{"authorization": "Bearer " + tok}, nil
}

func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(o Options) (credentials.TransportCredentials, error) {
	if o.Plaintext {
		return insecure.NewCredentials(), nil
	}
	if o.Insecure {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil //nolint:gosec // dev flag
	}
	if o.CACert == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(o.CACert)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

// Client is a reconcile.Remote backed by gRPC.
type Client struct {
	cc  *grpc.ClientConn
	api *rpc.LarderClient
	log *zap.Logger
}

var _ reconcile.Remote = (*Client)(nil)

// Dial creates a client. The connection is established lazily on first use,
// so an unreachable server surfaces as a per-call error.
func Dial(o Options, tokens TokenSource, log *zap.Logger, extra ...grpc.DialOption) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	creds, err := loadTLS(o)
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(bearerCreds{src: tokens, secure: !o.Plaintext}),
	}, extra...)
	cc, err := grpc.NewClient(o.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", o.Addr, err)
	}
	return &Client{cc: cc, api: rpc.NewLarderClient(cc), log: log}, nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.cc.Close() }

// fromStatus maps gRPC codes back onto domain sentinels.
func fromStatus(op string, err error) error {
	st := status.Convert(err)
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%s: %w", op, errs.ErrNotFound)
	case codes.Unauthenticated:
		return fmt.Errorf("%s: %w: %s", op, errs.ErrUnauthorized, st.Message())
	case codes.AlreadyExists:
		return fmt.Errorf("%s: %w", op, errs.ErrAlreadyExists)
	case codes.InvalidArgument:
		return fmt.Errorf("%s: %w: %s", op, errs.ErrInvalid, st.Message())
	case codes.ResourceExhausted:
		return fmt.Errorf("%s: %w: %s", op, errs.ErrTooManyAttempts, st.Message())
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func credentialsReq(username, password string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		convert.FieldUsername: structpb.NewStringValue(username),
		convert.FieldPassword: structpb.NewStringValue(password),
	}}
}

// Register creates an account and returns its id.
func (c *Client) Register(ctx context.Context, username, password string) (string, error) {
	resp, err := c.api.Register(ctx, credentialsReq(username, password))
	if err != nil {
		return "", fromStatus("register", err)
	}
	return convert.String(resp, convert.FieldUserID)
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, username, password string) (session.Token, error) {
	resp, err := c.api.Login(ctx, credentialsReq(username, password))
	if err != nil {
		return session.Token{}, fromStatus("login", err)
	}
	tok := session.Token{Username: username}
	if tok.AccessToken, err = convert.String(resp, convert.FieldAccessToken); err != nil {
		return session.Token{}, fmt.Errorf("login: %w", err)
	}
	if tok.UserID, err = convert.String(resp, convert.FieldUserID); err != nil {
		return session.Token{}, fmt.Errorf("login: %w", err)
	}
	exp, err := convert.OptTime(resp, convert.FieldExpiresAt)
	if err != nil {
		return session.Token{}, fmt.Errorf("login: %w", err)
	}
	if exp != nil {
		tok.ExpiresAt = *exp
	}
	return tok, nil
}

// ListItems fetches the caller's items in server order.
func (c *Client) ListItems(ctx context.Context, _ string) ([]model.Item, error) {
	resp, err := c.api.ListItems(ctx, &structpb.Struct{})
	if err != nil {
		return nil, fromStatus("list items", err)
	}
	items, err := convert.ItemsFromStruct(resp)
	if err != nil {
		return nil, fmt.Errorf("list items: decode: %w", err)
	}
	return items, nil
}

// InsertItem creates an item and returns the stored row.
func (c *Client) InsertItem(ctx context.Context, _ string, in model.ItemInput) (model.Item, error) {
	resp, err := c.api.InsertItem(ctx, convert.WrapItem(convert.InputToStruct(in)))
	if err != nil {
		return model.Item{}, fromStatus("insert item", err)
	}
	return decodeItem("insert item", resp)
}

// UpdateItem replaces the editable fields of it.ID.
func (c *Client) UpdateItem(ctx context.Context, _ string, it model.Item) (model.Item, error) {
	resp, err := c.api.UpdateItem(ctx, convert.WrapItem(convert.ItemToStruct(it)))
	if err != nil {
		return model.Item{}, fromStatus("update item", err)
	}
	return decodeItem("update item", resp)
}

// DeleteItem removes id.
func (c *Client) DeleteItem(ctx context.Context, _ string, id string) error {
	_, err := c.api.DeleteItem(ctx, &structpb.Struct{Fields: map[string]*structpb.Value{
		convert.FieldID: structpb.NewStringValue(id),
	}})
	if err != nil {
		return fromStatus("delete item", err)
	}
	return nil
}

func decodeItem(op string, resp *structpb.Struct) (model.Item, error) {
	body := convert.UnwrapItem(resp)
	if body == nil {
		return model.Item{}, fmt.Errorf("%s: response without item", op)
	}
	it, err := convert.ItemFromStruct(body)
	if err != nil {
		return model.Item{}, fmt.Errorf("%s: decode: %w", op, err)
	}
	return it, nil
}

// Watch opens the change stream and returns once the server has confirmed
// the subscription. Undecodable messages are logged and skipped. The channel
// closes when ctx ends or the stream breaks.
func (c *Client) Watch(ctx context.Context, ownerID string) (<-chan model.Change, error) {
	stream, err := c.api.WatchItems(ctx, &structpb.Struct{})
	if err != nil {
		return nil, fromStatus("watch", err)
	}
	md, err := stream.Header()
	if err != nil {
		return nil, fromStatus("watch", err)
	}
	if md == nil {
		// The stream ended before headers; Recv reports why.
		if _, err := stream.Recv(); err != nil && !errors.Is(err, io.EOF) {
			return nil, fromStatus("watch", err)
		}
		return nil, errors.New("watch: stream closed before subscribing")
	}

	out := make(chan model.Change, 16)
	go func() {
		defer close(out)
		for {
			msg, err := stream.Recv()
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, io.EOF) {
					c.log.Warn("watch stream broken", zap.String("owner", ownerID), zap.Error(err))
				}
				return
			}
			ch, err := convert.ChangeFromStruct(msg)
			if err != nil {
				c.log.Warn("watch: undecodable change skipped", zap.Error(err))
				continue
			}
			ch.OwnerID = ownerID
			select {
			case out <- ch:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
