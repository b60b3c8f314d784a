// Package grpcserver exposes the Larder gRPC API handlers.
package grpcserver

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/larder/internal/convert"
	"github.com/and161185/larder/internal/errs"
	"github.com/and161185/larder/internal/model"
	"github.com/and161185/larder/internal/rpc"
	"github.com/and161185/larder/internal/service"
)

// Watcher hands out per-owner change feeds. Implemented by *realtime.Hub.
type Watcher interface {
	Subscribe(owner string) (<-chan model.Change, func())
}

// Server wires services into gRPC handlers.
type Server struct {
	auth  service.AuthService
	items service.ItemService
	watch Watcher
	log   *zap.Logger
}

var _ rpc.LarderServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(auth service.AuthService, items service.ItemService, watch Watcher, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{auth: auth, items: items, watch: watch, log: log}
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(op string, err error) error {
	switch {
	case errors.Is(err, errs.ErrInvalid):
		return status.Errorf(codes.InvalidArgument, "%s: %v", op, err)
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, "already exists")
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "bad credentials")
	case errors.Is(err, errs.ErrTooManyAttempts):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Errorf(codes.Internal, "%s: %v", op, err)
	}
}

func callerID(ctx context.Context) (uuid.UUID, error) {
	id, ok := UserIDFromCtx(ctx)
	if !ok {
		return uuid.Nil, status.Error(codes.Unauthenticated, "no auth")
	}
	return id, nil
}

// --- Auth ---

// Register creates a new user account.
func (s *Server) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	username, err1 := convert.String(req, convert.FieldUsername)
	password, err2 := convert.String(req, convert.FieldPassword)
	if err := errors.Join(err1, err2); err != nil || username == "" || password == "" {
		return nil, status.Error(codes.InvalidArgument, "empty username/password")
	}
	userID, err := s.auth.Register(ctx, username, password)
	if err != nil {
		return nil, toStatus("register", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		convert.FieldUserID: structpb.NewStringValue(userID),
	}}, nil
}

// Login authenticates a user and returns an access token.
func (s *Server) Login(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	username, err1 := convert.String(req, convert.FieldUsername)
	password, err2 := convert.String(req, convert.FieldPassword)
	if err := errors.Join(err1, err2); err != nil {
		return nil, status.Error(codes.InvalidArgument, "bad credentials payload")
	}
	tok, u, err := s.auth.LoginWithIP(ctx, username, password, peerHost(ctx))
	if err != nil {
		return nil, toStatus("login", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		convert.FieldAccessToken: structpb.NewStringValue(tok.AccessToken),
		convert.FieldUserID:      structpb.NewStringValue(u.ID.String()),
		convert.FieldExpiresAt:   convert.TimeValue(&tok.ExpiresAt),
	}}, nil
}

// --- Items ---

// ListItems returns the caller's items, soonest expiry first.
func (s *Server) ListItems(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	items, err := s.items.List(ctx, userID)
	if err != nil {
		return nil, toStatus("list", err)
	}
	return convert.ItemsToStruct(items), nil
}

// InsertItem creates an item owned by the caller.
func (s *Server) InsertItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	in, err := convert.InputFromStruct(convert.UnwrapItem(req))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad item: %v", err)
	}
	it, err := s.items.Insert(ctx, userID, in)
	if err != nil {
		return nil, toStatus("insert", err)
	}
	return convert.WrapItem(convert.ItemToStruct(it)), nil
}

// UpdateItem replaces the editable fields of one of the caller's items.
// Ids that are not server ids cannot belong to the caller and report NotFound.
func (s *Server) UpdateItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	body := convert.UnwrapItem(req)
	in, err := convert.InputFromStruct(body)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad item: %v", err)
	}
	raw, _ := convert.String(body, convert.FieldID)
	itemID, err := uuid.FromString(raw)
	if err != nil {
		return nil, status.Error(codes.NotFound, "not found")
	}
	it, err := s.items.Update(ctx, userID, itemID, in)
	if err != nil {
		return nil, toStatus("update", err)
	}
	return convert.WrapItem(convert.ItemToStruct(it)), nil
}

// DeleteItem removes one of the caller's items.
func (s *Server) DeleteItem(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := callerID(ctx)
	if err != nil {
		return nil, err
	}
	raw, _ := convert.String(req, convert.FieldID)
	itemID, err := uuid.FromString(raw)
	if err != nil {
		return nil, status.Error(codes.NotFound, "not found")
	}
	if err := s.items.Delete(ctx, userID, itemID); err != nil {
		return nil, toStatus("delete", err)
	}
	return &structpb.Struct{}, nil
}

// WatchItems streams the caller's item changes until the client goes away.
// Headers are sent once the subscription is live, so a client that waited
// for them cannot miss a later write.
func (s *Server) WatchItems(_ *structpb.Struct, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	userID, err := callerID(ctx)
	if err != nil {
		return err
	}
	if s.watch == nil {
		return status.Error(codes.Unimplemented, "realtime disabled")
	}

	owner := userID.String()
	changes, cancel := s.watch.Subscribe(owner)
	defer cancel()
	if err := stream.SendHeader(metadata.MD{}); err != nil {
		return err
	}
	s.log.Debug("watch opened", zap.String("owner", owner))

	for {
		select {
		case <-ctx.Done():
			s.log.Debug("watch closed", zap.String("owner", owner))
			return nil
		case ch, ok := <-changes:
			if !ok {
				return status.Error(codes.Unavailable, "watch feed closed")
			}
			if err := stream.Send(convert.ChangeToStruct(ch)); err != nil {
				return err
			}
		}
	}
}
