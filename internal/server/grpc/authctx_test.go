package grpcserver

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/larder/internal/rpc"
)

func TestWithUserID_And_UserIDFromCtx(t *testing.T) {
	t.Parallel()

	if id, ok := UserIDFromCtx(context.Background()); ok || id != uuid.Nil {
		t.Fatalf("expected no user id in empty ctx")
	}

	want := uuid.Must(uuid.NewV4())
	got, ok := UserIDFromCtx(WithUserID(context.Background(), want))
	if !ok || got != want {
		t.Fatalf("mismatch: got %s ok=%v, want %s", got, ok, want)
	}

	if _, ok := UserIDFromCtx(WithUserID(context.Background(), uuid.Nil)); ok {
		t.Fatalf("nil id must not count as authenticated")
	}

	bad := context.WithValue(context.Background(), userIDKey, "not-uuid")
	if id, ok := UserIDFromCtx(bad); ok || id != uuid.Nil {
		t.Fatalf("expected miss on wrong typed value")
	}
}

func TestAuthenticatorUnary_PublicMethodSkipsToken(t *testing.T) {
	t.Parallel()

	a := NewAuthenticator([]byte("secret"))
	called := false
	h := func(ctx context.Context, req any) (any, error) {
		called = true
		if _, ok := UserIDFromCtx(ctx); ok {
			t.Fatalf("public method must not carry a user id")
		}
		return "ok", nil
	}

	for _, m := range []string{rpc.MethodRegister, rpc.MethodLogin} {
		called = false
		if _, err := a.Unary()(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: m}, h); err != nil {
			t.Fatalf("%s: %v", m, err)
		}
		if !called {
			t.Fatalf("%s: handler not called", m)
		}
	}
}

func TestAuthenticatorUnary_RequiresToken(t *testing.T) {
	t.Parallel()

	a := NewAuthenticator([]byte("secret"))
	h := func(context.Context, any) (any, error) {
		t.Fatalf("handler must not run")
		return nil, nil
	}
	_, err := a.Unary()(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: rpc.MethodListItems}, h)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated, got %v", err)
	}
}

func TestAuthenticatorUnary_InjectsSubject(t *testing.T) {
	t.Parallel()

	a := NewAuthenticator([]byte("secret"))
	want := uuid.Must(uuid.NewV4())
	tok := makeJWT(t, want.String(), a.signKey, jwt.SigningMethodHS256, time.Now().UTC(), time.Hour)

	var got uuid.UUID
	h := func(ctx context.Context, _ any) (any, error) {
		got, _ = UserIDFromCtx(ctx)
		return nil, nil
	}
	if _, err := a.Unary()(ctxWithAuth(tok), nil, &grpc.UnaryServerInfo{FullMethod: rpc.MethodInsertItem}, h); err != nil {
		t.Fatalf("unary: %v", err)
	}
	if got != want {
		t.Fatalf("user id: got %s want %s", got, want)
	}
}

type ctxStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s ctxStream) Context() context.Context { return s.ctx }

func TestAuthenticatorStream(t *testing.T) {
	t.Parallel()

	a := NewAuthenticator([]byte("secret"))
	info := &grpc.StreamServerInfo{FullMethod: rpc.MethodWatchItems, IsServerStream: true}

	err := a.Stream()(nil, ctxStream{ctx: context.Background()}, info, func(any, grpc.ServerStream) error {
		t.Fatalf("handler must not run")
		return nil
	})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("want Unauthenticated, got %v", err)
	}

	want := uuid.Must(uuid.NewV4())
	tok := makeJWT(t, want.String(), a.signKey, jwt.SigningMethodHS256, time.Now().UTC(), time.Hour)
	err = a.Stream()(nil, ctxStream{ctx: ctxWithAuth(tok)}, info, func(_ any, ss grpc.ServerStream) error {
		got, ok := UserIDFromCtx(ss.Context())
		if !ok || got != want {
			t.Fatalf("stream ctx user: got %s ok=%v", got, ok)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
}
