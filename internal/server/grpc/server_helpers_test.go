package grpcserver

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/metadata"
)

func makeJWT(t *testing.T, sub string, key []byte, method jwt.SigningMethod, iat time.Time, ttl time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(iat),
		NotBefore: jwt.NewNumericDate(iat),
		ExpiresAt: jwt.NewNumericDate(iat.Add(ttl)),
	}
	token := jwt.NewWithClaims(method, claims)
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func ctxWithAuth(token string) context.Context {
	md := metadata.New(map[string]string{
		"authorization": "Bearer " + token,
	})
	return metadata.NewIncomingContext(context.Background(), md)
}

func Test_bearerTokenFromMD_OkAndErrors(t *testing.T) {
	t.Parallel()

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer abc.def.ghi"))
	got, err := bearerTokenFromMD(ctx)
	if err != nil || got != "abc.def.ghi" {
		t.Fatalf("ok: got=%q err=%v", got, err)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "bearer lower.case.ok"))
	if got, err := bearerTokenFromMD(ctx); err != nil || got != "lower.case.ok" {
		t.Fatalf("case-insensitive scheme: got=%q err=%v", got, err)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Basic foo"))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on non-bearer")
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer   "))
	if _, err := bearerTokenFromMD(ctx); err == nil {
		t.Fatalf("want error on empty token")
	}

	if _, err := bearerTokenFromMD(context.Background()); err == nil {
		t.Fatalf("want error on no metadata")
	}
}

func Test_userIDFromCtx_Valid(t *testing.T) {
	t.Parallel()

	a := NewAuthenticator([]byte("secret"))
	sub := uuid.Must(uuid.NewV4()).String()
	j := makeJWT(t, sub, a.signKey, jwt.SigningMethodHS256, time.Now().UTC().Add(-time.Minute), 10*time.Minute)

	id, err := a.userIDFromCtx(ctxWithAuth(j))
	if err != nil {
		t.Fatalf("userIDFromCtx: %v", err)
	}
	if id.String() != sub {
		t.Fatalf("uuid mismatch: %s vs %s", id, sub)
	}
}

func Test_userIDFromCtx_NoMetadata(t *testing.T) {
	t.Parallel()

	a := NewAuthenticator([]byte("secret"))
	if _, err := a.userIDFromCtx(context.Background()); err == nil {
		t.Fatalf("want error on missing metadata")
	}
}

func Test_userIDFromCtx_Expired(t *testing.T) {
	t.Parallel()

	a := NewAuthenticator([]byte("secret"))
	sub := uuid.Must(uuid.NewV4()).String()
	j := makeJWT(t, sub, a.signKey, jwt.SigningMethodHS256, time.Now().UTC().Add(-2*time.Hour), time.Hour)

	if _, err := a.userIDFromCtx(ctxWithAuth(j)); err == nil {
		t.Fatalf("want error on expired token")
	}
}

func Test_userIDFromCtx_WithinLeeway(t *testing.T) {
	t.Parallel()

	a := NewAuthenticator([]byte("secret"))
	sub := uuid.Must(uuid.NewV4()).String()
	j := makeJWT(t, sub, a.signKey, jwt.SigningMethodHS256, time.Now().UTC().Add(-time.Hour), time.Hour-5*time.Second)

	if _, err := a.userIDFromCtx(ctxWithAuth(j)); err != nil {
		t.Fatalf("token expired within leeway should pass: %v", err)
	}
}

func Test_userIDFromCtx_BadSubject(t *testing.T) {
	t.Parallel()

	a := NewAuthenticator([]byte("secret"))
	j := makeJWT(t, "not-a-uuid", a.signKey, jwt.SigningMethodHS256, time.Now().UTC(), time.Hour)
	if _, err := a.userIDFromCtx(ctxWithAuth(j)); err == nil {
		t.Fatalf("want error on bad subject")
	}

	j = makeJWT(t, uuid.Nil.String(), a.signKey, jwt.SigningMethodHS256, time.Now().UTC(), time.Hour)
	if _, err := a.userIDFromCtx(ctxWithAuth(j)); err == nil {
		t.Fatalf("want error on nil subject")
	}
}

func Test_userIDFromCtx_WrongAlg(t *testing.T) {
	t.Parallel()

	a := NewAuthenticator([]byte("secret"))
	sub := uuid.Must(uuid.NewV4()).String()
	j := makeJWT(t, sub, a.signKey, jwt.SigningMethodHS384, time.Now().UTC(), time.Hour)

	if _, err := a.userIDFromCtx(ctxWithAuth(j)); err == nil {
		t.Fatalf("want error on wrong alg")
	}
}

func Test_userIDFromCtx_WrongKey(t *testing.T) {
	t.Parallel()

	a := NewAuthenticator([]byte("secret"))
	sub := uuid.Must(uuid.NewV4()).String()
	j := makeJWT(t, sub, []byte("other"), jwt.SigningMethodHS256, time.Now().UTC(), time.Hour)

	if _, err := a.userIDFromCtx(ctxWithAuth(j)); err == nil {
		t.Fatalf("want error on foreign signature")
	}
}

func Test_userIDFromCtx_InvalidTokenString(t *testing.T) {
	t.Parallel()

	a := NewAuthenticator([]byte("secret"))
	if _, err := a.userIDFromCtx(ctxWithAuth("this-is-not-a-jwt")); err == nil {
		t.Fatalf("want error on invalid token string")
	}
}
