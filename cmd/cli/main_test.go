package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"

	"github.com/and161185/larder/internal/errs"
	"github.com/and161185/larder/internal/limiter"
	"github.com/and161185/larder/internal/localstore"
	"github.com/and161185/larder/internal/model"
	"github.com/and161185/larder/internal/realtime"
	"github.com/and161185/larder/internal/repository/memory"
	"github.com/and161185/larder/internal/rpc"
	grpcserver "github.com/and161185/larder/internal/server/grpc"
	"github.com/and161185/larder/internal/service"
)

// cli runs commands against one config directory, like one device.
type cli struct {
	t    *testing.T
	dir  string
	addr string
}

func newCLI(t *testing.T, addr string) *cli {
	t.Helper()
	return &cli{t: t, dir: t.TempDir(), addr: addr}
}

func (c *cli) run(args ...string) (string, error) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	full := append([]string{"--config-dir", c.dir, "--plaintext", "--timeout", "5s"}, args...)
	if c.addr != "" {
		full = append([]string{"--addr", c.addr}, full...)
	}
	err := run(context.Background(), full, &out, &errOut)
	return out.String(), err
}

func (c *cli) must(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, "larder %s", strings.Join(args, " "))
	return out
}

func (c *cli) items() []model.Item {
	c.t.Helper()
	var items []model.Item
	require.NoError(c.t, json.Unmarshal([]byte(c.must("list", "--json")), &items))
	return items
}

func names(items []model.Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Name)
	}
	return out
}

func TestVersion(t *testing.T) {
	out := newCLI(t, "").must("version")
	require.Equal(t, fmt.Sprintf("larder %s (%s)\n", version, buildDate), out)
}

func TestAnonymousLifecycle(t *testing.T) {
	c := newCLI(t, "")

	id := strings.TrimSpace(c.must("add", "Milk", "--quantity", "2", "--unit", "l", "--expires", "2024-05-10"))
	require.NotEmpty(t, id)

	var it model.Item
	require.NoError(t, json.Unmarshal([]byte(c.must("get", id, "--json")), &it))
	require.Equal(t, "Milk", it.Name)
	require.Equal(t, 2.0, *it.Quantity)
	require.Equal(t, "l", *it.Unit)
	require.Nil(t, it.OwnerID)

	c.must("edit", id, "--name", "Oat milk", "--expires", "")
	it = model.Item{}
	require.NoError(t, json.Unmarshal([]byte(c.must("get", id, "--json")), &it))
	require.Equal(t, "Oat milk", it.Name)
	require.Nil(t, it.ExpiryDate)
	require.Equal(t, "l", *it.Unit, "untouched fields survive an edit")

	text := c.must("list")
	require.Contains(t, text, "Oat milk")
	require.Contains(t, text, "local")

	c.must("rm", id)
	require.Empty(t, c.items())

	_, err := c.run("get", id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestListOrder(t *testing.T) {
	c := newCLI(t, "")
	c.must("add", "dateless")
	c.must("add", "may", "--expires", "2024-05-10")
	c.must("add", "april", "--expires", "2024-04-01")

	require.Equal(t, []string{"april", "may", "dateless"}, names(c.items()))
}

func TestItemFlagValidation(t *testing.T) {
	c := newCLI(t, "")

	_, err := c.run("add", "Milk", "--expires", "2024-13-01")
	require.ErrorIs(t, err, errs.ErrInvalid)
	_, err = c.run("add", "Milk", "--quantity", "-1")
	require.ErrorIs(t, err, errs.ErrInvalid)
	_, err = c.run("add", " ")
	require.ErrorIs(t, err, errs.ErrInvalid)
	_, err = c.run("edit", "missing", "--name", "x")
	require.ErrorIs(t, err, errs.ErrNotFound)
	require.Empty(t, c.items())
}

func TestMigrate(t *testing.T) {
	c := newCLI(t, "")

	out := c.must("migrate")
	require.True(t, strings.HasPrefix(out, fmt.Sprintf("schema version %d, ", localstore.TargetVersion)), out)
	require.NotContains(t, out, " 0 change(s)")

	require.Equal(t, fmt.Sprintf("schema version %d, 0 change(s)\n", localstore.TargetVersion), c.must("migrate"))
	require.Equal(t, fmt.Sprintf("schema version %d, 0 change(s)\n", localstore.TargetVersion), c.must("migrate", "--force"))
}

func TestWatchNeedsSession(t *testing.T) {
	_, err := newCLI(t, "").run("watch")
	require.ErrorContains(t, err, "login")
}

func startServer(t *testing.T) string {
	t.Helper()
	key := []byte("cli-test-key")
	log := zaptest.NewLogger(t)
	hub := realtime.NewHub(16, log)
	authn := grpcserver.NewAuthenticator(key)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(authn.Unary()),
		grpc.ChainStreamInterceptor(authn.Stream()),
	)
	rpc.RegisterLarderServer(gs, grpcserver.New(
		service.NewAuthService(memory.NewUsers(), key, time.Hour, limiter.NewMemory(limiter.DefaultPolicy), log),
		service.NewItemService(memory.NewItems(), hub),
		hub, log,
	))
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)
	return lis.Addr().String()
}

func TestAccountRoundTrip(t *testing.T) {
	addr := startServer(t)
	phone, laptop := newCLI(t, addr), newCLI(t, addr)

	id := strings.TrimSpace(phone.must("register", "-u", "alice", "-p", "pw"))
	require.NotEmpty(t, id)
	_, err := phone.run("register", "-u", "alice", "-p", "pw")
	require.ErrorIs(t, err, errs.ErrAlreadyExists)
	_, err = phone.run("login", "-u", "alice", "-p", "wrong")
	require.ErrorIs(t, err, errs.ErrUnauthorized)

	require.Contains(t, phone.must("login", "-u", "alice", "-p", "pw"), "logged in as alice ("+id+"), 0 item(s)")
	itemID := strings.TrimSpace(phone.must("add", "Cheese", "--expires", "2024-06-01"))

	require.Contains(t, laptop.must("login", "-u", "alice", "-p", "pw"), "1 item(s)")
	got := laptop.items()
	require.Equal(t, []string{"Cheese"}, names(got))
	require.Equal(t, itemID, got[0].ID)
	require.Equal(t, id, model.Deref(got[0].OwnerID))
	require.Contains(t, laptop.must("list"), "synced")

	laptop.must("edit", itemID, "--location", "fridge")
	require.Equal(t, "fridge", model.Deref(phone.items()[0].Location))

	laptop.must("rm", itemID)
	require.Empty(t, phone.items())

	phone.must("add", "Butter")
	require.Contains(t, phone.must("logout", "--purge"), "removed 1 cached item(s)")
	require.Empty(t, phone.items(), "anonymous cache is empty after purge")
}
