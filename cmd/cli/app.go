package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/and161185/larder/internal/localstore"
	"github.com/and161185/larder/internal/reconcile"
	"github.com/and161185/larder/internal/remote"
	"github.com/and161185/larder/internal/session"
)

// app holds global flags and the lazily built dependencies of one invocation.
type app struct {
	addr      string
	caCert    string
	insecure  bool
	plaintext bool
	configDir string
	dbPath    string
	logFile   string
	verbose   bool
	timeout   time.Duration

	out     io.Writer
	log     *zap.Logger
	closers []io.Closer
	sess    *session.Store
	db      *sql.DB
	store   *localstore.Store
	remote  *remote.Client
}

// setup resolves path defaults and opens the log file.
func (a *app) setup() {
	if a.configDir == "" {
		a.configDir = session.DefaultDir()
	}
	if a.dbPath == "" {
		a.dbPath = filepath.Join(a.configDir, "larder.db")
	}
	if a.logFile == "" {
		a.logFile = filepath.Join(a.configDir, "larder.log")
	}
	a.sess = session.NewStore(a.configDir)

	log, rot := newLogger(a.logFile, a.verbose)
	a.log = log
	a.closers = append(a.closers, rot)
}

// newLogger writes JSON lines to a rotating file so stdout stays clean for
// command output.
func newLogger(path string, verbose bool) (*zap.Logger, io.Closer) {
	rot := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     28, // days
	}

	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(rot), level)
	return zap.New(core).With(zap.String("version", version)), rot
}

func (a *app) close() {
	if a.remote != nil {
		_ = a.remote.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	for _, c := range a.closers {
		_ = c.Close()
	}
}

func (a *app) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if a.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, a.timeout)
}

// openDB opens the cache file without touching its schema.
func (a *app) openDB() (*sql.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := localstore.Open(a.dbPath)
	if err != nil {
		return nil, err
	}
	a.db = db
	return db, nil
}

// openStore opens the cache and brings its schema up to date.
func (a *app) openStore(ctx context.Context) (*localstore.Store, error) {
	if a.store != nil {
		return a.store, nil
	}
	db, err := a.openDB()
	if err != nil {
		return nil, err
	}
	m := localstore.NewMigrator(db, a.log)
	if _, err := m.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("prepare cache: %w", err)
	}
	a.store = localstore.New(db, m)
	return a.store, nil
}

// dial returns the server client. The connection itself is lazy.
func (a *app) dial() (*remote.Client, error) {
	if a.remote != nil {
		return a.remote, nil
	}
	c, err := remote.Dial(remote.Options{
		Addr:      a.addr,
		CACert:    a.caCert,
		Insecure:  a.insecure,
		Plaintext: a.plaintext,
	}, a.sess, a.log)
	if err != nil {
		return nil, err
	}
	a.remote = c
	return c, nil
}

func (a *app) coordinator(ctx context.Context) (*reconcile.Coordinator, error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}
	rc, err := a.dial()
	if err != nil {
		return nil, err
	}
	return reconcile.New(store, rc, a.sess, newLogReminders(a.log), a.log), nil
}
