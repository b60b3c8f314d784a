package main

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/and161185/larder/internal/errs"
	"github.com/and161185/larder/internal/localstore"
	"github.com/and161185/larder/internal/model"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "larder",
		Short:         "Track what is in the pantry and when it expires",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			a.setup()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.addr, "addr", "localhost:8443", "server address")
	pf.StringVar(&a.caCert, "cacert", "", "CA certificate (PEM)")
	pf.BoolVar(&a.insecure, "insecure", false, "skip server certificate verification (dev)")
	pf.BoolVar(&a.plaintext, "plaintext", false, "connect without TLS (dev server with -insecure-listen)")
	pf.StringVar(&a.configDir, "config-dir", "", "config directory (default $XDG_CONFIG_HOME/larder)")
	pf.StringVar(&a.dbPath, "db", "", "cache database path (default <config-dir>/larder.db)")
	pf.StringVar(&a.logFile, "log-file", "", "log file (default <config-dir>/larder.log)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	pf.DurationVar(&a.timeout, "timeout", 30*time.Second, "per-command timeout (watch ignores it)")

	root.AddGroup(
		&cobra.Group{ID: "items", Title: "Items:"},
		&cobra.Group{ID: "account", Title: "Account:"},
	)
	root.AddCommand(
		versionCmd(a),
		registerCmd(a), loginCmd(a), logoutCmd(a),
		listCmd(a), getCmd(a), addCmd(a), editCmd(a), rmCmd(a), watchCmd(a),
		migrateCmd(a),
	)
	return root
}

func versionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(a.out, "larder %s (%s)\n", version, buildDate)
		},
	}
}

// ---- account ----

func credentialFlags(cmd *cobra.Command, username, password *string) {
	cmd.Flags().StringVarP(username, "username", "u", "", "username")
	cmd.Flags().StringVarP(password, "password", "p", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
}

func registerCmd(a *app) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:     "register",
		GroupID: "account",
		Short:   "Create an account on the server",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.ctx(cmd.Context())
			defer cancel()
			rc, err := a.dial()
			if err != nil {
				return err
			}
			id, err := rc.Register(ctx, username, password)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, id)
			return nil
		},
	}
	credentialFlags(cmd, &username, &password)
	return cmd
}

func loginCmd(a *app) *cobra.Command {
	var username, password string
	cmd := &cobra.Command{
		Use:     "login",
		GroupID: "account",
		Short:   "Log in and cache the account's items",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.ctx(cmd.Context())
			defer cancel()
			rc, err := a.dial()
			if err != nil {
				return err
			}
			tok, err := rc.Login(ctx, username, password)
			if err != nil {
				return err
			}
			if err := a.sess.Save(tok); err != nil {
				return err
			}
			a.log.Info("logged in", zap.String("user_id", tok.UserID))

			coord, err := a.coordinator(ctx)
			if err != nil {
				return err
			}
			items, err := coord.List(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "logged in as %s (%s), %d item(s)\n", username, tok.UserID, len(items))
			return nil
		},
	}
	credentialFlags(cmd, &username, &password)
	return cmd
}

func logoutCmd(a *app) *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:     "logout",
		GroupID: "account",
		Short:   "Forget the session",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.ctx(cmd.Context())
			defer cancel()
			if purge {
				tok, err := a.sess.Load()
				if err != nil && !errors.Is(err, errs.ErrNotFound) {
					return err
				}
				if tok.UserID != "" {
					store, err := a.openStore(ctx)
					if err != nil {
						return err
					}
					n, err := store.DeleteByOwner(ctx, tok.UserID)
					if err != nil {
						return err
					}
					fmt.Fprintf(a.out, "removed %d cached item(s)\n", n)
				}
			}
			return a.sess.Clear()
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "also drop the account's cached items")
	return cmd
}

// ---- items ----

func listCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		GroupID: "items",
		Short:   "List items, soonest expiry first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.ctx(cmd.Context())
			defer cancel()
			coord, err := a.coordinator(ctx)
			if err != nil {
				return err
			}
			items, err := coord.List(ctx)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(a.out, items)
			}
			return printItems(a.out, items, time.Now())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func getCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "get ID",
		GroupID: "items",
		Short:   "Show one cached item",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx(cmd.Context())
			defer cancel()
			coord, err := a.coordinator(ctx)
			if err != nil {
				return err
			}
			it, err := coord.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(a.out, it)
			}
			return printItem(a.out, it, time.Now())
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// itemFlags are the editable fields shared by add and edit. Passing an empty
// string clears a field.
type itemFlags struct {
	name      string
	barcode   string
	unit      string
	location  string
	notes     string
	purchased string
	expires   string
	quantity  float64
	asJSON    bool
}

func (f *itemFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.barcode, "barcode", "", "barcode")
	fs.StringVar(&f.unit, "unit", "", "quantity unit, e.g. kg")
	fs.StringVar(&f.location, "location", "", "where it is stored")
	fs.StringVar(&f.notes, "notes", "", "free text")
	fs.StringVar(&f.purchased, "purchased", "", "purchase date (YYYY-MM-DD)")
	fs.StringVar(&f.expires, "expires", "", "expiry date (YYYY-MM-DD)")
	fs.Float64Var(&f.quantity, "quantity", 0, "amount")
	fs.BoolVar(&f.asJSON, "json", false, "print the stored item as JSON")
}

// apply overlays the flags the user actually set onto in.
func (f *itemFlags) apply(cmd *cobra.Command, in model.ItemInput) (model.ItemInput, error) {
	fs := cmd.Flags()
	set := func(flag, v string, dst **string) {
		if fs.Changed(flag) {
			*dst = model.StringPtr(strings.TrimSpace(v))
		}
	}
	if fs.Changed("name") {
		in.Name = strings.TrimSpace(f.name)
	}
	set("barcode", f.barcode, &in.Barcode)
	set("unit", f.unit, &in.Unit)
	set("location", f.location, &in.Location)
	set("notes", f.notes, &in.Notes)
	set("purchased", f.purchased, &in.PurchaseDate)
	set("expires", f.expires, &in.ExpiryDate)
	if fs.Changed("quantity") {
		if f.quantity < 0 {
			return in, fmt.Errorf("%w: negative quantity", errs.ErrInvalid)
		}
		q := f.quantity
		in.Quantity = &q
	}
	for flag, p := range map[string]*string{"purchased": in.PurchaseDate, "expires": in.ExpiryDate} {
		if p == nil {
			continue
		}
		if _, err := time.Parse(dateLayout, *p); err != nil {
			return in, fmt.Errorf("%w: --%s must be YYYY-MM-DD", errs.ErrInvalid, flag)
		}
	}
	return in, nil
}

func (f *itemFlags) print(a *app, it model.Item) error {
	if f.asJSON {
		return printJSON(a.out, it)
	}
	fmt.Fprintln(a.out, it.ID)
	return nil
}

func addCmd(a *app) *cobra.Command {
	var f itemFlags
	cmd := &cobra.Command{
		Use:     "add NAME",
		GroupID: "items",
		Short:   "Add an item",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx(cmd.Context())
			defer cancel()
			in, err := f.apply(cmd, model.ItemInput{Name: strings.TrimSpace(args[0])})
			if err != nil {
				return err
			}
			coord, err := a.coordinator(ctx)
			if err != nil {
				return err
			}
			it, err := coord.Add(ctx, in)
			if err != nil {
				return err
			}
			return f.print(a, it)
		},
	}
	f.bind(cmd)
	return cmd
}

func editCmd(a *app) *cobra.Command {
	var f itemFlags
	cmd := &cobra.Command{
		Use:     "edit ID",
		GroupID: "items",
		Short:   "Change fields of an item",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx(cmd.Context())
			defer cancel()
			coord, err := a.coordinator(ctx)
			if err != nil {
				return err
			}
			cur, err := coord.Get(ctx, args[0])
			if err != nil {
				return err
			}
			in, err := f.apply(cmd, cur.Input())
			if err != nil {
				return err
			}
			upd := in.Item(cur.ID, cur.OwnerID)
			upd.CreatedAt, upd.UpdatedAt = cur.CreatedAt, cur.UpdatedAt
			it, err := coord.Update(ctx, upd)
			if err != nil {
				return err
			}
			return f.print(a, it)
		},
	}
	cmd.Flags().StringVar(&f.name, "name", "", "new name")
	f.bind(cmd)
	return cmd
}

func rmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm ID...",
		GroupID: "items",
		Short:   "Remove items",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := a.ctx(cmd.Context())
			defer cancel()
			coord, err := a.coordinator(ctx)
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := coord.Remove(ctx, id); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func watchCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "watch",
		GroupID: "items",
		Short:   "Print the item list again whenever the account's items change",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if _, ok := a.sess.CurrentOwner(ctx); !ok {
				return errors.New("watch needs a session, run `larder login` first")
			}
			coord, err := a.coordinator(ctx)
			if err != nil {
				return err
			}

			var mu sync.Mutex
			show := func(items []model.Item) {
				mu.Lock()
				defer mu.Unlock()
				var err error
				if asJSON {
					err = printJSON(a.out, items)
				} else {
					fmt.Fprintf(a.out, "-- %s --\n", time.Now().Format(time.TimeOnly))
					err = printItems(a.out, items, time.Now())
				}
				if err != nil {
					a.log.Warn("print snapshot", zap.Error(err))
				}
			}

			sub, err := coord.SubscribeRealtime(ctx, show)
			if err != nil {
				return err
			}
			defer sub.Unsubscribe()

			listCtx, cancel := a.ctx(ctx)
			items, err := coord.List(listCtx)
			cancel()
			if err != nil {
				return err
			}
			show(items)

			select {
			case <-ctx.Done():
				return nil
			case <-sub.Done():
				return errors.New("watch stream closed by server")
			}
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print each snapshot as JSON")
	return cmd
}

// ---- maintenance ----

func migrateCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Bring the cache schema up to date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := a.ctx(cmd.Context())
			defer cancel()
			db, err := a.openDB()
			if err != nil {
				return err
			}
			m := localstore.NewMigrator(db, a.log)
			run := m.EnsureSchema
			if force {
				run = m.ForceSchema
			}
			n, err := run(ctx)
			if err != nil {
				return err
			}
			v, err := m.Version(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "schema version %d, %d change(s)\n", v, n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-run every step and repair missing columns")
	return cmd
}
