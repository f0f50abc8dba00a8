package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pdcadash/pdca/internal/auth"
	"github.com/pdcadash/pdca/internal/config"
	"github.com/pdcadash/pdca/internal/demo"
	"github.com/pdcadash/pdca/internal/docstore"
	"github.com/pdcadash/pdca/internal/logging"
	"github.com/pdcadash/pdca/internal/pdca"
	"github.com/pdcadash/pdca/internal/readpath"
	"github.com/pdcadash/pdca/internal/schema"
	"github.com/pdcadash/pdca/internal/ui"

	// Store backends register themselves with docstore.
	_ "github.com/pdcadash/pdca/internal/docstore/fsstore"
	_ "github.com/pdcadash/pdca/internal/docstore/s3store"
	_ "github.com/pdcadash/pdca/internal/docstore/sqlitestore"
)

// Version is set at build time.
var Version = "dev"

// Exit codes by error kind.
const (
	exitInternal     = 1
	exitValidation   = 2
	exitNotFound     = 3
	exitStore        = 4
	exitIngestion    = 5
	exitUnauthorized = 6
	exitForbidden    = 7
)

var (
	cfgFile  string
	clientID string
	entityID string
	quiet    bool

	// Set up by PersistentPreRunE for every command.
	rt *runtime
)

var rootCmd = &cobra.Command{
	Use:   "pdca",
	Short: "PDCA task tracker over a shared document store",
	Long: `pdca keeps per-entity task and cycle shards in a folder-oriented
document store and maintains the client-wide aggregates built from them.

Each client has a folder holding entities.json and its aggregates; each
entity (store, department) has a folder holding tasks.json and cycles.json.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		rt, err = openRuntime(cmd.Context(), cmd.Flags())
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if rt != nil {
			rt.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Clients, entities, tasks and cycles:"},
		&cobra.Group{ID: "maint", Title: "Aggregates and import:"},
	)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./pdca.yaml or ~/.config/pdca/pdca.yaml)")
	rootCmd.PersistentFlags().StringVarP(&clientID, "client", "c", "", "client id")
	rootCmd.PersistentFlags().StringVarP(&entityID, "entity", "e", "", "entity id")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress component logs on stderr")
	rootCmd.PersistentFlags().String("backend", "", "store backend (fs, s3, sqlite, memory)")
	rootCmd.PersistentFlags().String("data-dir", "", "data directory of the fs backend")
	rootCmd.PersistentFlags().String("token", "", "access token")
	rootCmd.PersistentFlags().Bool("demo", false, "serve the built-in demo client when nothing else has data")
}

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"backend":  "store.backend",
	"data-dir": "store.fs.path",
	"token":    "auth.token",
	"demo":     "demo.enabled",
}

// runtime is everything a command needs, built from the configuration.
type runtime struct {
	cfg   config.Config
	out   *logging.Output
	raw   docstore.Store
	store docstore.Store
	svc   *pdca.Service
	cache *readpath.RedisCache[schema.MasterData]
	repo  *demo.Repository
	ctx   context.Context

	// onEntity, when set, is called as each entity is rebuilt.
	onEntity func(entityID string, err error)
}

func openRuntime(ctx context.Context, flags *pflag.FlagSet) (*runtime, error) {
	v := config.New(cfgFile)
	for flag, key := range flagKeys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return nil, err
		}
	}
	if err := config.ReadInConfig(v); err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	out, err := logging.Open(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Quiet:      quiet,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	raw, err := docstore.Open(cfg.Store.Backend, cfg.StoreOptions())
	if err != nil {
		out.Close()
		return nil, err
	}
	store := docstore.WithPolicy(raw, cfg.Policy(), out.Logger("docstore"))

	rt := &runtime{cfg: cfg, out: out, raw: raw, store: store}

	opts := pdca.Options{
		Root:        docstore.FolderRef(cfg.Store.Root),
		Concurrency: cfg.Rebuild.Concurrency,
		Logger:      out.Logger("pdca"),
		OnEntity: func(entityID string, err error) {
			if rt.onEntity != nil {
				rt.onEntity(entityID, err)
			}
		},
	}
	if authz := cfg.Authorizer(); authz != nil {
		principal, err := authz.Authenticate(cfg.Auth.Token)
		if err != nil {
			rt.Close()
			return nil, err
		}
		opts.Authorizer = authz
		ctx = auth.WithPrincipal(ctx, principal)
	}
	if cfg.Cache.RedisURL != "" {
		cache, err := readpath.OpenRedisCache[schema.MasterData](cfg.Cache.RedisURL, cfg.Cache.TTL)
		if err != nil {
			// The cache only backs up the store.
			out.Logger("pdca").Printf("WARNING: cache disabled: %v", err)
		} else {
			rt.cache = cache
			opts.Cache = cache
		}
	}
	// One demo repository per process.
	rt.repo = demo.NewRepository()
	if cfg.Demo.Enabled {
		opts.Fallbacks = append(opts.Fallbacks, rt.repo)
		opts.TaskFallbacks = append(opts.TaskFallbacks, rt.repo.TaskBackend())
	}

	rt.svc = pdca.New(store, opts)
	rt.ctx = ctx
	return rt, nil
}

func (r *runtime) Close() {
	if r.cache != nil {
		_ = r.cache.Close()
	}
	if r.store != nil {
		_ = docstore.Close(r.store)
	}
	if r.out != nil {
		_ = r.out.Close()
	}
}

func requireClient() error {
	if clientID == "" {
		return &schema.ValidationError{Field: "client", Reason: "--client is required"}
	}
	return nil
}

func requireEntity() error {
	if err := requireClient(); err != nil {
		return err
	}
	if entityID == "" {
		return &schema.ValidationError{Field: "entity", Reason: "--entity is required"}
	}
	return nil
}

func exitCode(err error) int {
	switch pdca.Classify(err) {
	case pdca.KindValidation:
		return exitValidation
	case pdca.KindNotFound:
		return exitNotFound
	case pdca.KindStore:
		return exitStore
	case pdca.KindIngestion:
		return exitIngestion
	case pdca.KindUnauthorized:
		return exitUnauthorized
	case pdca.KindForbidden:
		return exitForbidden
	default:
		return exitInternal
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return
	}
	if rt != nil {
		rt.Close()
	}

	kind := pdca.Classify(err)
	fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderFail("Error:"), err)
	if kind.Retryable() {
		fmt.Fprintf(os.Stderr, "   %s\n", ui.RenderMuted(fmt.Sprintf("the store failed after %v; retrying may succeed", time.Since(start).Round(time.Millisecond))))
	}
	if errors.Is(err, context.Canceled) {
		os.Exit(130)
	}
	os.Exit(exitCode(err))
}
