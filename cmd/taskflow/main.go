package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ldi/taskflow/internal/config"
	"github.com/ldi/taskflow/internal/db"
	"github.com/ldi/taskflow/internal/events"
	"github.com/ldi/taskflow/internal/logger"
	"github.com/ldi/taskflow/internal/redisstore"
	"github.com/ldi/taskflow/internal/server"
	"github.com/ldi/taskflow/internal/store"
	"github.com/ldi/taskflow/internal/ui"
	"github.com/ldi/taskflow/internal/workflow"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the state shared by the subcommands of one invocation.
type app struct {
	cfgFile string
	cfg     *config.Config
	log     *zap.Logger
}

// longRunning commands watch the config file for log level changes.
var longRunning = map[string]bool{"serve": true, "mcp": true, "watch": true}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "taskflow",
		Short: "Task workflow orchestration for agent requests",
		Long: `taskflow tracks requests split into prioritized tasks, hands out the next
task to work on, records progress and gates completion behind approval.
It exposes the workflow as MCP tools and as a REST API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
		RunE: a.runMenu,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./taskflow.yaml or .taskflow/taskflow.yaml)")
	flags.String("db-path", "", "path to the SQLite database")
	flags.String("store", "", "task store driver (sqlite or redis)")
	flags.Bool("verbose", false, "enable debug logging")
	_ = viper.BindPFlag("sqlite.path", flags.Lookup("db-path"))
	_ = viper.BindPFlag("store.driver", flags.Lookup("store"))

	root.AddCommand(
		a.initCmd(),
		a.serveCmd(),
		a.mcpCmd(),
		a.statusCmd(),
		a.watchCmd(),
		a.listTasksCmd(),
		a.dbCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	if err := config.Init(a.cfgFile); err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		viper.Set("logger.level", "debug")
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	// Only serve keeps stdout for logs; mcp speaks its protocol on stdout and
	// the other commands print their results there.
	var opts []logger.Option
	if cmd.Name() != "serve" {
		opts = append(opts, logger.WithWriters(os.Stderr, os.Stderr))
	}
	if !longRunning[cmd.Name()] {
		opts = append(opts, logger.WithoutWatch())
	}
	log, _, err := logger.Build(cfg.Logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	a.log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))
	return nil
}

func (a *app) runMenu(cmd *cobra.Command, args []string) error {
	selected, err := ui.RunMenu()
	if err != nil {
		return fmt.Errorf("failed to run menu: %w", err)
	}
	if selected == "" {
		return nil
	}
	sub, _, err := cmd.Find([]string{selected})
	if err != nil {
		return err
	}
	sub.SetContext(cmd.Context())
	return sub.RunE(sub, nil)
}

// backend is an opened task store plus its lifecycle hooks.
type backend struct {
	store.Store
	health server.HealthChecker
	db     *db.DB
	close  func() error
}

func (b *backend) Close() error {
	return b.close()
}

func (a *app) openBackend(ctx context.Context) (*backend, error) {
	if a.cfg.Store.Driver == config.DriverRedis {
		rs, err := redisstore.Dial(ctx, redisstore.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			Prefix:   a.cfg.Redis.Prefix,
		}, a.log.Named("redis"))
		if err != nil {
			return nil, err
		}
		return &backend{Store: rs, health: rs, close: rs.Close}, nil
	}

	database, err := a.openSQLite(ctx, a.cfg.SQLite.Path)
	if err != nil {
		return nil, err
	}
	if a.cfg.SQLite.AutoSnapshot {
		database.EnableAutoSnapshot(a.cfg.SQLite.SnapshotPath)
	}
	return &backend{Store: database, health: database, db: database, close: database.Close}, nil
}

func (a *app) openSQLite(ctx context.Context, path string) (*db.DB, error) {
	database, err := db.Open(path, db.WithLogger(a.log.Named("db")))
	if err != nil {
		return nil, err
	}
	if err := database.Init(ctx); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return database, nil
}

// newService builds the workflow service over st. Events are always logged;
// the AMQP publisher is added when enabled. The returned func releases the
// publisher.
func (a *app) newService(ctx context.Context, st store.Store) (*workflow.Service, func(), error) {
	notifiers := events.Multi{events.NewLogNotifier(a.log.Named("events"))}
	cleanup := func() {}

	if a.cfg.Events.Enabled {
		pub, err := events.Dial(ctx, a.cfg.Events.AMQPURL, a.cfg.Events.Exchange, a.log.Named("amqp"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to event broker: %w", err)
		}
		notifiers = append(notifiers, pub)
		cleanup = func() {
			if err := pub.Close(); err != nil {
				a.log.Warn("failed to close event publisher", zap.Error(err))
			}
		}
	}

	svc := workflow.New(st, a.log.Named("workflow"), workflow.Options{
		MaxRetries:   a.cfg.Workflow.MaxRetries,
		StoreTimeout: a.cfg.Store.Timeout,
		Notifier:     notifiers,
	})
	return svc, cleanup, nil
}

// withService opens the configured store and runs fn with a service over it.
func (a *app) withService(ctx context.Context, fn func(svc *workflow.Service, b *backend) error) error {
	b, err := a.openBackend(ctx)
	if err != nil {
		return err
	}
	defer b.Close()

	svc, cleanup, err := a.newService(ctx, b)
	if err != nil {
		return err
	}
	defer cleanup()

	return fn(svc, b)
}
