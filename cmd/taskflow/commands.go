package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ldi/taskflow/internal/config"
	"github.com/ldi/taskflow/internal/mcp"
	"github.com/ldi/taskflow/internal/redisstore"
	"github.com/ldi/taskflow/internal/server"
	"github.com/ldi/taskflow/internal/store"
	"github.com/ldi/taskflow/internal/ui"
	"github.com/ldi/taskflow/internal/workflow"
	"github.com/ldi/taskflow/pkg/models"
)

const reportWidth = 80

func (a *app) initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init [dir]",
		Short: "Create the .taskflow directory and database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			targetDir := "."
			if len(args) > 0 {
				targetDir = args[0]
			}
			return a.runInit(cmd, targetDir)
		},
	}
}

func (a *app) runInit(cmd *cobra.Command, targetDir string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	dir := filepath.Join(targetDir, config.DirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", config.DirName, err)
	}
	fmt.Fprintf(out, "✓ Created %s/ directory\n", config.DirName)

	gitignorePath := filepath.Join(dir, ".gitignore")
	if err := os.WriteFile(gitignorePath, []byte("taskflow.db*\n"), 0644); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}
	fmt.Fprintf(out, "✓ Created %s/.gitignore\n", config.DirName)

	if a.cfg.Store.Driver == config.DriverRedis {
		rs, err := redisstore.Dial(ctx, redisstore.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
			Prefix:   a.cfg.Redis.Prefix,
		}, a.log.Named("redis"))
		if err != nil {
			return err
		}
		defer rs.Close()
		fmt.Fprintf(out, "✓ Connected to redis at %s\n", a.cfg.Redis.Addr)
		fmt.Fprintln(out, "✓ taskflow initialized successfully")
		return nil
	}

	dbPath := relativeTo(targetDir, a.cfg.SQLite.Path)
	snapshotPath := relativeTo(targetDir, a.cfg.SQLite.SnapshotPath)

	database, err := a.openSQLite(ctx, dbPath)
	if err != nil {
		return err
	}
	defer database.Close()
	fmt.Fprintf(out, "✓ Initialized database at %s\n", dbPath)

	if _, err := os.Stat(snapshotPath); err == nil {
		n, err := database.ImportSnapshot(ctx, snapshotPath)
		if err != nil {
			return fmt.Errorf("failed to import snapshot: %w", err)
		}
		fmt.Fprintf(out, "✓ Imported %d tasks from %s\n", n, snapshotPath)
	}

	fmt.Fprintln(out, "✓ taskflow initialized successfully")
	return nil
}

func relativeTo(dir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.withService(ctx, func(svc *workflow.Service, b *backend) error {
				srv := server.NewServer(svc, b.health, a.log.Named("http"))

				errCh := make(chan error, 1)
				go func() {
					errCh <- srv.Start(a.cfg.HTTP.Addr)
				}()

				select {
				case err := <-errCh:
					if errors.Is(err, http.ErrServerClosed) {
						return nil
					}
					return err
				case <-ctx.Done():
					a.log.Info("shutting down http server")
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(shutdownCtx)
				}
			})
		},
	}
	cmd.Flags().String("addr", "", "address to listen on (default :8000)")
	_ = viper.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func (a *app) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *workflow.Service, _ *backend) error {
				s := mcp.NewServer(svc, a.log.Named("mcp"), a.cfg.MCP.Name, a.cfg.MCP.Version)
				a.log.Info("mcp server starting", zap.String("name", a.cfg.MCP.Name))
				return mcp.Serve(s)
			})
		},
	}
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <requestId>",
		Short: "Print the progress report of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withService(cmd.Context(), func(svc *workflow.Service, _ *backend) error {
				report, err := svc.GetProgressReport(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprint(cmd.OutOrStdout(), ui.RenderReport(args[0], report, reportWidth))
				return nil
			})
		},
	}
}

func (a *app) watchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch <requestId>",
		Short: "Watch the progress of a request live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			requestID := args[0]
			return a.withService(cmd.Context(), func(svc *workflow.Service, _ *backend) error {
				// Fail fast on unknown requests instead of opening the view.
				if _, err := svc.GetProgressReport(cmd.Context(), requestID); err != nil {
					return err
				}
				return ui.RunWatch(requestID, func(ctx context.Context) ([]models.ProgressEntry, error) {
					return svc.GetProgressReport(ctx, requestID)
				}, interval)
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "polling interval")
	return cmd
}

func (a *app) listTasksCmd() *cobra.Command {
	var filter store.Filter
	var status, priority string

	cmd := &cobra.Command{
		Use:   "list-tasks",
		Short: "List tasks with optional filters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Status = models.TaskStatus(status)
			filter.Priority = models.Priority(priority)

			return a.withService(cmd.Context(), func(svc *workflow.Service, _ *backend) error {
				tasks, err := svc.ListTasks(cmd.Context(), filter)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "%-36s %-30s %-12s %-9s %s\n", "ID", "TITLE", "STATUS", "PRIORITY", "PROGRESS")
				fmt.Fprintln(out, "------------------------------------------------------------------------------------------------------")
				for _, t := range tasks {
					fmt.Fprintf(out, "%-36s %-30s %-12s %-9s %3d%%\n", t.ID, truncate(t.Title, 30), t.Status, t.Priority, t.Progress.Percentage)
				}
				return nil
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&filter.RequestID, "request", "", "filter by request id")
	f.StringVar(&status, "status", "", "filter by status (pending, in_progress, completed, blocked)")
	f.StringVar(&priority, "priority", "", "filter by priority (low, medium, high, critical)")
	f.StringVar(&filter.Repository, "repository", "", "filter by repository")
	f.StringVar(&filter.Branch, "branch", "", "filter by branch")
	f.StringVar(&filter.File, "file", "", "filter by a file in the task context")
	f.StringVar(&filter.AssignedTo, "assignee", "", "filter by assignee")
	return cmd
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func (a *app) dbCmd() *cobra.Command {
	dbCmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}
	snapshot := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or import JSONL task snapshots",
	}
	snapshot.AddCommand(
		&cobra.Command{
			Use:   "export [path]",
			Short: "Export every task to a JSONL snapshot",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := a.snapshotPath(args)
				if err != nil {
					return err
				}
				database, err := a.openSQLite(cmd.Context(), a.cfg.SQLite.Path)
				if err != nil {
					return err
				}
				defer database.Close()

				if err := database.ExportSnapshot(cmd.Context(), path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported snapshot to %s\n", path)
				return nil
			},
		},
		&cobra.Command{
			Use:   "import [path]",
			Short: "Import tasks from a JSONL snapshot, keeping existing ones",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				path, err := a.snapshotPath(args)
				if err != nil {
					return err
				}
				database, err := a.openSQLite(cmd.Context(), a.cfg.SQLite.Path)
				if err != nil {
					return err
				}
				defer database.Close()

				n, err := database.ImportSnapshot(cmd.Context(), path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Imported %d tasks from %s\n", n, path)
				return nil
			},
		},
	)
	dbCmd.AddCommand(snapshot)
	return dbCmd
}

func (a *app) snapshotPath(args []string) (string, error) {
	if a.cfg.Store.Driver != config.DriverSQLite {
		return "", fmt.Errorf("snapshots require the sqlite store, got %q", a.cfg.Store.Driver)
	}
	if len(args) > 0 {
		return args[0], nil
	}
	return a.cfg.SQLite.SnapshotPath, nil
}
