package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/config"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/consistency"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/db"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/migrate"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/projector"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/query"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/server"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/storage"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/storage/memstore"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/storage/sqlstore"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/subscription"
	"github.com/tobiasstamann/camunda-bpm-taskpool/internal/view/auth"
)

var rootCmd = &cobra.Command{
	Use:   "taskview",
	Short: "Task view server",
	Long: `taskview materializes task and business data events into a queryable
read model: tasks, data entries, their correlation join, per-application
counts, and live query subscriptions over websockets.`,
}

func main() {
	cobra.OnInitialize(initViper)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initViper() {
	viper.SetEnvPrefix("TASKVIEW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("config", "c", "taskview.yml", "config file path")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(dataEntriesCmd())
	rootCmd.AddCommand(tokenCmd())
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetString("config"))
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

// openStores builds the storage ports for the configured profile. The cleanup
// closes the database when one was opened.
func openStores(cfg *config.Config) (storage.TaskStore, storage.DataEntryStore, func(), error) {
	switch cfg.Storage.Profile {
	case config.StorageMemory:
		store := memstore.New()
		return store.Tasks(), store.DataEntries(), func() {}, nil
	case config.StorageSQLite:
		conn, err := db.Open(db.Config{Path: cfg.Storage.Path})
		if err != nil {
			return nil, nil, nil, err
		}
		if err := migrate.Migrate(conn); err != nil {
			conn.Close()
			return nil, nil, nil, err
		}
		store := sqlstore.New(conn)
		return store.Tasks(), store.DataEntries(), func() { conn.Close() }, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown storage profile %q", cfg.Storage.Profile)
	}
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the task view API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if secret := os.Getenv("TASKVIEW_JWT_SECRET"); secret != "" {
				cfg.Server.JWTSecret = secret
			}
			logger := newLogger()

			tasks, entries, cleanup, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			registry := subscription.NewRegistry(logger)
			emitter := subscription.NewEmitter(registry, tasks, entries, logger)
			var notifier projector.Notifier = emitter
			var tracker *subscription.Tracker
			if cfg.ChangeTracking.Mode == config.TrackingChangeStream {
				tracker = subscription.NewTracker(emitter, cfg.ChangeTracking.Buffer, logger)
				notifier = tracker
			}

			proj := projector.New(tasks, entries, notifier, projector.Config{
				Eventual: cfg.Consistency.Eventual,
				Retry: consistency.Config{
					MaxAttempts:    cfg.Consistency.MaxAttempts,
					InitialBackoff: cfg.Consistency.InitialBackoff,
				},
				PayloadLevelLimit: cfg.Payload.AttributeLevelLimit,
			}, logger)

			handler, err := server.New(server.Config{
				Query:     query.NewService(tasks, entries),
				Projector: proj,
				Registry:  registry,
				Auth: server.AuthConfig{
					JWTSecret:        cfg.Server.JWTSecret,
					AllowUserHeaders: cfg.Server.AllowUserHeaders,
				},
				SubscriptionBuffer: cfg.Server.SubscriptionBuffer,
				Logger:             logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-ctx.Done()
				registry.CloseAll()
				if tracker != nil {
					tracker.Close()
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()

			logger.Info("serving task view API", "addr", cfg.Server.Addr, "storage", cfg.Storage.Profile)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Storage.Profile != config.StorageSQLite {
				return fmt.Errorf("migrate requires the sqlite storage profile")
			}
			conn, err := db.Open(db.Config{Path: cfg.Storage.Path})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func tasksCmd() *cobra.Command {
	var username, groups string
	var filters []string
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List tasks visible to a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tasks, entries, cleanup, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			svc := query.NewService(tasks, entries)
			res, err := svc.TasksForUser(cmd.Context(), query.TasksForUserQuery{
				User:    auth.ActingUser{Username: username, Groups: splitList(groups)},
				Filters: filters,
			})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Name", "Assignee", "Application", "Priority", "Due"})
			for _, t := range res.Elements {
				due := ""
				if !t.DueDate.IsZero() {
					due = t.DueDate.Format(time.RFC3339)
				}
				tw.AppendRow(table.Row{t.ID, t.Name, t.Assignee, t.ApplicationName(), t.Priority, due})
			}
			tw.Render()
			fmt.Printf("%d of %d tasks\n", len(res.Elements), res.TotalCount)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "acting username")
	cmd.Flags().StringVar(&groups, "groups", "", "comma separated groups")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "filter criteria, e.g. task.priority>50")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func dataEntriesCmd() *cobra.Command {
	var filters []string
	cmd := &cobra.Command{
		Use:   "data-entries",
		Short: "List all data entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tasks, entries, cleanup, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer cleanup()

			svc := query.NewService(tasks, entries)
			res, err := svc.DataEntries(cmd.Context(), query.DataEntriesQuery{Filters: filters})
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Type", "ID", "Name", "State", "Revision"})
			for _, e := range res.Elements {
				tw.AppendRow(table.Row{e.EntryType, e.EntryID, e.Name, e.State.State, e.Revision})
			}
			tw.Render()
			fmt.Printf("%d of %d entries, max revision %d\n", len(res.Elements), res.TotalCount, res.MaxRevision)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "filter criteria, e.g. data.entryType=order")
	return cmd
}

func tokenCmd() *cobra.Command {
	var username, groups string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			secret := cfg.Server.JWTSecret
			if env := os.Getenv("TASKVIEW_JWT_SECRET"); env != "" {
				secret = env
			}
			token, err := server.MintToken(secret, username, splitList(groups), jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(time.Now()),
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			})
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "token subject")
	cmd.Flags().StringVar(&groups, "groups", "", "comma separated groups")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var res []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			res = append(res, part)
		}
	}
	return res
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
