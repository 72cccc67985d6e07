package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/KobraKid/bestiary-sub000/pkg/store"
	"github.com/KobraKid/bestiary-sub000/pkg/templating"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

type contextKey struct{}

// app is the state shared by every command once the config is loaded.
type app struct {
	cm     *ConfigManager
	logger *slog.Logger
}

func appFromContext(ctx context.Context) *app {
	return ctx.Value(contextKey{}).(*app)
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	root := &cobra.Command{
		Use:          "bestiary",
		Short:        "Bestiary renders database entries through per-group templates",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cm, err := NewConfigManager(configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			level := cm.Get().Server.LogLevel
			if logLevel != "" {
				level = logLevel
			}
			a := &app{cm: cm, logger: newLogger(os.Stderr, level)}
			cmd.SetContext(context.WithValue(cmd.Context(), contextKey{}, a))
			return nil
		},
	}

	root.SetVersionTemplate(fmt.Sprintf("bestiary %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildDate))
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.json", "path to the JSON config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newRenderCmd())
	root.AddCommand(newLoadCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the render API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config := a.cm.Get()
	logger := a.logger
	logger.Info("Starting server...", "version", Version)

	st, err := openStore(ctx, config.Server, logger)
	if err != nil {
		return err
	}
	defer func() {
		logger.Info("Closing store.")
		if err := st.Close(); err != nil {
			logger.Error("Failed to close store", "error", err)
		}
	}()

	server, err := NewServer(a.cm, logger, st)
	if err != nil {
		return err
	}

	if config.Server.WatchTemplates {
		go func() {
			if err := server.Manager().Watch(ctx); err != nil {
				logger.Error("Template watcher stopped", "error", err)
			}
		}()
	}

	httpServer := &http.Server{Addr: config.Server.ServerAddr, Handler: server}
	go func() {
		logger.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err = httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	logger.Info("Server has shut down.")
	return nil
}

func newRenderCmd() *cobra.Command {
	var (
		view string
		lang string
		out  string
	)
	cmd := &cobra.Command{
		Use:   "render <package> <group> <id>",
		Short: "Render a single entry and print the result as JSON",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			ctx := cmd.Context()
			config := a.cm.Get()

			st, err := openStore(ctx, config.Server, a.logger)
			if err != nil {
				return err
			}
			defer st.Close()

			tm, err := templating.NewManager(a.logger, st, config.Templates, config.Server.PackagesDir)
			if err != nil {
				return err
			}

			e, err := st.FindEntry(ctx, args[0], args[1], args[2])
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("entry %s/%s/%s not found", args[0], args[1], args[2])
				}
				return err
			}

			data, err := json.MarshalIndent(tm.RenderEntry(ctx, e, templating.ParseView(view), lang), "", "  ")
			if err != nil {
				return err
			}
			if out == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			if err = atomic.WriteFile(out, bytes.NewReader(data)); err != nil {
				return fmt.Errorf("failed to write %s: %w", out, err)
			}
			a.logger.Info("Rendered entry", "key", e.Key(), "out", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&view, "view", "detail", "view to render (detail or preview)")
	cmd.Flags().StringVar(&lang, "lang", "", "language for localized resources")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the result to a file instead of stdout")
	return cmd
}

func newLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <package> <file.yaml>",
		Short: "Load entries and resources from a YAML file into the store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFromContext(cmd.Context())
			ctx := cmd.Context()

			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()

			st, err := openStore(ctx, a.cm.Get().Server, a.logger)
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := store.LoadDocuments(ctx, st, args[0], f)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", args[1], err)
			}
			a.logger.Info("Loaded package data", "package", args[0], "entries", stats.Entries, "resources", stats.Resources)
			return nil
		},
	}
}
