package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"gptbridge/pkg/agent"
	"gptbridge/pkg/channels"
	_ "gptbridge/pkg/channels/autoload" // registers the chat channels
	"gptbridge/pkg/config"
	"gptbridge/pkg/gateway"
	"gptbridge/pkg/gpt"
	"gptbridge/pkg/handler"
	"gptbridge/pkg/llm/openailm"
	"gptbridge/pkg/media"
	"gptbridge/pkg/monitor"
	"gptbridge/pkg/server"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API, the chat channels and the config watcher",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		monitor.PrintBanner(cmd.OutOrStdout(), Version)

		cfg, sys, err := loadConfig()
		if err != nil {
			return err
		}
		engine, client, err := newEngine(cfg, sys)
		if err != nil {
			return err
		}

		files, err := media.NewStore(sys.GeneratedDir, publicURL(cfg, sys),
			time.Duration(sys.DownloadTimeoutMs)*time.Millisecond)
		if err != nil {
			return err
		}
		svc := gpt.NewService(client, openailm.NewMediaClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL), files, gpt.Options{
			TextModel:      cfg.GPTModel,
			MaxUploadBytes: sys.MaxUploadBytes,
		})

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := &http.Server{
			Addr: sys.HTTPAddr,
			Handler: server.New(server.Dependencies{
				Agent:          engine,
				GPT:            svc,
				MaxUploadBytes: sys.MaxUploadBytes,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}
		serveErr := make(chan error, 1)
		go func() {
			slog.Info("HTTP API listening", "addr", sys.HTTPAddr, "generated", sys.GeneratedDir)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
			close(serveErr)
		}()

		gw, err := startGateway(cfg, sys, engine)
		if err != nil {
			slog.Error("Chat gateway disabled", "error", err)
		}

		reloads := config.WatchConfig(ctx, config.DefaultDebounce, cfgFile, sysFile)

	loop:
		for {
			select {
			case <-ctx.Done():
				slog.Info("Shutdown signal received, stopping services")
				break loop
			case err, ok := <-serveErr:
				if ok && err != nil {
					stopGateway(gw)
					return fmt.Errorf("http server: %w", err)
				}
				break loop
			case path, ok := <-reloads:
				if !ok {
					reloads = nil
					continue
				}
				reload(path, engine)
			}
		}

		stopGateway(gw)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		slog.Info("Bye!")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// publicURL is the base of links to generated files.
func publicURL(cfg *config.Config, sys *config.SystemConfig) string {
	if cfg.ServerURL != "" {
		return cfg.ServerURL
	}
	addr := sys.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}

// startGateway starts every configured chat channel. It returns nil when no
// channel is configured.
func startGateway(cfg *config.Config, sys *config.SystemConfig, engine *agent.Engine) (*gateway.GatewayManager, error) {
	chs := channels.LoadFromConfig(cfg.Channels, channels.Deps{System: sys, History: engine})
	if len(chs) == 0 {
		slog.Info("No chat channel configured")
		return nil, nil
	}
	return gateway.NewGatewayBuilder().
		WithSystemConfig(sys).
		WithMonitor(monitor.NewCLIMonitor(nil)).
		WithChannel(chs...).
		WithHandler(handler.NewChatHandler(engine, requestBudget(sys))).
		Build()
}

func stopGateway(gw *gateway.GatewayManager) {
	if gw != nil {
		gw.StopAll()
	}
}

// requestBudget bounds a whole chat request: every model call and every tool
// hop at their own deadlines.
func requestBudget(sys *config.SystemConfig) time.Duration {
	ms := sys.LLMTimeoutMs*(sys.MaxToolHops+1) + sys.ToolTimeoutMs*sys.MaxToolHops
	return time.Duration(ms) * time.Millisecond
}

// reload applies a changed system file. App config changes need a restart.
func reload(path string, engine *agent.Engine) {
	if !samePath(path, sysFile) {
		slog.Warn("App config changed, restart to apply", "file", path)
		return
	}
	sys := config.LoadSystemConfig(sysFile)
	monitor.SetLevel(sys.LogLevel)
	engine.SetSystemConfig(sys)
	slog.Info("System config reloaded", "log_level", sys.LogLevel, "history_window", sys.HistoryWindow, "max_tool_hops", sys.MaxToolHops)
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
