package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/minionctl/orchestrator/internal/capability"
	"github.com/minionctl/orchestrator/internal/channel"
	"github.com/minionctl/orchestrator/internal/comm"
	"github.com/minionctl/orchestrator/internal/config"
	"github.com/minionctl/orchestrator/internal/logging"
	"github.com/minionctl/orchestrator/internal/message"
	"github.com/minionctl/orchestrator/internal/overseer"
	"github.com/minionctl/orchestrator/internal/permission"
	"github.com/minionctl/orchestrator/internal/project"
	"github.com/minionctl/orchestrator/internal/queue"
	"github.com/minionctl/orchestrator/internal/schedule"
	"github.com/minionctl/orchestrator/internal/sdkagent"
	"github.com/minionctl/orchestrator/internal/server"
	"github.com/minionctl/orchestrator/internal/session"
	"github.com/minionctl/orchestrator/internal/storage"
	"github.com/minionctl/orchestrator/pkg/types"
)

var (
	servePort     int
	serveHostname string
	serveDir      string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the orchestrator server",
	Long: `Start the orchestrator as a long-running server that exposes an
HTTP + SSE API for creating minions, routing comms, managing channels,
and running cron-driven schedules.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "127.0.0.1", "Hostname to listen on")
	serveCmd.Flags().StringVar(&serveDir, "directory", "", "Working directory to load configuration from")
}

func runServe(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(serveDir)
	if err != nil {
		return err
	}

	logging.Info().Str("version", Version).Msg("starting minionctl")
	logging.Info().Str("directory", workDir).Msg("working directory")

	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if servePort == 8080 && appConfig.Server.Port != 0 {
		servePort = appConfig.Server.Port
	}

	dataDir := paths.StoragePath()
	if appConfig.DataDir != "" {
		dataDir = appConfig.DataDir
	}
	store := storage.New(dataDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions := session.NewManager(store)
	if err := sessions.Load(ctx); err != nil {
		return fmt.Errorf("loading sessions: %w", err)
	}

	projects := project.NewService(store)
	if err := projects.Load(ctx); err != nil {
		return fmt.Errorf("loading projects: %w", err)
	}

	perm := permission.NewChecker()
	processor := message.NewProcessor()
	processor.SetModeGateway(sessions)

	sdk := sdkagent.New(processor, perm)
	if len(appConfig.SDK.Command) > 0 {
		sdk.ClaudeExecutable = appConfig.SDK.Command[0]
	}
	if appConfig.SDK.Environment != nil {
		sdk.Env = appConfig.SDK.Environment
	}

	maxPending := appConfig.MaxPendingQueueItems
	if maxPending == 0 {
		maxPending = types.DefaultMaxPending
	}
	q := queue.NewManager(store, maxPending)

	coordinator := session.NewCoordinator(sessions, perm, sdk, q, projects)

	channels := channel.NewManager(store, sessions)
	commRouter := comm.NewRouter(store, sessions, coordinator, channels)
	coordinator.SetCommRouter(commRouter)
	coordinator.SetChannels(channels)

	caps := capability.NewRegistry()
	oc := overseer.NewController(sessions, coordinator, projects, caps, store)
	coordinator.SetOverseer(oc)
	sdk.SetToolbox(coordinator)

	schedules := schedule.NewManager(store, q, sessions)
	coordinator.SetSchedules(schedules)
	if err := schedules.Load(ctx); err != nil {
		return fmt.Errorf("loading schedules: %w", err)
	}
	schedules.Run(ctx)
	defer schedules.Stop()

	serverConfig := server.DefaultConfig()
	serverConfig.Port = servePort

	srv := server.New(serverConfig, server.Deps{
		Storage:     store,
		Sessions:    sessions,
		Coordinator: coordinator,
		Queue:       q,
		Comms:       commRouter,
		Channels:    channels,
		Overseer:    oc,
		Schedules:   schedules,
		Permissions: perm,
		Projects:    projects,
		Processor:   processor,
	})

	go func() {
		logging.Info().
			Str("hostname", serveHostname).
			Int("port", servePort).
			Str("url", fmt.Sprintf("http://%s:%d", serveHostname, servePort)).
			Msg("server listening")
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logging.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown error")
	}

	logging.Info().Msg("server stopped")
	return nil
}

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}
