// Command gateway is the entry point for the MCP gateway server: it loads
// configuration, wires the Capability Loader, Tool Registry, Agent
// Router, External MCP Supervisor, Smart Discovery Engine, Semantic
// Search Service, Notification Broker, MCP Protocol Core, and Transport
// Layer together, then serves until signalled to stop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/agentoven/mcpgateway/internal/agentrouter"
	"github.com/agentoven/mcpgateway/internal/auth"
	"github.com/agentoven/mcpgateway/internal/broker"
	"github.com/agentoven/mcpgateway/internal/capability"
	"github.com/agentoven/mcpgateway/internal/config"
	"github.com/agentoven/mcpgateway/internal/discovery"
	"github.com/agentoven/mcpgateway/internal/protocol"
	"github.com/agentoven/mcpgateway/internal/registry"
	"github.com/agentoven/mcpgateway/internal/semantic"
	"github.com/agentoven/mcpgateway/internal/supervisor"
	"github.com/agentoven/mcpgateway/internal/telemetry"
	"github.com/agentoven/mcpgateway/internal/transport"
	"github.com/agentoven/mcpgateway/pkg/contracts"
	"github.com/agentoven/mcpgateway/pkg/models"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	telemetry.InitLogging()

	root := &cobra.Command{
		Use:   "gateway",
		Short: "MCP gateway — one unified MCP surface over many tool providers",
		RunE:  runServe,
	}
	root.Flags().String("config", os.Getenv("MCPGATEWAY_CONFIG"), "path to gateway YAML config file")

	if err := root.Execute(); err != nil {
		log.Fatal().Err(err).Msg("gateway exited with error")
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialise telemetry")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := registry.New()

	// A. Capability Loader — seeds the Registry at startup and drives hot
	// reload on file-system changes (§4.A/§4.B).
	loader := capability.New(cfg.Registry.Paths, cfg.Registry.Validation.Strict)
	snap, warnings, err := loader.Load()
	if err != nil {
		log.Error().Err(err).Msg("startup capability load failed")
		os.Exit(1)
	}
	for _, w := range warnings {
		log.Warn().Msg(w)
	}
	reg.ReloadFrom(snap)
	log.Info().Int("tools", len(snap.Tools)).Int("resources", len(snap.Resources)).Int("prompts", len(snap.Prompts)).Msg("capabilities loaded")

	// I. Notification Broker — must exist before anything that wants to
	// publish registry-change events. The Registry supports only one
	// OnChange subscriber directly, so this closure fans out to every
	// interested component (broker notifications, semantic re-indexing).
	nb := broker.New(2048)
	broadcastChange := broker.WatchRegistry(nb)

	// F. Semantic Search Service (optional: semantic.backend may be
	// "disabled", in which case the discovery engine degrades to rule+LLM).
	var semSvc *semantic.Service
	if cfg.SmartDiscovery.Enabled && cfg.SmartDiscovery.Semantic.Backend != "" && cfg.SmartDiscovery.Semantic.Backend != "disabled" {
		embedDriver := semantic.NewDriver(
			cfg.SmartDiscovery.Semantic.Backend,
			os.Getenv("MCPGATEWAY_EMBEDDING_API_KEY"),
			cfg.SmartDiscovery.Semantic.Model,
			os.Getenv("MCPGATEWAY_EMBEDDING_ENDPOINT"),
		)
		semSvc = semantic.NewService(embedDriver, os.Getenv("MCPGATEWAY_CACHE_DIR"))
		semSvc.LoadCache()
		semSvc.RebuildFromSnapshot(ctx, reg.ListAll())
	}

	reg.OnChange(func(ev registry.ChangeEvent) {
		broadcastChange(ev)
		if semSvc != nil {
			semSvc.RebuildFromSnapshot(ctx, reg.ListAll())
			if err := semSvc.SaveCache(); err != nil {
				log.Warn().Err(err).Msg("failed to persist embedding cache")
			}
		}
	})

	if cfg.Registry.HotReload {
		stopWatch, err := loader.Watch(200*time.Millisecond, func(staged *models.Snapshot, warnings []string, loadErr error) {
			if loadErr != nil {
				log.Warn().Err(loadErr).Msg("capability hot reload failed, keeping previous snapshot")
				return
			}
			for _, w := range warnings {
				log.Warn().Msg(w)
			}
			ev := reg.ReloadFrom(staged)
			log.Info().Uint64("version", ev.Version).Int("added", len(ev.Added)).Int("removed", len(ev.Removed)).Int("modified", len(ev.Modified)).Msg("capability registry hot-reloaded")
		})
		if err != nil {
			log.Warn().Err(err).Msg("capability hot reload watch failed to start")
		} else {
			defer stopWatch()
		}
	}

	// D. External MCP Supervisor
	sup := supervisor.New(reg, 256)
	if cfg.ExternalMCP.Enabled {
		defs, err := supervisor.LoadServerDefs(cfg.ExternalMCP.ConfigFile)
		if err != nil {
			log.Warn().Err(err).Msg("failed to load external MCP server definitions")
		}
		for _, def := range defs {
			if err := sup.RegisterServer(ctx, def); err != nil {
				log.Warn().Err(err).Str("server", def.ID).Msg("failed to register external MCP server")
			}
		}
	}
	defer sup.StopAll()

	// C. Agent Router — one driver per agent kind.
	agRouter := agentrouter.New(reg)
	agRouter.RegisterDriver(agentrouter.NewSubprocessDriver())
	agRouter.RegisterDriver(agentrouter.NewHTTPDriver(models.AgentHTTP))
	agRouter.RegisterDriver(agentrouter.NewHTTPDriver(models.AgentGraphQL))
	agRouter.RegisterDriver(agentrouter.NewSSEDriver())
	agRouter.RegisterDriver(agentrouter.NewWebSocketDriver())
	agRouter.RegisterDriver(agentrouter.NewGRPCDriver())
	agRouter.RegisterDriver(agentrouter.NewExternalProxyDriver(sup))

	// E. Smart Discovery Engine (optional; §6 smart_discovery.enabled)
	var discoverer protocol.Discoverer
	if cfg.SmartDiscovery.Enabled {
		var searcher *discovery.SemanticStrategy
		if semSvc != nil {
			searcher = discovery.NewSemanticStrategy(semSvc, cfg.SmartDiscovery.Semantic.TopK)
		}

		var chatDriver contracts.ChatDriver
		if cfg.SmartDiscovery.LLM.Model != "" {
			chatDriver = discovery.NewOpenAILikeChatDriver(
				cfg.SmartDiscovery.LLM.Provider,
				cfg.SmartDiscovery.LLM.Model,
				os.Getenv("MCPGATEWAY_LLM_ENDPOINT"),
				time.Duration(cfg.SmartDiscovery.LLM.TimeoutS)*time.Second,
			)
		}

		eng, compileErrs := discovery.New(reg, cfg.SmartDiscovery, searcher, chatDriver)
		for _, e := range compileErrs {
			log.Warn().Err(e).Msg("discovery rule pattern failed to compile")
		}
		discoverer = eng
	}

	// G. MCP Protocol Core
	handler := protocol.New(reg, agRouter, nb, discoverer)

	// §6 auth context contract: API key + bearer JWT chain.
	authChain := auth.NewChain()
	authChain.RegisterProvider(auth.NewAPIKeyProvider())
	authChain.RegisterProvider(auth.NewJWTProvider())

	// H. Transport Layer
	srv := transport.NewServer(handler, nb, authChain, cfg.Transports, version)

	if cfg.Transports.Stdio {
		go func() {
			if err := srv.RunStdio(ctx, os.Stdin, os.Stdout); err != nil {
				log.Warn().Err(err).Msg("stdio transport ended")
			}
		}()
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		log.Info().Msg("shutting down gracefully")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 15*time.Second)
		defer done()
		httpServer.Shutdown(shutdownCtx)
		shutdownTelemetry(shutdownCtx)
	}()

	log.Info().Int("port", cfg.Server.Port).Str("version", version).Msg("mcp gateway listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("server failed")
		os.Exit(2)
	}
	return nil
}
