package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	goredis "github.com/redis/go-redis/v9"
	slogmulti "github.com/samber/slog-multi"

	"github.com/ggoodman/cheqd-mcp-toolkit/internal/config"
	"github.com/ggoodman/cheqd-mcp-toolkit/mcpservice"
	"github.com/ggoodman/cheqd-mcp-toolkit/sessions"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/agent"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/train"
	"github.com/ggoodman/cheqd-mcp-toolkit/storage"
	"github.com/ggoodman/cheqd-mcp-toolkit/storage/memory"
	"github.com/ggoodman/cheqd-mcp-toolkit/storage/redis"
	"github.com/ggoodman/cheqd-mcp-toolkit/toolkit"
)

const (
	serverName  = "cheqd-mcp-toolkit-server"
	serverTitle = "cheqd MCP Toolkit"

	// forceExitAfter bounds graceful shutdown before the process is killed.
	forceExitAfter = 3 * time.Second
)

const instructions = `Tools for decentralized identity on the cheqd network.
Create and resolve did:cheqd DIDs, register AnonCreds schemas and credential
definitions, connect to other agents over DIDComm, then issue, hold and verify
credentials. Use the "help" prompt for a guided overview.`

// exit is replaced in tests.
var exit = os.Exit

// app holds what both transports share: the MCP server, its session manager
// and the agent behind the tools.
type app struct {
	cfg   *config.Config
	log   *slog.Logger
	mgr   *sessions.Manager
	store storage.Storage
	agent *agent.Agent
	srv   mcpservice.ServerCapabilities
}

func newApp(ctx context.Context, cfg *config.Config, stderr io.Writer) (*app, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	lv := new(slog.LevelVar)
	lv.Set(level)

	mgr := sessions.NewManager()
	a := &app{
		cfg: cfg,
		mgr: mgr,
		log: newLogger(stderr, lv, mgr),
	}

	tools := mcpservice.NewToolsContainer()
	opts := []mcpservice.ServerOption{
		mcpservice.WithServerInfo(mcpservice.StaticServerInfo(serverName, version, mcpservice.WithServerInfoTitle(serverTitle))),
		mcpservice.WithInstructions(mcpservice.StaticInstructions(instructions)),
		mcpservice.WithLoggingCapability(mcpservice.NewSlogLevelVarLogging(lv)),
	}

	if cfg.HasTool(config.CredoToolkit) {
		if err := a.startAgent(ctx); err != nil {
			return nil, fmt.Errorf("Credo initialization failed: %w", err)
		}
		tk := toolkit.New(a.agent,
			toolkit.WithLogger(a.log),
			toolkit.WithAccreditor(train.New(cfg.TrainEndpoint, train.WithLogger(a.log))),
		)
		resources := mcpservice.NewResourcesContainer()
		if err := tk.RegisterResources(resources); err != nil {
			return nil, errors.Join(err, a.shutdown())
		}
		tools = mcpservice.NewToolsContainer(tk.Tools()...)
		opts = append(opts,
			mcpservice.WithResourcesCapability(resources),
			mcpservice.WithPromptsCapability(mcpservice.NewPromptsContainer(toolkit.Prompts()...)),
		)
	}
	opts = append(opts, mcpservice.WithToolsCapability(tools))

	a.srv = mcpservice.NewServer(opts...)
	a.log.Info("server.ready",
		slog.String("name", serverName),
		slog.String("version", version),
		slog.Any("tools", cfg.ToolList()))
	return a, nil
}

// newLogger writes text records to stderr and mirrors them to every MCP
// session as notifications/message, both gated by lv.
func newLogger(stderr io.Writer, lv *slog.LevelVar, mgr *sessions.Manager) *slog.Logger {
	return slog.New(slogmulti.Fanout(
		slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: lv}),
		sessions.NewNotificationHandler(mgr, lv, serverName),
	))
}

func (a *app) startAgent(ctx context.Context) error {
	store, err := openStorage(a.cfg)
	if err != nil {
		return err
	}
	a.store = store
	a.agent = agent.New(store, agent.Config{
		Label:         a.cfg.CredoName,
		Mnemonic:      a.cfg.Mnemonic,
		Endpoint:      a.cfg.CredoEndpoint,
		Port:          a.cfg.CredoPort,
		InvitationTTL: a.cfg.InvitationTTL,
	},
		agent.WithLogger(a.log),
		agent.WithResolver(a.cfg.ResolverURL, nil),
	)
	if err := a.agent.Start(ctx); err != nil {
		_ = store.Close()
		a.agent, a.store = nil, nil
		return err
	}
	return nil
}

func openStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageBackend {
	case config.StorageRedis:
		return redis.New(redis.Config{
			Client:    goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr}),
			KeyPrefix: cfg.RedisKeyPrefix,
		})
	default:
		return memory.New(memory.DefaultMaxItems)
	}
}

// shutdown stops the agent, then runs closers, then releases storage. The
// process is killed if this takes longer than forceExitAfter.
func (a *app) shutdown(closers ...func(context.Context) error) error {
	timer := time.AfterFunc(forceExitAfter, func() {
		a.log.Error("server.shutdown.forced", slog.Duration("after", forceExitAfter))
		exit(1)
	})
	defer timer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), forceExitAfter)
	defer cancel()

	var errs []error
	if a.agent != nil {
		errs = append(errs, a.agent.Shutdown(ctx))
	}
	for _, c := range closers {
		errs = append(errs, c(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Error("server.shutdown.fail", slog.String("err", err.Error()))
		return err
	}
	return nil
}
