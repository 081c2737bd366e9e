package app

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/inkwellhq/inkwell-client/pkg/broadcast"
	"github.com/inkwellhq/inkwell-client/pkg/kvstore"
	"github.com/inkwellhq/inkwell-client/pkg/sessionsdk"
	"github.com/inkwellhq/inkwell-client/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the session manager to its process-level dependencies:
// the SQLite state file, the update bus and the Inkwell API client.
type Application struct {
	cfg    Config
	logger *slog.Logger

	durable *kvstore.SQLite
	bus     broadcast.Bus
	client  *sessionsdk.APIClient
	manager *sessionsdk.Manager
}

// New creates an Application with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "inkwellsession",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	durable, err := kvstore.OpenSQLite(fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", cfg.StateDB))
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := durable.Ping(context.Background()); err != nil {
		_ = durable.Close()
		return nil, fmt.Errorf("state database not reachable: %w", err)
	}
	app.durable = durable

	if err := app.initBus(); err != nil {
		_ = durable.Close()
		return nil, err
	}

	app.client = sessionsdk.NewAPIClient(cfg.APIURL)

	manager, err := sessionsdk.NewManager(app.client, sessionsdk.Backends{
		Ephemeral: kvstore.NewMemory(),
		Durable:   durable,
	}, app.bus, sessionsdk.Options{
		RefreshThreshold:  cfg.RefreshThreshold,
		RefreshBuffer:     cfg.RefreshBuffer,
		BroadcastInterval: cfg.BroadcastInterval,
		Logger:            app.logger,
	})
	if err != nil {
		_ = app.bus.Close()
		_ = durable.Close()
		return nil, fmt.Errorf("failed to initialize session manager: %w", err)
	}
	app.manager = manager

	return app, nil
}

// initBus selects the token-update bus: Redis when configured, otherwise
// an in-process bus (single-process deployments have nothing to notify).
func (app *Application) initBus() error {
	if app.cfg.RedisAddr == "" {
		app.bus = broadcast.NewMemoryBus()
		return nil
	}

	bus, err := broadcast.NewRedisBus(redis.NewClient(&redis.Options{Addr: app.cfg.RedisAddr}), "")
	if err != nil {
		return fmt.Errorf("failed to connect token-update bus: %w", err)
	}
	app.logger.Info("cross-process token updates enabled", "redis", app.cfg.RedisAddr)
	app.bus = bus
	return nil
}

// Run executes one subcommand and returns when it completes. The watch
// subcommand blocks until interrupted.
func (app *Application) Run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: inkwellsession <login|logout|whoami|refresh|watch>")
	}

	ctx := context.Background()

	switch args[0] {
	case "login":
		return app.runLogin(ctx, args[1:])
	case "logout":
		return app.runLogout(ctx)
	case "whoami":
		return app.runWhoami(ctx)
	case "refresh":
		return app.runRefresh(ctx)
	case "watch":
		return app.runWatch(ctx)
	default:
		return fmt.Errorf("unknown subcommand %q", args[0])
	}
}

func (app *Application) runLogin(ctx context.Context, args []string) error {
	var email string
	remember := false
	for _, arg := range args {
		if arg == "--remember" {
			remember = true
			continue
		}
		email = arg
	}
	if email == "" {
		return fmt.Errorf("usage: inkwellsession login <email> [--remember]")
	}

	password := os.Getenv("INKWELL_PASSWORD")
	if password == "" {
		fmt.Fprint(os.Stderr, "password: ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		password = strings.TrimSpace(line)
	}

	user, err := app.manager.Login(ctx, email, password, remember)
	if err != nil {
		return err
	}

	fmt.Printf("logged in as %s (%s)\n", user.Email, user.ID)
	if app.manager.CsrfCache().InFallbackMode(ctx) {
		fmt.Println("warning: csrf endpoint is rate limiting, running in degraded mode")
	}
	return nil
}

func (app *Application) runLogout(ctx context.Context) error {
	if ok, err := app.manager.Restore(ctx); err != nil {
		return err
	} else if !ok {
		fmt.Println("no active session")
		return nil
	}

	if err := app.manager.Logout(ctx); err != nil {
		return err
	}
	fmt.Println("logged out")
	return nil
}

func (app *Application) runWhoami(ctx context.Context) error {
	if _, err := app.manager.Restore(ctx); err != nil {
		return err
	}

	user, err := app.manager.CurrentUser(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("%s (%s)\n", user.Email, user.ID)
	if user.Name != "" {
		fmt.Printf("  name: %s\n", user.Name)
	}
	if user.Role != "" {
		fmt.Printf("  role: %s\n", user.Role)
	}
	return nil
}

func (app *Application) runRefresh(ctx context.Context) error {
	if ok, err := app.manager.Restore(ctx); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("no active session")
	}

	result := app.manager.Refresh(ctx)
	if result.Err != nil {
		return fmt.Errorf("refresh failed: %w", result.Err)
	}
	fmt.Println("session refreshed")
	return nil
}

// runWatch keeps the session alive in the background: it restores the
// stored session, lets the scheduler refresh it ahead of expiry, and
// exits when the session expires or the process is interrupted.
func (app *Application) runWatch(ctx context.Context) error {
	ok, err := app.manager.Restore(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no active session to watch")
	}

	app.logger.Info("watching session", "api", app.cfg.APIURL)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case <-app.manager.SessionExpired():
		app.logger.Info("session expired, exiting")
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
	}
	return nil
}

// Close releases the manager, bus and state database.
func (app *Application) Close() error {
	app.manager.Close()
	if err := app.bus.Close(); err != nil {
		app.logger.Error("error closing bus", "error", err)
	}
	if err := app.durable.Close(); err != nil {
		app.logger.Error("error closing state database", "error", err)
		return err
	}
	return nil
}
