package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pong-arena/game"
	"pong-arena/handlers"
	"pong-arena/middleware"
	"pong-arena/models"
	"pong-arena/services"
	"pong-arena/utils"
	"pong-arena/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "pong-arena: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	envErr := godotenv.Load()

	cfg, err := utils.LoadConfig()
	if err != nil {
		return err
	}

	logs := utils.NewLoggers(os.Stdout, cfg.LogLevel)
	log := logs.Logger(utils.SubHTTP)
	if envErr != nil {
		log.Infof("No .env file found, reading environment variables directly")
	}

	db, err := utils.OpenDB(cfg)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(
		&models.Player{},
		&models.PlayerStats{},
		&models.MatchHistory{},
		&models.EloHistory{},
		&models.Tournament{},
		&models.TournamentParticipant{},
		&models.TournamentMatch{},
	); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Infof("Database ready (%s)", cfg.DBDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	archiver, err := utils.NewArchiver(ctx, cfg.R2)
	if err != nil {
		return err
	}

	// Services
	stats := services.NewStatsService(db, logs.Logger(utils.SubStats))
	registry := game.NewRegistry(game.RoomConfig{
		Recorder: stats,
		Log:      logs.Logger(utils.SubGame),
	})
	notifier := services.NewNotifier(logs.Logger(utils.SubWS))

	deps := services.BracketDeps{
		Sessions: registry,
		Ratings:  stats,
		Events:   notifier,
		Log:      logs.Logger(utils.SubBracket),
	}
	if archiver != nil {
		deps.Archive = archiver
	}
	brackets := services.NewBracketService(db, deps)
	registry.SetAdvancer(brackets)

	directory := services.NewPlayerDirectory(db, logs.Logger(utils.SubHTTP))
	gameService := services.NewGameService(registry, stats, logs.Logger(utils.SubGame))

	sched, err := services.StartScheduler(registry, brackets, services.SchedulerConfig{
		IdleSweepInterval: cfg.IdleSweepInterval,
		IdleTimeout:       game.DefaultIdleTimeout,
		ReconcileInterval: cfg.ReconcileInterval,
	}, logs.Logger(utils.SubScheduler))
	if err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	// HTTP
	app := fiber.New(fiber.Config{
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: true,
	})
	app.Use(middleware.GatewayAuthMiddleware(cfg.GatewayToken, log))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "sessions": registry.Len()})
	})

	api := app.Group("/api")
	handlers.SetupGameRoutes(api, gameService, directory)
	handlers.SetupTournamentRoutes(api, brackets)
	handlers.SetupWebSocketRoutes(app, &handlers.WSHandler{
		Registry:  registry,
		Notifier:  notifier,
		Names:     &services.RoomNames{Directory: directory, Aliases: brackets},
		InputRate: cfg.WSInputRate,
		Log:       logs.Logger(utils.SubWS),
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infof("Listening on :%s", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	})

	if cfg.SyncServiceURL != "" {
		syncer := workers.NewPlayerSyncWorker(db, cfg.SyncServiceURL, cfg.GatewayToken, logs.Logger(utils.SubSync))
		g.Go(func() error { return syncer.Run(gctx) })
	} else {
		log.Infof("SYNC_SERVICE_URL not set, player directory sync disabled")
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Infof("Shutting down")
		var errs []error
		if err := sched.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler shutdown: %w", err))
		}
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
