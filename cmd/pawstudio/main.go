package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/digkill/pawstudio/internal/api"
	"github.com/digkill/pawstudio/internal/auth"
	"github.com/digkill/pawstudio/internal/config"
	"github.com/digkill/pawstudio/internal/database"
	"github.com/digkill/pawstudio/internal/flux"
	"github.com/digkill/pawstudio/internal/notify"
	"github.com/digkill/pawstudio/internal/repository"
	"github.com/digkill/pawstudio/internal/service"
	"github.com/digkill/pawstudio/internal/storage"
	"github.com/digkill/pawstudio/pkg/logger"
)

func main() {
	root := &cobra.Command{
		Use:           "pawstudio",
		Short:         "PawStudio pet photo API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), migrateCmd(), reconcileCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		return fmt.Errorf("database connect: %w", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
		return fmt.Errorf("database migrate: %w", err)
	}

	uploader, err := storage.NewUploader(storage.ConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("storage uploader: %w", err)
	}
	notifier, err := notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramOpsChatID, logr)
	if err != nil {
		return fmt.Errorf("telegram notifier: %w", err)
	}
	fluxClient := flux.NewClient(flux.OptionsFromConfig(cfg), logr)
	tokens := auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL)

	userRepo := repository.NewUserRepository(db)
	txRepo := repository.NewTransactionRepository(db)
	sceneRepo := repository.NewSceneRepository(db)
	imageRepo := repository.NewImageRepository(db)
	photoRepo := repository.NewPhotoRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)

	creditService := service.NewCreditService(db, logr, userRepo, txRepo)
	sceneService := service.NewSceneService(sceneRepo)
	userService := service.NewUserService(db, logr, userRepo, imageRepo, photoRepo, creditService, tokens, uploader, service.SignupPolicy{
		BonusCredits: cfg.SignupBonusCredits,
		TrialMode:    cfg.SignupTrialMode,
	})
	generationService := service.NewGenerationService(db, logr, service.GenerationDeps{
		Users:    userRepo,
		Scenes:   sceneRepo,
		Images:   imageRepo,
		Photos:   photoRepo,
		Credits:  creditService,
		Flux:     fluxClient,
		Store:    uploader,
		Fetcher:  service.NewHTTPFetcher(cfg.RequestTimeout, cfg.MaxUploadBytes),
		Notifier: notifier,
		Retries:  cfg.GenerationRetries,
	})
	imageService := service.NewImageService(db, logr, imageRepo, photoRepo, uploader, cfg.MaxUploadBytes)
	paymentService := service.NewPaymentService(cfg, db, logr, userRepo, paymentRepo, creditService, notifier)
	adminService := service.NewAdminService(db, logr, userRepo, imageRepo, sceneRepo, txRepo, creditService)

	seeded, err := sceneService.EnsureDefaultScenes(ctx)
	if err != nil {
		return fmt.Errorf("ensure default scenes: %w", err)
	}
	if seeded > 0 {
		logr.Info("default scenes created", "count", seeded)
	}

	server := api.NewServer(api.Options{
		Addr:           cfg.HTTPListenAddr,
		MaxUploadBytes: cfg.MaxUploadBytes,
		WriteTimeout:   generationBudget(cfg),
	}, logr, api.Deps{
		Users:      userService,
		Credits:    creditService,
		Generation: generationService,
		Images:     imageService,
		Scenes:     sceneService,
		Payments:   paymentService,
		Admin:      adminService,
		Tokens:     tokens,
	})

	logr.Info("pawstudio starting", "addr", cfg.HTTPListenAddr, "db_driver", cfg.DBDriver)
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// generationBudget is the longest a process request may take: every poll wait of
// every attempt, plus the request timeouts around them.
func generationBudget(cfg config.Config) time.Duration {
	var polling time.Duration
	interval := cfg.FluxPollInterval
	for i := 1; i < cfg.FluxPollAttempts; i++ {
		polling += interval
		interval = time.Duration(float64(interval) * cfg.FluxPollBackoff)
		if polling > time.Hour {
			break
		}
	}
	attempts := time.Duration(max(cfg.GenerationRetries, 0) + 1)
	budget := attempts*polling + 4*cfg.RequestTimeout + time.Minute
	return min(budget, 2*time.Hour)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadDatabase()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			db, err := database.Connect(cfg)
			if err != nil {
				return fmt.Errorf("database connect: %w", err)
			}
			defer db.Close()

			if err := database.Migrate(cmd.Context(), db, cfg.DBDriver); err != nil {
				return fmt.Errorf("database migrate: %w", err)
			}
			logger.New(cfg.LogLevel).Info("schema applied", "db_driver", cfg.DBDriver)
			return nil
		},
	}
}

func reconcileCmd() *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare every balance with its credit ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadDatabase()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			logr := logger.New(cfg.LogLevel)

			db, err := database.Connect(cfg)
			if err != nil {
				return fmt.Errorf("database connect: %w", err)
			}
			defer db.Close()

			credits := service.NewCreditService(db, logr, repository.NewUserRepository(db), repository.NewTransactionRepository(db))
			mismatches, err := credits.Reconcile(cmd.Context(), fix)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(mismatches) == 0 {
				fmt.Fprintln(out, "ledger is consistent")
				return nil
			}
			for _, m := range mismatches {
				fmt.Fprintf(out, "user %d: credits=%d ledger=%d diff=%d\n", m.UserID, m.Credits, m.LedgerSum, m.Credits-m.LedgerSum)
			}
			if fix {
				fmt.Fprintf(out, "appended %d reconciliation entries\n", len(mismatches))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "append ledger entries so each ledger matches its balance")
	return cmd
}
