package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"gwi.com/docchat/internal/api"
	"gwi.com/docchat/internal/chunker"
	"gwi.com/docchat/internal/config"
	"gwi.com/docchat/internal/core"
	"gwi.com/docchat/internal/llm"
	"gwi.com/docchat/internal/logging"
	"gwi.com/docchat/internal/prompts"
	"gwi.com/docchat/internal/store"
	"gwi.com/docchat/internal/vectorstore"
)

const shutdownTimeout = 30 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "port",
				Usage: "HTTP port (overrides HTTP_PORT)",
			},
		},
		Action: serve,
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations and exit",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, logger, cleanup, err := bootstrap()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx = logging.NewContext(ctx, logger)
			db, err := store.NewSQLiteStore(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			logger.Info().Str("database", cfg.DatabaseURL).Msg("migrations applied")
			return nil
		},
	}
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Print an access token for an existing user",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "username",
				Required: true,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, logger, cleanup, err := bootstrap()
			if err != nil {
				return err
			}
			defer cleanup()
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET environment variable is required")
			}

			ctx = logging.NewContext(ctx, logger)
			db, err := store.NewSQLiteStore(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			token, err := core.NewUserService(db, cfg.JWTSecret, cfg.JWTTTL).IssueToken(ctx, c.String("user"))
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, token)
			return nil
		},
	}
}

func bootstrap() (*config.Config, zerolog.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), func() {}, err
	}
	logger, cleanup := logging.New(cfg.LogLevel, cfg.LogFormat)
	return cfg, logger, cleanup, nil
}

func serve(ctx context.Context, c *cli.Command) error {
	cfg, logger, cleanup, err := bootstrap()
	if err != nil {
		return err
	}
	defer cleanup()

	if port := c.String("port"); port != "" {
		cfg.HTTPPort = port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctx = logging.NewContext(ctx, logger)

	dbStore, err := store.NewSQLiteStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbStore.Close()

	provider, err := llm.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize %s provider: %w", cfg.LLMProvider, err)
	}
	defer provider.Close()

	tokenizer, err := chunker.NewTiktoken(cfg.TokenizerEncoding)
	if err != nil {
		return err
	}

	catalog := prompts.Default()
	if cfg.PromptCatalog != "" {
		if catalog, err = prompts.Load(cfg.PromptCatalog); err != nil {
			return err
		}
	}

	registry := vectorstore.NewRegistry(provider.Dimension())
	ragService := core.NewRAGService(dbStore, registry, provider, tokenizer, core.RAGConfig{
		Chunking: chunker.Config{MaxTokens: cfg.ChunkMaxTokens, Overlap: cfg.ChunkOverlap},
		TopK:     cfg.RetrievalTopK,
	})
	chatService := core.NewChatService(dbStore, provider, catalog)
	userService := core.NewUserService(dbStore, cfg.JWTSecret, cfg.JWTTTL)

	genCfg := core.DefaultGeneratorConfig()
	genCfg.HistoryLimit = cfg.HistoryLimit
	genCfg.AutoTitle = cfg.AutoTitle
	genCfg.FinalizeTimeout = cfg.FinalizeTimeout
	generator := core.NewGenerator(dbStore, ragService, provider, chatService, catalog, genCfg)

	handler := api.NewHandler(userService, chatService, ragService, generator, dbStore, cfg.MaxUploadBytes)
	router := api.NewRouter(handler, logger)

	srv := &http.Server{
		Addr:        cfg.Addr(),
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return logging.NewContext(context.Background(), logger)
		},
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("provider", provider.Name()).
			Int("embedding_dimension", provider.Dimension()).
			Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("could not listen on %s: %w", srv.Addr, err)
		}
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	generator.Wait()

	logger.Info().Msg("server exiting gracefully")
	return nil
}
