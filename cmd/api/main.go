package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Raas21/delay-prediction-api/config"
	"github.com/Raas21/delay-prediction-api/handlers"
	"github.com/Raas21/delay-prediction-api/services"
)

var (
	configPath   string
	tokenSubject string
	tokenRole    string
)

var rootCmd = &cobra.Command{
	Use:   "delay-api",
	Short: "Transit delay prediction service",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Ingest live positions and serve delay predictions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train once against the historical store and persist the artifact",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		model, err := a.trainer.Train(ctx)
		if err != nil {
			return fmt.Errorf("training failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "trained model version %d on %d samples (id %s)\n",
			model.SchemaVersion, model.SampleCount, model.ID)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed API token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		token, err := services.NewAuthService(cfg.JWT).GenerateToken(tokenSubject, tokenRole)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "Path to a YAML config file")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "operator", "Token subject")
	tokenCmd.Flags().StringVar(&tokenRole, "role", services.RoleOperator, "Token role")

	rootCmd.AddCommand(serveCmd, trainCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := setupLogging(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logrus.SetLevel(level)
	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	deps := handlers.Deps{
		Predictor:   a.predictor,
		Trainer:     a.trainer,
		Holder:      a.holder,
		Vehicles:    a.vehicles,
		Auth:        services.NewAuthService(cfg.JWT),
		CORS:        cfg.CORS,
		RoutePrefix: cfg.Ingest.RoutePrefix,
		MetricsPath: cfg.Server.MetricsPath,
	}
	if a.store != nil {
		deps.Artifacts = a.store
	}
	if a.redis != nil && cfg.Ingest.PublishLive {
		deps.Feed = a.redis
	}

	ingestor, err := a.newIngestor()
	if err != nil {
		return err
	}
	if ingestor != nil {
		deps.Ingest = ingestor
		if err := ingestor.Start(ctx); err != nil {
			return err
		}
		defer ingestor.Stop()
	}

	if cfg.Model.TrainOnStartup && a.holder.Load() == nil {
		go func() {
			if _, err := a.trainer.Train(ctx); err != nil {
				logrus.WithError(err).Warn("startup training failed, serving without a model")
			}
		}()
	}
	go a.trainer.RunPeriodic(ctx, time.Duration(cfg.Model.RetrainIntervalSec)*time.Second)

	gin.SetMode(gin.ReleaseMode)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handlers.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logrus.WithField("addr", server.Addr).Info("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logrus.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
