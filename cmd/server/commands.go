package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkortekaas/declair/internal/db"
	"github.com/dkortekaas/declair/internal/logger"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := connect()
		if err != nil {
			return err
		}
		if err := migrate(conn); err != nil {
			return err
		}
		log := logger.WithComponent("migrate")
		log.Info().Msg("migrations completed")
		return nil
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed permissions, profiles and currencies and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := connect()
		if err != nil {
			return err
		}
		if err := db.Seed(conn); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		log := logger.WithComponent("seed")
		log.Info().Msg("seeding completed")
		return nil
	},
}

var remindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "Mark overdue invoices, send due payment reminders and expire quotes once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStack(cmd.Context(), func(ctx context.Context, s *stack) error {
			rep, err := s.reminders.Run(ctx)
			if err != nil {
				return err
			}
			expired, err := s.quotes.ExpireOverdue(ctx)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{"reminders": rep, "quotes_expired": expired})
		})
	},
}

var recurringCmd = &cobra.Command{
	Use:   "recurring",
	Short: "Generate the invoices of every due recurring template once",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStack(cmd.Context(), func(ctx context.Context, s *stack) error {
			res, err := s.generator.RunDue(ctx, time.Now())
			if err != nil {
				return err
			}
			return printJSON(res)
		})
	},
}

var vatReportCmd = &cobra.Command{
	Use:   "vat-report",
	Short: "Generate the quarterly VAT return of one user",
	Example: `  # Draft the Q1 2025 return of user 42
  declair vat-report --user 42 --year 2025 --quarter 1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetUint("user")
		year, _ := cmd.Flags().GetInt("year")
		quarter, _ := cmd.Flags().GetInt("quarter")
		if userID == 0 {
			return errors.New("--user is required")
		}
		if quarter < 1 || quarter > 4 {
			return fmt.Errorf("quarter must be 1-4, got %d", quarter)
		}
		return withStack(cmd.Context(), func(ctx context.Context, s *stack) error {
			report, err := s.vat.Generate(ctx, userID, year, quarter)
			if err != nil {
				return err
			}
			return printJSON(report)
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd, remindersCmd, recurringCmd, vatReportCmd)

	now := time.Now()
	vatReportCmd.Flags().Uint("user", 0, "User id")
	vatReportCmd.Flags().Int("year", now.Year(), "Year of the return")
	vatReportCmd.Flags().Int("quarter", (int(now.Month())-1)/3+1, "Quarter of the return (1-4)")
}

func connect() (*gorm.DB, error) {
	conn, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return conn, nil
}

func migrate(conn *gorm.DB) error {
	url := ""
	if cfg.Database.Driver == "postgres" {
		url = cfg.Database.URL()
	}
	if err := db.Migrate(conn, url); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// withStack runs fn with a fully wired stack for one-shot commands.
func withStack(ctx context.Context, fn func(ctx context.Context, s *stack) error) error {
	conn, err := connect()
	if err != nil {
		return err
	}
	s, err := newStack(cfg, conn)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(logger.WithRequest(ctx, "cli", 0), s)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("server")
	conn, err := connect()
	if err != nil {
		return err
	}
	if cfg.App.Migrations {
		if err := migrate(conn); err != nil {
			return err
		}
		log.Info().Msg("migrations completed")
	}
	if err := db.Seed(conn); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	s, err := newStack(cfg, conn)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Error().Err(err).Msg("closing clients")
		}
	}()
	s.installAuth()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      NewApp(s),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Server.Port).Bool("dev", cfg.App.Dev).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return fmt.Errorf("server: %w", err)
	case <-quit:
		log.Info().Msg("shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("server stopped gracefully")
	return nil
}
