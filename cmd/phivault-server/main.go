package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ehr/phivault/internal/domain/phivault"
	"github.com/ehr/phivault/internal/platform/db"
	"github.com/ehr/phivault/internal/platform/phi"
	"github.com/ehr/phivault/migrations"
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "phivault-server",
		Short: "PHI detection, vaulting and de-identification service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			envFile, _ := cmd.Flags().GetString("env-file")
			return loadEnvFile(envFile)
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().String("env-file", "", "Load environment variables from this file before reading config")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(rekeyCmd())
	rootCmd.AddCommand(sanitizeCmd())
	rootCmd.AddCommand(deidentifyCmd())
	rootCmd.AddCommand(demographicsCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the PHI vault API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger

	e, err := newRouter(a.cfg, logger, a.svc, a.pool)
	if err != nil {
		return err
	}

	// Graceful shutdown
	go func() {
		addr := ":" + a.cfg.Port
		logger.Info().Str("addr", addr).Str("recognizer", a.cfg.RecognizerBackend).
			Str("failure_policy", string(a.policy)).Bool("encryption", a.encryption.IsEnabled()).
			Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				color.New(color.FgGreen, color.Bold).Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrationStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func withMigrator(fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, migrations.FS))
}

func printMigrationStatus(w io.Writer, statuses []db.MigrationStatus) {
	applied := color.New(color.FgGreen)
	pending := color.New(color.FgYellow)

	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := pending.Sprintf("%-10s", "pending")
		appliedAt := ""
		if s.Applied {
			status = applied.Sprintf("%-10s", "applied")
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func rekeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rekey",
		Short: "Re-encrypt vault rows sealed with a previous key",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := phivault.Rekey(ctx, a.pool, a.encryption.Rotator())
			if err != nil {
				return err
			}
			color.New(color.FgGreen, color.Bold).Printf("Re-encrypted %d row(s) with key version %d.\n", n, a.encryption.Rotator().CurrentVersion())
			return nil
		},
	}
}

// readText returns --text, or stdin when the flag is empty.
func readText(cmd *cobra.Command) (string, error) {
	text, _ := cmd.Flags().GetString("text")
	if text != "" {
		return text, nil
	}
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sanitizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sanitize",
		Short: "Vault the PHI in one field and print the sanitized text",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")
			resourceType, _ := cmd.Flags().GetString("resource-type")
			resourceID, _ := cmd.Flags().GetString("resource-id")
			field, _ := cmd.Flags().GetString("field")
			known, _ := cmd.Flags().GetStringSlice("known")

			text, err := readText(cmd)
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			owner := phi.Owner{SubjectID: subject, ResourceType: resourceType, ResourceID: resourceID}
			res, err := a.svc.DetectAndFilter(ctx, owner, field, text, known)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().String("text", "", "Text to sanitize (default: read stdin)")
	cmd.Flags().String("subject", "", "Subject id (24 hex characters)")
	cmd.Flags().String("resource-type", "", "Owner resource type")
	cmd.Flags().String("resource-id", "", "Owner resource id (24 hex characters)")
	cmd.Flags().String("field", "text", "Field path recorded on vault entries")
	cmd.Flags().StringSlice("known", nil, "Known identifiers of the subject")
	cmd.MarkFlagRequired("subject")
	cmd.MarkFlagRequired("resource-type")
	cmd.MarkFlagRequired("resource-id")
	return cmd
}

func deidentifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deidentify",
		Short: "Replace vault references in text with placeholders",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readText(cmd)
			if err != nil {
				return err
			}

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			fmt.Fprintln(cmd.OutOrStdout(), a.svc.Deidentify(ctx, text))
			return nil
		},
	}
	cmd.Flags().String("text", "", "Sanitized text (default: read stdin)")
	return cmd
}

func demographicsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demographics",
		Short: "Print the generalized demographics of a subject",
		RunE: func(cmd *cobra.Command, args []string) error {
			subject, _ := cmd.Flags().GetString("subject")

			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			profile, err := a.svc.Demographics(ctx, subject)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), profile)
		},
	}
	cmd.Flags().String("subject", "", "Subject id (24 hex characters)")
	cmd.MarkFlagRequired("subject")
	return cmd
}
