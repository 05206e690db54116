package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"

	"github.com/cql2omop/cql2omop/internal/domain/placeholder"
	"github.com/cql2omop/cql2omop/internal/domain/translate"
	"github.com/cql2omop/cql2omop/internal/platform/auth"
	"github.com/cql2omop/cql2omop/internal/platform/db"
	"github.com/cql2omop/cql2omop/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "cql2omop",
		Short:         "Translate CQL quality measures into SQL over the OMOP CDM",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(translateCmd())
	rootCmd.AddCommand(extractCmd())
	rootCmd.AddCommand(finalizeCmd())
	rootCmd.AddCommand(lookupCmd())
	rootCmd.AddCommand(healthCmd())
	return rootCmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the translation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func translateCmd() *cobra.Command {
	var (
		dialectName string
		schema      string
		libraryDir  string
		noValidate  bool
		noCorrect   bool
		sqlOnly     bool
	)
	cmd := &cobra.Command{
		Use:   "translate <file.cql>",
		Short: "Translate a CQL file into final SQL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read cql: %w", err)
			}
			if libraryDir == "" {
				libraryDir = filepath.Dir(args[0])
			}

			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			req := translate.NewRequest()
			req.CQLText = string(text)
			req.LibraryDir = libraryDir
			req.Dialect = dialectName
			req.Schema = schema
			req.Validate = !noValidate
			req.CorrectErrors = !noCorrect

			resp, err := a.svc.Translate(cmd.Context(), req)
			if err != nil {
				return err
			}
			if sqlOnly && resp.FinalSQL != nil {
				fmt.Fprintln(cmd.OutOrStdout(), *resp.FinalSQL)
			} else if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if !resp.Success {
				return fmt.Errorf("translation failed: %s", resp.Message)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&dialectName, "dialect", "d", "", "target SQL dialect (postgresql, snowflake, bigquery, sqlserver)")
	cmd.Flags().StringVar(&schema, "schema", "", "OMOP vocabulary schema")
	cmd.Flags().StringVar(&libraryDir, "library-dir", "", "directory holding included libraries (default: the file's directory)")
	cmd.Flags().BoolVar(&noValidate, "no-validate", false, "skip SQL validation")
	cmd.Flags().BoolVar(&noCorrect, "no-correct", false, "skip SQL correction")
	cmd.Flags().BoolVar(&sqlOnly, "sql-only", false, "print only the final SQL")
	return cmd
}

func extractCmd() *cobra.Command {
	var (
		schema        string
		allStrategies bool
		scanOnly      bool
	)
	cmd := &cobra.Command{
		Use:   "extract <file.cql>",
		Short: "Resolve and map the value sets and codes of a CQL file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read cql: %w", err)
			}

			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if scanOnly {
				return writeJSON(cmd.OutOrStdout(), a.svc.Scan(string(text)))
			}
			resp, err := a.svc.Extract(cmd.Context(), translate.ExtractRequest{
				Source:        translate.Source{CQLText: string(text), LibraryDir: filepath.Dir(args[0])},
				Schema:        schema,
				AllStrategies: allStrategies,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&schema, "schema", "", "OMOP vocabulary schema")
	cmd.Flags().BoolVar(&allStrategies, "all-strategies", false, "report verbatim and standard matches as well as mapped")
	cmd.Flags().BoolVar(&scanOnly, "scan", false, "only list declarations, without terminology or database lookups")
	return cmd
}

func finalizeCmd() *cobra.Command {
	var (
		mappingsPath string
		dialectName  string
	)
	cmd := &cobra.Command{
		Use:   "finalize <skeleton.sql>",
		Short: "Replace placeholders in generated SQL with concept ids",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sql, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read sql: %w", err)
			}
			registry, err := readRegistry(mappingsPath)
			if err != nil {
				return err
			}

			// finalize needs no external services
			svc := translate.NewService(translate.Deps{}, translate.Defaults{}, newLogger(os.Getenv("ENV")))
			res, err := svc.Finalize(translate.FinalizeRequest{SQL: string(sql), PlaceholderMappings: registry, Dialect: dialectName})
			if err != nil {
				return err
			}
			if !res.Success {
				writeJSON(cmd.ErrOrStderr(), res)
				return fmt.Errorf("finalize failed: %s", res.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.SQL)
			return nil
		},
	}
	cmd.Flags().StringVarP(&mappingsPath, "mappings", "m", "", "JSON file with placeholder mappings (required)")
	cmd.Flags().StringVarP(&dialectName, "dialect", "d", "", "target SQL dialect")
	cmd.MarkFlagRequired("mappings")
	return cmd
}

func lookupCmd() *cobra.Command {
	var schema string
	cmd := &cobra.Command{
		Use:     "lookup <system> <code>",
		Short:   "Look up a single code and map it to OMOP concepts",
		Example: "  cql2omop lookup LOINC 4548-4\n  cql2omop lookup SNOMEDCT 44054006 --schema cdm",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.svc.LookupCode(cmd.Context(), translate.CodeLookupRequest{
				System: args[0],
				Code:   args[1],
				Schema: schema,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&schema, "schema", "", "OMOP vocabulary schema")
	return cmd
}

func healthCmd() *cobra.Command {
	var clearCache bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report configuration, vocabulary database and cache status",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if clearCache {
				n, err := a.svc.ClearCache(cmd.Context())
				if err != nil {
					return fmt.Errorf("clear cache: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %d cached value sets\n", n)
			}
			report := a.svc.Status(cmd.Context(), a.cfg.Status())
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if report.VocabularyDB == "unhealthy" {
				return fmt.Errorf("vocabulary database unhealthy: %s", report.VocabularyErr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearCache, "clear-cache", false, "clear the value set cache first")
	return cmd
}

func setup(ctx context.Context) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return nil, fmt.Errorf("load config: %w", err)
	}
	return newApp(ctx, cfg, logger), nil
}

func runServer() error {
	a, err := setup(context.Background())
	if err != nil {
		return err
	}
	defer a.Close()
	cfg, logger := a.cfg, a.logger

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger, 30*time.Second))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit(cfg.MaxBodySize))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Health check
	e.GET("/health", db.HealthHandler(a.pinger, a.stats))
	e.GET("/version", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})

	// Auth middleware
	apiV1 := e.Group("/api/v1")
	if cfg.IsDev() && cfg.AuthSigningKey == "" {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		Cost:              middleware.TranslationCost,
		IdleTTL:           10 * time.Minute,
	}))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	translate.NewHandler(a.svc, cfg.Status()).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("dialect", string(cfg.Dialect())).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// readRegistry loads placeholder mappings either as a bare token map or as
// the placeholder_mappings field of an extract response.
func readRegistry(path string) (placeholder.Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mappings: %w", err)
	}
	var wrapped struct {
		Mappings placeholder.Registry `json:"placeholder_mappings"`
	}
	if err := json.Unmarshal(b, &wrapped); err == nil && wrapped.Mappings != nil {
		return wrapped.Mappings, nil
	}
	var reg placeholder.Registry
	if err := json.Unmarshal(b, &reg); err != nil {
		return nil, fmt.Errorf("parse mappings %s: %w", path, err)
	}
	return reg, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
