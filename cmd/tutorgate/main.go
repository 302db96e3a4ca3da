package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/tutorgate/internal/access"
	"github.com/pavelanni/tutorgate/internal/exam"
	"github.com/pavelanni/tutorgate/internal/handler"
	appI18n "github.com/pavelanni/tutorgate/internal/i18n"
	"github.com/pavelanni/tutorgate/internal/identity"
	"github.com/pavelanni/tutorgate/internal/llm"
	"github.com/pavelanni/tutorgate/internal/llm/prompts"
	"github.com/pavelanni/tutorgate/internal/model"
	"github.com/pavelanni/tutorgate/internal/roster"
	"github.com/pavelanni/tutorgate/internal/store"
	"github.com/pavelanni/tutorgate/internal/sweeper"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tutorgate",
		Short: "Access codes and timed exams for tutoring classes",
	}

	serve := serveCmd()
	root.AddCommand(serve, sweepCmd(), exportCmd(), seedCmd())

	// "serve" is the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "tutorgate.db", "SQLite database path")
	f.StringP("lang", "l", "en", "Default message language (en, ru)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.Int("code-length", access.DefaultCodeLength, "Digits per generated access code (3-12)")
	f.Duration("class-code-window", access.DefaultClassWindow, "Validity of class-session codes")
	f.Duration("exam-code-window", 4*time.Hour, "Validity of exam codes")
	f.String("sweep-schedule", "@every 15m", "Cron schedule for the expiry sweep (empty disables it)")
	f.StringSlice("exams", nil, "Exam JSON files to import at startup (repeatable)")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /tutor)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.String("admin-password", "", "Initial admin password (or set TUTORGATE_ADMIN_PASSWORD)")
	f.String("llm-url", "", "OpenAI-compatible API base URL for scoring suggestions (empty disables them)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Suggestion prompt variant (strict, standard, lenient)")
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire access codes past their validity window once and exit",
		RunE:  runSweep,
	}
	addCommonFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export exam results as JSON",
		RunE:  runExport,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.String("exam-id", "", "Exam to export (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	_ = cmd.MarkFlagRequired("exam-id")
	return cmd
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load schools, classes, students and course assignments from a roster file",
		RunE:  runSeed,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.StringP("file", "f", "", "Roster JSON file (required)")
	f.String("admin-password", "", "Initial admin password (or set TUTORGATE_ADMIN_PASSWORD)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: logLevel}
	var h slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// viperForCmd binds a command's flags, environment and config file to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("TUTORGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("tutorgate")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/tutorgate")
	v.AddConfigPath("/etc/tutorgate")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}
	return v
}

// open prepares logging, i18n and the database shared by every subcommand.
func open(cmd *cobra.Command) (*viper.Viper, *store.Store, error) {
	v := viperForCmd(cmd)
	setupLogging(v)
	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return nil, nil, fmt.Errorf("init i18n: %w", err)
	}
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return v, db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v, db, err := open(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	svc := handler.NewServices(db)
	if err := importExams(ctx, db, svc.Catalog, v.GetStringSlice("exams")); err != nil {
		return fmt.Errorf("import exams: %w", err)
	}

	variant := prompts.PromptVariant(strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant"))))
	if !prompts.IsValidVariant(string(variant)) {
		slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		variant = prompts.PromptStandard
	}
	var llmClient *llm.Client
	if url := v.GetString("llm-url"); url != "" {
		llmClient = llm.New(url, v.GetString("llm-key"), v.GetString("llm-model"), variant)
		slog.Info("scoring suggestions enabled", "url", url, "model", v.GetString("llm-model"))
	}

	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	cfg := model.ServiceConfig{
		CodeLength:    v.GetInt("code-length"),
		ClassWindow:   v.GetDuration("class-code-window"),
		ExamWindow:    v.GetDuration("exam-code-window"),
		BasePath:      basePath,
		SecureCookies: v.GetBool("secure-cookies"),
		PromptVariant: string(variant),
		SweepSchedule: v.GetString("sweep-schedule"),
	}
	h := handler.New(db, svc, llmClient, cfg)

	if cfg.SweepSchedule != "" {
		sw := sweeper.New(svc.Issuer, db, nil)
		c, err := sw.Schedule(cfg.SweepSchedule)
		if err != nil {
			return err
		}
		defer func() { <-c.Stop().Done() }()
	}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware())

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	srv := &http.Server{
		Addr:              v.GetString("addr"),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("starting server",
		"addr", srv.Addr,
		"lang", appI18n.DefaultLanguage(),
		"code_length", cfg.CodeLength,
		"class_code_window", cfg.ClassWindow,
		"exam_code_window", cfg.ExamWindow,
		"sweep_schedule", cfg.SweepSchedule,
		"base_path", basePath,
		"assist", llmClient != nil,
	)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	_, db, err := open(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	res, err := sweeper.New(access.NewIssuer(db), db, nil).RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), appI18n.Tp(ctx, "CodesExpired", res.Codes))
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v, db, err := open(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	export, err := db.ExportExam(context.Background(), v.GetString("exam-id"))
	if err != nil {
		return fmt.Errorf("export exam: %w", err)
	}
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer = cmd.OutOrStdout()
	if out := v.GetString("output"); out != "" && out != "-" {
		f, err := os.Create(out)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}

func runSeed(cmd *cobra.Command, _ []string) error {
	v, db, err := open(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	data, err := os.ReadFile(v.GetString("file"))
	if err != nil {
		return fmt.Errorf("read roster: %w", err)
	}
	sum, err := roster.NewImporter(db).Import(ctx, data)
	if err != nil {
		return fmt.Errorf("import roster: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schools %d, classes %d, students %d, assignments %d, skipped %d\n",
		sum.Schools, sum.Classes, sum.Students, sum.Assignments, sum.Skipped)
	return nil
}

// importExams creates exams from JSON files. Files already imported with the same content
// are skipped; a file that changed since its import is skipped with a warning, since
// attempts may already reference the exam it created.
func importExams(ctx context.Context, db *store.Store, catalog *exam.Catalog, paths []string) error {
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}

		hash := sha256sum(data)
		stored, err := db.GetImportedFileHash(ctx, path)
		if err != nil {
			return fmt.Errorf("check import status for %s: %w", path, err)
		}
		if stored == hash {
			slog.Info("exam file unchanged, skipping", "path", path)
			continue
		}
		if stored != "" {
			slog.Warn("exam file changed since last import, skipping", "path", path)
			continue
		}

		var ne model.NewExam
		if err := json.Unmarshal(data, &ne); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		e, err := catalog.Create(ctx, ne, "")
		if err != nil {
			return fmt.Errorf("create exam from %s: %w", path, err)
		}
		if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
			return fmt.Errorf("record import for %s: %w", path, err)
		}
		slog.Info("imported exam", "path", path, "id", e.ID, "join_code", e.JoinCode, "questions", len(e.Questions))
	}
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or TUTORGATE_ADMIN_PASSWORD env var")
	}

	hash, err := identity.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if _, err := db.CreateUser(ctx, model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: hash,
		Role:         model.UserRoleAdmin,
		Active:       true,
	}); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}
	slog.Info(appI18n.Td(ctx, "AdminCreated", map[string]any{"Username": "admin"}))
	return nil
}
