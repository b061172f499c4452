package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/interviewer/internal/aggregator"
	"github.com/pavelanni/interviewer/internal/conversation"
	"github.com/pavelanni/interviewer/internal/evaluator"
	"github.com/pavelanni/interviewer/internal/handler"
	appI18n "github.com/pavelanni/interviewer/internal/i18n"
	"github.com/pavelanni/interviewer/internal/llm"
	"github.com/pavelanni/interviewer/internal/llm/gemini"
	"github.com/pavelanni/interviewer/internal/llm/prompts"
	"github.com/pavelanni/interviewer/internal/model"
	"github.com/pavelanni/interviewer/internal/selector"
	"github.com/pavelanni/interviewer/internal/store"
)

func main() {
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "interviewer",
		Short: "AI-assisted technical skill interviews",
	}

	serve := serveCmd()
	root.AddCommand(serve, interviewCmd(), importCmd(), reportCmd(), exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP interview server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "interviewer.db", "SQLite database path")
	f.StringSliceP("questions", "q", nil, "Question bank files to import on start, JSON or YAML (repeatable)")
	f.StringP("lang", "l", "en", "Default language for generated text (en, ru)")
	f.Bool("skip-ping", false, "Do not check the LLM endpoint on start")
	addLLMFlags(f)
	addEngineFlags(f)
	addLogFlags(f)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import question bank files (JSON or YAML)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.String("db", "interviewer.db", "SQLite database path")
	f.StringP("lang", "l", "en", "Output language (en, ru)")
	addLogFlags(f)
	return cmd
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report SESSION_ID",
		Short: "Print the report of a completed or abandoned session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runReport,
	}
	f := cmd.Flags()
	f.String("db", "interviewer.db", "SQLite database path")
	f.StringP("lang", "l", "en", "Language of the insights (en, ru)")
	f.Bool("summary", false, "Ask the LLM for a narrative summary")
	addLLMFlags(f)
	addEngineFlags(f)
	addLogFlags(f)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export sessions with their conversations and reports as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "interviewer.db", "SQLite database path")
	f.StringP("topic", "t", "", "Only export sessions covering this topic")
	f.StringP("lang", "l", "en", "Language of the insights (en, ru)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(f)
	return cmd
}

func addLLMFlags(f *pflag.FlagSet) {
	f.String("llm-provider", "openai", "AI provider (openai, gemini)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
}

func addEngineFlags(f *pflag.FlagSet) {
	d := model.DefaultEngineConfig()
	f.Int("clarification-cap", d.ClarificationCap, "Maximum clarification requests per question")
	f.Float64("ratio-easy", d.Ratio.Easy, "Share of easy questions in mixed mode")
	f.Float64("ratio-medium", d.Ratio.Medium, "Share of medium questions in mixed mode")
	f.Float64("ratio-hard", d.Ratio.Hard, "Share of hard questions in mixed mode")
	f.Float64("up-threshold", d.Thresholds.Up, "Adaptive mode: score at or above which the tier goes up")
	f.Float64("down-threshold", d.Thresholds.Down, "Adaptive mode: score at or below which the tier goes down")
	f.Int("seed-batch", d.SeedBatch, "Adaptive mode: questions planned when a session is created")
	f.Float64("weight-accuracy", d.Weights.Accuracy, "Weight of accuracy in the combined score")
	f.Float64("weight-completeness", d.Weights.Completeness, "Weight of completeness in the combined score")
	f.Float64("weight-communication", d.Weights.Communication, "Weight of communication in the combined score")
	f.Duration("ai-timeout", d.AITimeout, "Timeout of a single AI call")
	f.Duration("retry-delay", d.RetryDelay, "Delay before retrying a session that is busy")
	f.Uint64("seed", 0, "Selection seed (0 = random per session)")
	f.Int("history-limit", d.HistoryLimit, "Clarification exchanges passed to the AI as history")
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

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
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("INTERVIEWER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("interviewer")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/interviewer")
	v.AddConfigPath("/etc/interviewer")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// engineConfig reads the engine policy from v and validates it.
func engineConfig(v *viper.Viper) (model.EngineConfig, error) {
	cfg := model.EngineConfig{
		ClarificationCap: v.GetInt("clarification-cap"),
		Ratio: model.TierRatio{
			Easy:   v.GetFloat64("ratio-easy"),
			Medium: v.GetFloat64("ratio-medium"),
			Hard:   v.GetFloat64("ratio-hard"),
		},
		Thresholds: model.Thresholds{
			Up:   v.GetFloat64("up-threshold"),
			Down: v.GetFloat64("down-threshold"),
		},
		SeedBatch: v.GetInt("seed-batch"),
		Weights: model.Weights{
			Accuracy:      v.GetFloat64("weight-accuracy"),
			Completeness:  v.GetFloat64("weight-completeness"),
			Communication: v.GetFloat64("weight-communication"),
		},
		AITimeout:    v.GetDuration("ai-timeout"),
		RetryDelay:   v.GetDuration("retry-delay"),
		Seed:         v.GetUint64("seed"),
		HistoryLimit: v.GetInt("history-limit"),
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// aiClient is implemented by every provider binding.
type aiClient interface {
	evaluator.Judge
	conversation.Clarifier
	aggregator.Summarizer
	Model() string
}

func newAIClient(ctx context.Context, v *viper.Viper) (aiClient, error) {
	if err := prompts.Load(); err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}
	switch provider := strings.ToLower(v.GetString("llm-provider")); provider {
	case "openai", "":
		return llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model")), nil
	case "gemini":
		return gemini.New(ctx, v.GetString("llm-key"), v.GetString("llm-model"))
	default:
		return nil, fmt.Errorf("unknown llm-provider %q (want openai or gemini)", provider)
	}
}

// newConversation wires the interview engine over db with ai bound to every
// AI capability.
func newConversation(db *store.Store, ai aiClient, cfg model.EngineConfig) (*conversation.Handler, *selector.Selector) {
	sel := selector.New(db, cfg)
	conv := conversation.New(conversation.Deps{
		Store:      db,
		Questions:  db,
		Selector:   sel,
		Evaluator:  evaluator.New(ai, cfg),
		Aggregator: aggregator.New(db, ai, cfg),
		Clarifier:  ai,
	}, cfg)
	return conv, sel
}

func openStore(v *viper.Viper) (*store.Store, error) {
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := engineConfig(v)
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, path := range v.GetStringSlice("questions") {
		if _, err := db.ImportFile(ctx, path); err != nil {
			return fmt.Errorf("load questions: %w", err)
		}
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	ai, err := newAIClient(ctx, v)
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}
	if pinger, ok := ai.(interface{ Ping(context.Context) error }); ok && !v.GetBool("skip-ping") {
		if err := pinger.Ping(ctx); err != nil {
			return fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", ai.Model())
	}

	conv, sel := newConversation(db, ai, cfg)
	h := handler.New(conv, sel)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"provider", v.GetString("llm-provider"),
		"model", ai.Model(),
		"lang", lang,
		"clarification_cap", cfg.ClarificationCap,
		"ai_timeout", cfg.AITimeout,
	)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	for _, path := range args {
		res, err := db.ImportFile(ctx, path)
		if err != nil {
			return err
		}
		if res.Skipped {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: skipped (%s)\n", path, res.Reason)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d imported\n", path, res.Imported)
	}

	count, err := db.QuestionCount(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), appI18n.Tp(ctx, "QuestionsAvailable", count))
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	cfg, err := engineConfig(v)
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	var summarizer aggregator.Summarizer
	if v.GetBool("summary") {
		ai, err := newAIClient(ctx, v)
		if err != nil {
			return fmt.Errorf("create LLM client: %w", err)
		}
		summarizer = ai
	}

	sess, err := db.Load(ctx, args[0])
	if err != nil {
		return err
	}
	rep, err := aggregator.New(db, summarizer, cfg).Aggregate(ctx, sess)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), rep)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	topic := v.GetString("topic")
	sessions, err := db.ExportSessions(ctx, topic)
	if err != nil {
		return fmt.Errorf("export sessions: %w", err)
	}

	agg := aggregator.New(db, nil, model.DefaultEngineConfig())
	for i := range sessions {
		if !sessions[i].Session.Status.Terminal() {
			continue
		}
		rep, err := agg.Aggregate(ctx, sessions[i].Session)
		if err != nil {
			return fmt.Errorf("report for session %s: %w", sessions[i].Session.ID, err)
		}
		sessions[i].Report = rep
	}

	export := model.Export{
		ExportedAt: time.Now().UTC(),
		Topic:      topic,
		Sessions:   sessions,
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return writeJSON(w, export)
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}
