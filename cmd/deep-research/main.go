package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/mikeboe/deep-research/pkg/config"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/logging"
	"github.com/mikeboe/deep-research/pkg/research"
	"github.com/mikeboe/deep-research/pkg/server"
	"github.com/mikeboe/deep-research/pkg/tasks"
)

var (
	query      string
	outputPath string
	notesPath  string
	async      bool
)

func main() {
	cfg := config.Load()

	logger, closeLog, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Dir:    cfg.LogDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	rootCmd := &cobra.Command{
		Use:   "deep-research",
		Short: "A terminal-based deep research agent",
		Long: `deep-research is an autonomous agent that answers a question by planning sub-questions,
dispatching parallel researchers, refining a draft report and writing a final report.`,
		SilenceUsage: true,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one research query and write the report to a file",
		Long: `Run one research query and write the report to a file.

With --async the query is submitted to the configured task store and its
task id is printed right away; the command then waits for the task to
finish so it can later be read back with "status <task-id>".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("query") {
				// Interactive Mode
				reader := bufio.NewReader(os.Stdin)
				fmt.Print("Enter research question: ")
				input, _ := reader.ReadString('\n')
				query = input
			}
			query = strings.TrimSpace(query)
			if query == "" {
				return fmt.Errorf("research question cannot be empty")
			}
			return runResearch(cmd.Context(), cfg, logger, query)
		},
	}
	runCmd.Flags().StringVarP(&query, "query", "q", "", "The research question")
	runCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Report file (default report_<unix>.md)")
	runCmd.Flags().StringVar(&notesPath, "notes", "", "Optional JSON file for the research notes")
	runCmd.Flags().BoolVar(&async, "async", false, "Submit the query as a stored task and wait for it")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := server.NewApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.Serve(cmd.Context())
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status <task-id>",
		Short: "Print a stored research task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var pool *pgxpool.Pool
			if cfg.TaskBackend == config.BackendPostgres {
				db, err := database.NewPostgresDB(cmd.Context(), cfg.DatabaseURL)
				if err != nil {
					return err
				}
				defer db.Close()
				pool = db.Pool
			}
			store, err := tasks.Open(cmd.Context(), cfg, pool)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(rec)
		},
	}

	rootCmd.AddCommand(runCmd, serveCmd, statusCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func runResearch(ctx context.Context, cfg *config.Config, logger *slog.Logger, q string) error {
	app, err := server.NewApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("error initializing engine: %w", err)
	}
	defer app.Close()

	logger.Info("Starting research", "query", q, "async", async)
	if async {
		return runAsync(ctx, app, logger, q)
	}

	result, err := app.Service.RunSync(ctx, research.Query{Text: q})
	if err != nil {
		return fmt.Errorf("error running research: %w", err)
	}
	return saveResult(logger, result)
}

// runAsync submits a stored task, prints its id and waits for the worker so
// the record reaches a terminal status before the process exits.
func runAsync(ctx context.Context, app *server.App, logger *slog.Logger, q string) error {
	rec, err := app.Service.Submit(ctx, research.Query{Text: q, Async: true})
	if err != nil {
		return fmt.Errorf("error submitting research: %w", err)
	}
	if err := printJSON(map[string]any{"task_id": rec.ID, "status": rec.Status}); err != nil {
		return err
	}

	done, waitErr := app.Service.Wait(ctx, rec.ID)

	// An interrupted wait hands the already cancelled ctx to Shutdown, which
	// cancels the worker and waits for it to record the failure.
	drainCtx := context.Background()
	if waitErr != nil {
		drainCtx = ctx
	}
	if err := app.Service.Shutdown(drainCtx); err != nil && waitErr == nil {
		logger.Warn("Worker drain incomplete", "error", err)
	}
	if waitErr != nil {
		return fmt.Errorf("research task %s interrupted: %w", rec.ID, waitErr)
	}

	if err := printJSON(map[string]any{"task_id": done.ID, "status": done.Status}); err != nil {
		return err
	}
	if done.Status != tasks.StatusCompleted || done.Result == nil {
		return fmt.Errorf("research task %s failed: %s", done.ID, done.Error)
	}
	return saveResult(logger, done.Result)
}

func saveResult(logger *slog.Logger, result *research.Result) error {
	path := outputPath
	if path == "" {
		path = fmt.Sprintf("report_%d.md", time.Now().Unix())
	}
	if err := os.WriteFile(path, []byte(result.FinalReport), 0o644); err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	logger.Info("Saved report", "filename", path, "degraded", result.Degraded, "iterations", len(result.Iterations))

	if notesPath != "" {
		data, err := json.MarshalIndent(result.Notes, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode notes: %w", err)
		}
		if err := os.WriteFile(notesPath, data, 0o644); err != nil {
			return fmt.Errorf("failed to save notes: %w", err)
		}
		logger.Info("Saved notes", "filename", notesPath)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
