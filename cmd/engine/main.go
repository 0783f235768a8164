// Command engine drives one run of the ticket pipeline end to end: it
// loads super-ralph.yaml, opens the output store and active job queue,
// wires the Workspace Manager, Agent Invoker, Scheduler Agent Bridge, and
// Merge Queue Coordinator, then runs the Engine Loop until every
// discovered ticket has landed or been evicted, printing the structured
// report at the end.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/enitrat/super-ralph/pkg/bridge"
	"github.com/enitrat/super-ralph/pkg/config"
	"github.com/enitrat/super-ralph/pkg/engine"
	"github.com/enitrat/super-ralph/pkg/evictioncontext"
	"github.com/enitrat/super-ralph/pkg/invoker"
	"github.com/enitrat/super-ralph/pkg/jobqueue"
	"github.com/enitrat/super-ralph/pkg/mergequeue"
	"github.com/enitrat/super-ralph/pkg/report"
	"github.com/enitrat/super-ralph/pkg/resume"
	"github.com/enitrat/super-ralph/pkg/store"
	"github.com/enitrat/super-ralph/pkg/ticket"
	"github.com/enitrat/super-ralph/pkg/vcs"
	"github.com/enitrat/super-ralph/pkg/version"
	"github.com/enitrat/super-ralph/pkg/workspace"
)

func main() {
	app := &cli.Command{
		Name:    version.AppName,
		Usage:   "Declarative multi-agent ticket pipeline and speculative merge queue",
		Version: version.Full(),
		Commands: []*cli.Command{
			runCmd(),
			resumeCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		slog.Error("engine: run failed", "error", err)
		os.Exit(1)
	}
}

func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start a new run against the configured repository",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config-dir", Value: ".", Usage: "directory containing super-ralph.yaml"},
			&cli.StringFlag{Name: "store-path", Value: "super-ralph.sqlite", Usage: "output store sqlite file"},
			&cli.StringFlag{Name: "run-id", Usage: "override the generated run id"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()

			runID := cmd.String("run-id")
			if runID == "" {
				runID = uuid.NewString()
			}
			return doRun(ctx, cmd.String("config-dir"), cmd.String("store-path"), runID)
		},
	}
}

func resumeCmd() *cli.Command {
	return &cli.Command{
		Name:  "resume-scan",
		Usage: "List in-progress tickets from prior runs, ranked by furthest-advanced stage",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "store-path", Value: "super-ralph.sqlite", Usage: "output store sqlite file"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			s, err := store.Open(ctx, store.DefaultConfig(cmd.String("store-path")))
			if err != nil {
				return err
			}
			defer s.Close()

			candidates, err := resume.Scan(ctx, s, "")
			if err != nil {
				return err
			}
			for _, c := range candidates {
				fmt.Printf("%s\t%s\t%s\n", c.RunID, c.TicketID, c.FurthestStage)
			}
			return nil
		},
	}
}

func doRun(ctx context.Context, configDir, storePath, runID string) error {
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	s, err := store.Open(ctx, store.DefaultConfig(storePath))
	if err != nil {
		return fmt.Errorf("opening output store: %w", err)
	}
	defer s.Close()

	if err := s.RecordRun(ctx, runID); err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	if err := recoverStaleAttempts(ctx, s, runID, cfg.Concurrency.StaleAttemptThreshold); err != nil {
		return fmt.Errorf("recovering stale attempts: %w", err)
	}

	resumeNote, err := resumePrompt(ctx, s, runID)
	if err != nil {
		return fmt.Errorf("scanning for resumable tickets: %w", err)
	}

	queue, err := jobqueue.Open(ctx, s.DB())
	if err != nil {
		return fmt.Errorf("opening job queue: %w", err)
	}

	repo := vcs.Open(cfg.RepoRoot)
	wsDir, err := os.MkdirTemp("", "super-ralph-workspaces-")
	if err != nil {
		return fmt.Errorf("creating workspace tmp dir: %w", err)
	}
	ws := workspace.New(repo, wsDir)

	iv := invoker.New(cfg.Concurrency)
	br := bridge.New(queue)
	ctxBuilder := evictioncontext.New(repo)

	checks := buildChecks(append(append([]string{}, cfg.PreLandChecks...), cfg.PostLandChecks...))
	coordinator := mergequeue.New(repo, ws, ctxBuilder, cfg.Concurrency.MaxSpeculativeDepth, cfg.OrderingStrategy, checks...)

	eng, err := engine.New(ctx, s, iv, ws, cfg.AgentPool, cfg.Concurrency.MaxConcurrency, runID, br.ActiveJobCounter)
	if err != nil {
		return fmt.Errorf("building engine: %w", err)
	}

	deps := &Deps{
		Store:        s,
		Queue:        queue,
		Bridge:       br,
		Workspaces:   ws,
		MergeQueue:   coordinator,
		Pipeline:     ticket.NewPipeline(s, runID),
		AgentPool:    cfg.AgentPool,
		RunID:        runID,
		Retries:      DefaultRetryPolicy(),
		ResumePrompt: resumeNote,
	}

	slog.Info("engine: starting run", "run_id", runID, "version", version.Full(), "project", cfg.ProjectName, "repo_root", cfg.RepoRoot)

	if err := eng.Run(ctx, buildRoot(ctx, deps)); err != nil {
		return fmt.Errorf("run %s terminated with error: %w", runID, err)
	}

	rep, err := report.Build(ctx, s, runID)
	if err != nil {
		return fmt.Errorf("building report: %w", err)
	}

	fmt.Println(rep.RenderMarkdown())

	if reportDir := filepath.Join(cfg.ConfigDir(), ".super-ralph"); reportDir != "" {
		if err := os.MkdirAll(reportDir, 0o750); err == nil {
			html, herr := rep.RenderHTML()
			if herr == nil {
				_ = os.WriteFile(filepath.Join(reportDir, runID+"-report.html"), []byte(html), 0o640)
			}
		}
	}

	return nil
}
