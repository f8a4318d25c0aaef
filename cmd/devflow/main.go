// Command devflow runs the software-delivery workflow: context gathering,
// requirements drafting, task planning, and task orchestration against an
// external code-generation service, pausing for human review at each gate.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/devflow/internal/checkpoint"
	"github.com/aristath/devflow/internal/clients"
	"github.com/aristath/devflow/internal/config"
	"github.com/aristath/devflow/internal/engine"
	"github.com/aristath/devflow/internal/events"
	"github.com/aristath/devflow/internal/logging"
	"github.com/aristath/devflow/internal/state"
	"github.com/aristath/devflow/internal/tui"
	"github.com/aristath/devflow/internal/workflow"
)

var (
	flagConfig  string
	flagAnswer  string
	flagNoInput bool
)

func main() {
	root := &cobra.Command{
		Use:           "devflow",
		Short:         "Resumable software-delivery workflow engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "path to config file")

	runCmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Start a new workflow run",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd.Context(), strings.Join(args, " "))
		},
	}
	runCmd.Flags().BoolVar(&flagNoInput, "no-input", false, "exit at the first review instead of prompting")

	resumeCmd := &cobra.Command{
		Use:   "resume <run-id>",
		Short: "Answer a suspended run and continue it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resumeWorkflow(cmd.Context(), args[0])
		},
	}
	resumeCmd.Flags().StringVar(&flagAnswer, "answer", "", "review answer (skips the interactive prompt)")
	resumeCmd.Flags().BoolVar(&flagNoInput, "no-input", false, "exit at the next review instead of prompting")

	root.AddCommand(runCmd, resumeCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// app bundles everything one command invocation needs.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	bus   *events.Bus
	store *checkpoint.SQLiteStore
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	store, err := checkpoint.NewSQLiteStore(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log, bus: events.NewBus(), store: store}, nil
}

func (a *app) close() {
	a.bus.Close()
	a.store.Close()
	a.log.Sync()
}

// buildEngine wires the client registry and workflow graph for one run.
func (a *app) buildEngine(runID string) (*engine.Engine, error) {
	llm, err := clients.NewLLM(a.cfg.LLM.Provider, a.cfg.LLM.Model, a.cfg.LLM.APIKey)
	if err != nil {
		return nil, err
	}
	codegen, err := clients.NewCodegenClient(a.cfg.Codegen.BaseURL, a.cfg.Codegen.OrgID, a.cfg.Codegen.Token, a.log)
	if err != nil {
		return nil, err
	}

	reg := &clients.Registry{LLM: llm, Codegen: codegen}
	if a.cfg.TrackerConfigured() {
		tracker, err := clients.NewLinearTracker(a.cfg.Tracker.APIURL, a.cfg.Tracker.APIKey, a.cfg.Tracker.TeamID)
		if err != nil {
			return nil, err
		}
		reg.Tracker = tracker
	} else {
		a.log.Info("tracker not configured, task sync will use local ids")
	}
	if a.cfg.RepoConfigured() {
		sc, err := clients.NewGitHubSourceControl("", a.cfg.Repo.Owner, a.cfg.Repo.Name, a.cfg.Repo.Token)
		if err != nil {
			return nil, err
		}
		reg.SourceControl = sc
	} else {
		a.log.Info("source control not configured, jobs run without dedicated branches")
	}

	builder := workflow.New(reg, a.log, a.bus, workflow.Limits{
		ContextIterations:      a.cfg.Engine.MaxContextIterations,
		RequirementsIterations: a.cfg.Engine.MaxRequirementsIterations,
		PlanIterations:         a.cfg.Engine.MaxPlanIterations,
		PollAttempts:           a.cfg.Engine.MaxPollAttempts,
		TransientErrors:        a.cfg.Engine.MaxTransientErrors,
		PollInterval:           time.Duration(a.cfg.Engine.PollIntervalSeconds) * time.Second,
		BackgroundInvestigate:  a.cfg.Engine.BackgroundInvestigation,
		BaseBranch:             a.cfg.Repo.BaseBranch,
	})

	return engine.New(builder.Build(runID), a.store, a.log,
		engine.WithBus(a.bus), engine.WithMaxSteps(a.cfg.Engine.MaxSteps))
}

func runWorkflow(ctx context.Context, request string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	runID := uuid.NewString()
	eng, err := a.buildEngine(runID)
	if err != nil {
		return err
	}

	fmt.Printf("run %s started\n", runID)
	cp, err := drive(ctx, a, func(ctx context.Context) (*engine.Checkpoint, error) {
		return eng.Run(ctx, runID, state.New(request))
	})
	if err != nil {
		return err
	}
	return answerLoop(ctx, a, eng, cp)
}

func resumeWorkflow(ctx context.Context, runID string) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	eng, err := a.buildEngine(runID)
	if err != nil {
		return err
	}

	answer := flagAnswer
	if answer == "" {
		cp, err := a.store.Load(ctx, runID)
		if err != nil {
			return err
		}
		if cp.Status != engine.StatusSuspended {
			return fmt.Errorf("run %s has status %s: %w", runID, cp.Status, engine.ErrNotSuspended)
		}
		answer, err = tui.AskReview(cp.State.PendingReview)
		if err != nil {
			return err
		}
	}

	cp, err := drive(ctx, a, func(ctx context.Context) (*engine.Checkpoint, error) {
		return eng.Resume(ctx, runID, answer)
	})
	if err != nil {
		return err
	}
	return answerLoop(ctx, a, eng, cp)
}

// drive runs one engine advance alongside the event printer.
func drive(ctx context.Context, a *app, advance func(context.Context) (*engine.Checkpoint, error)) (*engine.Checkpoint, error) {
	feed := a.bus.SubscribeAll(0)
	g, ctx := errgroup.WithContext(ctx)

	done := make(chan struct{})
	g.Go(func() error {
		printEvents(feed, done)
		return nil
	})

	var cp *engine.Checkpoint
	g.Go(func() error {
		defer close(done)
		var err error
		cp, err = advance(ctx)
		return err
	})

	err := g.Wait()
	return cp, err
}

// answerLoop keeps prompting while the run suspends, unless input is
// disabled, in which case it prints resume instructions and exits.
func answerLoop(ctx context.Context, a *app, eng *engine.Engine, cp *engine.Checkpoint) error {
	for cp != nil && cp.Status == engine.StatusSuspended {
		if flagNoInput {
			fmt.Printf("run %s is waiting for review:\n\n%s\n\nanswer with: devflow resume %s --answer \"...\"\n",
				cp.RunID, cp.State.PendingReview, cp.RunID)
			return nil
		}

		answer, err := tui.AskReview(cp.State.PendingReview)
		if err != nil {
			if errors.Is(err, tui.ErrCancelled) {
				fmt.Printf("run %s left suspended; resume with: devflow resume %s\n", cp.RunID, cp.RunID)
				return nil
			}
			return err
		}

		runID := cp.RunID
		cp, err = drive(ctx, a, func(ctx context.Context) (*engine.Checkpoint, error) {
			return eng.Resume(ctx, runID, answer)
		})
		if err != nil {
			return err
		}
	}

	if cp != nil {
		fmt.Printf("run %s finished with status %s\n", cp.RunID, cp.Status)
	}
	return nil
}

// printEvents renders workflow events until the feed closes or the engine
// signals completion.
func printEvents(feed <-chan events.Event, done <-chan struct{}) {
	for {
		select {
		case ev, ok := <-feed:
			if !ok {
				return
			}
			printEvent(ev)
		case <-done:
			// Drain whatever is already buffered, then stop.
			for {
				select {
				case ev, ok := <-feed:
					if !ok {
						return
					}
					printEvent(ev)
				default:
					return
				}
			}
		}
	}
}

func printEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.StepStartedEvent:
		fmt.Printf("  -> %s\n", e.Step)
	case events.TaskDispatchedEvent:
		fmt.Printf("  dispatched %s (%s), attempt %d\n", e.Task, e.Name, e.Attempt)
	case events.PollTickEvent:
		fmt.Printf("  poll %d for job %s: %s\n", e.Attempt, e.Job, e.Status)
	case events.TaskFinishedEvent:
		fmt.Printf("  task %s finished: %s\n", e.Task, e.Outcome)
	case events.RunSuspendedEvent:
		fmt.Printf("  run suspended at %s\n", e.Step)
	case events.RunFinishedEvent:
		fmt.Printf("  run finished after %d steps\n", e.Steps)
	case events.RunFailedEvent:
		fmt.Printf("  run failed at %s: %v\n", e.Step, e.Err)
	}
}
