package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/grillo/pkg/config"
	"github.com/go-go-golems/grillo/pkg/events"
	"github.com/go-go-golems/grillo/pkg/experiment"
	"github.com/go-go-golems/grillo/pkg/store"
)

type RunSettings struct {
	Config   string `glazed.parameter:"config"`
	Output   string `glazed.parameter:"output"`
	Progress bool   `glazed.parameter:"progress"`
}

type RunCommand struct{ *cmds.CommandDescription }

var _ cmds.BareCommand = (*RunCommand)(nil)

func NewRunCommand() (*RunCommand, error) {
	desc := cmds.NewCommandDescription(
		"run",
		cmds.WithShort("Run the experiment described by a configuration file"),
		cmds.WithFlags(
			parameters.NewParameterDefinition("config", parameters.ParameterTypeString,
				parameters.WithHelp("Experiment configuration file"),
				parameters.WithRequired(true)),
			parameters.NewParameterDefinition("output", parameters.ParameterTypeString,
				parameters.WithDefault(""),
				parameters.WithHelp("Run directory, overrides the config's output")),
			parameters.NewParameterDefinition("progress", parameters.ParameterTypeBool,
				parameters.WithDefault(true),
				parameters.WithHelp("Show a progress bar when attached to a terminal")),
		),
	)
	return &RunCommand{CommandDescription: desc}, nil
}

func (c *RunCommand) Run(ctx context.Context, parsed *layers.ParsedLayers) error {
	if err := logging.InitLoggerFromViper(); err != nil {
		return err
	}
	s := &RunSettings{}
	if err := parsed.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}

	cfg, err := config.Load(s.Config)
	if err != nil {
		return err
	}
	if s.Output != "" {
		cfg.Output = s.Output
	}
	if cfg.Output == "" {
		cfg.Output = filepath.Join("results", time.Now().Format("2006-01-02--15-04-05"))
	}

	docs, err := cfg.LoadDocuments()
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return errors.Errorf("no documents found in %s", cfg.Corpus.Dir)
	}

	router, err := events.NewRouter()
	if err != nil {
		return err
	}
	defer func() {
		_ = router.Close()
	}()
	router.AddHandler("log", events.LogHandler)
	if s.Progress && isatty.IsTerminal(os.Stderr.Fd()) {
		router.AddHandler("progress", events.NewProgressHandler(len(docs)*cfg.Trials))
	}
	emitter := events.NewEmitter(router.Publisher)

	rt, err := cfg.Build(config.WithEmitter(emitter))
	if err != nil {
		return err
	}

	st, err := store.NewFS(cfg.Output)
	if err != nil {
		return err
	}

	opts := []experiment.Option{experiment.WithEmitter(emitter)}
	if rt.Reference != nil {
		opts = append(opts, experiment.WithReference(rt.Reference))
	}
	orch, err := experiment.New(rt.Runner, rt.Turns, st, rt.Experiment, opts...)
	if err != nil {
		return err
	}

	routerCtx, cancelRouter := context.WithCancel(ctx)
	defer cancelRouter()
	go func() {
		if err := router.Run(routerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("event router stopped")
		}
	}()
	<-router.Running()

	log.Info().
		Str("config", s.Config).
		Str("output", cfg.Output).
		Int("documents", len(docs)).
		Int("trials", cfg.Trials).
		Msg("starting run")

	report, err := orch.Run(ctx, docs)
	if err != nil {
		return err
	}

	printReport(cfg.Output, report)
	if !report.AllSucceeded() {
		return errors.Errorf("%d of %d conversations did not succeed",
			report.Attempted-report.Succeeded, report.Attempted)
	}
	return nil
}

func printReport(dir string, r *experiment.Report) {
	fmt.Printf("Run finished in %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	fmt.Printf("  attempted: %d  succeeded: %d  failed: %d  cancelled: %d\n",
		r.Attempted, r.Succeeded, r.Failed, r.Cancelled)
	if r.PartiallyCompleted > 0 {
		fmt.Printf("  partially completed: %d\n", r.PartiallyCompleted)
	}
	fmt.Printf("  tokens: %d prompt, %d completion\n",
		r.Usage.PromptTokens, r.Usage.CompletionTokens)
	fmt.Printf("  results: %s\n", dir)
}
