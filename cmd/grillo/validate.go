package main

import (
	"context"
	"fmt"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"

	"github.com/go-go-golems/grillo/pkg/config"
	"github.com/go-go-golems/grillo/pkg/corpus"
)

type ValidateSettings struct {
	Config      string `glazed.parameter:"config"`
	CorpusStats bool   `glazed.parameter:"corpus-stats"`
}

type ValidateCommand struct{ *cmds.CommandDescription }

var _ cmds.BareCommand = (*ValidateCommand)(nil)

func NewValidateCommand() (*ValidateCommand, error) {
	desc := cmds.NewCommandDescription(
		"validate",
		cmds.WithShort("Check an experiment configuration without making any network call"),
		cmds.WithFlags(
			parameters.NewParameterDefinition("config", parameters.ParameterTypeString,
				parameters.WithHelp("Experiment configuration file"),
				parameters.WithRequired(true)),
			parameters.NewParameterDefinition("corpus-stats", parameters.ParameterTypeBool,
				parameters.WithDefault(false),
				parameters.WithHelp("Also count the corpus's prompt tokens")),
		),
	)
	return &ValidateCommand{CommandDescription: desc}, nil
}

func (c *ValidateCommand) Run(ctx context.Context, parsed *layers.ParsedLayers) error {
	if err := logging.InitLoggerFromViper(); err != nil {
		return err
	}
	s := &ValidateSettings{}
	if err := parsed.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}

	cfg, err := config.Load(s.Config)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	docs, err := cfg.LoadDocuments()
	if err != nil {
		return err
	}

	fmt.Printf("%s is valid: %d turns over %d documents, %d trial(s) each\n",
		s.Config, len(cfg.Turns), len(docs), cfg.Trials)

	if !s.CorpusStats {
		return nil
	}

	stats, err := corpus.ComputeTokenStats(docs)
	if err != nil {
		return err
	}
	for _, dt := range stats.Documents {
		fmt.Printf("  %-30s %6d text + %6d supplementary = %6d tokens\n",
			dt.ID, dt.TextTokens, dt.SupplementaryTokens, dt.Total())
	}
	fmt.Printf("corpus total: %d tokens\n", stats.Total)
	if largest, ok := stats.Largest(); ok {
		fmt.Printf("largest document: %s (%d tokens)\n", largest.ID, largest.Total())
	}
	return nil
}
