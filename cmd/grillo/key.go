package main

import (
	"context"
	"fmt"

	"github.com/go-go-golems/glazed/pkg/cmds"
	"github.com/go-go-golems/glazed/pkg/cmds/layers"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/cmds/parameters"
	"github.com/pkg/errors"

	"github.com/go-go-golems/grillo/pkg/config"
	"github.com/go-go-golems/grillo/pkg/inference/factory"
	"github.com/go-go-golems/grillo/pkg/inference/openrouter"
)

type KeySettings struct {
	Config string `glazed.parameter:"config"`
}

type KeyCommand struct{ *cmds.CommandDescription }

var _ cmds.BareCommand = (*KeyCommand)(nil)

func NewKeyCommand() (*KeyCommand, error) {
	desc := cmds.NewCommandDescription(
		"key",
		cmds.WithShort("Show the configured API key's limits and usage"),
		cmds.WithFlags(
			parameters.NewParameterDefinition("config", parameters.ParameterTypeString,
				parameters.WithHelp("Experiment configuration file"),
				parameters.WithRequired(true)),
		),
	)
	return &KeyCommand{CommandDescription: desc}, nil
}

func (c *KeyCommand) Run(ctx context.Context, parsed *layers.ParsedLayers) error {
	if err := logging.InitLoggerFromViper(); err != nil {
		return err
	}
	s := &KeySettings{}
	if err := parsed.InitializeStruct(layers.DefaultSlug, s); err != nil {
		return err
	}

	cfg, err := config.Load(s.Config)
	if err != nil {
		return err
	}

	eng, err := factory.NewEngine(factory.Config{
		Provider: cfg.Engine.Provider,
		APIKey:   cfg.Engine.APIKey,
		BaseURL:  cfg.Engine.BaseURL,
	})
	if err != nil {
		return err
	}
	or, ok := eng.(*openrouter.Engine)
	if !ok {
		return errors.Errorf("key information is only available for the openrouter provider, got %s", eng.Name())
	}

	info, err := or.KeyInfo(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("usage: $%.4f\n", info.Usage)
	if info.Limit != nil {
		fmt.Printf("limit: $%.4f\n", *info.Limit)
	} else {
		fmt.Println("limit: none")
	}
	if info.LimitRemaining != nil {
		fmt.Printf("remaining: $%.4f\n", *info.LimitRemaining)
	}
	fmt.Printf("free tier: %v\n", info.IsFreeTier)
	if info.RateLimit.Requests > 0 {
		fmt.Printf("rate limit: %.0f requests per %s\n", info.RateLimit.Requests, info.RateLimit.Interval)
	}
	return nil
}
