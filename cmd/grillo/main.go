package main

import (
	clay "github.com/go-go-golems/clay/pkg"
	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds/logging"
	"github.com/go-go-golems/glazed/pkg/help"
	help_cmd "github.com/go-go-golems/glazed/pkg/help/cmd"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/grillo/pkg/doc"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "grillo",
		Short: "grillo runs multi-turn LLM extraction experiments over a document corpus",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.InitLoggerFromViper()
		},
	}
	if err := clay.InitGlazed("grillo", rootCmd); err != nil {
		cobra.CheckErr(err)
	}
	helpSystem := help.NewHelpSystem()
	if err := doc.AddDocToHelpSystem(helpSystem); err != nil {
		cobra.CheckErr(err)
	}
	help_cmd.SetupCobraRootCommand(helpSystem, rootCmd)

	runCmd, err := NewRunCommand()
	cobra.CheckErr(err)
	runCobra, err := cli.BuildCobraCommand(runCmd)
	cobra.CheckErr(err)
	validateCmd, err := NewValidateCommand()
	cobra.CheckErr(err)
	validateCobra, err := cli.BuildCobraCommand(validateCmd)
	cobra.CheckErr(err)
	keyCmd, err := NewKeyCommand()
	cobra.CheckErr(err)
	keyCobra, err := cli.BuildCobraCommand(keyCmd)
	cobra.CheckErr(err)
	rootCmd.AddCommand(runCobra, validateCobra, keyCobra)

	cobra.CheckErr(rootCmd.Execute())
}
