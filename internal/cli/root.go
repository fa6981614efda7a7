// Package cli implements the chunker command line tool, which runs the
// segmentation and transcription pipeline on local WAV files.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/arkonballoon/VoiceToDocWeb/internal/version"
)

type Dependencies struct {
	Logger   *slog.Logger
	LogLevel *slog.LevelVar // raised to debug by --verbose when set
}

func NewRootCmd(deps *Dependencies) *cobra.Command {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "chunker",
		Short:         "Cut recordings at pauses and transcribe the chunks",
		Long:          "A CLI tool that splits WAV recordings into speech chunks at silent pauses, and optionally sends every chunk through the transcription scheduler.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose && deps.LogLevel != nil {
				deps.LogLevel.Set(slog.LevelDebug)
			}
		},
	}

	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.Full("chunker") + "\n")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show debug logs and every task update")
	addParamsFlags(rootCmd)

	rootCmd.AddCommand(NewInspectCmd(deps))
	rootCmd.AddCommand(NewSegmentCmd(deps))
	rootCmd.AddCommand(NewTranscribeCmd(deps))

	return rootCmd
}

func isVerbose(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("verbose")
	return v
}
