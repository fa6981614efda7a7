package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arkonballoon/VoiceToDocWeb/internal/audio"
	"github.com/arkonballoon/VoiceToDocWeb/internal/output"
)

func NewInspectCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <recording.wav>",
		Short: "Show the format, speech intervals and planned chunks of a recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f := output.NewFormatter(cmd.OutOrStdout())

			params, err := resolveParams(cmd)
			if err != nil {
				return err
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading recording: %w", err)
			}

			info, err := audio.GetWAVInfo(data)
			if err != nil {
				return err
			}
			f.WAVInfo(args[0], info)

			segmenter, err := audio.NewSegmenter(params, deps.Logger, nil)
			if err != nil {
				return err
			}

			intervals, err := segmenter.Detect(data)
			if err != nil {
				return err
			}
			f.IntervalListHeader(len(intervals))
			for i, iv := range intervals {
				f.Interval(i, iv)
			}

			cuts := audio.PlanChunks(intervals, params)
			f.CutListHeader(len(cuts))
			for i, c := range cuts {
				f.Cut(i, c)
			}

			if len(cuts) == 0 {
				f.Info("No chunk reaches the minimum length")
			}
			return nil
		},
	}
}
