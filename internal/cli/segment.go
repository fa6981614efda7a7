package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/arkonballoon/VoiceToDocWeb/internal/audio"
	"github.com/arkonballoon/VoiceToDocWeb/internal/output"
)

func NewSegmentCmd(deps *Dependencies) *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "segment <recording.wav>",
		Short: "Cut a recording into WAV chunks at silent pauses",
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

			segmenter, err := audio.NewSegmenter(params, deps.Logger, nil)
			if err != nil {
				return err
			}

			chunks, err := segmenter.Segment(data)
			if err != nil {
				return err
			}
			if len(chunks) == 0 {
				f.Info("No speech found")
				return nil
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}

			for _, c := range chunks {
				path := filepath.Join(outDir, fmt.Sprintf("chunk_%03d.wav", c.Index))
				if err := os.WriteFile(path, c.Data, 0o644); err != nil {
					return fmt.Errorf("writing chunk %d: %w", c.Index, err)
				}
				f.ChunkWritten(path, c)
			}

			f.Success(fmt.Sprintf("%d chunks written to %s", len(chunks), outDir))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outDir, "output", "o", "chunks", "Directory for the chunk files")

	return cmd
}
