package cli

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/arkonballoon/VoiceToDocWeb/internal/audio"
	"github.com/arkonballoon/VoiceToDocWeb/internal/config"
	"github.com/arkonballoon/VoiceToDocWeb/internal/output"
	"github.com/arkonballoon/VoiceToDocWeb/internal/scheduler"
	"github.com/arkonballoon/VoiceToDocWeb/internal/stream"
	"github.com/arkonballoon/VoiceToDocWeb/internal/transcription"
	"github.com/arkonballoon/VoiceToDocWeb/internal/version"
)

type transcribeOptions struct {
	endpoint   string
	apiKey     string
	language   string
	model      string
	stub       bool
	workers    int
	maxRetries int
	outFile    string
}

func NewTranscribeCmd(deps *Dependencies) *cobra.Command {
	defaults := config.Default().Transcription
	opts := transcribeOptions{}

	cmd := &cobra.Command{
		Use:   "transcribe <recording.wav>",
		Short: "Segment a recording and transcribe every chunk",
		Long:  "Segments the recording, submits every chunk to the scheduler and prints the transcript in chunk order. The API key defaults to VTD_TRANSCRIPTION_API_KEY.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranscribe(cmd, deps, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.endpoint, "endpoint", defaults.Endpoint, "Transcription endpoint URL")
	flags.StringVar(&opts.apiKey, "api-key", os.Getenv("VTD_TRANSCRIPTION_API_KEY"), "Bearer token for the endpoint")
	flags.StringVar(&opts.language, "language", defaults.Language, "Language hint")
	flags.StringVar(&opts.model, "model", defaults.Model, "Model name sent to the endpoint")
	flags.BoolVar(&opts.stub, "stub", false, "Use the offline stub engine instead of the endpoint")
	flags.IntVar(&opts.workers, "workers", config.Default().Scheduler.Workers, "Number of scheduler workers")
	flags.IntVar(&opts.maxRetries, "retries", 2, "Retries per chunk on transient endpoint errors")
	flags.StringVarP(&opts.outFile, "output", "o", "", "Also write the transcript to this file")

	return cmd
}

func runTranscribe(cmd *cobra.Command, deps *Dependencies, opts transcribeOptions, path string) error {
	f := output.NewFormatter(cmd.OutOrStdout())
	verbose := isVerbose(cmd)

	params, err := resolveParams(cmd)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading recording: %w", err)
	}

	var engine transcription.Engine
	if opts.stub {
		engine = transcription.NewStubEngine(deps.Logger, opts.language)
	} else {
		client, err := transcription.NewClient(transcription.Config{
			Endpoint:   opts.endpoint,
			APIKey:     opts.apiKey,
			MaxRetries: opts.maxRetries,
			Language:   opts.language,
			Model:      opts.model,
			UserAgent:  fmt.Sprintf("VoiceToDoc-chunker/%s", version.Version),
		}, nil)
		if err != nil {
			return err
		}
		defer client.Close()
		engine = client
	}

	sched := scheduler.New(scheduler.Config{}, transcription.NewSharedResource(engine, deps.Logger, nil), deps.Logger, nil)
	if err := sched.Start(opts.workers); err != nil {
		return err
	}
	defer sched.Stop()

	segmenter, err := audio.NewSegmenter(params, deps.Logger, nil)
	if err != nil {
		return err
	}

	sessions := stream.NewManager(deps.Logger, stream.Config{}, segmenter, sched, nil)
	defer sessions.Stop()

	session := sessions.GetOrCreateSession("")
	chunks, err := sessions.Segment(session.ID, data)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		f.Info("No speech found")
		return nil
	}

	// Workers deliver concurrently
	var mu sync.Mutex
	terminal := make(chan struct{}, len(chunks))
	failed := 0
	callback := func(u scheduler.Update) {
		mu.Lock()
		f.Update(u, verbose)
		if _, ok := u.(scheduler.ErrorUpdate); ok {
			failed++
		}
		mu.Unlock()
		if scheduler.Terminal(u) {
			terminal <- struct{}{}
		}
	}

	taskIDs, err := sessions.SubmitChunks(cmd.Context(), session.ID, chunks, callback)
	mu.Lock()
	if err != nil {
		f.Warning(err.Error())
	}
	f.Info(fmt.Sprintf("%d chunks submitted", len(taskIDs)))
	mu.Unlock()
	for i := 0; i < len(taskIDs); i++ {
		select {
		case <-terminal:
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		}
	}

	text := session.Transcript()
	f.Transcript(text)

	if opts.outFile != "" {
		if err := os.WriteFile(opts.outFile, []byte(text+"\n"), 0o644); err != nil {
			return fmt.Errorf("writing transcript: %w", err)
		}
		f.Success(fmt.Sprintf("Transcript saved: %s", opts.outFile))
	}

	mu.Lock()
	defer mu.Unlock()
	if failed > 0 {
		return fmt.Errorf("%d of %d chunks failed", failed, len(taskIDs))
	}
	return nil
}
