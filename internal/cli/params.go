package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/arkonballoon/VoiceToDocWeb/internal/audio"
	"github.com/arkonballoon/VoiceToDocWeb/internal/config"
)

// paramsFile is the TOML form of the segmentation parameters. Unset keys keep
// their defaults.
type paramsFile struct {
	MinSilenceLenMs  *int     `toml:"min_silence_len_ms"`
	SilenceThreshDB  *float64 `toml:"silence_thresh_db"`
	MinChunkLengthMs *int     `toml:"min_chunk_length_ms"`
	MaxChunkLengthMs *int     `toml:"max_chunk_length_ms"`
}

// DefaultParams returns the segmentation parameters of the default service configuration
func DefaultParams() audio.Params {
	a := config.Default().Audio
	return audio.Params{
		MinSilenceLen:   a.GetMinSilenceLen(),
		SilenceThreshDB: a.SilenceThreshDB,
		MinChunkLength:  a.GetMinChunkLength(),
		MaxChunkLength:  a.GetMaxChunkLength(),
	}
}

// LoadParams overlays the TOML file at path onto base. Unknown keys are rejected.
func LoadParams(path string, base audio.Params) (audio.Params, error) {
	var pf paramsFile
	md, err := toml.DecodeFile(path, &pf)
	if err != nil {
		return base, fmt.Errorf("reading params file: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return base, fmt.Errorf("unknown keys in params file: %s", strings.Join(keys, ", "))
	}

	p := base
	if pf.MinSilenceLenMs != nil {
		p.MinSilenceLen = time.Duration(*pf.MinSilenceLenMs) * time.Millisecond
	}
	if pf.SilenceThreshDB != nil {
		p.SilenceThreshDB = *pf.SilenceThreshDB
	}
	if pf.MinChunkLengthMs != nil {
		p.MinChunkLength = time.Duration(*pf.MinChunkLengthMs) * time.Millisecond
	}
	if pf.MaxChunkLengthMs != nil {
		p.MaxChunkLength = time.Duration(*pf.MaxChunkLengthMs) * time.Millisecond
	}
	return p, nil
}

func addParamsFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.String("params", "", "TOML file with segmentation parameters")
	flags.Int("min-silence", 0, "Minimum pause length in ms that allows a cut")
	flags.Float64("thresh", 0, "Silence threshold in dBFS")
	flags.Int("min-chunk", 0, "Minimum chunk length in ms")
	flags.Int("max-chunk", 0, "Maximum chunk length in ms")
}

// resolveParams applies defaults, then the params file, then explicit flags.
func resolveParams(cmd *cobra.Command) (audio.Params, error) {
	p := DefaultParams()
	flags := cmd.Flags()

	if path, _ := flags.GetString("params"); path != "" {
		var err error
		if p, err = LoadParams(path, p); err != nil {
			return p, err
		}
	}

	if flags.Changed("min-silence") {
		ms, _ := flags.GetInt("min-silence")
		p.MinSilenceLen = time.Duration(ms) * time.Millisecond
	}
	if flags.Changed("thresh") {
		p.SilenceThreshDB, _ = flags.GetFloat64("thresh")
	}
	if flags.Changed("min-chunk") {
		ms, _ := flags.GetInt("min-chunk")
		p.MinChunkLength = time.Duration(ms) * time.Millisecond
	}
	if flags.Changed("max-chunk") {
		ms, _ := flags.GetInt("max-chunk")
		p.MaxChunkLength = time.Duration(ms) * time.Millisecond
	}

	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid segmentation parameters: %w", err)
	}
	return p, nil
}
