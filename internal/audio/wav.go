package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/arkonballoon/VoiceToDocWeb/internal/vad"
)

// ErrInvalidWAV is returned when data is not a readable PCM WAV container.
var ErrInvalidWAV = errors.New("invalid WAV data")

const (
	wavHeaderSize  = 44
	formatPCM      = 1
	formatExtended = 0xFFFE
)

// WAVHeader represents the canonical 44-byte header of a PCM WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

// Format describes the layout of PCM sample data.
type Format struct {
	SampleRate    int `json:"sample_rate"`
	Channels      int `json:"channels"`
	BitsPerSample int `json:"bits_per_sample"`
}

// BlockAlign returns the size of one sample frame in bytes.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// ByteRate returns the number of bytes per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// Validate checks that the format can be encoded and analysed.
func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channel count must be positive, got %d", f.Channels)
	}
	switch f.BitsPerSample {
	case 8, 16, 24, 32:
	default:
		return fmt.Errorf("unsupported bit depth: %d (8, 16, 24 or 32 expected)", f.BitsPerSample)
	}
	return nil
}

// PCM is decoded audio: a format plus raw little-endian sample data.
type PCM struct {
	Format Format
	Data   []byte
}

// Frames returns the number of complete sample frames.
func (p *PCM) Frames() int {
	align := p.Format.BlockAlign()
	if align == 0 {
		return 0
	}
	return len(p.Data) / align
}

// Duration returns the playback length of the audio.
func (p *PCM) Duration() time.Duration {
	if p.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(p.Frames()) * int64(time.Second) / int64(p.Format.SampleRate))
}

// FrameAt maps an offset to a frame index, clamped to the audio length.
func (p *PCM) FrameAt(offset time.Duration) int {
	if offset <= 0 {
		return 0
	}
	frame := int(int64(offset) * int64(p.Format.SampleRate) / int64(time.Second))
	if frames := p.Frames(); frame > frames {
		return frames
	}
	return frame
}

// Slice returns the raw sample bytes between two frame indices.
func (p *PCM) Slice(startFrame, endFrame int) []byte {
	align := p.Format.BlockAlign()
	return p.Data[startFrame*align : endFrame*align]
}

// Signal converts the sample data into a zero-centred signal for loudness analysis.
func (p *PCM) Signal() vad.Signal {
	bytesPerSample := p.Format.BitsPerSample / 8
	n := p.Frames() * p.Format.Channels
	samples := make([]int32, n)
	for i := 0; i < n; i++ {
		b := p.Data[i*bytesPerSample:]
		switch bytesPerSample {
		case 1:
			samples[i] = int32(b[0]) - 128
		case 2:
			samples[i] = int32(int16(binary.LittleEndian.Uint16(b)))
		case 3:
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			samples[i] = (v << 8) >> 8
		case 4:
			samples[i] = int32(binary.LittleEndian.Uint32(b))
		}
	}
	return vad.Signal{
		Samples:      samples,
		Channels:     p.Format.Channels,
		SampleRate:   p.Format.SampleRate,
		MaxAmplitude: float64(int64(1) << (p.Format.BitsPerSample - 1)),
	}
}

// EncodeWAV wraps raw PCM sample data into a standalone WAV container
func EncodeWAV(format Format, data []byte) ([]byte, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if len(data)%format.BlockAlign() != 0 {
		return nil, fmt.Errorf("data length %d is not a multiple of block align %d", len(data), format.BlockAlign())
	}

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(data)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   formatPCM,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.ByteRate()),
		BlockAlign:    uint16(format.BlockAlign()),
		BitsPerSample: uint16(format.BitsPerSample),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(data)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(data)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(data)

	return buf.Bytes(), nil
}

// EncodeSamples encodes mono 16-bit samples into WAV format
func EncodeSamples(samples []int16, sampleRate int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return EncodeWAV(Format{SampleRate: sampleRate, Channels: 1, BitsPerSample: 16}, data)
}

// DecodeWAV parses a RIFF/WAVE container and returns its PCM payload.
// Unknown chunks (LIST, fact, ...) are skipped. A data chunk that declares more
// bytes than present, as streaming writers do, is truncated to what was received.
func DecodeWAV(data []byte) (*PCM, error) {
	if len(data) < 12 {
		return nil, fmt.Errorf("%w: need at least 12 bytes, got %d", ErrInvalidWAV, len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return nil, fmt.Errorf("%w: missing RIFF header", ErrInvalidWAV)
	}
	if string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("%w: missing WAVE format", ErrInvalidWAV)
	}

	var (
		format  Format
		payload []byte
		haveFmt bool
		havePCM bool
	)
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		end := body + size
		if end > len(data) || end < body {
			end = len(data)
		}

		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, fmt.Errorf("%w: fmt chunk too short (%d bytes)", ErrInvalidWAV, end-body)
			}
			chunk := data[body:end]
			audioFormat := binary.LittleEndian.Uint16(chunk[0:2])
			if audioFormat != formatPCM && audioFormat != formatExtended {
				return nil, fmt.Errorf("%w: unsupported audio format %d (only PCM is supported)", ErrInvalidWAV, audioFormat)
			}
			if audioFormat == formatExtended {
				// cbSize >= 22, SubFormat GUID starts with the format tag
				if len(chunk) < 40 || binary.LittleEndian.Uint16(chunk[16:18]) < 22 {
					return nil, fmt.Errorf("%w: extensible fmt chunk too short", ErrInvalidWAV)
				}
				if sub := binary.LittleEndian.Uint16(chunk[24:26]); sub != formatPCM {
					return nil, fmt.Errorf("%w: unsupported extensible subformat %d (only PCM is supported)", ErrInvalidWAV, sub)
				}
			}
			format = Format{
				Channels:      int(binary.LittleEndian.Uint16(chunk[2:4])),
				SampleRate:    int(binary.LittleEndian.Uint32(chunk[4:8])),
				BitsPerSample: int(binary.LittleEndian.Uint16(chunk[14:16])),
			}
			if err := format.Validate(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidWAV, err)
			}
			haveFmt = true
		case "data":
			payload = data[body:end]
			havePCM = true
		}

		if havePCM && haveFmt {
			break
		}
		offset = end + size%2
	}

	if !haveFmt {
		return nil, fmt.Errorf("%w: missing fmt chunk", ErrInvalidWAV)
	}
	if !havePCM {
		return nil, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
	}

	usable := len(payload) - len(payload)%format.BlockAlign()
	if usable <= 0 {
		return nil, fmt.Errorf("%w: no audio data found", ErrInvalidWAV)
	}

	return &PCM{Format: format, Data: payload[:usable]}, nil
}

// ValidateWAV validates a WAV file format without copying the audio data
func ValidateWAV(data []byte) error {
	_, err := DecodeWAV(data)
	return err
}

// GetWAVDuration calculates the duration of a WAV file in seconds
func GetWAVDuration(data []byte) (float64, error) {
	pcm, err := DecodeWAV(data)
	if err != nil {
		return 0, err
	}
	return pcm.Duration().Seconds(), nil
}

// WAVInfo describes a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	pcm, err := DecodeWAV(data)
	if err != nil {
		return nil, err
	}

	return &WAVInfo{
		SampleRate:    uint32(pcm.Format.SampleRate),
		Channels:      uint16(pcm.Format.Channels),
		BitsPerSample: uint16(pcm.Format.BitsPerSample),
		Duration:      pcm.Duration().Seconds(),
		DataSize:      uint32(len(pcm.Data)),
		NumSamples:    uint32(pcm.Frames()),
	}, nil
}
