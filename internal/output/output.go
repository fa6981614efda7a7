// Package output renders human-readable command line output.
package output

import (
	"fmt"
	"io"
	"time"

	"github.com/arkonballoon/VoiceToDocWeb/internal/audio"
	"github.com/arkonballoon/VoiceToDocWeb/internal/scheduler"
	"github.com/arkonballoon/VoiceToDocWeb/internal/vad"
)

type Formatter struct {
	w io.Writer
}

func NewFormatter(w io.Writer) *Formatter {
	return &Formatter{w: w}
}

func (f *Formatter) Error(msg string) {
	fmt.Fprintf(f.w, "❌ %s\n", msg)
}

func (f *Formatter) Info(msg string) {
	fmt.Fprintf(f.w, "ℹ️  %s\n", msg)
}

func (f *Formatter) Success(msg string) {
	fmt.Fprintf(f.w, "✅ %s\n", msg)
}

func (f *Formatter) Warning(msg string) {
	fmt.Fprintf(f.w, "⚠️  %s\n", msg)
}

func (f *Formatter) WAVInfo(path string, info *audio.WAVInfo) {
	fmt.Fprintf(f.w, "🎧 %s\n", path)
	fmt.Fprintf(f.w, "  Format:   %d Hz, %d ch, %d bit\n", info.SampleRate, info.Channels, info.BitsPerSample)
	fmt.Fprintf(f.w, "  Duration: %s\n", formatSeconds(info.Duration))
	fmt.Fprintf(f.w, "  Samples:  %d\n", info.NumSamples)
}

func (f *Formatter) IntervalListHeader(count int) {
	fmt.Fprintf(f.w, "\n🔊 Non-silent intervals (%d):\n", count)
}

func (f *Formatter) Interval(i int, iv vad.Interval) {
	fmt.Fprintf(f.w, "  %3d  %s → %s  (%s)\n", i,
		formatDuration(iv.Start), formatDuration(iv.End), formatDuration(iv.Duration()))
}

func (f *Formatter) CutListHeader(count int) {
	fmt.Fprintf(f.w, "\n✂️  Planned chunks (%d):\n", count)
}

func (f *Formatter) Cut(i int, c audio.Cut) {
	fmt.Fprintf(f.w, "  %3d  %s → %s  (%s)%s\n", i,
		formatDuration(c.Start), formatDuration(c.End), formatDuration(c.Duration()), forcedMark(c.Forced))
}

func (f *Formatter) ChunkWritten(path string, c audio.AudioChunk) {
	fmt.Fprintf(f.w, "  💾 %s  %s → %s  (%s)%s\n", path,
		formatDuration(c.Start), formatDuration(c.End), formatDuration(c.Duration()), forcedMark(c.Forced))
}

// Update prints one scheduler update. Queued and processing updates are only
// shown in verbose mode.
func (f *Formatter) Update(u scheduler.Update, verbose bool) {
	switch u := u.(type) {
	case scheduler.QueuedUpdate:
		if verbose {
			fmt.Fprintf(f.w, "  ⏳ %s queued\n", shortID(u.TaskID))
		}
	case scheduler.ProcessingUpdate:
		if verbose {
			fmt.Fprintf(f.w, "  🎙️  %s processing\n", shortID(u.TaskID))
		}
	case scheduler.ProgressUpdate:
		if verbose {
			fmt.Fprintf(f.w, "  📊 %s %d/%d chunks\n", shortID(u.TaskID), u.Progress.ProcessedChunks, u.Progress.TotalChunks)
		}
	case scheduler.ResultUpdate:
		fmt.Fprintf(f.w, "  📝 %s %q (%s)\n", shortID(u.TaskID), u.Result.Text, u.Result.ProcessingDuration.Round(time.Millisecond))
	case scheduler.ErrorUpdate:
		fmt.Fprintf(f.w, "  ❌ %s %s\n", shortID(u.TaskID), u.Message)
	}
}

func (f *Formatter) Transcript(text string) {
	fmt.Fprintf(f.w, "\n📄 Transcript:\n%s\n", text)
}

func forcedMark(forced bool) string {
	if forced {
		return " forced"
	}
	return ""
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatSeconds(s float64) string {
	return formatDuration(time.Duration(s * float64(time.Second)))
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Millisecond)
	m := d / time.Minute
	d -= m * time.Minute
	if m > 0 {
		return fmt.Sprintf("%dm%06.3fs", m, d.Seconds())
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}
