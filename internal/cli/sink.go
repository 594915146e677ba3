package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/maauso/bulk-audio-normalizer/internal/events"
	"github.com/maauso/bulk-audio-normalizer/internal/job"
)

// Sink renders run events to a terminal.
type Sink struct {
	out     io.Writer
	verbose bool
}

// NewSink creates a Sink writing to out. Phase and log events are shown
// only when verbose is set.
func NewSink(out io.Writer, verbose bool) *Sink {
	return &Sink{out: out, verbose: verbose}
}

// Drain renders events until ch is closed.
func (s *Sink) Drain(ch <-chan events.Event) {
	for e := range ch {
		if line := s.Render(e); line != "" {
			fmt.Fprintln(s.out, line)
		}
	}
}

// Render formats a single event. It returns "" for events that are not shown.
func (s *Sink) Render(e events.Event) string {
	switch e.Type {
	case events.TypeBatchStart:
		return TitleStyle.Render(fmt.Sprintf("Starting %s", orDefault(e.Message, "batch"))) +
			" " + keyValue("files", e.Total)

	case events.TypeFileStart:
		return MutedStyle.Render("→ " + e.Name)

	case events.TypePhase:
		if !s.verbose {
			return ""
		}
		return MutedStyle.Render(fmt.Sprintf("  %s %s %s", e.Name, e.Phase, e.Status))

	case events.TypeLog:
		if !s.verbose && !strings.HasPrefix(e.Message, "publish failed") {
			return ""
		}
		return MutedStyle.Render(fmt.Sprintf("  [%s] %s", orDefault(e.Phase, "-"), e.Message))

	case events.TypeProgress:
		if e.Percent < 100 {
			return ""
		}
		return KeyStyle.Render(fmt.Sprintf("  overall %5.1f%% (%d/%d)", e.OverallPercent, e.Completed, e.Total))

	case events.TypeFileDone:
		if e.Status == string(job.StatusFailed) {
			return ErrorStyle.Render("✗ "+e.Name) + " " + e.Message
		}
		return SuccessStyle.Render("✓ " + e.Name)

	case events.TypePreviewFileDone:
		return KeyStyle.Render("  preview: ") + e.Rendered

	case events.TypeBatchComplete:
		return SuccessStyle.Bold(true).Render(fmt.Sprintf("Batch complete: %d/%d files", e.Completed, e.Total))

	case events.TypePreviewComplete:
		return SuccessStyle.Bold(true).Render(fmt.Sprintf("Preview ready: %d files", e.Count)) +
			" " + keyValue("dir", e.TempDir)

	case events.TypeBatchError:
		return ErrorStyle.Render("Batch failed: ") + e.Message

	case events.TypeStopped:
		return WarnStyle.Render(fmt.Sprintf("Stopped after %d/%d files", e.Completed, e.Total))
	}
	return ""
}

// Summary prints the per-file outcome of a finished run.
func (s *Sink) Summary(sum *job.Summary) {
	if sum == nil {
		return
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, strings.Join([]string{
		keyValue("completed", sum.Completed),
		keyValue("failed", sum.Failed),
		keyValue("canceled", sum.Canceled),
		keyValue("total", sum.Total),
	}, "  "))
	for _, f := range sum.Files {
		if f.Status == job.StatusFailed {
			fmt.Fprintf(s.out, "%s %s\n", ErrorStyle.Render(f.Name), f.Error)
		}
		if f.URL != "" {
			fmt.Fprintf(s.out, "%s %s\n", KeyStyle.Render(f.Name), f.URL)
		}
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
