package helpers

import (
	"fmt"
	"io"
	"time"

	"github.com/coral-mesh/remoteprof/internal/store"
	"github.com/coral-mesh/remoteprof/internal/story"
)

// RecordingSummary is the one-line view of a recording.
type RecordingSummary struct {
	ID          string        `header:"ID" json:"id"`
	Name        string        `header:"NAME" json:"name,omitempty"`
	App         string        `header:"APP" json:"app,omitempty"`
	Device      string        `header:"DEVICE" json:"device,omitempty"`
	Started     string        `header:"STARTED" json:"-"`
	StartTime   time.Time     `json:"start_time"`
	Duration    time.Duration `header:"DURATION" json:"duration_ns"`
	Stopped     bool          `header:"STOPPED" json:"stopped"`
	Groups      int           `header:"GROUPS" json:"groups"`
	Performance int           `header:"SAMPLES" json:"performance_samples"`
	Network     int           `json:"network_samples"`
	Logs        int           `json:"log_samples"`
	Tags        int           `json:"tags"`
	OpenGroups  int           `json:"open_groups"`
}

// SummarizeRecording summarizes a recording without its entities.
func SummarizeRecording(r story.Recording) RecordingSummary {
	s := RecordingSummary{
		ID:        r.ID,
		Name:      r.Name,
		App:       r.AppName,
		Device:    r.DeviceName,
		Started:   stringify(r.StartTime),
		StartTime: r.StartTime,
		Stopped:   r.Stopped,
	}
	if r.EndTime != nil {
		s.Duration = r.EndTime.Sub(r.StartTime)
	}
	return s
}

// Summarize summarizes a full timeline.
func Summarize(tl *store.Timeline) RecordingSummary {
	s := SummarizeRecording(tl.Recording)
	s.Groups = len(tl.Groups)
	s.Performance = len(tl.Performance) + len(tl.RNPerformance)
	s.Network = len(tl.Network)
	s.Logs = len(tl.Logs)
	s.Tags = len(tl.Tags)
	for _, g := range tl.Groups {
		if !g.Closed() {
			s.OpenGroups++
		}
	}
	return s
}

// PrintSummary writes a styled summary block.
func PrintSummary(w io.Writer, s RecordingSummary) error {
	status := OKStyle.Render("stopped")
	if !s.Stopped {
		status = WarnStyle.Render("incomplete")
	}
	_, err := fmt.Fprint(w,
		TitleStyle.Render("Recording "+s.ID)+"\n",
		KeyValue("Name", orDash(s.Name)),
		KeyValue("App", orDash(s.App)),
		KeyValue("Device", orDash(s.Device)),
		KeyValue("Started", s.StartTime),
		KeyValue("Duration", s.Duration),
		KeyValue("Status", status),
		KeyValue("Groups", fmt.Sprintf("%d (%d open)", s.Groups, s.OpenGroups)),
		KeyValue("Samples", s.Performance),
		KeyValue("Network", s.Network),
		KeyValue("Logs", s.Logs),
		KeyValue("Tags", s.Tags),
	)
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
