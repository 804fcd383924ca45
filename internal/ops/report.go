package ops

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/EstellaNines/Vertias-sub003/internal/db"
	"github.com/EstellaNines/Vertias-sub003/internal/engine"
	"github.com/EstellaNines/Vertias-sub003/internal/errors"
	"github.com/EstellaNines/Vertias-sub003/internal/store"
)

// Report formats
const (
	FormatMarkdown = "markdown"
	FormatHTML     = "html"
)

// ReportInput contains parameters for the Report operation.
type ReportInput struct {
	HTML         bool
	HistoryLimit int    // default DefaultReportHistory
	Path         string // optional, write the report here instead of returning only its content
}

// ReportOutput contains the result of the Report operation.
type ReportOutput struct {
	Format      string `json:"format"`
	Content     string `json:"content"`
	Path        string `json:"path,omitempty"`
	GeneratedAt int64  `json:"generated_at"`
}

// ReportData is everything a report shows.
type ReportData struct {
	Stats       *engine.Stats
	History     []db.HistoryEntry
	GeneratedAt time.Time
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.Table))

var reportPage = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
{{.Body}}
</body>
</html>
`))

// Report builds a markdown summary of what is on disk and the recent save
// history, optionally rendered to HTML, and optionally writes it to a file.
func Report(ctx context.Context, e *engine.Engine, input ReportInput) (*ReportOutput, error) {
	now := e.Now()

	st, err := e.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	data := ReportData{Stats: st, GeneratedAt: now}

	limit := clampLimit(input.HistoryLimit, DefaultReportHistory, MaxHistoryLimit)
	history, err := e.History("", limit)
	switch {
	case err == nil:
		data.History = history
		if data.History == nil {
			data.History = []db.HistoryEntry{}
		}
	case errors.Is(err, errors.ErrNotReady):
		// No database; the report says so
	default:
		return nil, err
	}

	out := &ReportOutput{Format: FormatMarkdown, GeneratedAt: now.Unix()}
	content := BuildReport(data)
	ext := ".md"
	if input.HTML {
		content, err = RenderHTML("Vertias report", content)
		if err != nil {
			return nil, err
		}
		out.Format = FormatHTML
		ext = ".html"
	}
	out.Content = content

	if input.Path != "" {
		reportsDir := filepath.Join(e.Dir(), ReportsDirName)
		if err := ValidateReportPath(input.Path, ext, reportsDir, e.Config()); err != nil {
			return nil, err
		}
		if err := writeFileAtomic(ctx, input.Path, []byte(content)); err != nil {
			return nil, err
		}
		out.Path = input.Path
	}
	return out, nil
}

// BuildReport renders data as markdown.
func BuildReport(data ReportData) string {
	var b strings.Builder
	st := data.Stats

	b.WriteString("# Vertias report\n\n")
	fmt.Fprintf(&b, "Generated %s\n\n", data.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC"))

	b.WriteString("## Summary\n\n")
	b.WriteString("| Field | Value |\n|---|---|\n")
	row := func(k, v string) {
		if v == "" {
			v = "-"
		}
		fmt.Fprintf(&b, "| %s | %s |\n", k, mdCell(v))
	}
	row("Occupied slots", fmt.Sprint(st.SlotCount))
	row("Items", fmt.Sprint(st.ItemCount))
	row("Containers", fmt.Sprint(st.Containers))
	row("Last saved", formatMillis(st.LastSavedAt))
	row("Saved by session", st.LastSessionID)
	row("Current session", st.SessionID)
	row("Schema version", st.SchemaVersion)
	row("Source", st.Source)
	row("Restore state", st.RestoreState)
	row("Scheduler state", st.SchedulerState)
	row("Restore cycle", fmt.Sprint(st.RestoreCycle))
	row("Stored preferences", strings.Join(st.Prefs, ", "))
	b.WriteString("\n")

	b.WriteString("## Equipment\n\n")
	if len(st.Slots) == 0 {
		b.WriteString("No equipment saved.\n\n")
	} else {
		for _, slot := range sortedKeys(st.Slots) {
			fmt.Fprintf(&b, "- **%s**: %s\n", slot, mdCell(st.Slots[slot]))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Containers\n\n")
	if len(st.ContainerItems) == 0 {
		b.WriteString("No containers saved.\n\n")
	} else {
		b.WriteString("| Container | Items |\n|---|---|\n")
		for _, key := range sortedKeys(st.ContainerItems) {
			fmt.Fprintf(&b, "| %s | %d |\n", mdCell(key), st.ContainerItems[key])
		}
		b.WriteString("\n")
	}

	b.WriteString("## Backups\n\n")
	for _, file := range sortedKeys(st.Backups) {
		state := "missing"
		if st.Backups[file] {
			state = "present"
		}
		fmt.Fprintf(&b, "- %s: %s\n", file, state)
	}
	b.WriteString("\n")

	b.WriteString("## Counters\n\n")
	if c := st.Counters; c == nil {
		b.WriteString("Counters unavailable.\n\n")
	} else {
		b.WriteString("Totals since this process started.\n\n")
		b.WriteString("| Counter | Value |\n|---|---|\n")
		counter := func(name string, v float64) {
			fmt.Fprintf(&b, "| %s | %g |\n", mdCell(name), v)
		}
		for _, k := range sortedKeys(c.SaveRequests) {
			counter("Save requests "+k, c.SaveRequests[k])
		}
		for _, k := range sortedKeys(c.SaveWrites) {
			counter("Writes "+k, c.SaveWrites[k])
		}
		counter("Refused empty writes", c.EmptyWritesRefused)
		counter("Backup fallbacks", c.BackupFallbacks)
		for _, k := range sortedKeys(c.RestoreItems) {
			counter("Restored items "+k, c.RestoreItems[k])
		}
		counter("Migrations applied", c.MigrationsApplied)
		b.WriteString("\n")
	}

	b.WriteString("## Recent saves\n\n")
	switch {
	case data.History == nil:
		b.WriteString("Save history unavailable.\n")
	case len(data.History) == 0:
		b.WriteString("No saves recorded.\n")
	default:
		b.WriteString("| Saved | Domain | Session | Slots | Items | Reason |\n|---|---|---|---|---|---|\n")
		for _, h := range data.History {
			reason := "-"
			if h.Reason != nil {
				reason = *h.Reason
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %d | %d | %s |\n",
				formatMillis(h.Timestamp), h.Domain, mdCell(h.SessionID),
				h.OccupiedSlots, h.ItemCount, mdCell(reason))
		}
	}
	return b.String()
}

// RenderHTML converts markdown to a standalone HTML page.
func RenderHTML(title, md string) (string, error) {
	var body bytes.Buffer
	if err := markdown.Convert([]byte(md), &body); err != nil {
		return "", errors.NewInternal(fmt.Errorf("render markdown: %w", err))
	}
	var page bytes.Buffer
	err := reportPage.Execute(&page, struct {
		Title string
		Body  template.HTML
	}{Title: title, Body: template.HTML(body.String())})
	if err != nil {
		return "", errors.NewInternal(fmt.Errorf("render page: %w", err))
	}
	return page.String(), nil
}

// writeFileAtomic creates path's directory and writes content through
// store.WriteAtomic, so an existing report survives a failed write.
func writeFileAtomic(ctx context.Context, path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return errors.NewIOFailure("create report directory", filepath.Dir(path), err)
	}
	if err := ctx.Err(); err != nil {
		return errors.NewIOFailure("write report", path, err)
	}
	if err := store.WriteAtomic(path, content); err != nil {
		if errors.CodeOf(err) != "" {
			return err
		}
		return errors.NewIOFailure("write report", path, err)
	}
	return nil
}

// formatMillis formats a Unix millisecond timestamp as "2006-01-02 15:04:05" UTC.
func formatMillis(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05")
}

// mdCell escapes text for a markdown table cell.
func mdCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
