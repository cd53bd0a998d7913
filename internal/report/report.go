// Package report renders run summaries and session state as terminal tables.
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JakeFAU/directory-crawler/internal/crawler"
)

func newTable(w io.Writer, title string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(title)
	return t
}

// Summary writes the run counters.
func Summary(w io.Writer, s crawler.Summary) {
	t := newTable(w, "Run summary")
	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Listing pages", s.ListingPages},
		{"Listing candidates", s.ListingCandidates},
		{"Detail pages", s.DetailPages},
		{"Data endpoint hits", s.DataEndpointHits},
		{"Document hits", s.DocumentHits},
		{"Browser hits", s.BrowserHits},
		{"Bootstraps", s.Bootstraps},
		{"Blocked", s.Blocked},
		{"Errors", s.Errors},
		{"Failed targets", s.Failed},
	})
	t.AppendSeparator()
	t.AppendRow(table.Row{"Saved", fmt.Sprintf("%d / %d", s.Saved, s.Wanted)})
	t.AppendRow(table.Row{"Runtime", s.Runtime.Round(time.Millisecond).String()})
	t.AppendRow(table.Row{"Throughput", strconv.FormatFloat(s.RecordsPerSecond(), 'f', 2, 64) + " rec/s"})
	t.Render()
}

// Session writes the persisted identity without cookie values.
func Session(w io.Writer, key string, snap *crawler.SessionSnapshot) {
	t := newTable(w, "Session "+key)
	if snap == nil {
		t.AppendRow(table.Row{"State", "none persisted"})
		t.Render()
		return
	}
	names := make([]string, 0, len(snap.Cookies))
	for _, c := range snap.Cookies {
		names = append(names, c.Name)
	}
	buildID := snap.BuildID
	if buildID == "" {
		buildID = "-"
	}
	t.AppendRows([]table.Row{
		{"Session id", snap.SessionID},
		{"User agent", snap.UserAgent},
		{"Cookies", len(snap.Cookies)},
		{"Cookie names", fmt.Sprint(names)},
		{"Build id", buildID},
		{"Saved at", snap.SavedAt.Format(time.RFC3339)},
	})
	t.Render()
}
