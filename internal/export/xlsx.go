// Package export renders snapshot history and analytics as XLSX workbooks.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/serp-monitor/internal/analytics"
	"github.com/sells-group/serp-monitor/internal/model"
)

// ContentType is the MIME type of the generated workbooks.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ErrNoData is returned when a workbook would contain no rows.
var ErrNoData = eris.New("export: no data")

// Filename returns the download name for a workbook of the given kind.
func Filename(kind string, at time.Time) string {
	return fmt.Sprintf("serp_monitor_%s_%s.xlsx", kind, at.UTC().Format("20060102"))
}

type column struct {
	title string
	width float64
}

var dailyColumns = []column{
	{"Date", 12}, {"Time", 10}, {"Query", 20}, {"URL", 50},
	{"Domain", 25}, {"Title", 40}, {"Position", 10}, {"Snippet", 60},
}

// DailyPositions writes one row per stored link, oldest snapshot first and
// by position within a snapshot.
func DailyPositions(w io.Writer, snaps []model.Snapshot) error {
	f := xlsx.NewFile()
	sheet, err := addSheet(f, "Daily Positions", dailyColumns)
	if err != nil {
		return err
	}

	for i := range snaps {
		s := &snaps[i]
		at := s.SearchDate.UTC()
		for _, l := range s.Links {
			row := sheet.AddRow()
			row.AddCell().SetString(at.Format(time.DateOnly))
			row.AddCell().SetString(at.Format(time.TimeOnly))
			row.AddCell().SetString(s.Query)
			row.AddCell().SetString(l.URL)
			row.AddCell().SetString(l.Domain)
			row.AddCell().SetString(l.Title)
			row.AddCell().SetInt(l.Position)
			row.AddCell().SetString(l.Snippet)
		}
	}
	return write(f, w)
}

var historyColumns = []column{
	{"Date", 12}, {"Time", 10}, {"Query", 20}, {"URL", 50},
	{"Domain", 25}, {"Title", 40}, {"Position", 10}, {"Change", 10},
}

// PositionHistory writes every appearance of url across snaps with the
// movement since its previous appearance. Returns ErrNoData if url never
// appears.
func PositionHistory(w io.Writer, snaps []model.Snapshot, url string) error {
	f := xlsx.NewFile()
	sheet, err := addSheet(f, "Position History", historyColumns)
	if err != nil {
		return err
	}

	prev := 0
	found := false
	for i := range snaps {
		s := &snaps[i]
		for _, l := range s.Links {
			if l.URL != url {
				continue
			}
			at := s.SearchDate.UTC()
			row := sheet.AddRow()
			row.AddCell().SetString(at.Format(time.DateOnly))
			row.AddCell().SetString(at.Format(time.TimeOnly))
			row.AddCell().SetString(s.Query)
			row.AddCell().SetString(l.URL)
			row.AddCell().SetString(l.Domain)
			row.AddCell().SetString(l.Title)
			row.AddCell().SetInt(l.Position)
			row.AddCell().SetString(movement(found, prev, l.Position))
			prev = l.Position
			found = true
		}
	}
	if !found {
		return ErrNoData
	}
	return write(f, w)
}

func movement(hasPrev bool, prev, cur int) string {
	switch {
	case !hasPrev:
		return "new"
	case cur < prev:
		return fmt.Sprintf("↑ %d", prev-cur)
	case cur > prev:
		return fmt.Sprintf("↓ %d", cur-prev)
	}
	return "→"
}

var linkColumns = []column{
	{"URL", 50}, {"Domain", 25}, {"Title", 40}, {"Appearances", 14},
	{"First Seen", 20}, {"Last Seen", 20}, {"Average Position", 16}, {"Days Active", 12},
}

// Summary writes the overall stats on one sheet and the per-link statistics
// on a second.
func Summary(w io.Writer, stats *analytics.Stats, links []model.LinkStats) error {
	f := xlsx.NewFile()
	overview, err := addSheet(f, "Summary", []column{{"Metric", 25}, {"Value", 25}})
	if err != nil {
		return err
	}
	if stats != nil {
		addPair(overview, "Total searches", stats.TotalSearches)
		addPair(overview, "Total links", stats.TotalLinks)
		addPair(overview, "Unique domains", stats.UniqueDomains)
		addPair(overview, "Links (30 days)", stats.RecentLinks)
		addPair(overview, "Domains (30 days)", stats.RecentUniqueDomains)
		row := overview.AddRow()
		row.AddCell().SetString("Last search")
		if stats.LastSearchDate != nil {
			row.AddCell().SetString(stats.LastSearchDate.UTC().Format(time.DateTime))
		} else {
			row.AddCell().SetString("-")
		}
	}

	sheet, err := addSheet(f, "Links", linkColumns)
	if err != nil {
		return err
	}
	for _, l := range links {
		row := sheet.AddRow()
		row.AddCell().SetString(l.URL)
		row.AddCell().SetString(l.Domain)
		row.AddCell().SetString(l.Title)
		row.AddCell().SetInt(l.TotalAppearances)
		row.AddCell().SetString(l.FirstSeen.UTC().Format(time.DateTime))
		row.AddCell().SetString(l.LastSeen.UTC().Format(time.DateTime))
		row.AddCell().SetFloatWithFormat(l.AveragePosition, "0.00")
		row.AddCell().SetInt(l.DaysActive)
	}
	return write(f, w)
}

func addPair(sheet *xlsx.Sheet, name string, v int) {
	row := sheet.AddRow()
	row.AddCell().SetString(name)
	row.AddCell().SetInt(v)
}

func addSheet(f *xlsx.File, name string, cols []column) (*xlsx.Sheet, error) {
	sheet, err := f.AddSheet(name)
	if err != nil {
		return nil, eris.Wrapf(err, "export: add sheet %q", name)
	}
	style := headerStyle()
	row := sheet.AddRow()
	for i, c := range cols {
		cell := row.AddCell()
		cell.SetString(c.title)
		cell.SetStyle(style)
		// ColStore indexes are 1-based.
		sheet.SetColWidth(i+1, i+1, c.width)
	}
	return sheet, nil
}

func headerStyle() *xlsx.Style {
	s := xlsx.NewStyle()
	s.Font.Bold = true
	s.Font.Color = "FFFFFFFF"
	s.Font.Size = 12
	s.Fill = *xlsx.NewFill("solid", "FF667EEA", "FF667EEA")
	s.Alignment.Horizontal = "center"
	s.Alignment.Vertical = "center"
	s.ApplyFont = true
	s.ApplyFill = true
	s.ApplyAlignment = true
	return s
}

func write(f *xlsx.File, w io.Writer) error {
	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write workbook")
	}
	return nil
}
