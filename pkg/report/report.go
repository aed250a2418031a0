// Package report renders the daily change report documents. All functions
// are pure: no I/O, no clock access, no mutable package state beyond the
// parsed templates. Rendering the same inputs twice yields byte-identical
// output.
package report

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"time"

	"github.com/Masterminds/sprig/v3"

	"github.com/telekom/change-report/pkg/change"
)

// NotSetPlaceholder is rendered wherever an optional timestamp is absent.
const NotSetPlaceholder = "not set"

// dateFormat is the sortable date embedded in subjects and headings.
const dateFormat = "2006-01-02"

// displayTimeFormat is the human-readable pattern for record timestamps.
const displayTimeFormat = "02 Jan 2006 15:04"

// Meta carries the per-run values that appear in the document footer. They
// are passed in explicitly so rendering stays deterministic under test.
type Meta struct {
	RunID       string
	GeneratedAt time.Time
}

var (
	reportTemplate    = template.New("report").Funcs(funcMap())
	noChangesTemplate = template.New("noChanges").Funcs(funcMap())
	errorTemplate     = template.New("error").Funcs(funcMap())

	//go:embed templates/report.html
	reportTemplateRaw string
	//go:embed templates/no_changes.html
	noChangesTemplateRaw string
	//go:embed templates/error.html
	errorTemplateRaw string
)

func init() {
	if _, err := reportTemplate.Parse(reportTemplateRaw); err != nil {
		panic(err)
	}
	if _, err := noChangesTemplate.Parse(noChangesTemplateRaw); err != nil {
		panic(err)
	}
	if _, err := errorTemplate.Parse(errorTemplateRaw); err != nil {
		panic(err)
	}
}

func funcMap() template.FuncMap {
	fm := sprig.HtmlFuncMap()
	fm["displayTime"] = displayTime
	return fm
}

// displayTime formats a record timestamp, substituting the placeholder for
// the zero-time sentinel.
func displayTime(t time.Time) string {
	if t.IsZero() {
		return NotSetPlaceholder
	}
	return t.Format(displayTimeFormat)
}

// Subject builds the mail subject for a report date and change count.
// Phrasing distinguishes zero, one and many changes.
func Subject(day time.Time, count int) string {
	date := day.Format(dateFormat)
	switch {
	case count == 0:
		return fmt.Sprintf("Change Report %s - No Critical or High Changes", date)
	case count == 1:
		return fmt.Sprintf("Change Report %s - 1 Critical/High Change", date)
	default:
		return fmt.Sprintf("Change Report %s - %d Critical/High Changes", date, count)
	}
}

// ErrorSubject builds the subject of a failure notification.
func ErrorSubject(day time.Time, category string) string {
	return fmt.Sprintf("Change Report %s FAILED - %s", day.Format(dateFormat), category)
}

type recordView struct {
	ID                string
	Priority          string
	Type              string
	ConfigurationItem string
	ShortDescription  string
	AssignmentGroup   string
	AssignedTo        string
	ActualStart       time.Time
	ActualEnd         time.Time
}

type reportView struct {
	Date          string
	Critical      []recordView
	High          []recordView
	CriticalCount int
	HighCount     int
	Total         int
	RunID         string
	GeneratedAt   string
}

// RenderReport renders the non-empty report variant. Records must arrive in
// the data source's contract order (Critical first, then High, each block in
// start-date order); the renderer groups without re-sorting so that contract
// is preserved in the document.
func RenderReport(records []change.Record, day time.Time, meta Meta) (string, error) {
	view := reportView{
		Date:        day.Format(dateFormat),
		RunID:       meta.RunID,
		GeneratedAt: meta.GeneratedAt.Format("2006-01-02 15:04:05"),
		Total:       len(records),
	}
	for _, rec := range records {
		rv := recordView{
			ID:                rec.ID,
			Priority:          string(rec.Priority),
			Type:              rec.Type,
			ConfigurationItem: rec.ConfigurationItem,
			ShortDescription:  rec.ShortDescription,
			AssignmentGroup:   rec.AssignmentGroup,
			AssignedTo:        rec.AssignedTo,
			ActualStart:       rec.ActualStart,
			ActualEnd:         rec.ActualEnd,
		}
		if rec.Priority == change.PriorityCritical {
			view.Critical = append(view.Critical, rv)
		} else {
			view.High = append(view.High, rv)
		}
	}
	view.CriticalCount = len(view.Critical)
	view.HighCount = len(view.High)
	return render(reportTemplate, view)
}

type noChangesView struct {
	Date        string
	RunID       string
	GeneratedAt string
}

// RenderNoChanges renders the confirmation sent when the query returned no
// records. It is parameterized only by the date and run metadata.
func RenderNoChanges(day time.Time, meta Meta) (string, error) {
	return render(noChangesTemplate, noChangesView{
		Date:        day.Format(dateFormat),
		RunID:       meta.RunID,
		GeneratedAt: meta.GeneratedAt.Format("2006-01-02 15:04:05"),
	})
}

type errorView struct {
	Date        string
	Category    string
	Message     string
	Remediation string
	RunID       string
	GeneratedAt string
}

// RenderErrorNotification renders the failure notification mail body.
func RenderErrorNotification(category, message string, day time.Time, meta Meta) (string, error) {
	return render(errorTemplate, errorView{
		Date:        day.Format(dateFormat),
		Category:    category,
		Message:     message,
		Remediation: remediationHint(category),
		RunID:       meta.RunID,
		GeneratedAt: meta.GeneratedAt.Format("2006-01-02 15:04:05"),
	})
}

// remediationHint gives the operator a first step per failure category.
func remediationHint(category string) string {
	switch category {
	case "Configuration":
		return "Check config.json against the documented schema and re-run with --test-mode."
	case "Database":
		return "Verify the record store is reachable from this host and the change_requests table is readable."
	case "Authentication":
		return "Verify the stored credential with 'changereport credential set' and the account's permissions."
	case "Email":
		return "Check SMTP server availability; the rendered report was saved to the log directory."
	default:
		return "See the day's log file for the full error context."
	}
}

func render(t *template.Template, view any) (string, error) {
	b := bytes.Buffer{}
	err := t.Execute(&b, view)
	return b.String(), err
}
