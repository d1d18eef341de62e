// Package export renders event reports as HTML, CSV or PDF.
package export

import (
	"bytes"
	"context"
	"embed"
	"encoding/csv"
	"fmt"
	"html/template"
	"io"
	"strconv"
	"strings"
	"time"

	"eventpro/internal/common"
	appLog "eventpro/internal/log"
	"eventpro/internal/model"
)

// Format is a report output format.
type Format string

const (
	FormatHTML Format = "html"
	FormatCSV  Format = "csv"
	FormatPDF  Format = "pdf"
)

// ParseFormat accepts html, csv and pdf in any case.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatHTML, FormatCSV, FormatPDF:
		return f, nil
	}
	return "", common.NewValidationError([]string{"Formato de exportación no soportado: " + s})
}

// ContentType is the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatPDF:
		return "application/pdf"
	}
	return "text/html; charset=utf-8"
}

var statusLabels = map[model.EventStatus]string{
	model.StatusUpcoming:  "Próximo",
	model.StatusOngoing:   "En curso",
	model.StatusCompleted: "Completado",
}

const rowDate = "02/01/2006"

// Row is one event line of a report.
type Row struct {
	Name              string
	Location          string
	ProductionCompany string
	Contact           string
	Start             string
	End               string
	Days              int
	Technicians       []string
	Status            model.EventStatus
	StatusLabel       string
	Color             string
}

// Report is the data behind every format.
type Report struct {
	Title     string
	Generated string
	Rows      []Row
}

// Build turns evs into report rows. Dates are rendered in loc.
func Build(title string, evs []model.Event, now time.Time, loc *time.Location) Report {
	if loc == nil {
		loc = time.UTC
	}
	if title == "" {
		title = "Reporte de eventos"
	}
	r := Report{
		Title:     title,
		Generated: now.In(loc).Format("02/01/2006 15:04"),
		Rows:      make([]Row, 0, len(evs)),
	}
	for _, ev := range evs {
		status := ev.Status(now)
		r.Rows = append(r.Rows, Row{
			Name:              ev.Name,
			Location:          ev.Location,
			ProductionCompany: ev.ProductionCompany,
			Contact:           ev.Contact,
			Start:             ev.StartDate.In(loc).Format(rowDate),
			End:               ev.EndDate.In(loc).Format(rowDate),
			Days:              ev.DurationDays(),
			Technicians:       ev.Technicians,
			Status:            status,
			StatusLabel:       statusLabels[status],
			Color:             status.Color(),
		})
	}
	return r
}

//go:embed templates/*.tmpl
var templateFS embed.FS

var reportTmpl = template.Must(template.New("report.html.tmpl").Funcs(template.FuncMap{
	"join":    strings.Join,
	"safeCSS": func(s string) template.CSS { return template.CSS(s) },
}).ParseFS(templateFS, "templates/report.html.tmpl"))

// WriteHTML renders r as a standalone HTML page.
func WriteHTML(w io.Writer, r Report) error {
	return reportTmpl.Execute(w, r)
}

var csvHeader = []string{"Evento", "Ubicación", "Productora", "Contacto", "Inicio", "Fin", "Días", "Técnicos", "Estado"}

// WriteCSV renders r as CSV with a header row.
func WriteCSV(w io.Writer, r Report) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, row := range r.Rows {
		rec := []string{
			row.Name,
			row.Location,
			row.ProductionCompany,
			row.Contact,
			row.Start,
			row.End,
			strconv.Itoa(row.Days),
			strings.Join(row.Technicians, "; "),
			row.StatusLabel,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Printer converts an HTML document to PDF.
type Printer interface {
	PrintPDF(ctx context.Context, html []byte) ([]byte, error)
}

// Exporter renders reports in every supported format.
type Exporter struct {
	printer Printer
	loc     *time.Location
}

// NewExporter builds an exporter. A nil printer disables PDF output.
func NewExporter(printer Printer, loc *time.Location) *Exporter {
	if loc == nil {
		loc = time.UTC
	}
	return &Exporter{printer: printer, loc: loc}
}

// Render builds the report of evs in format f and returns its bytes and a
// download file name.
func (e *Exporter) Render(ctx context.Context, f Format, evs []model.Event, now time.Time) ([]byte, string, error) {
	r := Build("", evs, now, e.loc)
	name := "eventos-" + now.In(e.loc).Format("2006-01-02") + "." + string(f)

	var buf bytes.Buffer
	switch f {
	case FormatCSV:
		if err := WriteCSV(&buf, r); err != nil {
			return nil, "", fmt.Errorf("export csv: %w", err)
		}
	case FormatHTML, FormatPDF:
		if err := WriteHTML(&buf, r); err != nil {
			return nil, "", fmt.Errorf("export html: %w", err)
		}
	default:
		return nil, "", common.NewValidationError([]string{"Formato de exportación no soportado: " + string(f)})
	}

	if f == FormatPDF {
		if e.printer == nil {
			return nil, "", common.Op("La exportación a PDF no está disponible", common.ErrInternal)
		}
		pdf, err := e.printer.PrintPDF(ctx, buf.Bytes())
		if err != nil {
			appLog.Error("pdf export failed", err, "events", len(evs))
			return nil, "", common.Op("Error al generar el PDF", err)
		}
		return pdf, name, nil
	}
	appLog.Debug("report exported", "format", string(f), "events", len(evs), "bytes", buf.Len())
	return buf.Bytes(), name, nil
}
