package report

import (
	"bytes"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/sigrx/internal/pipeline"
	"example.com/sigrx/internal/replay"
)

// SavePDF renders a replay run into a PDF document. When the run carries a
// database digest a QR code of it is placed next to the title.
func SavePDF(run *replay.Run, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Replay Report", false)
	pdf.SetAuthor("sigctl", false)
	pdf.SetCreator("sigctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	if err := addDigestQR(pdf, run.Digest); err != nil {
		return err
	}
	addPDFTitle(pdf, "Replay Report")
	addSummarySection(pdf, run)
	addOutcomeSection(pdf, run)
	addValuesSection(pdf, run.Values)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addDigestQR(pdf *gofpdf.Fpdf, digest string) error {
	if sanitizeDigest(digest) == "" {
		return nil
	}
	png, err := DigestToQR(digest, 256)
	if err != nil {
		return err
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("digest", opts, bytes.NewReader(png))
	pageW, _ := pdf.GetPageSize()
	_, _, right, _ := pdf.GetMargins()
	pdf.ImageOptions("digest", pageW-right-30, 15, 30, 30, false, opts, 0, "")
	return nil
}

func addSummarySection(pdf *gofpdf.Fpdf, run *replay.Run) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: "Run", value: run.ID},
		{label: "Database", value: emptyFallback(run.Database, "-")},
		{label: "Capture", value: emptyFallback(run.Capture, "-")},
		{label: "Started", value: run.Started.Format(time.RFC3339)},
		{label: "Duration", value: run.Duration().Round(time.Millisecond).String()},
		{label: "Records", value: strconv.Itoa(run.Records)},
		{label: "Unknown PDUs", value: strconv.Itoa(run.UnknownPDU)},
		{label: "Resyncs", value: strconv.Itoa(run.Resyncs)},
		{label: "Timeouts", value: strconv.Itoa(run.Timeouts)},
	}
	for _, item := range items {
		pdf.CellFormat(50, 6, item.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, item.value, "", 1, "L", false, 0, "")
	}
	if run.Digest != "" {
		pdf.SetFont("Helvetica", "", 8)
		pdf.MultiCell(0, 4, "Database SHA-256 "+run.Digest, "", "L", false)
	}
	pdf.Ln(4)
}

func addOutcomeSection(pdf *gofpdf.Fpdf, run *replay.Run) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Outcomes")
	pdf.Ln(9)

	widths := []float64{70, 30}
	tableHeader(pdf, []string{"Outcome", "Count"}, widths)
	pdf.SetFont("Helvetica", "", 9)
	for _, o := range pipeline.Outcomes() {
		renderTableRow(pdf, widths, []string{o.String(), strconv.Itoa(run.Count(o))}, 5)
	}
	pdf.Ln(4)
}

func addValuesSection(pdf *gofpdf.Fpdf, values []replay.SignalValue) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Committed Values")
	pdf.Ln(9)

	if len(values) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No signals configured.", "", "L", false)
		return
	}
	widths := []float64{50, 25, 35, 70}
	tableHeader(pdf, []string{"Signal", "Type", "Group", "Value"}, widths)
	pdf.SetFont("Helvetica", "", 9)
	for _, v := range values {
		renderTableRow(pdf, widths, []string{v.Name, v.Type, v.Group, v.Value}, 5)
	}
}

func tableHeader(pdf *gofpdf.Fpdf, headers []string, widths []float64) {
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
