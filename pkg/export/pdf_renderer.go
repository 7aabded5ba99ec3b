package export

import (
	"bytes"
	"fmt"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// PDFRenderer writes rosters as a printable PDF with a section header block
// and separate seated and waitlist tables.
type PDFRenderer struct{}

// NewPDFRenderer builds a PDF roster renderer.
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{}
}

// Render creates the roster PDF.
func (r *PDFRenderer) Render(roster Roster) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(12, 15, 12)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 15)
	pdf.CellFormat(0, 9, fmt.Sprintf("%s %s", roster.CourseCode, roster.SectionNumber), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 6, roster.CourseTitle, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, roster.TermName, "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "I", 9)
	pdf.CellFormat(0, 5, fmt.Sprintf("Generated %s", roster.GeneratedAt.UTC().Format("2006-01-02 15:04 MST")), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	seated := make([]RosterEntry, 0, len(roster.Entries))
	waitlist := make([]RosterEntry, 0)
	for _, entry := range roster.Entries {
		if entry.WaitlistPosition > 0 {
			waitlist = append(waitlist, entry)
		} else {
			seated = append(seated, entry)
		}
	}

	r.renderGroup(pdf, fmt.Sprintf("Enrolled (%d)", len(seated)), seated, false)
	if len(waitlist) > 0 {
		pdf.Ln(4)
		r.renderGroup(pdf, fmt.Sprintf("Waitlist (%d)", len(waitlist)), waitlist, true)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render roster pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *PDFRenderer) renderGroup(pdf *gofpdf.Fpdf, heading string, entries []RosterEntry, withPosition bool) {
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 7, heading, "", 1, "L", false, 0, "")

	widths := []float64{40, 80, 66}
	headers := []string{"Student Number", "Student Name", "Enrolled At"}
	if withPosition {
		widths = []float64{14, 36, 76, 60}
		headers = []string{"#", "Student Number", "Student Name", "Enrolled At"}
	}

	pdf.SetFont("Arial", "B", 9)
	for i, header := range headers {
		pdf.CellFormat(widths[i], 7, header, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, entry := range entries {
		cells := []string{entry.StudentNumber, entry.StudentName, entry.EnrolledAt.UTC().Format(time.RFC3339)}
		if withPosition {
			cells = append([]string{strconv.Itoa(entry.WaitlistPosition)}, cells...)
		}
		for i, cell := range cells {
			pdf.CellFormat(widths[i], 6, cell, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}
}
