package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"
)

var csvColumns = []string{"Student Number", "Student Name", "Status", "Waitlist Position", "Enrolled At"}

// CSVRenderer writes rosters as CSV.
type CSVRenderer struct{}

// NewCSVRenderer builds a CSV roster renderer.
func NewCSVRenderer() *CSVRenderer {
	return &CSVRenderer{}
}

// Render produces CSV bytes for the roster, one row per entry in roster
// order.
func (r *CSVRenderer) Render(roster Roster) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(csvColumns); err != nil {
		return nil, fmt.Errorf("write roster header: %w", err)
	}
	for _, entry := range roster.Entries {
		position := ""
		if entry.WaitlistPosition > 0 {
			position = strconv.Itoa(entry.WaitlistPosition)
		}
		record := []string{
			entry.StudentNumber,
			entry.StudentName,
			entry.Status,
			position,
			entry.EnrolledAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write roster row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush roster csv: %w", err)
	}
	return buf.Bytes(), nil
}
