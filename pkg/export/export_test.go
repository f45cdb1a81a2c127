package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backlogDataset() Dataset {
	ds := Dataset{Title: "Backlog", Headers: []string{"Date", "Slot", "Professor"}}
	ds.Append("2025-03-10", "slot-1", "João")
	ds.Append("2025-03-11", "slot-2")
	return ds
}

func TestCSVExporterRendersHeaderOrder(t *testing.T) {
	out, err := NewCSVExporter().Render(backlogDataset())
	require.NoError(t, err)

	assert.True(t, bytes.HasPrefix(out, []byte("\xef\xbb\xbf")))
	lines := strings.Split(strings.TrimSpace(strings.TrimPrefix(string(out), "\ufeff")), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Date,Slot,Professor", lines[0])
	assert.Equal(t, "2025-03-10,slot-1,João", lines[1])
	assert.Equal(t, "2025-03-11,slot-2,", lines[2])
}

func TestCSVExporterSemicolonWithoutBOM(t *testing.T) {
	exp := &CSVExporter{Comma: ';'}
	out, err := exp.Render(backlogDataset())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "Date;Slot;Professor\n"))
}

func TestExportersRequireHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	assert.Error(t, err)
	_, err = NewPDFExporter().Render(Dataset{})
	assert.Error(t, err)
}

func TestPDFExporterPaginatesLongTables(t *testing.T) {
	ds := Dataset{Title: "Credits", Headers: []string{"A", "B", "C", "D", "E", "F", "G"}}
	for i := 0; i < 120; i++ {
		ds.Append("a", strings.Repeat("long value ", 10), "c", "d", "e", "f", "g")
	}
	ds.Notes = []string{"Expired credits are listed for audit only."}

	exp := &PDFExporter{Now: func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }}
	out, err := exp.Render(ds)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
	assert.Greater(t, bytes.Count(out, []byte("/Type /Page\n")), 1)
}
