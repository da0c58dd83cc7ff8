package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/domain/claim"
	"github.com/garyjia/overturn/internal/domain/workflow"
)

func TestBoardExporter_Write(t *testing.T) {
	created := time.Date(2025, 1, 15, 9, 30, 0, 0, time.UTC)
	name, insurer := "Jane Doe", "Acme Health"
	claims := []*claim.Claim{
		{ID: "c2", Status: workflow.StatusCalling, PatientName: &name, Insurer: &insurer, PDFURL: "https://files.example.com/a.pdf", CreatedAt: created, UpdatedAt: created},
		{ID: "c1", Status: workflow.StatusSubmitted, CreatedAt: created, UpdatedAt: created},
		{ID: "c0", Status: workflow.StatusSubmitted, CreatedAt: created, UpdatedAt: created},
	}

	var buf bytes.Buffer
	require.NoError(t, NewBoardExporter(nil, zap.NewNop()).Write(&buf, claims))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Board", "Summary"}, f.GetSheetList())

	t.Run("board rows", func(t *testing.T) {
		rows, err := f.GetRows("Board")
		require.NoError(t, err)
		require.Len(t, rows, 4)

		assert.Equal(t, "Claim ID", rows[0][0])
		assert.Equal(t, []string{"c2", "Voice AI", "Jane Doe", "Acme Health", claim.Placeholder, "2025-01-15 09:30", "2025-01-15 09:30", "https://files.example.com/a.pdf"}, rows[1])
		assert.Equal(t, "c1", rows[2][0])
		assert.Equal(t, claim.Placeholder, rows[2][2])

		link, target, err := f.GetCellHyperLink("Board", "H2")
		require.NoError(t, err)
		assert.True(t, link)
		assert.Equal(t, "https://files.example.com/a.pdf", target)
	})

	t.Run("summary counts", func(t *testing.T) {
		rows, err := f.GetRows("Summary")
		require.NoError(t, err)
		require.Len(t, rows, 6)

		assert.Equal(t, []string{"Submitted Claims", "2"}, rows[1])
		assert.Equal(t, []string{"Voice AI", "1"}, rows[2])
		assert.Equal(t, []string{"In review", "0"}, rows[3])
		assert.Equal(t, []string{"Result", "0"}, rows[4])
		assert.Equal(t, []string{"Total", "3"}, rows[5])
	})
}

func TestBoardExporter_EmptyBoard(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewBoardExporter(time.UTC, zap.NewNop()).Write(&buf, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Board")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
