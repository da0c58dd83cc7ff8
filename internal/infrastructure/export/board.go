package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/overturn/internal/domain/claim"
	"github.com/garyjia/overturn/internal/domain/workflow"
)

const (
	boardSheet   = "Board"
	summarySheet = "Summary"
	timeLayout   = "2006-01-02 15:04"
)

var boardHeader = []interface{}{
	"Claim ID", "Stage", "Patient", "Insurer", "Denial date", "Created", "Updated", "Document",
}

// BoardExporter writes the claim board to an xlsx workbook
type BoardExporter struct {
	location *time.Location
	logger   *zap.Logger
}

// NewBoardExporter creates an exporter rendering times in loc (UTC when nil)
func NewBoardExporter(loc *time.Location, logger *zap.Logger) *BoardExporter {
	if loc == nil {
		loc = time.UTC
	}
	return &BoardExporter{location: loc, logger: logger}
}

// Write renders claims in the given order to w
func (e *BoardExporter) Write(w io.Writer, claims []*claim.Claim) error {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName("Sheet1", boardSheet); err != nil {
		return fmt.Errorf("failed to name board sheet: %w", err)
	}
	if err := e.fillBoard(file, claims); err != nil {
		return fmt.Errorf("failed to fill board: %w", err)
	}
	if err := e.fillSummary(file, claims); err != nil {
		return fmt.Errorf("failed to fill summary: %w", err)
	}

	if _, err := file.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Board exported", zap.Int("claim_count", len(claims)))
	return nil
}

func (e *BoardExporter) fillBoard(file *excelize.File, claims []*claim.Claim) error {
	bold, err := file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	if err := file.SetSheetRow(boardSheet, "A1", &boardHeader); err != nil {
		return err
	}
	if err := file.SetRowStyle(boardSheet, 1, 1, bold); err != nil {
		return err
	}

	for i, c := range claims {
		d := c.Display()
		row := []interface{}{
			c.ID,
			c.Status.Label(),
			d.PatientName,
			d.Insurer,
			d.DenialDate,
			c.CreatedAt.In(e.location).Format(timeLayout),
			c.UpdatedAt.In(e.location).Format(timeLayout),
			c.PDFURL,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := file.SetSheetRow(boardSheet, cell, &row); err != nil {
			return err
		}
		if c.PDFURL != "" {
			link, _ := excelize.CoordinatesToCellName(len(row), i+2)
			if err := file.SetCellHyperLink(boardSheet, link, c.PDFURL, "External"); err != nil {
				return err
			}
		}
	}

	if err := file.SetColWidth(boardSheet, "A", "A", 38); err != nil {
		return err
	}
	if err := file.SetColWidth(boardSheet, "B", "G", 18); err != nil {
		return err
	}
	if err := file.SetColWidth(boardSheet, "H", "H", 50); err != nil {
		return err
	}

	last, err := excelize.CoordinatesToCellName(len(boardHeader), len(claims)+1)
	if err != nil {
		return err
	}
	return file.AutoFilter(boardSheet, "A1:"+last, nil)
}

func (e *BoardExporter) fillSummary(file *excelize.File, claims []*claim.Claim) error {
	if _, err := file.NewSheet(summarySheet); err != nil {
		return err
	}

	counts := make(map[workflow.Status]int)
	for _, c := range claims {
		counts[c.Status]++
	}

	if err := file.SetSheetRow(summarySheet, "A1", &[]interface{}{"Stage", "Claims"}); err != nil {
		return err
	}
	for i, s := range workflow.Statuses() {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := file.SetSheetRow(summarySheet, cell, &[]interface{}{s.Label(), counts[s]}); err != nil {
			return err
		}
	}
	total, _ := excelize.CoordinatesToCellName(1, len(workflow.Statuses())+2)
	return file.SetSheetRow(summarySheet, total, &[]interface{}{"Total", len(claims)})
}
