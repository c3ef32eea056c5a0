package parser

import (
	"context"
	"fmt"

	"docqa/internal/models"

	"github.com/xuri/excelize/v2"
)

// XLSXParser emits one table group per sheet, titled by the sheet name.
type XLSXParser struct{}

func NewXLSXParser() *XLSXParser { return &XLSXParser{} }

func (p *XLSXParser) Name() string { return "xlsx" }

func (p *XLSXParser) Parse(ctx context.Context, path string) ([]models.ParsedSection, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, &ParseError{Format: "xlsx", Path: path, Err: err}
	}
	defer f.Close()

	sections := make([]models.ParsedSection, 0)
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, &ParseError{Format: "xlsx", Path: path, Err: fmt.Errorf("read sheet %q: %w", sheet, err)}
		}
		kept := make([][]string, 0, len(rows))
		for _, row := range rows {
			if !rowIsEmpty(row) {
				kept = append(kept, row)
			}
		}
		sections = append(sections, tableSections(kept, models.StringPtr(sheet), []string{sheet}, nil)...)
	}
	return sections, nil
}
