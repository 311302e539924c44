package plot

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	sheetName = "Sheet1"
	xlsxMIME  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var chartTypes = map[Kind]excelize.ChartType{
	Bar:     excelize.Col,
	Line:    excelize.Line,
	Scatter: excelize.Scatter,
	Pie:     excelize.Pie,
}

// ExcelRenderer writes the data into a workbook and adds a native chart of
// the requested kind next to it.
type ExcelRenderer struct{}

// NewExcelRenderer returns an ExcelRenderer.
func NewExcelRenderer() *ExcelRenderer { return &ExcelRenderer{} }

// Render implements Renderer.
func (r *ExcelRenderer) Render(ctx context.Context, spec Spec) (Artifact, error) {
	if err := spec.Validate(); err != nil {
		return Artifact{}, err
	}
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	title := spec.Title
	if title == "" {
		title = "Values"
	}

	if err := f.SetCellValue(sheetName, "A1", "Label"); err != nil {
		return Artifact{}, err
	}
	if err := f.SetCellValue(sheetName, "B1", title); err != nil {
		return Artifact{}, err
	}
	for i := range spec.Data {
		row := i + 2
		if err := f.SetCellValue(sheetName, fmt.Sprintf("A%d", row), spec.Labels[i]); err != nil {
			return Artifact{}, err
		}
		if err := f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), spec.Data[i]); err != nil {
			return Artifact{}, err
		}
	}

	last := len(spec.Data) + 1
	chart := &excelize.Chart{
		Type: chartTypes[spec.Kind],
		Series: []excelize.ChartSeries{{
			Name:       fmt.Sprintf("%s!$B$1", sheetName),
			Categories: fmt.Sprintf("%s!$A$2:$A$%d", sheetName, last),
			Values:     fmt.Sprintf("%s!$B$2:$B$%d", sheetName, last),
		}},
		Title: []excelize.RichTextRun{{Text: title}},
	}
	if err := f.AddChart(sheetName, "D2", chart); err != nil {
		return Artifact{}, fmt.Errorf("add %s chart: %w", spec.Kind, err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return Artifact{}, fmt.Errorf("write workbook: %w", err)
	}

	return Artifact{Extension: "xlsx", MIMEType: xlsxMIME, Data: buf.Bytes()}, nil
}
