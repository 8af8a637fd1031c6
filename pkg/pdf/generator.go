package pdf

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Options configures document generation
type Options struct {
	PageSize      string
	Orientation   string // portrait, landscape
	Title         string
	Subtitle      string
	Author        string
	FontFamily    string
	FontSize      float64
	TitleFontSize float64
	AccentColor   Color
	Margins       Margins
	Footer        string
	CreatedAt     time.Time
}

// Color represents an RGB color
type Color struct {
	R int
	G int
	B int
}

// Margins represents page margins in millimetres
type Margins struct {
	Left   float64
	Right  float64
	Top    float64
	Bottom float64
}

// Field is one label/value line
type Field struct {
	Label string
	Value string
}

// DefaultOptions returns default document options
func DefaultOptions() Options {
	return Options{
		PageSize:      "A4",
		Orientation:   "portrait",
		Title:         "Document",
		Author:        "CarbonScribe Marketplace",
		FontFamily:    "Arial",
		FontSize:      11,
		TitleFontSize: 22,
		AccentColor:   Color{R: 34, G: 120, B: 74},
		Margins: Margins{
			Left:   20,
			Right:  20,
			Top:    25,
			Bottom: 20,
		},
	}
}

// Document is a single generated PDF
type Document struct {
	pdf     *gofpdf.Fpdf
	options Options
}

// New starts a document with its title block on the first page
func New(options Options) *Document {
	orientation := "P"
	if options.Orientation == "landscape" {
		orientation = "L"
	}

	pdf := gofpdf.New(orientation, "mm", options.PageSize, "")
	pdf.SetMargins(options.Margins.Left, options.Margins.Top, options.Margins.Right)
	pdf.SetAutoPageBreak(true, options.Margins.Bottom)
	pdf.SetTitle(options.Title, true)
	pdf.SetAuthor(options.Author, true)
	if !options.CreatedAt.IsZero() {
		pdf.SetCreationDate(options.CreatedAt)
	}

	d := &Document{pdf: pdf, options: options}
	d.setFooter()
	pdf.AddPage()
	d.addTitle()
	return d
}

func (d *Document) addTitle() {
	accent := d.options.AccentColor
	d.pdf.SetFont(d.options.FontFamily, "B", d.options.TitleFontSize)
	d.pdf.SetTextColor(accent.R, accent.G, accent.B)
	d.pdf.CellFormat(0, 14, d.options.Title, "", 1, "C", false, 0, "")

	if d.options.Subtitle != "" {
		d.pdf.SetFont(d.options.FontFamily, "", d.options.FontSize+2)
		d.pdf.SetTextColor(100, 100, 100)
		d.pdf.CellFormat(0, 8, d.options.Subtitle, "", 1, "C", false, 0, "")
	}

	d.pdf.SetDrawColor(accent.R, accent.G, accent.B)
	d.pdf.SetLineWidth(0.6)
	y := d.pdf.GetY() + 3
	pageWidth, _ := d.pdf.GetPageSize()
	d.pdf.Line(d.options.Margins.Left, y, pageWidth-d.options.Margins.Right, y)
	d.pdf.Ln(10)
}

// Heading adds a section heading
func (d *Document) Heading(text string) {
	d.pdf.Ln(4)
	d.pdf.SetFont(d.options.FontFamily, "B", d.options.FontSize+2)
	d.pdf.SetTextColor(0, 0, 0)
	d.pdf.CellFormat(0, 8, text, "", 1, "L", false, 0, "")
	d.pdf.Ln(1)
}

// Paragraph adds wrapped body text
func (d *Document) Paragraph(text string) {
	d.pdf.SetFont(d.options.FontFamily, "", d.options.FontSize)
	d.pdf.SetTextColor(40, 40, 40)
	d.pdf.MultiCell(0, 6, text, "", "L", false)
	d.pdf.Ln(2)
}

// Fields adds label/value lines in order
func (d *Document) Fields(fields []Field) {
	for _, f := range fields {
		d.pdf.SetFont(d.options.FontFamily, "B", d.options.FontSize)
		d.pdf.SetTextColor(0, 0, 0)
		d.pdf.CellFormat(60, 7, f.Label+":", "", 0, "L", false, 0, "")
		d.pdf.SetFont(d.options.FontFamily, "", d.options.FontSize)
		d.pdf.CellFormat(0, 7, f.Value, "", 1, "L", false, 0, "")
	}
}

// Table adds a bordered table with equal column widths. Rows shorter than
// labels are padded with blanks.
func (d *Document) Table(labels []string, rows [][]string) {
	if len(labels) == 0 {
		return
	}
	pageWidth, _ := d.pdf.GetPageSize()
	width := (pageWidth - d.options.Margins.Left - d.options.Margins.Right) / float64(len(labels))

	d.tableHeader(labels, width)
	d.pdf.SetFont(d.options.FontFamily, "", d.options.FontSize-1)
	d.pdf.SetTextColor(0, 0, 0)
	_, pageHeight := d.pdf.GetPageSize()
	for i, row := range rows {
		if d.pdf.GetY()+7 > pageHeight-d.options.Margins.Bottom {
			d.pdf.AddPage()
			d.tableHeader(labels, width)
			d.pdf.SetFont(d.options.FontFamily, "", d.options.FontSize-1)
			d.pdf.SetTextColor(0, 0, 0)
		}
		if i%2 == 1 {
			d.pdf.SetFillColor(242, 242, 242)
		} else {
			d.pdf.SetFillColor(255, 255, 255)
		}
		for j := range labels {
			val := ""
			if j < len(row) {
				val = row[j]
			}
			d.pdf.CellFormat(width, 7, val, "1", 0, "L", true, 0, "")
		}
		d.pdf.Ln(-1)
	}
}

func (d *Document) tableHeader(labels []string, width float64) {
	accent := d.options.AccentColor
	d.pdf.SetFont(d.options.FontFamily, "B", d.options.FontSize)
	d.pdf.SetFillColor(accent.R, accent.G, accent.B)
	d.pdf.SetTextColor(255, 255, 255)
	for _, label := range labels {
		d.pdf.CellFormat(width, 8, label, "1", 0, "C", true, 0, "")
	}
	d.pdf.Ln(-1)
}

func (d *Document) setFooter() {
	d.pdf.SetFooterFunc(func() {
		d.pdf.SetY(-15)
		d.pdf.SetFont(d.options.FontFamily, "", 8)
		d.pdf.SetTextColor(128, 128, 128)
		text := fmt.Sprintf("Page %d", d.pdf.PageNo())
		if d.options.Footer != "" {
			text = d.options.Footer + "  |  " + text
		}
		d.pdf.CellFormat(0, 10, text, "", 0, "C", false, 0, "")
	})
}

// WriteTo writes the PDF to a writer
func (d *Document) WriteTo(w io.Writer) error {
	return d.pdf.Output(w)
}

// Bytes renders the PDF
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
