package parser

import (
	"context"
	"math"
	"sort"
	"strings"

	"docqa/internal/models"
	"docqa/internal/util"

	"github.com/ledongthuc/pdf"
)

const (
	pdfSamplePages      = 10
	pdfDefaultMedian    = 12.0
	pdfDefaultThreshold = 14.0
	pdfHeadingRatio     = 1.15
	pdfMinLineChars     = 3
	pdfMaxHeadingChars  = 200
)

// PDFParser detects headings from font metrics. Layout heuristics are best
// effort; when no glyph stream can be read it falls back to raw page text.
type PDFParser struct{}

func NewPDFParser() *PDFParser { return &PDFParser{} }

func (p *PDFParser) Name() string { return "pdf" }

type pdfLine struct {
	text string
	size float64
	bold bool
}

func (p *PDFParser) Parse(ctx context.Context, path string) ([]models.ParsedSection, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, &ParseError{Format: "pdf", Path: path, Err: err}
	}
	defer f.Close()

	pages := make([][]pdfLine, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pages = append(pages, pageLines(r.Page(i)))
	}

	sections := structurePDF(pages)
	if len(sections) > 0 {
		return sections, nil
	}
	return rawPDFText(r), nil
}

// pageLines reads the glyph stream of one page. Malformed content streams
// make the reader panic, in which case the page yields no lines.
func pageLines(page pdf.Page) (lines []pdfLine) {
	if page.V.IsNull() {
		return nil
	}
	defer func() {
		if recover() != nil {
			lines = nil
		}
	}()
	return groupLines(page.Content().Text)
}

// groupLines clusters glyphs sharing a baseline into lines, top of the page first.
func groupLines(glyphs []pdf.Text) []pdfLine {
	if len(glyphs) == 0 {
		return nil
	}
	type row struct {
		y      float64
		glyphs []pdf.Text
	}
	rows := make([]*row, 0)
	for _, g := range glyphs {
		if g.S == "" {
			continue
		}
		var target *row
		for _, r := range rows {
			tol := math.Max(g.FontSize*0.3, 1.0)
			if math.Abs(r.y-g.Y) <= tol {
				target = r
				break
			}
		}
		if target == nil {
			target = &row{y: g.Y}
			rows = append(rows, target)
		}
		target.glyphs = append(target.glyphs, g)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].y > rows[j].y })

	out := make([]pdfLine, 0, len(rows))
	for _, r := range rows {
		sort.SliceStable(r.glyphs, func(i, j int) bool { return r.glyphs[i].X < r.glyphs[j].X })
		var b strings.Builder
		line := pdfLine{}
		prevEnd := math.Inf(-1)
		for _, g := range r.glyphs {
			if b.Len() > 0 && g.X-prevEnd > g.FontSize*0.25 && !strings.HasSuffix(b.String(), " ") && g.S != " " {
				b.WriteByte(' ')
			}
			b.WriteString(g.S)
			prevEnd = g.X + g.W
			if g.FontSize > line.size {
				line.size = g.FontSize
			}
			if isBoldFont(g.Font) {
				line.bold = true
			}
		}
		line.text = strings.Join(strings.Fields(b.String()), " ")
		if line.text != "" {
			out = append(out, line)
		}
	}
	return out
}

func isBoldFont(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "bold") || strings.Contains(n, "black") || strings.Contains(n, "heavy")
}

// medianFontSize samples the line sizes of the first pages.
func medianFontSize(pages [][]pdfLine) float64 {
	sizes := make([]float64, 0)
	for i, lines := range pages {
		if i >= pdfSamplePages {
			break
		}
		for _, l := range lines {
			if l.size > 0 {
				sizes = append(sizes, l.size)
			}
		}
	}
	if len(sizes) == 0 {
		return pdfDefaultMedian
	}
	sort.Float64s(sizes)
	n := len(sizes)
	if n%2 == 1 {
		return sizes[n/2]
	}
	return (sizes[n/2-1] + sizes[n/2]) / 2
}

func structurePDF(pages [][]pdfLine) []models.ParsedSection {
	median := medianFontSize(pages)
	threshold := median * pdfHeadingRatio
	if median == 0 {
		threshold = pdfDefaultThreshold
	}

	var (
		sections []models.ParsedSection
		h        hierarchy
		buf      []string
		bufPage  *int
	)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		if s, ok := paragraphSection(buf, &h, bufPage); ok {
			sections = append(sections, s)
		}
		buf = buf[:0]
		bufPage = nil
	}

	for i, lines := range pages {
		pageNum := i + 1
		for _, l := range lines {
			n := len([]rune(l.text))
			if n < pdfMinLineChars {
				continue
			}
			if (l.size >= threshold || l.bold) && n <= pdfMaxHeadingChars {
				flush()
				h.reset(l.text)
				sections = append(sections, headingSection(l.text, &h, models.IntPtr(pageNum)))
				continue
			}
			if len(buf) == 0 {
				bufPage = models.IntPtr(pageNum)
			}
			buf = append(buf, l.text)
		}
	}
	flush()
	return sections
}

// rawPDFText emits one paragraph per page that has plain text.
func rawPDFText(r *pdf.Reader) []models.ParsedSection {
	sections := make([]models.ParsedSection, 0)
	for i := 1; i <= r.NumPage(); i++ {
		text := plainPageText(r.Page(i))
		if text == "" {
			continue
		}
		sections = append(sections, models.ParsedSection{
			Content:          text,
			PageNumber:       models.IntPtr(i),
			SectionHierarchy: []string{},
			ChunkType:        models.ChunkParagraph,
		})
	}
	return sections
}

func plainPageText(page pdf.Page) (text string) {
	if page.V.IsNull() {
		return ""
	}
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
		}
	}()
	raw, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return util.SanitizeText(raw)
}
