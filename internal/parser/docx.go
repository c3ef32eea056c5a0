package parser

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"docqa/internal/models"
)

// DOCXParser walks word/document.xml in body order so that paragraphs and
// tables keep their relative positions. DOCX has no pagination.
type DOCXParser struct{}

func NewDOCXParser() *DOCXParser { return &DOCXParser{} }

func (p *DOCXParser) Name() string { return "docx" }

type docxText struct {
	Value string `xml:",chardata"`
}

type docxRun struct {
	Texts  []docxText `xml:"t"`
	Tabs   []struct{} `xml:"tab"`
	Breaks []struct{} `xml:"br"`
}

type docxParagraph struct {
	Props struct {
		Style struct {
			Val string `xml:"val,attr"`
		} `xml:"pStyle"`
	} `xml:"pPr"`
	Runs       []docxRun `xml:"r"`
	Hyperlinks []struct {
		Runs []docxRun `xml:"r"`
	} `xml:"hyperlink"`
}

func (p docxParagraph) text() string {
	var b strings.Builder
	write := func(runs []docxRun) {
		for _, r := range runs {
			for _, t := range r.Texts {
				b.WriteString(t.Value)
			}
			if len(r.Tabs) > 0 {
				b.WriteString("\t")
			}
			if len(r.Breaks) > 0 {
				b.WriteString("\n")
			}
		}
	}
	write(p.Runs)
	for _, hl := range p.Hyperlinks {
		write(hl.Runs)
	}
	return strings.TrimSpace(b.String())
}

type docxTable struct {
	Rows []struct {
		Cells []struct {
			Paragraphs []docxParagraph `xml:"p"`
		} `xml:"tc"`
	} `xml:"tr"`
}

func (t docxTable) rows() [][]string {
	out := make([][]string, 0, len(t.Rows))
	for _, r := range t.Rows {
		cells := make([]string, 0, len(r.Cells))
		for _, c := range r.Cells {
			parts := make([]string, 0, len(c.Paragraphs))
			for _, p := range c.Paragraphs {
				if s := p.text(); s != "" {
					parts = append(parts, s)
				}
			}
			cells = append(cells, strings.Join(parts, "\n"))
		}
		if !rowIsEmpty(cells) {
			out = append(out, cells)
		}
	}
	return out
}

type docxStyles struct {
	Styles []struct {
		ID   string `xml:"styleId,attr"`
		Name struct {
			Val string `xml:"val,attr"`
		} `xml:"name"`
	} `xml:"style"`
}

func (p *DOCXParser) Parse(ctx context.Context, path string) ([]models.ParsedSection, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, &ParseError{Format: "docx", Path: path, Err: err}
	}
	defer zr.Close()

	var docFile *zip.File
	styleNames := map[string]string{}
	for _, f := range zr.File {
		switch f.Name {
		case "word/document.xml":
			docFile = f
		case "word/styles.xml":
			if names, err := readStyleNames(f); err == nil {
				styleNames = names
			}
		}
	}
	if docFile == nil {
		return nil, &ParseError{Format: "docx", Path: path, Err: errors.New("word/document.xml not found")}
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, &ParseError{Format: "docx", Path: path, Err: err}
	}
	defer rc.Close()

	sections, err := walkDOCXBody(ctx, rc, styleNames)
	if err != nil {
		return nil, &ParseError{Format: "docx", Path: path, Err: err}
	}
	return sections, nil
}

func readStyleNames(f *zip.File) (map[string]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var st docxStyles
	if err := xml.NewDecoder(rc).Decode(&st); err != nil {
		return nil, err
	}
	names := make(map[string]string, len(st.Styles))
	for _, s := range st.Styles {
		names[s.ID] = s.Name.Val
	}
	return names, nil
}

func walkDOCXBody(ctx context.Context, r io.Reader, styleNames map[string]string) ([]models.ParsedSection, error) {
	dec := xml.NewDecoder(r)
	var (
		sections []models.ParsedSection
		h        hierarchy
		buf      []string
		all      []string
		inBody   bool
		depth    int
	)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		if s, ok := paragraphSection(buf, &h, nil); ok {
			sections = append(sections, s)
		}
		buf = buf[:0]
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode document.xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if !inBody {
				if t.Name.Local == "body" {
					inBody = true
					depth = 0
				}
				continue
			}
			if depth > 0 {
				depth++
				continue
			}
			switch t.Name.Local {
			case "p":
				var para docxParagraph
				if err := dec.DecodeElement(&para, &t); err != nil {
					return nil, fmt.Errorf("decode paragraph: %w", err)
				}
				text := para.text()
				if text == "" {
					continue
				}
				all = append(all, text)
				style := para.Props.Style.Val
				if name, ok := styleNames[style]; ok && name != "" {
					style = name
				}
				if level, ok := headingLevel(style); ok {
					flush()
					h.push(level, text)
					sections = append(sections, headingSection(text, &h, nil))
					continue
				}
				buf = append(buf, text)
			case "tbl":
				var tbl docxTable
				if err := dec.DecodeElement(&tbl, &t); err != nil {
					return nil, fmt.Errorf("decode table: %w", err)
				}
				flush()
				rows := tbl.rows()
				for _, row := range rows {
					all = append(all, strings.Join(row, " "))
				}
				sections = append(sections, tableSections(rows, h.current(), h.snapshot(), nil)...)
			default:
				depth = 1
			}
		case xml.EndElement:
			if !inBody {
				continue
			}
			if depth > 0 {
				depth--
				continue
			}
			if t.Name.Local == "body" {
				inBody = false
			}
		}
	}
	flush()

	if len(sections) == 0 && len(all) > 0 {
		if s, ok := paragraphSection(all, &hierarchy{}, nil); ok {
			sections = append(sections, s)
		}
	}
	return sections, nil
}

// headingLevel maps "Heading 2", "heading 2" and the style id "Heading2" to 2,
// and Title or Subtitle to 0.
func headingLevel(style string) (int, bool) {
	s := strings.ToLower(strings.ReplaceAll(style, " ", ""))
	switch s {
	case "title", "subtitle":
		return 0, true
	}
	if !strings.HasPrefix(s, "heading") {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(s, "heading"))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
