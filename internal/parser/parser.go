// Package parser turns raw document files into ordered structural sections.
package parser

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"docqa/internal/models"
	"docqa/internal/util"
)

// TableBatchRows bounds how many data rows one table section carries.
const TableBatchRows = 50

// Parser is implemented by every supported format.
type Parser interface {
	Name() string
	Parse(ctx context.Context, path string) ([]models.ParsedSection, error)
}

// ParseError reports a file that could not be opened or decoded.
type ParseError struct {
	Format string
	Path   string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s %s: %v", e.Format, filepath.Base(e.Path), e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ForExtension maps a file extension (with or without the dot) to its parser.
func ForExtension(ext string) (Parser, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	switch ext {
	case ".pdf":
		return NewPDFParser(), nil
	case ".docx":
		return NewDOCXParser(), nil
	case ".xlsx":
		return NewXLSXParser(), nil
	case ".txt", ".csv", ".md", ".text":
		return NewTextParser(), nil
	default:
		return nil, fmt.Errorf("%w: %q", util.ErrUnsupportedFormat, ext)
	}
}

// ForPath selects a parser from the extension of path.
func ForPath(path string) (Parser, error) {
	return ForExtension(filepath.Ext(path))
}

// SupportedExtensions lists every extension ForExtension accepts.
func SupportedExtensions() []string {
	return []string{".pdf", ".docx", ".xlsx", ".txt", ".csv", ".md", ".text"}
}

type headingEntry struct {
	depth int
	title string
}

// hierarchy tracks the ancestor heading chain while a parser walks a document.
type hierarchy struct {
	stack []headingEntry
}

// push pops every entry at depth >= depth, then pushes the new heading.
func (h *hierarchy) push(depth int, title string) {
	for len(h.stack) > 0 && h.stack[len(h.stack)-1].depth >= depth {
		h.stack = h.stack[:len(h.stack)-1]
	}
	h.stack = append(h.stack, headingEntry{depth: depth, title: title})
}

func (h *hierarchy) reset(title string) {
	h.stack = h.stack[:0]
	h.stack = append(h.stack, headingEntry{depth: 1, title: title})
}

func (h *hierarchy) snapshot() []string {
	out := make([]string, 0, len(h.stack))
	for _, e := range h.stack {
		out = append(out, e.title)
	}
	return out
}

func (h *hierarchy) current() *string {
	if len(h.stack) == 0 {
		return nil
	}
	return models.StringPtr(h.stack[len(h.stack)-1].title)
}

// tableSections serialises rows as "a | b" lines and splits data rows into
// batches of TableBatchRows, repeating the header row at the top of each batch.
func tableSections(rows [][]string, title *string, path []string, page *int) []models.ParsedSection {
	if len(rows) == 0 {
		return nil
	}
	header := joinRow(rows[0])
	data := rows[1:]
	mk := func(content string) models.ParsedSection {
		return models.ParsedSection{
			Content:          content,
			PageNumber:       page,
			SectionTitle:     title,
			SectionHierarchy: append([]string(nil), path...),
			ChunkType:        models.ChunkTable,
		}
	}
	if len(data) == 0 {
		if strings.TrimSpace(header) == "" {
			return nil
		}
		return []models.ParsedSection{mk(header)}
	}
	out := make([]models.ParsedSection, 0, (len(data)+TableBatchRows-1)/TableBatchRows)
	for start := 0; start < len(data); start += TableBatchRows {
		end := start + TableBatchRows
		if end > len(data) {
			end = len(data)
		}
		lines := make([]string, 0, end-start+1)
		lines = append(lines, header)
		for _, row := range data[start:end] {
			lines = append(lines, joinRow(row))
		}
		out = append(out, mk(strings.Join(lines, "\n")))
	}
	return out
}

func joinRow(cells []string) string {
	clean := make([]string, len(cells))
	for i, c := range cells {
		c = strings.ReplaceAll(c, "\r", " ")
		clean[i] = strings.TrimSpace(strings.ReplaceAll(c, "\n", " "))
	}
	return strings.Join(clean, " | ")
}

func rowIsEmpty(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// paragraphSection builds a body section from accumulated text, or reports
// false when nothing printable remains.
func paragraphSection(parts []string, h *hierarchy, page *int) (models.ParsedSection, bool) {
	content := util.SanitizeText(strings.Join(parts, "\n"))
	if content == "" {
		return models.ParsedSection{}, false
	}
	return models.ParsedSection{
		Content:          content,
		PageNumber:       page,
		SectionTitle:     h.current(),
		SectionHierarchy: h.snapshot(),
		ChunkType:        models.ChunkParagraph,
	}, true
}

func headingSection(title string, h *hierarchy, page *int) models.ParsedSection {
	return models.ParsedSection{
		Content:          title,
		PageNumber:       page,
		SectionTitle:     models.StringPtr(title),
		SectionHierarchy: h.snapshot(),
		ChunkType:        models.ChunkHeading,
	}
}
