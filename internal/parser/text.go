package parser

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"regexp"
	"strings"

	"docqa/internal/models"
	"docqa/internal/util"
)

const csvTitle = "CSV Data"

var (
	allCapsHeading  = regexp.MustCompile(`^[A-Z][A-Z\s\-:]{2,80}$`)
	numberedHeading = regexp.MustCompile(`^(\d+(?:\.\d+)*)\s+[A-Z]`)
	underline       = regexp.MustCompile(`^[=\-]{3,}$`)
	blankLines      = regexp.MustCompile(`\n\s*\n`)
)

// TextParser handles plain text and markdown, switching to CSV mode when the
// first line looks like a comma separated header.
type TextParser struct{}

func NewTextParser() *TextParser { return &TextParser{} }

func (p *TextParser) Name() string { return "text" }

func (p *TextParser) Parse(ctx context.Context, path string) ([]models.ParsedSection, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Format: "text", Path: path, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := util.SanitizeText(string(raw))
	if text == "" {
		return []models.ParsedSection{}, nil
	}
	if looksLikeCSV(text) {
		sections, err := parseCSV(text)
		if err != nil {
			return nil, &ParseError{Format: "csv", Path: path, Err: err}
		}
		if len(sections) > 0 {
			return sections, nil
		}
	}
	return parseBlocks(text), nil
}

func looksLikeCSV(text string) bool {
	first, _, _ := strings.Cut(text, "\n")
	return strings.Count(first, ",") >= 2
}

func parseCSV(text string) ([]models.ParsedSection, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	rows := make([][]string, 0)
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if rowIsEmpty(rec) {
			continue
		}
		rows = append(rows, rec)
	}
	return tableSections(rows, models.StringPtr(csvTitle), []string{csvTitle}, nil), nil
}

// parseBlocks splits on blank lines and promotes heading-shaped blocks.
func parseBlocks(text string) []models.ParsedSection {
	var (
		sections []models.ParsedSection
		h        hierarchy
	)
	for _, block := range blankLines.Split(text, -1) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if title, depth, ok := blockHeading(block); ok {
			h.push(depth, title)
			sections = append(sections, headingSection(title, &h, nil))
			continue
		}
		if s, ok := paragraphSection([]string{block}, &h, nil); ok {
			sections = append(sections, s)
		}
	}
	if len(sections) == 0 {
		if s, ok := paragraphSection([]string{text}, &hierarchy{}, nil); ok {
			sections = append(sections, s)
		}
	}
	return sections
}

// blockHeading reports whether a block is a heading and at which depth.
func blockHeading(block string) (string, int, bool) {
	lines := strings.Split(block, "\n")
	switch len(lines) {
	case 1:
		line := strings.TrimSpace(lines[0])
		if allCapsHeading.MatchString(line) {
			return line, 1, true
		}
		if m := numberedHeading.FindStringSubmatch(line); m != nil {
			return line, strings.Count(m[1], ".") + 1, true
		}
	case 2:
		title := strings.TrimSpace(lines[0])
		if title != "" && underline.MatchString(strings.TrimSpace(lines[1])) {
			return title, 1, true
		}
	}
	return "", 0, false
}
