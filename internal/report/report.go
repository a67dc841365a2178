// Package report renders classified matches, epic tallies and history points
// for the command line.
package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"codetax/internal/taxonomy"
	"codetax/internal/temporal"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatPlain OutputFormat = "plain"
	FormatCSV   OutputFormat = "csv"
	FormatJSON  OutputFormat = "json"
)

// ParseFormat validates a format name
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatPlain, FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// MatchWriter streams classified matches. Close must be called once every
// match is written.
type MatchWriter interface {
	Write(cm taxonomy.ClassifiedMatch) error
	Close() error
}

// NewMatchWriter returns a writer for format
func NewMatchWriter(w io.Writer, format OutputFormat) (MatchWriter, error) {
	switch format {
	case FormatPlain:
		return &plainWriter{w: w}, nil
	case FormatCSV:
		return &csvWriter{w: csv.NewWriter(w)}, nil
	case FormatJSON:
		return &jsonWriter{w: w}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// plainWriter prints file,line,code,epic without quoting, one row per epic
type plainWriter struct {
	w      io.Writer
	header bool
}

func (p *plainWriter) writeHeader() error {
	if p.header {
		return nil
	}
	p.header = true
	_, err := fmt.Fprintln(p.w, "file,line,code,epic")
	return err
}

func (p *plainWriter) Write(cm taxonomy.ClassifiedMatch) error {
	if err := p.writeHeader(); err != nil {
		return err
	}
	code := strings.TrimSpace(cm.Line)
	for _, epic := range cm.Epics {
		if _, err := fmt.Fprintf(p.w, "%s,%d,%s,%s\n", cm.Path, cm.LineNumber, code, epic); err != nil {
			return err
		}
	}
	return nil
}

func (p *plainWriter) Close() error { return p.writeHeader() }

// csvWriter writes file,line,code,link,epic with the link as a spreadsheet
// HYPERLINK formula
type csvWriter struct {
	w      *csv.Writer
	header bool
}

func (c *csvWriter) writeHeader() error {
	if c.header {
		return nil
	}
	c.header = true
	return c.w.Write([]string{"file", "line", "code", "link", "epic"})
}

func (c *csvWriter) Write(cm taxonomy.ClassifiedMatch) error {
	if err := c.writeHeader(); err != nil {
		return err
	}
	row := []string{cm.Path, strconv.Itoa(cm.LineNumber), strings.TrimSpace(cm.Line), Hyperlink(cm.Link), ""}
	for _, epic := range cm.Epics {
		row[4] = epic
		if err := c.w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

func (c *csvWriter) Close() error {
	if err := c.writeHeader(); err != nil {
		return err
	}
	c.w.Flush()
	return c.w.Error()
}

// Hyperlink renders url as a spreadsheet formula, or "" without a url
func Hyperlink(url string) string {
	if url == "" {
		return ""
	}
	return fmt.Sprintf(`=HYPERLINK("%s", "link")`, strings.ReplaceAll(url, `"`, `""`))
}

// jsonWriter streams a JSON array of matches indented by two spaces
type jsonWriter struct {
	w     io.Writer
	count int
}

func (j *jsonWriter) Write(cm taxonomy.ClassifiedMatch) error {
	if cm.Epics == nil {
		cm.Epics = []string{}
	}
	data, err := marshalIndent(cm, "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	sep := ",\n  "
	if j.count == 0 {
		sep = "[\n  "
	}
	j.count++
	_, err = io.WriteString(j.w, sep+string(data))
	return err
}

func (j *jsonWriter) Close() error {
	closing := "\n]\n"
	if j.count == 0 {
		closing = "[]\n"
	}
	_, err := io.WriteString(j.w, closing)
	return err
}

// marshalIndent encodes v without HTML escaping, nested under prefix
func marshalIndent(v interface{}, prefix string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent(prefix, "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// WriteSummary writes an epic,count tally sorted by epic
func WriteSummary(w io.Writer, counts map[string]int) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"epic", "count"}); err != nil {
		return err
	}
	for _, epic := range taxonomy.SortedEpics(counts) {
		if err := cw.Write([]string{epic, strconv.Itoa(counts[epic])}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// HistoryWriter writes date,count rows as points arrive
type HistoryWriter struct {
	w      *csv.Writer
	header bool
}

// NewHistoryWriter creates a history writer
func NewHistoryWriter(w io.Writer) *HistoryWriter {
	return &HistoryWriter{w: csv.NewWriter(w)}
}

// WritePoint writes one point and flushes it
func (h *HistoryWriter) WritePoint(p temporal.Point) error {
	if !h.header {
		h.header = true
		if err := h.w.Write([]string{"date", "count"}); err != nil {
			return err
		}
	}
	if err := h.w.Write([]string{p.Date.Format("2006-01-02"), strconv.Itoa(p.Count)}); err != nil {
		return err
	}
	h.w.Flush()
	return h.w.Error()
}
