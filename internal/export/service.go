// Package export renders completed, normalized entity lists as TSV or XLSX
// files.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/entityapi/internal/domain"
)

// Format is an export file format.
type Format string

const (
	FormatTSV  Format = "tsv"
	FormatXLSX Format = "xlsx"
)

const (
	contentTypeTSV  = "text/tab-separated-values"
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	sheetName       = "entities"
	defaultMaxRows  = 5000
)

// Columns that lead an export when the caller names none.
var leadingColumns = []string{domain.KeyUUID, domain.KeySennetID, domain.KeyEntityType}

// ParseFormat accepts a format name case-insensitively. An empty name means TSV.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case "":
		return FormatTSV, nil
	case FormatTSV, FormatXLSX:
		return f, nil
	}
	return "", domain.NewInvalidInput("format", "unsupported export format %q", name)
}

// EntityLister completes and normalizes a list of entities in request order.
type EntityLister interface {
	List(ctx context.Context, req *domain.RequestContext, uuids []string, filter domain.PropertyFilter) ([]domain.Record, error)
}

// Request selects the entities and columns of one export.
type Request struct {
	UUIDs      []string
	Format     Format
	Properties []string
}

// File is a rendered export.
type File struct {
	Name        string
	ContentType string
	Rows        int
	Data        []byte
}

type Service struct {
	entities   EntityLister
	maxRows    int
	filePrefix string
	now        func() time.Time
}

type Option func(*Service)

// WithMaxRows caps the number of entities a single export may request.
func WithMaxRows(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRows = n
		}
	}
}

func WithFilePrefix(prefix string) Option {
	return func(s *Service) {
		if strings.TrimSpace(prefix) != "" {
			s.filePrefix = prefix
		}
	}
}

func NewService(entities EntityLister, opts ...Option) *Service {
	s := &Service{
		entities:   entities,
		maxRows:    defaultMaxRows,
		filePrefix: "entities",
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Export runs the list pipeline for the requested entities and renders the
// result. When properties are named the list is filtered to them, which also
// skips the triggers of every other property.
func (s *Service) Export(ctx context.Context, req *domain.RequestContext, in Request) (*File, error) {
	if len(in.UUIDs) == 0 {
		return nil, domain.NewInvalidInput("uuids", "at least one uuid is required")
	}
	if len(in.UUIDs) > s.maxRows {
		return nil, domain.NewInvalidInput("uuids", "an export is limited to %d entities", s.maxRows)
	}
	format := in.Format
	if format == "" {
		format = FormatTSV
	}

	filter := domain.PropertyFilter{}
	if len(in.Properties) > 0 {
		filter = domain.PropertyFilter{Properties: in.Properties, Mode: domain.FilterInclude}
	}
	records, err := s.entities.List(ctx, req, in.UUIDs, filter)
	if err != nil {
		return nil, fmt.Errorf("list entities for export: %w", err)
	}

	headers := columns(records, in.Properties)
	var data []byte
	var contentType string
	switch format {
	case FormatTSV:
		data, err = writeTSV(headers, records)
		contentType = contentTypeTSV
	case FormatXLSX:
		data, err = writeXLSX(headers, records)
		contentType = contentTypeXLSX
	default:
		return nil, domain.NewInvalidInput("format", "unsupported export format %q", format)
	}
	if err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%s-%s.%s", sanitizeFileComponent(s.filePrefix), s.now().UTC().Format("20060102-150405"), format)
	return &File{Name: name, ContentType: contentType, Rows: len(records), Data: data}, nil
}

// columns returns the explicit properties, or the union of all record keys
// with the identifying columns first and the rest sorted.
func columns(records []domain.Record, properties []string) []string {
	if len(properties) > 0 {
		return append([]string(nil), properties...)
	}
	seen := make(map[string]struct{})
	for _, rec := range records {
		for k := range rec {
			seen[k] = struct{}{}
		}
	}
	headers := make([]string, 0, len(seen))
	for _, k := range leadingColumns {
		if _, ok := seen[k]; ok {
			headers = append(headers, k)
			delete(seen, k)
		}
	}
	rest := make([]string, 0, len(seen))
	for k := range seen {
		rest = append(rest, k)
	}
	sort.Strings(rest)
	return append(headers, rest...)
}

func writeTSV(headers []string, records []domain.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '\t'
	if err := w.Write(headers); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	row := make([]string, len(headers))
	for _, rec := range records {
		for i, h := range headers {
			row[i] = formatValue(rec[h])
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write row %s: %w", rec.UUID(), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush tsv: %w", err)
	}
	return buf.Bytes(), nil
}

func writeXLSX(headers []string, records []domain.Record) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("name sheet: %w", err)
	}
	header := make([]any, len(headers))
	for i, h := range headers {
		header[i] = h
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}
	if err := f.SetRowStyle(sheetName, 1, 1, bold); err != nil {
		return nil, fmt.Errorf("style header: %w", err)
	}

	for r, rec := range records {
		row := make([]any, len(headers))
		for i, h := range headers {
			row[i] = formatValue(rec[h])
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %s: %w", rec.UUID(), err)
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render xlsx: %w", err)
	}
	return buf.Bytes(), nil
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return "export"
	}
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
		case r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}

// formatValue renders one cell. Lists and objects become JSON.
func formatValue(value any) string {
	if value == nil {
		return ""
	}
	switch v := value.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	case float32, int, int32, int64, uint, uint32, uint64:
		return fmt.Sprintf("%v", v)
	case []byte:
		return string(v)
	case map[string]any, []any, domain.Record, []domain.Record, []string:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", v)
	}
}
