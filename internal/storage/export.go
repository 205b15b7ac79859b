package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/IshaanNene/CartKeeper/internal/types"
)

// Exporter writes a product list to a file for backup or spreadsheets.
type Exporter interface {
	// Write appends products to the export.
	Write(products []types.Product) error

	// Close flushes pending writes and releases resources.
	Close() error

	// Name returns the export format.
	Name() string
}

// Export formats.
const (
	FormatJSON  = "json"
	FormatJSONL = "jsonl"
	FormatCSV   = "csv"
)

// csvHeader is the fixed column order of CSV exports.
var csvHeader = []string{
	"id", "url", "title", "price", "original_price", "image", "site",
	"category", "size", "color", "style", "date_added", "last_modified",
	"device_source", "extraction_method", "confidence",
}

func createOutput(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return f, nil
}

// --- JSON ---

// JSONExporter buffers products and writes one JSON array on Close.
type JSONExporter struct {
	w        io.WriteCloser
	products []types.Product
	logger   *slog.Logger
}

func NewJSONExporter(w io.WriteCloser, logger *slog.Logger) *JSONExporter {
	return &JSONExporter{
		w:        w,
		products: make([]types.Product, 0),
		logger:   logger.With("component", "json_export"),
	}
}

func (e *JSONExporter) Name() string { return FormatJSON }

func (e *JSONExporter) Write(products []types.Product) error {
	e.products = append(e.products, products...)
	return nil
}

func (e *JSONExporter) Close() error {
	defer e.w.Close()

	enc := json.NewEncoder(e.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e.products); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	e.logger.Info("JSON export written", "products", len(e.products))
	return nil
}

// --- JSONL ---

// JSONLExporter streams one product per line.
type JSONLExporter struct {
	w      io.WriteCloser
	enc    *json.Encoder
	count  int
	logger *slog.Logger
}

func NewJSONLExporter(w io.WriteCloser, logger *slog.Logger) *JSONLExporter {
	return &JSONLExporter{
		w:      w,
		enc:    json.NewEncoder(w),
		logger: logger.With("component", "jsonl_export"),
	}
}

func (e *JSONLExporter) Name() string { return FormatJSONL }

func (e *JSONLExporter) Write(products []types.Product) error {
	for _, p := range products {
		if err := e.enc.Encode(p); err != nil {
			return fmt.Errorf("encode JSONL: %w", err)
		}
		e.count++
	}
	return nil
}

func (e *JSONLExporter) Close() error {
	e.logger.Info("JSONL export written", "products", e.count)
	return e.w.Close()
}

// --- CSV ---

// CSVExporter writes a header row followed by one row per product.
type CSVExporter struct {
	w          io.WriteCloser
	writer     *csv.Writer
	wroteHeads bool
	count      int
	logger     *slog.Logger
}

func NewCSVExporter(w io.WriteCloser, logger *slog.Logger) *CSVExporter {
	return &CSVExporter{
		w:      w,
		writer: csv.NewWriter(w),
		logger: logger.With("component", "csv_export"),
	}
}

func (e *CSVExporter) Name() string { return FormatCSV }

func (e *CSVExporter) Write(products []types.Product) error {
	if !e.wroteHeads {
		if err := e.writer.Write(csvHeader); err != nil {
			return fmt.Errorf("write CSV header: %w", err)
		}
		e.wroteHeads = true
	}

	for _, p := range products {
		row := []string{
			p.ID, p.URL, p.Title, p.Price, p.OriginalPrice, p.Image, p.Site,
			p.Category, p.Variants.Size, p.Variants.Color, p.Variants.Style,
			formatTime(p.DateAdded), formatTime(p.LastModified),
			p.DeviceSource, p.ExtractionMethod, string(p.Confidence),
		}
		if err := e.writer.Write(row); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
		e.count++
	}

	e.writer.Flush()
	return e.writer.Error()
}

func (e *CSVExporter) Close() error {
	e.logger.Info("CSV export written", "products", e.count)
	e.writer.Flush()
	if err := e.writer.Error(); err != nil {
		e.w.Close()
		return err
	}
	return e.w.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// NewExporter creates the exporter for format writing to path.
func NewExporter(format, path string, logger *slog.Logger) (Exporter, error) {
	switch format {
	case FormatJSON, FormatJSONL, FormatCSV:
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}

	f, err := createOutput(path)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatJSON:
		return NewJSONExporter(f, logger), nil
	case FormatJSONL:
		return NewJSONLExporter(f, logger), nil
	default:
		return NewCSVExporter(f, logger), nil
	}
}
