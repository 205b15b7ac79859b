package storage

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/IshaanNene/CartKeeper/internal/types"
)

func TestExporters(t *testing.T) {
	dir := t.TempDir()
	products := []types.Product{
		product("1", "https://a.test/1", t1),
		product("2", "https://a.test/2", t2),
	}
	products[1].Variants = types.Variants{Size: "M", Color: "Navy"}

	for _, format := range []string{FormatJSON, FormatJSONL, FormatCSV} {
		path := filepath.Join(dir, "out", "products."+format)
		exp, err := NewExporter(format, path, testLogger)
		if err != nil {
			t.Fatalf("NewExporter(%s): %v", format, err)
		}
		if exp.Name() != format {
			t.Errorf("Name() = %s, want %s", exp.Name(), format)
		}
		if err := exp.Write(products[:1]); err != nil {
			t.Fatalf("%s write: %v", format, err)
		}
		if err := exp.Write(products[1:]); err != nil {
			t.Fatalf("%s write: %v", format, err)
		}
		if err := exp.Close(); err != nil {
			t.Fatalf("%s close: %v", format, err)
		}

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", path, err)
		}

		switch format {
		case FormatJSON:
			var got []types.Product
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("decode JSON export: %v", err)
			}
			if len(got) != 2 || got[1].Variants.Color != "Navy" {
				t.Errorf("JSON export = %+v", got)
			}
		case FormatJSONL:
			lines := strings.Split(strings.TrimSpace(string(data)), "\n")
			if len(lines) != 2 {
				t.Errorf("expected 2 JSONL lines, got %d", len(lines))
			}
		case FormatCSV:
			rows, err := csv.NewReader(strings.NewReader(string(data))).ReadAll()
			if err != nil {
				t.Fatalf("parse CSV export: %v", err)
			}
			if len(rows) != 3 {
				t.Fatalf("expected header + 2 rows, got %d", len(rows))
			}
			if rows[0][0] != "id" || rows[2][8] != "M" || rows[2][9] != "Navy" {
				t.Errorf("unexpected CSV rows: %v", rows)
			}
		}
	}

	if _, err := NewExporter("xml", filepath.Join(dir, "x.xml"), testLogger); err == nil {
		t.Error("expected error for unsupported format")
	}
}
