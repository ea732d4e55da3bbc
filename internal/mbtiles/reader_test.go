package mbtiles

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestGzipDecompressPassesThroughPlainData(t *testing.T) {
	plain := []byte("not gzipped")
	out, err := gzipDecompress(plain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(out, plain) {
		t.Errorf("got %q, want %q", out, plain)
	}
}

func TestGzipDecompressInflatesGzippedData(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("hello tile"))
	gz.Close()

	out, err := gzipDecompress(buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "hello tile" {
		t.Errorf("got %q, want %q", out, "hello tile")
	}
}

func newTestMBTiles(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.mbtiles")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open for setup: %v", err)
	}
	defer db.Close()

	schema := `
		CREATE TABLE tiles (zoom_level INTEGER, tile_column INTEGER, tile_row INTEGER, tile_data BLOB);
		CREATE TABLE metadata (name TEXT, value TEXT);
		INSERT INTO metadata (name, value) VALUES ('name', 'test'), ('minzoom', '0'), ('maxzoom', '14');
	`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	// XYZ (z=2, x=1, y=1) -> TMS row = (1<<2)-1-1 = 2.
	if _, err := db.Exec(
		"INSERT INTO tiles (zoom_level, tile_column, tile_row, tile_data) VALUES (2, 1, 2, ?)",
		[]byte("tile-bytes"),
	); err != nil {
		t.Fatalf("insert tile: %v", err)
	}

	return path
}

func TestReadTileConvertsXYZToTMS(t *testing.T) {
	path := newTestMBTiles(t)

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	data, err := r.ReadTile(2, 1, 1)
	if err != nil {
		t.Fatalf("ReadTile: %v", err)
	}
	if string(data) != "tile-bytes" {
		t.Errorf("got %q, want %q", data, "tile-bytes")
	}
}

func TestReadTileMissingReturnsEmptyNoError(t *testing.T) {
	path := newTestMBTiles(t)

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	data, err := r.ReadTile(10, 999, 999)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data != nil {
		t.Errorf("got %v, want nil for missing tile", data)
	}
}

func TestMetadata(t *testing.T) {
	path := newTestMBTiles(t)

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()

	md, err := r.Metadata()
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if md.Name != "test" || md.MinZoom != 0 || md.MaxZoom != 14 {
		t.Errorf("got %+v, want Name=test MinZoom=0 MaxZoom=14", md)
	}
}

func TestOpenReaderRejectsNonMBTilesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.sqlite")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open for setup: %v", err)
	}
	db.Close()

	if _, err := OpenReader(path); err == nil {
		t.Fatal("expected error opening a file with no tiles table")
	}
}
