// Package mbtiles reads tile bytes out of an MBTiles SQLite file, the
// external tile-byte source consumed by the H3 server shims.
package mbtiles

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"fmt"
	"io"

	_ "modernc.org/sqlite"
)

// Reader is a read-only handle on an MBTiles file.
type Reader struct {
	db   *sql.DB
	path string
}

// OpenReader opens path as a read-only, immutable SQLite connection and
// verifies it has the expected MBTiles schema.
func OpenReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro&immutable=1")
	if err != nil {
		return nil, fmt.Errorf("mbtiles: open %s: %w", path, err)
	}

	var name string
	row := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name='tiles'")
	if err := row.Scan(&name); err != nil {
		db.Close()
		return nil, fmt.Errorf("mbtiles: %s does not look like an mbtiles file: %w", path, err)
	}

	return &Reader{db: db, path: path}, nil
}

// ReadTile returns the raw (gzip-decompressed) tile bytes at XYZ
// coordinate (z, x, y), converting to MBTiles' TMS row convention
// internally. It returns an empty slice, not an error, when the tile is
// absent.
func (r *Reader) ReadTile(z, x, y int) ([]byte, error) {
	tmsY := (1 << uint(z)) - 1 - y

	var data []byte
	row := r.db.QueryRow(
		"SELECT tile_data FROM tiles WHERE zoom_level = ? AND tile_column = ? AND tile_row = ?",
		z, x, tmsY,
	)
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("mbtiles: read tile z=%d x=%d y=%d: %w", z, x, y, err)
	}

	return gzipDecompress(data)
}

// Metadata holds the MBTiles metadata table's well-known keys.
type Metadata struct {
	Name        string
	Format      string
	Attribution string
	Description string
	Type        string
	Version     string
	Bounds      [4]float64
	Center      [3]float64
	MinZoom     int
	MaxZoom     int
}

// Metadata reads the metadata table into a Metadata struct.
func (r *Reader) Metadata() (Metadata, error) {
	rows, err := r.db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return Metadata{}, fmt.Errorf("mbtiles: read metadata: %w", err)
	}
	defer rows.Close()

	raw := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return Metadata{}, fmt.Errorf("mbtiles: scan metadata row: %w", err)
		}
		raw[k] = v
	}
	if err := rows.Err(); err != nil {
		return Metadata{}, fmt.Errorf("mbtiles: iterate metadata: %w", err)
	}

	md := Metadata{
		Name:        raw["name"],
		Format:      raw["format"],
		Attribution: raw["attribution"],
		Description: raw["description"],
		Type:        raw["type"],
		Version:     raw["version"],
	}
	fmt.Sscanf(raw["minzoom"], "%d", &md.MinZoom)
	fmt.Sscanf(raw["maxzoom"], "%d", &md.MaxZoom)
	fmt.Sscanf(raw["bounds"], "%g,%g,%g,%g", &md.Bounds[0], &md.Bounds[1], &md.Bounds[2], &md.Bounds[3])
	fmt.Sscanf(raw["center"], "%g,%g,%g", &md.Center[0], &md.Center[1], &md.Center[2])

	return md, nil
}

// Close releases the underlying database handle.
func (r *Reader) Close() error {
	return r.db.Close()
}

func gzipDecompress(data []byte) ([]byte, error) {
	if len(data) < 2 || data[0] != 0x1f || data[1] != 0x8b {
		return data, nil
	}
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("mbtiles: gzip reader: %w", err)
	}
	defer gz.Close()

	out, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("mbtiles: gzip decompress: %w", err)
	}
	return out, nil
}
