// Package tile implements the engine's tile geometry: Web Mercator tile
// coordinates, viewport rectangles, and ring distance (C1).
package tile

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Tile is an immutable (z, x, y) address of a 256x256 web-mercator square.
type Tile struct {
	Z uint32
	X uint32
	Y uint32
}

// New builds a Tile.
func New(z, x, y uint32) Tile {
	return Tile{Z: z, X: x, Y: y}
}

func (t Tile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

// ID is the tile_id string used on TileRequest/TileCompletion, "{x}_{y}".
func (t Tile) ID() string {
	return fmt.Sprintf("%d_%d", t.X, t.Y)
}

// Viewport is the rectangle of tile coordinates at a single zoom that is
// fully or partially on screen.
type Viewport struct {
	MinX uint32
	MaxX uint32
	MinY uint32
	MaxY uint32
	Z    uint32
}

// RingSentinel is returned by RingDistance for a tile at a different zoom
// than the viewport: "not comparable".
const RingSentinel = 999

// Ring is a bounded ordinal distance from a tile to a viewport, clamped to
// R3. It is a derived quantity, never stored on a Tile.
type Ring uint8

const (
	R0 Ring = iota
	R1
	R2
	R3
)

// LatLonToTile converts (lat, lon) at zoom z to fractional tile coordinates
// using the standard Web Mercator slippy formula.
func LatLonToTile(lat, lon float64, z uint32) (fx, fy float64) {
	n := math.Exp2(float64(z))

	lonRad := lon * math.Pi / 180.0
	fx = (lonRad + math.Pi) / (2 * math.Pi) * n

	latRad := lat * math.Pi / 180.0
	fy = (1 - math.Log(math.Tan(latRad)+1/math.Cos(latRad))/math.Pi) / 2 * n

	return fx, fy
}

// Bounds returns the geographic bounding box of the tile in WGS84, via
// paulmach/orb's maptile package.
func (t Tile) Bounds() orb.Bound {
	return maptile.New(t.X, t.Y, maptile.Zoom(t.Z)).Bound()
}

// VisibleTileCoords returns the set of (x, y) tile coordinates visible in a
// wPx x hPx window centred at (lat, lon, z). x wraps modulo 2^z; y is
// clamped to [0, 2^z) — the poles are not tiled.
func VisibleTileCoords(lat, lon float64, z uint32, wPx, hPx int) map[[2]uint32]struct{} {
	if wPx <= 0 {
		wPx = 800
	}
	if hPx <= 0 {
		hPx = 600
	}

	fx, fy := LatLonToTile(lat, lon, z)
	const tileSizePx = 256.0
	px := fx * tileSizePx
	py := fy * tileSizePx

	halfW := float64(wPx) / 2.0
	halfH := float64(hPx) / 2.0

	xMin := int64(math.Floor((px - halfW) / tileSizePx))
	xMax := int64(math.Floor((px + halfW) / tileSizePx))
	yMin := int64(math.Floor((py - halfH) / tileSizePx))
	yMax := int64(math.Floor((py + halfH) / tileSizePx))

	n := int64(1) << z

	visible := make(map[[2]uint32]struct{})
	for y := yMin; y <= yMax; y++ {
		if y < 0 || y >= n {
			continue
		}
		for x := xMin; x <= xMax; x++ {
			wrapped := ((x % n) + n) % n
			visible[[2]uint32{uint32(wrapped), uint32(y)}] = struct{}{}
		}
	}
	return visible
}

// RingDistance is the Chebyshev distance from a tile to a viewport's
// rectangle, zero when the tile lies inside it. Tiles at a different zoom
// than the viewport return RingSentinel.
func RingDistance(t Tile, v Viewport) uint16 {
	if t.Z != v.Z {
		return RingSentinel
	}

	dx := chebyshevGap(t.X, v.MinX, v.MaxX)
	dy := chebyshevGap(t.Y, v.MinY, v.MaxY)
	if dx > dy {
		return dx
	}
	return dy
}

func chebyshevGap(coord, lo, hi uint32) uint16 {
	switch {
	case coord < lo:
		return uint16(lo - coord)
	case coord > hi:
		return uint16(coord - hi)
	default:
		return 0
	}
}

// RingEnum buckets a ring distance into the bounded R0..R3 ordinal.
func RingEnum(t Tile, v Viewport) Ring {
	d := RingDistance(t, v)
	if d > 3 {
		return R3
	}
	return Ring(d)
}

// ViewportFromVisible builds the tight bounding rectangle of a visible-tile
// set at zoom z. It errors on an empty set.
func ViewportFromVisible(visible map[[2]uint32]struct{}, z uint32) (Viewport, error) {
	if len(visible) == 0 {
		return Viewport{}, fmt.Errorf("tile: cannot build viewport from empty visible set")
	}

	first := true
	var v Viewport
	v.Z = z
	for coord := range visible {
		x, y := coord[0], coord[1]
		if first {
			v.MinX, v.MaxX, v.MinY, v.MaxY = x, x, y, y
			first = false
			continue
		}
		if x < v.MinX {
			v.MinX = x
		}
		if x > v.MaxX {
			v.MaxX = x
		}
		if y < v.MinY {
			v.MinY = y
		}
		if y > v.MaxY {
			v.MaxY = y
		}
	}
	return v, nil
}
