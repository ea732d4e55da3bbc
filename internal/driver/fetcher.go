package driver

import (
	"context"
	"fmt"

	"github.com/icemaian/qprism/internal/priority"
	"github.com/icemaian/qprism/internal/tile"
)

// TileClient is the subset of h3client.Client the driver needs, kept local
// so the driver package never imports the transport layer directly.
type TileClient interface {
	FetchTile(ctx context.Context, tilePath string) ([]byte, error)
	FetchTilePrioritized(ctx context.Context, tilePath string, p priority.EpsPriority) ([]byte, error)
}

// ClientFetcher adapts a TileClient to the Fetcher interface. When
// Prioritized is true it attaches an EPS priority header derived from the
// ring distance the driver already computed for this fetch; the
// *_default variants leave it false and fetch with no priority hint,
// matching an H/2-style server with no prioritization.
type ClientFetcher struct {
	Client      TileClient
	PathPrefix  string
	Extension   string
	Prioritized bool
}

// Fetch implements Fetcher.
func (f *ClientFetcher) Fetch(ctx context.Context, t tile.Tile, ring tile.Ring) ([]byte, error) {
	path := f.tilePath(t)
	if f.Prioritized {
		return f.Client.FetchTilePrioritized(ctx, path, priority.EpsFromRing(ring))
	}
	return f.Client.FetchTile(ctx, path)
}

func (f *ClientFetcher) tilePath(t tile.Tile) string {
	ext := f.Extension
	if ext == "" {
		ext = "pbf"
	}
	prefix := f.PathPrefix
	if prefix == "" {
		prefix = "/tiles"
	}
	return fmt.Sprintf("%s/%d/%d/%d.%s", prefix, t.Z, t.X, t.Y, ext)
}
