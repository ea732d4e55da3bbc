// Package h3client implements the HTTP/3 tile-fetch clients (C8): a plain
// client and a QPRISM client that attaches an RFC 9218 priority header.
package h3client

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/quic-go/quic-go/http3"

	"github.com/icemaian/qprism/internal/priority"
)

// Client fetches tile bytes over HTTP/3 against a fixed server base URL.
type Client struct {
	baseURL string

	mu sync.Mutex
	rt http.RoundTripper

	closer io.Closer
}

// New builds a Client targeting baseURL (e.g. "https://127.0.0.1:4433").
// insecureSkipVerify is intended for the local testbed setting, where the
// server presents a self-signed certificate.
func New(baseURL string, insecureSkipVerify bool) *Client {
	transport := &http3.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: insecureSkipVerify,
			NextProtos:         []string{"h3"},
		},
	}
	return &Client{baseURL: baseURL, rt: transport, closer: transport}
}

// newWithRoundTripper builds a Client against an arbitrary RoundTripper,
// for testing header construction without a live QUIC connection.
func newWithRoundTripper(baseURL string, rt http.RoundTripper) *Client {
	return &Client{baseURL: baseURL, rt: rt}
}

// Close releases the underlying QUIC transport's connections.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// FetchTile fetches the tile at tilePath ("/tiles/{z}/{x}/{y}.ext") with no
// priority hint.
func (c *Client) FetchTile(ctx context.Context, tilePath string) ([]byte, error) {
	return c.fetch(ctx, tilePath, nil)
}

// FetchTilePrioritized fetches the tile at tilePath with an RFC 9218
// "priority" header built from an EpsPriority value.
func (c *Client) FetchTilePrioritized(ctx context.Context, tilePath string, p priority.EpsPriority) ([]byte, error) {
	headers := http.Header{"priority": []string{p.Header()}}
	return c.fetch(ctx, tilePath, headers)
}

func (c *Client) fetch(ctx context.Context, tilePath string, extraHeaders http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tilePath, nil)
	if err != nil {
		return nil, fmt.Errorf("h3client: build request: %w", err)
	}
	for k, vs := range extraHeaders {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.roundTripper().RoundTrip(req)
	if err != nil {
		return nil, fmt.Errorf("h3client: round trip %s: %w", tilePath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("h3client: %s: status %d", tilePath, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("h3client: read body %s: %w", tilePath, err)
	}
	return body, nil
}

func (c *Client) roundTripper() http.RoundTripper {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rt
}
