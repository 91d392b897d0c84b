// Package archive persists the raw response_archive rows. Writes are
// best-effort: a failure here is logged by the caller, never fatal
// (spec §4.J step 3, §7 "warning-only").
package archive

import (
	"context"
	"net/netip"
)

// Repository is the persistence contract this package drives.
type Repository interface {
	// Write records one raw response against path (the target net the
	// response concerned).
	Write(ctx context.Context, path netip.Prefix, data []byte) error
	// LoadUnder returns the raw bodies of every archived response whose
	// path is contained in (or equal to) net, for read-only operator
	// aggregation (crabtool hitcount).
	LoadUnder(ctx context.Context, net netip.Prefix) ([][]byte, error)
}

// Writer wraps a Repository with the best-effort semantics the handler
// needs: errors are returned, not swallowed, so the caller can decide
// how to log them, but they never abort the surrounding transaction.
type Writer struct {
	repo Repository
}

func New(repo Repository) *Writer {
	return &Writer{repo: repo}
}

func (w *Writer) Write(ctx context.Context, path netip.Prefix, data []byte) error {
	return w.repo.Write(ctx, path, data)
}

// LoadUnder returns every archived response body contained in net.
func (w *Writer) LoadUnder(ctx context.Context, net netip.Prefix) ([][]byte, error) {
	return w.repo.LoadUnder(ctx, net)
}
