package pg

import (
	"context"
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/hexmap/aggregator/internal/store/archive"
)

// ArchiveRepo implements archive.Repository against response_archive.
type ArchiveRepo struct {
	q   querier
	log *zap.Logger
}

var _ archive.Repository = (*ArchiveRepo)(nil)

func (r *ArchiveRepo) Write(ctx context.Context, path netip.Prefix, data []byte) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO response_archive (id, path, data) VALUES (gen_random_uuid(), $1, $2)`,
		path, data)
	if err != nil {
		return fmt.Errorf("pg: archive write %s: %w", path, err)
	}
	return nil
}

func (r *ArchiveRepo) LoadUnder(ctx context.Context, net netip.Prefix) ([][]byte, error) {
	rows, err := r.q.Query(ctx, `
		SELECT data FROM response_archive WHERE path <<= $1 OR path = $1`, net)
	if err != nil {
		return nil, fmt.Errorf("pg: archive load under %s: %w", net, err)
	}
	defer rows.Close()

	var out [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("pg: archive scan under %s: %w", net, err)
		}
		out = append(out, data)
	}
	return out, rows.Err()
}
