package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/hexmap/aggregator/internal/measure"
	"github.com/hexmap/aggregator/internal/store/measurestore"
)

// MeasureRepo implements measurestore.Repository against the
// measurement_tree table, storing last_hop_routers/weirdness as jsonb.
type MeasureRepo struct {
	q   querier
	log *zap.Logger
}

var _ measurestore.Repository = (*MeasureRepo)(nil)

type lhrEntryDTO struct {
	Addr     netip.Addr `json:"addr"`
	Sources  []int      `json:"sources"`
	HitCount int32      `json:"hit_count"`
}

type weirdEntryDTO struct {
	Type     int   `json:"type"`
	HitCount int32 `json:"hit_count"`
}

func (r *MeasureRepo) Get(ctx context.Context, net netip.Prefix) (*measure.Tree, error) {
	row := r.q.QueryRow(ctx, `
		SELECT target_net, created_at, updated_at, responsive_count, unresponsive_count, last_hop_routers, weirdness
		FROM measurement_tree WHERE target_net = $1`, net)
	t, err := scanMeasurementTree(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pg: get measurement_tree %s: %w", net, err)
	}
	return t, nil
}

func (r *MeasureRepo) Upsert(ctx context.Context, tree *measure.Tree) error {
	lhrPayload, err := json.Marshal(lhrToDTO(tree.LastHopRouters))
	if err != nil {
		return fmt.Errorf("pg: marshal lhr for %s: %w", tree.TargetNet, err)
	}
	weirdPayload, err := json.Marshal(weirdToDTO(tree.Weirdness))
	if err != nil {
		return fmt.Errorf("pg: marshal weirdness for %s: %w", tree.TargetNet, err)
	}

	_, err = r.q.Exec(ctx, `
		INSERT INTO measurement_tree (target_net, created_at, updated_at, responsive_count, unresponsive_count, last_hop_routers, weirdness)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (target_net) DO UPDATE SET
			updated_at = $3,
			responsive_count = $4,
			unresponsive_count = $5,
			last_hop_routers = $6,
			weirdness = $7`,
		tree.TargetNet, tree.CreatedAt, tree.UpdatedAt, tree.ResponsiveCount, tree.UnresponsiveCount, lhrPayload, weirdPayload)
	if err != nil {
		return fmt.Errorf("pg: upsert measurement_tree %s: %w", tree.TargetNet, err)
	}
	return nil
}

func (r *MeasureRepo) LoadContained(ctx context.Context, parent netip.Prefix) ([]*measure.Tree, error) {
	rows, err := r.q.Query(ctx, `
		SELECT target_net, created_at, updated_at, responsive_count, unresponsive_count, last_hop_routers, weirdness
		FROM measurement_tree WHERE target_net <<= $1 OR target_net = $1`, parent)
	if err != nil {
		return nil, fmt.Errorf("pg: load contained under %s: %w", parent, err)
	}
	defer rows.Close()

	var trees []*measure.Tree
	for rows.Next() {
		t, err := scanMeasurementTree(rows)
		if err != nil {
			return nil, fmt.Errorf("pg: scan measurement_tree: %w", err)
		}
		trees = append(trees, t)
	}
	return trees, rows.Err()
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeasurementTree(row rowScanner) (*measure.Tree, error) {
	var t measure.Tree
	var lhrPayload, weirdPayload []byte
	if err := row.Scan(&t.TargetNet, &t.CreatedAt, &t.UpdatedAt, &t.ResponsiveCount, &t.UnresponsiveCount, &lhrPayload, &weirdPayload); err != nil {
		return nil, err
	}

	var lhrDTOs []lhrEntryDTO
	if err := json.Unmarshal(lhrPayload, &lhrDTOs); err != nil {
		return nil, fmt.Errorf("unmarshal last_hop_routers: %w", err)
	}
	t.LastHopRouters = dtoToLhr(lhrDTOs)

	var weirdDTOs []weirdEntryDTO
	if err := json.Unmarshal(weirdPayload, &weirdDTOs); err != nil {
		return nil, fmt.Errorf("unmarshal weirdness: %w", err)
	}
	t.Weirdness = dtoToWeird(weirdDTOs)

	return &t, nil
}

func lhrToDTO(m map[netip.Addr]*measure.LhrRecord) []lhrEntryDTO {
	out := make([]lhrEntryDTO, 0, len(m))
	for addr, rec := range m {
		sources := make([]int, 0, len(rec.Sources))
		for s := range rec.Sources {
			sources = append(sources, int(s))
		}
		out = append(out, lhrEntryDTO{Addr: addr, Sources: sources, HitCount: rec.HitCount})
	}
	return out
}

func dtoToLhr(dtos []lhrEntryDTO) map[netip.Addr]*measure.LhrRecord {
	out := make(map[netip.Addr]*measure.LhrRecord, len(dtos))
	for _, d := range dtos {
		sources := make(map[measure.LhrSource]struct{}, len(d.Sources))
		for _, s := range d.Sources {
			sources[measure.LhrSource(s)] = struct{}{}
		}
		out[d.Addr] = &measure.LhrRecord{Sources: sources, HitCount: d.HitCount}
	}
	return out
}

func weirdToDTO(m map[measure.WeirdType]*measure.WeirdRecord) []weirdEntryDTO {
	out := make([]weirdEntryDTO, 0, len(m))
	for typ, rec := range m {
		out = append(out, weirdEntryDTO{Type: int(typ), HitCount: rec.HitCount})
	}
	return out
}

func dtoToWeird(dtos []weirdEntryDTO) map[measure.WeirdType]*measure.WeirdRecord {
	out := make(map[measure.WeirdType]*measure.WeirdRecord, len(dtos))
	for _, d := range dtos {
		out[measure.WeirdType(d.Type)] = &measure.WeirdRecord{HitCount: d.HitCount}
	}
	return out
}
