package pg

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hexmap/aggregator/internal/recommend"
	"github.com/hexmap/aggregator/internal/schedule"
)

// ScheduleRepo implements schedule.Repository by joining prefix_tree
// against split_analysis to find Leaf/UnsplitRoot nets with no
// sufficiently-recent open analysis.
type ScheduleRepo struct {
	q   querier
	log *zap.Logger
}

var _ schedule.Repository = (*ScheduleRepo)(nil)

const eligibleWhere = `
	(pt.merge_status = 'leaf' OR pt.merge_status = 'unsplit_root')
	AND pt.priority_class = $1
	AND NOT EXISTS (
		SELECT 1 FROM split_analysis sa
		WHERE sa.tree_net = pt.net AND sa.completed_at IS NULL AND sa.created_at > $2
	)`

func (r *ScheduleRepo) CountEligible(ctx context.Context, class recommend.PriorityClass, cutoff time.Time) (int, error) {
	var n int
	err := r.q.QueryRow(ctx, `SELECT count(*) FROM prefix_tree pt WHERE `+eligibleWhere, int(class), cutoff).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pg: count eligible class=%d: %w", class, err)
	}
	return n, nil
}

func (r *ScheduleRepo) SampleEligible(ctx context.Context, class recommend.PriorityClass, cutoff time.Time, n int) ([]schedule.Candidate, error) {
	rows, err := r.q.Query(ctx, `
		SELECT pt.net, pt.asn FROM prefix_tree pt WHERE `+eligibleWhere+`
		ORDER BY random() LIMIT $3`, int(class), cutoff, n)
	if err != nil {
		return nil, fmt.Errorf("pg: sample eligible class=%d: %w", class, err)
	}
	defer rows.Close()

	var out []schedule.Candidate
	for rows.Next() {
		var c schedule.Candidate
		if err := rows.Scan(&c.Net, &c.ASN); err != nil {
			return nil, fmt.Errorf("pg: scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
