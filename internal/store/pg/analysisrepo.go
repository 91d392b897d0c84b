package pg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/hexmap/aggregator/internal/recommend"
	"github.com/hexmap/aggregator/internal/store/analysisstore"
)

// AnalysisRepo implements analysisstore.Repository against the
// split_analysis table.
type AnalysisRepo struct {
	q   querier
	log *zap.Logger
}

var _ analysisstore.Repository = (*AnalysisRepo)(nil)

func (r *AnalysisRepo) BeginBulk(ctx context.Context, nets []netip.Prefix) error {
	for _, net := range nets {
		_, err := r.q.Exec(ctx, `
			INSERT INTO split_analysis (id, tree_net, created_at)
			SELECT gen_random_uuid()::text, $1, now()
			WHERE NOT EXISTS (
				SELECT 1 FROM split_analysis WHERE tree_net = $1 AND completed_at IS NULL
			)`, net)
		if err != nil {
			return fmt.Errorf("pg: begin analysis for %s: %w", net, err)
		}
	}
	return nil
}

func (r *AnalysisRepo) AttachFollowUp(ctx context.Context, treeNet netip.Prefix, token string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE split_analysis SET pending_follow_up = $2
		WHERE tree_net = $1 AND completed_at IS NULL`, treeNet, token)
	if err != nil {
		return fmt.Errorf("pg: attach follow-up %s: %w", treeNet, err)
	}
	return nil
}

func (r *AnalysisRepo) ByFollowUpToken(ctx context.Context, token string) (netip.Prefix, error) {
	var net netip.Prefix
	err := r.q.QueryRow(ctx, `
		UPDATE split_analysis SET pending_follow_up = NULL
		WHERE pending_follow_up = $1 AND completed_at IS NULL
		RETURNING tree_net`, token).Scan(&net)
	if errors.Is(err, pgx.ErrNoRows) {
		return netip.Prefix{}, fmt.Errorf("pg: no analysis pending follow-up %s", token)
	}
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("pg: resolve follow-up %s: %w", token, err)
	}
	return net, nil
}

func (r *AnalysisRepo) Complete(ctx context.Context, treeNet netip.Prefix, result analysisstore.Result) error {
	payload, err := json.Marshal(resultDTO{
		Class:       int(result.Class),
		Evidence:    result.Evidence,
		ShouldSplit: result.ShouldSplit,
		AlgoVersion: result.AlgoVersion,
	})
	if err != nil {
		return fmt.Errorf("pg: marshal result for %s: %w", treeNet, err)
	}

	_, err = r.q.Exec(ctx, `
		UPDATE split_analysis SET result = $2, completed_at = now()
		WHERE tree_net = $1 AND completed_at IS NULL`, treeNet, payload)
	if err != nil {
		return fmt.Errorf("pg: complete analysis %s: %w", treeNet, err)
	}
	return nil
}

func (r *AnalysisRepo) OpenFor(ctx context.Context, treeNet netip.Prefix) (bool, error) {
	var open bool
	err := r.q.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM split_analysis WHERE tree_net = $1 AND completed_at IS NULL)`,
		treeNet).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("pg: open-analysis check %s: %w", treeNet, err)
	}
	return open, nil
}

func (r *AnalysisRepo) Latest(ctx context.Context, treeNet netip.Prefix) (*analysisstore.Analysis, error) {
	var (
		a           analysisstore.Analysis
		pending     *string
		resultBytes []byte
	)
	err := r.q.QueryRow(ctx, `
		SELECT id, tree_net, created_at, completed_at, pending_follow_up, result
		FROM split_analysis WHERE tree_net = $1
		ORDER BY created_at DESC LIMIT 1`, treeNet).
		Scan(&a.ID, &a.TreeNet, &a.CreatedAt, &a.CompletedAt, &pending, &resultBytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pg: latest analysis for %s: %w", treeNet, err)
	}
	if pending != nil {
		a.PendingFollowUp = *pending
	}
	if len(resultBytes) > 0 {
		var dto resultDTO
		if err := json.Unmarshal(resultBytes, &dto); err != nil {
			return nil, fmt.Errorf("pg: unmarshal result for %s: %w", treeNet, err)
		}
		a.Result = &analysisstore.Result{
			Class:       recommend.PriorityClass(dto.Class),
			Evidence:    dto.Evidence,
			ShouldSplit: dto.ShouldSplit,
			AlgoVersion: dto.AlgoVersion,
		}
	}
	return &a, nil
}

type resultDTO struct {
	Class       int   `json:"class"`
	Evidence    int32 `json:"evidence"`
	ShouldSplit *bool `json:"should_split,omitempty"`
	AlgoVersion int32 `json:"algo_version"`
}
