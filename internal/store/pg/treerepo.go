package pg

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/hexmap/aggregator/internal/recommend"
	"github.com/hexmap/aggregator/internal/store/treestore"
)

// TreeRepo implements treestore.Repository against the prefix_tree table.
type TreeRepo struct {
	q   querier
	log *zap.Logger
}

var _ treestore.Repository = (*TreeRepo)(nil)

func (r *TreeRepo) Get(ctx context.Context, net netip.Prefix) (*treestore.Node, error) {
	row := r.q.QueryRow(ctx, `
		SELECT net, created_at, updated_at, merge_status, priority_class, confidence, lhr_set_hash, asn
		FROM prefix_tree WHERE net = $1`, net)
	return scanNode(row)
}

func (r *TreeRepo) Sibling(ctx context.Context, net netip.Prefix) (*treestore.Node, error) {
	sibling, err := siblingNet(net)
	if err != nil {
		return nil, err
	}
	n, err := r.Get(ctx, sibling)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

func (r *TreeRepo) Parent(ctx context.Context, net netip.Prefix) (*treestore.Node, error) {
	parent, err := parentNet(net)
	if err != nil {
		return nil, err
	}
	n, err := r.Get(ctx, parent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return n, err
}

func (r *TreeRepo) Insert(ctx context.Context, n *treestore.Node) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO prefix_tree (net, created_at, updated_at, merge_status, priority_class, confidence, lhr_set_hash, asn)
		VALUES ($1, now(), now(), $2, $3, $4, $5, $6)
		ON CONFLICT (net) DO NOTHING`,
		n.Net, n.MergeStatus.String(), int(n.PriorityClass), n.Confidence, n.LhrSetHash, n.ASN)
	if err != nil {
		return fmt.Errorf("pg: insert prefix_tree %s: %w", n.Net, err)
	}
	return nil
}

func (r *TreeRepo) UpdateClassification(ctx context.Context, net netip.Prefix, class recommend.PriorityClass, confidence uint8, hash uuid.UUID) error {
	_, err := r.q.Exec(ctx, `
		UPDATE prefix_tree SET priority_class = $2, confidence = $3, lhr_set_hash = $4, updated_at = now()
		WHERE net = $1`, net, int(class), confidence, hash)
	if err != nil {
		return fmt.Errorf("pg: classify %s: %w", net, err)
	}
	return nil
}

func (r *TreeRepo) UpdateStatus(ctx context.Context, net netip.Prefix, status treestore.MergeStatus) error {
	_, err := r.q.Exec(ctx, `
		UPDATE prefix_tree SET merge_status = $2, updated_at = now() WHERE net = $1`, net, status.String())
	if err != nil {
		return fmt.Errorf("pg: update status %s: %w", net, err)
	}
	return nil
}

func (r *TreeRepo) UpdateStatusAndClass(ctx context.Context, net netip.Prefix, status treestore.MergeStatus, class recommend.PriorityClass, confidence uint8) error {
	_, err := r.q.Exec(ctx, `
		UPDATE prefix_tree SET merge_status = $2, priority_class = $3, confidence = $4, updated_at = now()
		WHERE net = $1`, net, status.String(), int(class), confidence)
	if err != nil {
		return fmt.Errorf("pg: update status+class %s: %w", net, err)
	}
	return nil
}

func scanNode(row pgx.Row) (*treestore.Node, error) {
	var n treestore.Node
	var status string
	var class int
	if err := row.Scan(&n.Net, &n.CreatedAt, &n.UpdatedAt, &status, &class, &n.Confidence, &n.LhrSetHash, &n.ASN); err != nil {
		return nil, err
	}
	n.MergeStatus = parseMergeStatus(status)
	n.PriorityClass = recommend.PriorityClass(class)
	return &n, nil
}

func parseMergeStatus(s string) treestore.MergeStatus {
	for _, st := range []treestore.MergeStatus{
		treestore.Leaf, treestore.MinSizeReached, treestore.SplitDown, treestore.MergedUp,
		treestore.UnsplitRoot, treestore.SplitRoot, treestore.Blocked,
	} {
		if st.String() == s {
			return st
		}
	}
	return treestore.Leaf
}

// siblingNet flips the last bit of net's prefix to find its sibling
// under the same parent (only meaningful for net.Bits() > 0).
func siblingNet(net netip.Prefix) (netip.Prefix, error) {
	if net.Bits() == 0 {
		return netip.Prefix{}, fmt.Errorf("pg: root net %s has no sibling", net)
	}
	bytes := net.Addr().As16()
	bitIdx := net.Bits() - 1
	bytes[bitIdx/8] ^= 1 << (7 - uint(bitIdx%8))
	addr := netip.AddrFrom16(bytes)
	return addr.Prefix(net.Bits())
}

// parentNet is net with its prefix length shortened by one.
func parentNet(net netip.Prefix) (netip.Prefix, error) {
	if net.Bits() == 0 {
		return netip.Prefix{}, fmt.Errorf("pg: root net %s has no parent", net)
	}
	return net.Addr().Prefix(net.Bits() - 1)
}
