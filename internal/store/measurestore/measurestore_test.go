package measurestore

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hexmap/aggregator/internal/measure"
	"github.com/hexmap/aggregator/internal/net64"
)

type fakeRepo struct {
	upserted []netip.Prefix
	loaded   map[netip.Prefix][]*measure.Tree
	stored   map[netip.Prefix]*measure.Tree
}

func (f *fakeRepo) Get(_ context.Context, net netip.Prefix) (*measure.Tree, error) {
	return f.stored[net], nil
}

func (f *fakeRepo) Upsert(_ context.Context, tree *measure.Tree) error {
	f.upserted = append(f.upserted, tree.TargetNet)
	if f.stored == nil {
		f.stored = map[netip.Prefix]*measure.Tree{}
	}
	f.stored[tree.TargetNet] = tree
	return nil
}

func (f *fakeRepo) LoadContained(_ context.Context, parent netip.Prefix) ([]*measure.Tree, error) {
	return f.loaded[parent], nil
}

func TestPersistTouchedSkipsUntouched(t *testing.T) {
	net := netip.MustParsePrefix("2001:db8::/64")
	seed, err := measure.WithUntouched([]*measure.Tree{measure.Empty(net)})
	require.NoError(t, err)

	repo := &fakeRepo{}
	store := New(repo)
	require.NoError(t, store.PersistTouched(context.Background(), seed))
	assert.Empty(t, repo.upserted)

	require.NoError(t, seed.Insert(measure.Empty(net)))
	require.NoError(t, store.PersistTouched(context.Background(), seed))
	assert.Equal(t, []netip.Prefix{net}, repo.upserted)
}

func TestMergeDeltasCreatesThenAccumulates(t *testing.T) {
	repo := &fakeRepo{}
	store := New(repo)
	net := netip.MustParsePrefix("2001:db8::/64")

	deltas := net64.New[*measure.Tree]()
	key, err := net64.KeyForNet(net)
	require.NoError(t, err)
	delta := measure.Empty(net)
	delta.ResponsiveCount = 3
	deltas.Set(key, delta)
	require.NoError(t, store.MergeDeltas(context.Background(), deltas))
	assert.Equal(t, int32(3), repo.stored[net].ResponsiveCount)

	deltas2 := net64.New[*measure.Tree]()
	delta2 := measure.Empty(net)
	delta2.ResponsiveCount = 5
	deltas2.Set(key, delta2)
	require.NoError(t, store.MergeDeltas(context.Background(), deltas2))
	assert.Equal(t, int32(8), repo.stored[net].ResponsiveCount)
}

func TestLoadUnderDelegates(t *testing.T) {
	parent := netip.MustParsePrefix("2001:db8::/48")
	child := measure.Empty(netip.MustParsePrefix("2001:db8::/64"))
	repo := &fakeRepo{loaded: map[netip.Prefix][]*measure.Tree{parent: {child}}}
	store := New(repo)

	got, err := store.LoadUnder(context.Background(), parent)
	require.NoError(t, err)
	assert.Equal(t, []*measure.Tree{child}, got)
}
