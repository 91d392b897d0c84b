package analysisstore

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	begun   map[netip.Prefix]bool
	tokens  map[string]netip.Prefix
	results map[netip.Prefix]Result
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		begun:   map[netip.Prefix]bool{},
		tokens:  map[string]netip.Prefix{},
		results: map[netip.Prefix]Result{},
	}
}

func (f *fakeRepo) BeginBulk(_ context.Context, nets []netip.Prefix) error {
	for _, n := range nets {
		if f.begun[n] {
			continue
		}
		f.begun[n] = true
	}
	return nil
}

func (f *fakeRepo) AttachFollowUp(_ context.Context, treeNet netip.Prefix, token string) error {
	f.tokens[token] = treeNet
	return nil
}

func (f *fakeRepo) ByFollowUpToken(_ context.Context, token string) (netip.Prefix, error) {
	net, ok := f.tokens[token]
	if !ok {
		return netip.Prefix{}, assert.AnError
	}
	delete(f.tokens, token)
	return net, nil
}

func (f *fakeRepo) Complete(_ context.Context, treeNet netip.Prefix, result Result) error {
	f.results[treeNet] = result
	return nil
}

func (f *fakeRepo) OpenFor(_ context.Context, treeNet netip.Prefix) (bool, error) {
	return f.begun[treeNet] && f.results[treeNet] == (Result{}), nil
}

func (f *fakeRepo) Latest(_ context.Context, treeNet netip.Prefix) (*Analysis, error) {
	result, ok := f.results[treeNet]
	if !ok {
		return nil, nil
	}
	return &Analysis{TreeNet: treeNet, Result: &result}, nil
}

func TestBeginBulkIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	store := New(repo)
	net := netip.MustParsePrefix("2001:db8::/64")

	require.NoError(t, store.BeginBulk(context.Background(), []netip.Prefix{net, net}))
	assert.True(t, repo.begun[net])
}

func TestFollowUpRoundTrip(t *testing.T) {
	repo := newFakeRepo()
	store := New(repo)
	net := netip.MustParsePrefix("2001:db8::/64")

	require.NoError(t, store.AttachFollowUp(context.Background(), net, "tracerq_abc123"))
	resolved, err := store.ResolveFollowUp(context.Background(), "tracerq_abc123")
	require.NoError(t, err)
	assert.Equal(t, net, resolved)

	_, err = store.ResolveFollowUp(context.Background(), "tracerq_abc123")
	assert.Error(t, err)
}

func TestComplete(t *testing.T) {
	repo := newFakeRepo()
	store := New(repo)
	net := netip.MustParsePrefix("2001:db8::/64")
	yes := true

	require.NoError(t, store.Complete(context.Background(), net, Result{Evidence: 9, ShouldSplit: &yes}))
	assert.Equal(t, int32(9), repo.results[net].Evidence)
}
