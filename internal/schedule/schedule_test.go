package schedule

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hexmap/aggregator/internal/queuemsg"
	"github.com/hexmap/aggregator/internal/recommend"
)

type fakeRepo struct {
	counts  map[recommend.PriorityClass]int
	samples map[recommend.PriorityClass][]Candidate
}

func (r *fakeRepo) CountEligible(_ context.Context, class recommend.PriorityClass, _ time.Time) (int, error) {
	return r.counts[class], nil
}

func (r *fakeRepo) SampleEligible(_ context.Context, class recommend.PriorityClass, _ time.Time, n int) ([]Candidate, error) {
	all := r.samples[class]
	if n > len(all) {
		n = len(all)
	}
	return all[:n], nil
}

type fakeAnalysis struct {
	begun []netip.Prefix
}

func (a *fakeAnalysis) BeginBulk(_ context.Context, nets []netip.Prefix) error {
	a.begun = append(a.begun, nets...)
	return nil
}

type fakePublisher struct {
	published []netip.Prefix
}

func (p *fakePublisher) PublishEcho(_ context.Context, req queuemsg.EchoProbeRequest) error {
	p.published = append(p.published, req.TargetNet)
	return nil
}

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	require.NoError(t, err)
	return p
}

func TestAllocateRespectsBudgetAndAvailability(t *testing.T) {
	s := &Scheduler{budget: 10, randIntn: func(n int) int { return 0 }}
	available := map[recommend.PriorityClass]int{
		recommend.HighFresh: 3,
	}
	allocated := s.allocate(available)
	assert.Equal(t, 3, allocated[recommend.HighFresh], "only 3 were available even though budget was 10")
}

func TestAllocateStopsWhenAllExhausted(t *testing.T) {
	s := &Scheduler{budget: 100, randIntn: func(n int) int { return 0 }}
	allocated := s.allocate(map[recommend.PriorityClass]int{})
	assert.Empty(t, allocated)
}

func TestAllocateSpendsFullBudgetAcrossClasses(t *testing.T) {
	s := &Scheduler{budget: 5, randIntn: func(n int) int { return n - 1 }} // always picks the last class in weight order
	available := map[recommend.PriorityClass]int{
		recommend.HighFresh:  10,
		recommend.LowUnknown: 10,
	}
	allocated := s.allocate(available)
	total := 0
	for _, n := range allocated {
		total += n
	}
	assert.Equal(t, 5, total)
}

func TestApplyASCapSuppressesOverflow(t *testing.T) {
	s := &Scheduler{maxPerAS: 1}
	candidates := []Candidate{
		{Net: mustPrefix(t, "2001:db8:1::/64"), ASN: 100},
		{Net: mustPrefix(t, "2001:db8:2::/64"), ASN: 100},
		{Net: mustPrefix(t, "2001:db8:3::/64"), ASN: 200},
	}
	kept := s.applyASCap(candidates)
	require.Len(t, kept, 2)
	assert.Equal(t, int64(100), kept[0].ASN)
	assert.Equal(t, int64(200), kept[1].ASN)
}

func TestTickEndToEnd(t *testing.T) {
	net := mustPrefix(t, "2001:db8::/56")
	repo := &fakeRepo{
		counts: map[recommend.PriorityClass]int{recommend.HighFresh: 1},
		samples: map[recommend.PriorityClass][]Candidate{
			recommend.HighFresh: {{Net: net, ASN: 42}},
		},
	}
	analysis := &fakeAnalysis{}
	pub := &fakePublisher{}

	s := New(repo, analysis, pub, zap.NewNop(), nil, 10, 5)
	s.randIntn = func(n int) int { return 0 }

	err := s.Tick(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []netip.Prefix{net}, analysis.begun)
	assert.Equal(t, []netip.Prefix{net}, pub.published)
}

func TestTickWithNoEligibleNetsIsANoop(t *testing.T) {
	repo := &fakeRepo{counts: map[recommend.PriorityClass]int{}}
	analysis := &fakeAnalysis{}
	pub := &fakePublisher{}

	s := New(repo, analysis, pub, zap.NewNop(), nil, 10, 5)
	err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, analysis.begun)
	assert.Empty(t, pub.published)
}
