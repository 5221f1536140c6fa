package negotiate

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/harvest"
	"github.com/pion/stun/v3"
)

type fakeHarvester struct {
	name    string
	contrib *harvest.Contribution
	err     error
	// hang blocks until the harvest context ends.
	hang bool
}

func (f fakeHarvester) Name() string { return f.name }

func (f fakeHarvester) Harvest(ctx context.Context, _ []string) (*harvest.Contribution, error) {
	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.contrib, f.err
}

func TestRunHarvestersSkipsFailures(t *testing.T) {
	uri, err := stun.ParseURI("stun:stun.example.com:3478")
	if err != nil {
		t.Fatalf("ParseURI() error = %v", err)
	}
	hs := []harvest.Harvester{
		fakeHarvester{name: "broken", err: errors.New("no route")},
		fakeHarvester{name: "slow", hang: true},
		fakeHarvester{name: "stun", contrib: &harvest.Contribution{Source: "stun", URLs: []*stun.URI{uri}}},
		fakeHarvester{name: "host", contrib: &harvest.Contribution{Source: "host", IPs: []net.IP{loopback}}},
	}

	start := time.Now()
	got := runHarvesters(context.Background(), "sid1", hs, []string{"audio"}, 100*time.Millisecond)
	if took := time.Since(start); took > time.Second {
		t.Errorf("runHarvesters() took %v, want the harvest timeout to bound it", took)
	}
	if len(got.URLs) != 1 || got.URLs[0] != uri {
		t.Errorf("URLs = %v, want the stun server only", got.URLs)
	}
	if len(got.IPs) != 1 || !got.IPs[0].Equal(loopback) {
		t.Errorf("IPs = %v, want loopback", got.IPs)
	}
}

func TestRunHarvestersAllFailing(t *testing.T) {
	hs := []harvest.Harvester{
		fakeHarvester{name: "a", err: errors.New("down")},
		fakeHarvester{name: "b", hang: true},
	}
	got := runHarvesters(context.Background(), "sid2", hs, []string{"audio"}, 50*time.Millisecond)
	if got == nil {
		t.Fatal("runHarvesters() = nil, want an empty contribution")
	}
	if len(got.URLs) != 0 || len(got.IPs) != 0 || got.UDPMux != nil {
		t.Errorf("runHarvesters() = %+v, want nothing contributed", got)
	}
}

func TestSortCandidates(t *testing.T) {
	cands := []domain.Candidate{
		{Component: domain.ComponentRTCP, Type: domain.CandidateHost, Port: 1},
		{Component: domain.ComponentRTP, Type: domain.CandidateRelayed, Port: 2},
		{Component: domain.ComponentRTP, Type: domain.CandidateHost, Priority: 10, Port: 3},
		{Component: domain.ComponentRTP, Type: domain.CandidateHost, Priority: 20, Port: 4},
		{Component: domain.ComponentRTP, Type: domain.CandidateServerReflexive, Port: 5},
	}
	sortCandidates(cands)
	want := []int{4, 3, 5, 2, 1}
	for i, c := range cands {
		if c.Port != want[i] {
			t.Fatalf("order = %v, want ports %v", cands, want)
		}
	}
}

func TestMergeCandidates(t *testing.T) {
	a := domain.Candidate{Component: domain.ComponentRTP, Address: "10.0.0.1", Port: 1}
	b := domain.Candidate{Component: domain.ComponentRTP, Address: "10.0.0.1", Port: 2}
	dst := []domain.Candidate{a}
	added := mergeCandidates(&dst, []domain.Candidate{a, b, b})
	if len(added) != 1 || len(dst) != 2 {
		t.Errorf("added = %d, dst = %d; want 1 and 2", len(added), len(dst))
	}
}

func TestHasAllComponents(t *testing.T) {
	rtp := domain.Candidate{Component: domain.ComponentRTP}
	rtcp := domain.Candidate{Component: domain.ComponentRTCP}
	tests := []struct {
		name   string
		names  []string
		remote map[string][]domain.Candidate
		want   bool
	}{
		{"none", nil, nil, false},
		{"complete", []string{"audio"}, map[string][]domain.Candidate{"audio": {rtp, rtcp}}, true},
		{"missing rtcp", []string{"audio"}, map[string][]domain.Candidate{"audio": {rtp}}, false},
		{"missing content", []string{"audio", "video"}, map[string][]domain.Candidate{"audio": {rtp, rtcp}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasAllComponents(tt.names, tt.remote); got != tt.want {
				t.Errorf("hasAllComponents() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestComponentUfrag(t *testing.T) {
	if got := componentUfrag("abcd", domain.ComponentRTP); got != "abcd" {
		t.Errorf("rtp = %q", got)
	}
	if got := componentUfrag("abcd", domain.ComponentRTCP); got != "abcd2" {
		t.Errorf("rtcp = %q", got)
	}
	if got := componentUfrag("", domain.ComponentRTCP); got != "" {
		t.Errorf("empty = %q", got)
	}
}

func TestNewCredentials(t *testing.T) {
	u, p := newCredentials()
	if len(u) != 8 || len(p) != 32 {
		t.Errorf("newCredentials() = %q/%q", u, p)
	}
}
