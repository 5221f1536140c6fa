package relaynode

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Jingle/internal/domain"
	"github.com/dkeye/Jingle/internal/jingle"
)

type fakeDirectory struct {
	mu      sync.Mutex
	items   map[domain.JID][]jingle.ServiceItem
	queries map[domain.JID]int
	gate    chan struct{}
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		items:   make(map[domain.JID][]jingle.ServiceItem),
		queries: make(map[domain.JID]int),
	}
}

func (f *fakeDirectory) Services(ctx context.Context, node domain.JID) ([]jingle.ServiceItem, error) {
	f.mu.Lock()
	f.queries[node]++
	items, ok := f.items[node]
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if !ok {
		return nil, errors.New("item-not-found")
	}
	return items, nil
}

func (f *fakeDirectory) count(node domain.JID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries[node]
}

func relay(j domain.JID) jingle.ServiceItem {
	return jingle.ServiceItem{JID: j, Kind: jingle.ServiceRelay, Policy: jingle.PolicyPublic, Protocol: "udp"}
}

func tracker(j domain.JID) jingle.ServiceItem {
	return jingle.ServiceItem{JID: j, Kind: jingle.ServiceTracker, Policy: jingle.PolicyPublic, Protocol: "udp"}
}

type fakeRoster struct{ online []domain.JID }

func (r fakeRoster) Contains(domain.JID) bool                     { return true }
func (r fakeRoster) OnlineContacts() []domain.JID                 { return r.online }
func (r fakeRoster) BestResource(b domain.JID) (domain.JID, bool) { return b, true }

func TestDiscoveryPrefixStopOnFirst(t *testing.T) {
	dir := newFakeDirectory()
	dir.items["example.com"] = []jingle.ServiceItem{
		tracker("other.example.com"),
		relay("relay.example.com"),
	}
	dir.items["relay.example.com"] = nil
	dir.items["other.example.com"] = []jingle.ServiceItem{relay("far.example.net")}

	d := NewDiscovery(DiscoveryConfig{
		Self:         "alice@example.com/home",
		Server:       "example.com",
		Prefixes:     []string{"relay"},
		StopOnFirst:  true,
		AutoDiscover: true,
		Timeout:      time.Second,
	}, dir, nil, nil)

	node, err := d.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	best, ok := node.PreferredRelay()
	if !ok {
		t.Fatal("PreferredRelay() found nothing")
	}
	if best.JID != "relay.example.com" {
		t.Errorf("PreferredRelay() = %s, want relay.example.com", best.JID)
	}
	if n := dir.count("other.example.com"); n != 0 {
		t.Errorf("other.example.com queried %d times, want 0", n)
	}
	if n := dir.count("relay.example.com"); n != 1 {
		t.Errorf("relay.example.com queried %d times, want 1", n)
	}
}

func TestDiscoveryStopOnFirstSkipsBuddies(t *testing.T) {
	dir := newFakeDirectory()
	dir.items["example.com"] = []jingle.ServiceItem{relay("relay.example.com")}
	dir.items["bob@example.com/pc"] = []jingle.ServiceItem{relay("bobrelay.example.net")}

	d := NewDiscovery(DiscoveryConfig{
		Self:          "alice@example.com/home",
		Server:        "example.com",
		Prefixes:      []string{"relay"},
		StopOnFirst:   true,
		AutoDiscover:  true,
		SearchBuddies: true,
		Timeout:       time.Second,
	}, dir, fakeRoster{online: []domain.JID{"bob@example.com/pc"}}, nil)

	node, err := d.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	relays := node.Relays()
	if len(relays) != 1 || relays[0].JID != "relay.example.com" {
		t.Errorf("Relays() = %v, want only relay.example.com", relays)
	}
	if n := dir.count("bob@example.com/pc"); n != 0 {
		t.Errorf("buddy queried %d times, want 0", n)
	}
	if n := dir.count("example.com"); n != 1 {
		t.Errorf("server queried %d times, want 1", n)
	}
}

func TestDiscoveryExhaustive(t *testing.T) {
	dir := newFakeDirectory()
	dir.items["example.com"] = []jingle.ServiceItem{
		tracker("other.example.com"),
		relay("relay.example.com"),
	}
	dir.items["relay.example.com"] = nil
	dir.items["other.example.com"] = []jingle.ServiceItem{relay("far.example.net")}

	d := NewDiscovery(DiscoveryConfig{
		Server:       "example.com",
		Prefixes:     []string{"relay"},
		AutoDiscover: true,
		Timeout:      time.Second,
	}, dir, nil, nil)

	node, err := d.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	relays := node.Relays()
	if len(relays) != 2 {
		t.Fatalf("Relays() = %v, want 2 entries", relays)
	}
	if relays[0].JID != "relay.example.com" {
		t.Errorf("Relays()[0] = %s, want prefix match first", relays[0].JID)
	}
}

func TestDiscoveryVisitedOnce(t *testing.T) {
	dir := newFakeDirectory()
	dir.items["t1.example.com"] = []jingle.ServiceItem{tracker("t2.example.com"), relay("r1.example.com")}
	dir.items["t2.example.com"] = []jingle.ServiceItem{tracker("t1.example.com"), relay("r2.example.com")}

	d := NewDiscovery(DiscoveryConfig{
		Trackers: []TrackerEntry{{JID: "t1.example.com", Kind: jingle.ServiceTracker, Protocol: "udp"}},
		MaxDepth: 3,
		Timeout:  time.Second,
	}, dir, nil, nil)

	node, err := d.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	for _, j := range []domain.JID{"t1.example.com", "t2.example.com"} {
		if n := dir.count(j); n != 1 {
			t.Errorf("%s queried %d times, want 1", j, n)
		}
	}
	if got := node.RelayCount(); got != 2 {
		t.Errorf("RelayCount() = %d, want 2", got)
	}
}

func TestDiscoveryDepthBound(t *testing.T) {
	dir := newFakeDirectory()
	chain := []domain.JID{"t1.example.com", "t2.example.com", "t3.example.com", "t4.example.com"}
	for i := 0; i < len(chain)-1; i++ {
		dir.items[chain[i]] = []jingle.ServiceItem{tracker(chain[i+1])}
	}
	dir.items[chain[len(chain)-1]] = []jingle.ServiceItem{relay("deep.example.com")}

	d := NewDiscovery(DiscoveryConfig{
		Trackers: []TrackerEntry{{JID: chain[0], Kind: jingle.ServiceTracker, Protocol: "udp"}},
		MaxDepth: 3,
		Timeout:  time.Second,
	}, dir, nil, nil)

	node, err := d.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if n := dir.count("t3.example.com"); n != 1 {
		t.Errorf("t3 queried %d times, want 1", n)
	}
	if n := dir.count("t4.example.com"); n != 0 {
		t.Errorf("t4 queried %d times beyond max depth", n)
	}
	if node.RelayCount() != 0 {
		t.Errorf("RelayCount() = %d, want 0", node.RelayCount())
	}
}

func TestDiscoverySearchNodeBudget(t *testing.T) {
	dir := newFakeDirectory()
	var online []domain.JID
	for _, j := range []domain.JID{"a@x/r", "b@x/r", "c@x/r", "d@x/r"} {
		online = append(online, j)
		dir.items[j] = []jingle.ServiceItem{relay(j.Bare() + ".relay")}
	}
	dir.items["x"] = nil

	d := NewDiscovery(DiscoveryConfig{
		Server:         "x",
		AutoDiscover:   true,
		SearchBuddies:  true,
		MaxSearchNodes: 3,
		Timeout:        time.Second,
	}, dir, fakeRoster{online: online}, nil)

	node, err := d.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if got := node.RelayCount(); got != 2 {
		t.Errorf("RelayCount() = %d, want 2 (server plus two contacts)", got)
	}
}

func TestDiscoveryConcurrentSweepsCollapse(t *testing.T) {
	dir := newFakeDirectory()
	dir.items["example.com"] = []jingle.ServiceItem{relay("relay.example.com")}
	dir.items["relay.example.com"] = nil
	dir.gate = make(chan struct{})

	d := NewDiscovery(DiscoveryConfig{
		Server:       "example.com",
		AutoDiscover: true,
		Timeout:      time.Second,
	}, dir, nil, nil)

	var wg sync.WaitGroup
	nodes := make([]*ServiceNode, 2)
	for i := range nodes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := d.Sweep(context.Background())
			if err != nil {
				t.Errorf("Sweep() error = %v", err)
			}
			nodes[i] = n
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(dir.gate)
	wg.Wait()

	if n := dir.count("example.com"); n != 1 {
		t.Errorf("server queried %d times, want 1", n)
	}
	if nodes[0] != nodes[1] {
		t.Error("concurrent sweeps returned different nodes")
	}
}

func TestDiscoveryClosed(t *testing.T) {
	d := NewDiscovery(DiscoveryConfig{Timeout: time.Second}, newFakeDirectory(), nil, nil)
	d.Close()
	if _, err := d.ServiceNode(context.Background()); !errors.Is(err, ErrDiscoveryClosed) {
		t.Errorf("ServiceNode() error = %v, want ErrDiscoveryClosed", err)
	}
}

type fakeLAN struct{ entries []TrackerEntry }

func (f fakeLAN) Browse(context.Context) ([]TrackerEntry, error) { return f.entries, nil }

func TestDiscoveryLANRanksBelowTrackers(t *testing.T) {
	lan := fakeLAN{entries: []TrackerEntry{{JID: "lan.local", Kind: jingle.ServiceRelay, Protocol: "udp"}}}
	d := NewDiscovery(DiscoveryConfig{
		Trackers: []TrackerEntry{{JID: "configured.example.com", Kind: jingle.ServiceRelay, Protocol: "udp"}},
		Timeout:  time.Second,
	}, newFakeDirectory(), nil, lan)

	node, err := d.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	relays := node.Relays()
	if len(relays) != 2 || relays[0].JID != "configured.example.com" {
		t.Errorf("Relays() = %v, want configured relay first", relays)
	}
}

func TestServiceNodeKeepsBestPriority(t *testing.T) {
	n := NewServiceNode()
	n.Add(TrackerEntry{JID: "a", Kind: jingle.ServiceRelay, Priority: 2})
	n.Add(TrackerEntry{JID: "b", Kind: jingle.ServiceRelay, Priority: 1})
	if n.Add(TrackerEntry{JID: "a", Kind: jingle.ServiceRelay, Priority: 0}) {
		t.Error("add() reported a known JID as new")
	}
	relays := n.Relays()
	if len(relays) != 2 {
		t.Fatalf("Relays() = %v, want 2", relays)
	}
	if relays[0].JID != "a" || relays[0].Priority != 0 {
		t.Errorf("Relays()[0] = %+v, want a with priority 0", relays[0])
	}
}
