package app

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/dkeye/Jingle/internal/domain"
)

func TestRegistryEndsCallOnce(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	reg := h.tel.Registry()
	p := h.incoming(t, aliceJID, "s1")
	call := p.Call()

	reg.Add(call)
	if reg.Len() != 1 {
		t.Fatalf("Len() = %d after duplicate Add", reg.Len())
	}
	if got, ok := reg.FindByCallID(call.ID); !ok || got != call {
		t.Fatalf("FindByCallID() = %v, %v", got, ok)
	}
	h.drain()

	if err := h.tel.Hangup(context.Background(), p, HangupNormal); err != nil {
		t.Fatalf("Hangup() error = %v", err)
	}
	if reg.remove(call.ID) {
		t.Error("second remove reported success")
	}
	ended := 0
	for _, e := range h.drain() {
		if e.Kind == EventCallEnded {
			ended++
		}
	}
	if ended != 1 {
		t.Errorf("call-ended published %d times", ended)
	}
	if _, ok := reg.FindBySessionID("s1"); ok {
		t.Error("ended session still found")
	}
}

func TestRegistryLookups(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	reg := h.tel.Registry()
	_, p, err := h.tel.CreateCall(context.Background(), "alice@example.com", false)
	if err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	waitFor(t, "offer", func() bool { return p.InitiatingMessageID() != "" })

	if got, ok := reg.FindByInitiatingMessageID(p.InitiatingMessageID()); !ok || got != p {
		t.Errorf("FindByInitiatingMessageID() = %v, %v", got, ok)
	}
	if _, ok := reg.FindByInitiatingMessageID(""); ok {
		t.Error("empty id matched")
	}
	if got, ok := reg.FindBySessionID(p.SID()); !ok || got != p {
		t.Errorf("FindBySessionID() = %v, %v", got, ok)
	}

	snap := reg.Snapshot()
	if len(snap) != 1 || len(snap[0].Peers) != 1 || snap[0].Peers[0].Remote != aliceJID || !snap[0].Peers[0].Initiator {
		t.Errorf("Snapshot() = %+v", snap)
	}
}

func TestCallSecondPeerIsNotAnnounced(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	p := h.connected(t, aliceJID, "s1")
	call := p.Call()

	st := offerFrom(carolJID, "s2", audioContents())
	st.Jingle.CallID = call.ID
	h.drain()
	h.deliver(st)

	if call.PeerCount() != 2 {
		t.Fatalf("PeerCount() = %d", call.PeerCount())
	}
	got := kinds(h.drain())
	if slices.Contains(got, EventCallCreated) || !slices.Contains(got, EventPeerAdded) {
		t.Errorf("events = %v", got)
	}

	h.deliver(terminate("s1", aliceJID))
	if call.Ended() {
		t.Error("call ended with a peer left")
	}
	h.deliver(terminate("s2", carolJID))
	if !call.Ended() || h.tel.Registry().Len() != 0 {
		t.Error("call outlived its last peer")
	}
}

func TestPolicies(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	reg := h.tel.Registry()
	p := h.incoming(t, aliceJID, "s1")

	if got := (ManualPolicy{}).OnIncoming(reg, p.Call(), p); got != Ring {
		t.Errorf("ManualPolicy = %s", got)
	}
	if got := (SingleCallPolicy{Next: AutoAnswerPolicy{}}).OnIncoming(reg, p.Call(), p); got != AutoAnswer {
		t.Errorf("SingleCallPolicy idle = %s", got)
	}

	other := h.connected(t, carolJID, "s2")
	if other.State() != domain.StateConnected {
		t.Fatalf("state = %s", other.State())
	}
	if got := (SingleCallPolicy{}).OnIncoming(reg, p.Call(), p); got != RejectBusy {
		t.Errorf("SingleCallPolicy busy = %s", got)
	}
}

func TestRegistryConcurrentAddRemove(t *testing.T) {
	const n = 64
	events := NewEventBus(2 * n)
	reg := NewRegistry(events)

	calls := make([]*Call, n)
	for i := range calls {
		calls[i] = newCall(events)
	}

	stop := make(chan struct{})
	var readers sync.WaitGroup
	for range 4 {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, c := range reg.ActiveCalls() {
					if c == nil {
						t.Error("ActiveCalls() returned a nil call")
						return
					}
					reg.FindByCallID(c.ID)
				}
				reg.FindBySessionID("none")
				reg.Snapshot()
			}
		}()
	}

	var removed atomic.Int32
	var writers sync.WaitGroup
	for _, c := range calls {
		writers.Add(1)
		go func() {
			defer writers.Done()
			reg.Add(c)
			var twice sync.WaitGroup
			for range 2 {
				twice.Add(1)
				go func() {
					defer twice.Done()
					if reg.remove(c.ID) {
						removed.Add(1)
					}
				}()
			}
			twice.Wait()
		}()
	}
	writers.Wait()
	close(stop)
	readers.Wait()

	if got := removed.Load(); got != n {
		t.Errorf("successful removes = %d, want %d", got, n)
	}
	if reg.Len() != 0 {
		t.Errorf("Len() = %d after removing every call", reg.Len())
	}
	events.Close()
	ended := 0
	for e := range events.Events() {
		if e.Kind == EventCallEnded {
			ended++
		}
	}
	if ended != n {
		t.Errorf("call-ended published %d times, want %d", ended, n)
	}
}
