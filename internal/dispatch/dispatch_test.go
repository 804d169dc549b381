package dispatch

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"slotwatch/internal/diff"
	"slotwatch/internal/provider"
	"slotwatch/internal/registry"
	"slotwatch/internal/transport"
	logx "slotwatch/pkg/logx"
)

type fakeAdapter struct {
	sent []string
	to   []transport.ChatTarget
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                           { return nil }
func (f *fakeAdapter) SendText(_ context.Context, to transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.sent = append(f.sent, text)
	f.to = append(f.to, to)
	return transport.MessageRef{}, nil
}

type fakeHub struct {
	payloads [][]byte
}

func (f *fakeHub) Broadcast(_ context.Context, msg []byte) {
	f.payloads = append(f.payloads, append([]byte(nil), msg...))
}

func sec(nbr, cap, enrolled int) provider.Section {
	return provider.Section{ClassNbr: nbr, Course: "CSOPESY", Section: "S11", EnrlCap: cap, Enrolled: enrolled}
}

func TestDispatchTargetedSkipsEmpty(t *testing.T) {
	ad := &fakeAdapter{}
	d := New(ad, nil, logx.Nop())
	if err := d.DispatchTargeted(context.Background(), registry.Key{ChatID: 1, Course: "CSOPESY"}, diff.Changes{}); err != nil {
		t.Fatal(err)
	}
	if len(ad.sent) != 0 {
		t.Fatalf("empty changes produced %d messages", len(ad.sent))
	}
}

func TestDispatchTargetedFormatsOpened(t *testing.T) {
	ad := &fakeAdapter{}
	d := New(ad, nil, logx.Nop())
	ch := diff.Compute(
		diff.Build([]provider.Section{sec(101, 30, 30)}),
		diff.Build([]provider.Section{sec(101, 30, 29)}),
	)
	key := registry.Key{ChatID: 42, Course: "CSOPESY", AllSections: true}
	if err := d.DispatchTargeted(context.Background(), key, ch); err != nil {
		t.Fatal(err)
	}
	if len(ad.sent) != 1 {
		t.Fatalf("messages = %d", len(ad.sent))
	}
	if ad.to[0].ChatID != 42 {
		t.Fatalf("target chat = %d", ad.to[0].ChatID)
	}
	msg := ad.sent[0]
	if !strings.Contains(msg, "OPENED") || !strings.Contains(msg, "101") {
		t.Fatalf("message = %q", msg)
	}
}

func TestDispatchBroadcastGate(t *testing.T) {
	hub := &fakeHub{}
	d := New(&fakeAdapter{}, hub, logx.Nop())

	// All sections full, nothing opened: no broadcast.
	cur := diff.Build([]provider.Section{sec(101, 30, 30)})
	d.DispatchBroadcast(context.Background(), "CSOPESY", cur, diff.Changes{})
	if len(hub.payloads) != 0 {
		t.Fatalf("full course broadcast %d payloads", len(hub.payloads))
	}

	// A section with seats: broadcast with sorted available list.
	cur = diff.Build([]provider.Section{sec(200, 30, 10), sec(100, 30, 10)})
	d.DispatchBroadcast(context.Background(), "CSOPESY", cur, diff.Changes{})
	if len(hub.payloads) != 1 {
		t.Fatalf("payloads = %d", len(hub.payloads))
	}
	var p Payload
	if err := json.Unmarshal(hub.payloads[0], &p); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(p.Available, []int{100, 200}) {
		t.Fatalf("available = %v", p.Available)
	}
	if p.Timestamp == "" {
		t.Fatal("timestamp missing")
	}
}

func TestDispatchBroadcastSuppressesRepeats(t *testing.T) {
	hub := &fakeHub{}
	d := New(&fakeAdapter{}, hub, logx.Nop())
	cur := diff.Build([]provider.Section{sec(100, 30, 10)})

	d.DispatchBroadcast(context.Background(), "CSOPESY", cur, diff.Changes{})
	d.DispatchBroadcast(context.Background(), "CSOPESY", cur, diff.Changes{})
	if len(hub.payloads) != 1 {
		t.Fatalf("unchanged payload rebroadcast: %d", len(hub.payloads))
	}

	// An opened transition forces the broadcast even if the list matches.
	ch := diff.Compute(
		diff.Build([]provider.Section{sec(100, 30, 30)}),
		diff.Build([]provider.Section{sec(100, 30, 10)}),
	)
	d.DispatchBroadcast(context.Background(), "CSOPESY", cur, ch)
	if len(hub.payloads) != 2 {
		t.Fatalf("opened transition suppressed: %d", len(hub.payloads))
	}
}

func TestDispatchBroadcastReannounce(t *testing.T) {
	hub := &fakeHub{}
	d := New(&fakeAdapter{}, hub, logx.Nop())
	d.SetReannounce(true)
	cur := diff.Build([]provider.Section{sec(100, 30, 10)})

	d.DispatchBroadcast(context.Background(), "CSOPESY", cur, diff.Changes{})
	d.DispatchBroadcast(context.Background(), "CSOPESY", cur, diff.Changes{})
	if len(hub.payloads) != 2 {
		t.Fatalf("reannounce should repeat payloads: %d", len(hub.payloads))
	}
}

func TestSendStatusBreakdown(t *testing.T) {
	ad := &fakeAdapter{}
	d := New(ad, nil, logx.Nop())
	snap := diff.Build([]provider.Section{sec(101, 30, 30), sec(102, 30, 5)})
	if err := d.SendStatus(context.Background(), 7, "CSOPESY", snap); err != nil {
		t.Fatal(err)
	}
	if len(ad.sent) != 1 {
		t.Fatalf("messages = %d", len(ad.sent))
	}
	if !strings.Contains(ad.sent[0], "1/2 sections open") {
		t.Fatalf("message = %q", ad.sent[0])
	}
}
