package bot

import (
	"context"
	"log/slog"
	"strings"
	"testing"

	"slotwatch/internal/core"
	"slotwatch/internal/dispatch"
	"slotwatch/internal/provider"
	"slotwatch/internal/registry"
	"slotwatch/internal/storage"
	"slotwatch/internal/transport"
	"slotwatch/internal/watcher"
	logx "slotwatch/pkg/logx"
)

type memStore struct {
	recs map[int64]storage.SubscriberRecord
}

func (m *memStore) LoadSubscribers(context.Context) ([]storage.SubscriberRecord, error) {
	return nil, nil
}

func (m *memStore) PutSubscriber(_ context.Context, rec storage.SubscriberRecord) error {
	m.recs[rec.ChatID] = rec.Clone()
	return nil
}

func (m *memStore) DeleteSubscriber(_ context.Context, chatID int64) error {
	delete(m.recs, chatID)
	return nil
}

func (m *memStore) Close() error { return nil }

type fakeAdapter struct {
	sent []string
}

func (f *fakeAdapter) Start(context.Context, chan<- transport.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                           { return nil }
func (f *fakeAdapter) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.sent = append(f.sent, text)
	return transport.MessageRef{}, nil
}

func (f *fakeAdapter) last(t *testing.T) string {
	t.Helper()
	if len(f.sent) == 0 {
		t.Fatal("no reply sent")
	}
	return f.sent[len(f.sent)-1]
}

type fakeClient struct {
	secs []provider.Section
	err  error
}

func (c *fakeClient) Fetch(context.Context, string, string) ([]provider.Section, error) {
	return c.secs, c.err
}

type fixture struct {
	deps Deps
	ad   *fakeAdapter
	cli  *fakeClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := registry.New(&memStore{recs: map[int64]storage.SubscriberRecord{}}, logx.Nop())
	if err := reg.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	ad := &fakeAdapter{}
	cli := &fakeClient{}
	disp := dispatch.New(ad, nil, logx.Nop())
	w := watcher.New(watcher.Config{Enabled: true}, reg, cli, disp, nil)
	return &fixture{
		deps: Deps{Registry: reg, Watcher: w, Dispatcher: disp, Log: slog.Default()},
		ad:   ad,
		cli:  cli,
	}
}

func (f *fixture) req(args ...string) *core.Request {
	return &core.Request{
		Chat:    transport.ChatTarget{ChatID: 1},
		FromID:  1,
		Args:    args,
		Adapter: f.ad,
		Logger:  slog.Default(),
	}
}

func (f *fixture) run(t *testing.T, h core.HandlerFunc, args ...string) string {
	t.Helper()
	if err := h(context.Background(), f.req(args...)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return f.ad.last(t)
}

func TestStartSetidAddcourseFlow(t *testing.T) {
	f := newFixture(t)

	if got := f.run(t, f.deps.cmdStart); !strings.Contains(got, "subscribed") {
		t.Fatalf("start reply = %q", got)
	}
	if got := f.run(t, f.deps.cmdSetID, "12212345"); !strings.Contains(got, "saved") {
		t.Fatalf("setid reply = %q", got)
	}
	if got := f.run(t, f.deps.cmdAddCourse, "csopesy"); !strings.Contains(got, "CSOPESY") {
		t.Fatalf("addcourse reply = %q", got)
	}
	if got := f.run(t, f.deps.cmdPrefs); !strings.Contains(got, "CSOPESY") {
		t.Fatalf("prefs reply = %q", got)
	}
}

func TestSetidRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	f.run(t, f.deps.cmdStart)
	if got := f.run(t, f.deps.cmdSetID, "1234"); !strings.Contains(got, "8 digits") {
		t.Fatalf("reply = %q", got)
	}
	if got := f.run(t, f.deps.cmdSetID); !strings.Contains(got, "Usage") {
		t.Fatalf("reply = %q", got)
	}
}

func TestAddcourseBeforeSetidPrompts(t *testing.T) {
	f := newFixture(t)
	f.run(t, f.deps.cmdStart)
	if got := f.run(t, f.deps.cmdAddCourse, "CSOPESY"); !strings.Contains(got, "/setid") {
		t.Fatalf("reply = %q", got)
	}
}

func TestAddcourseSectionSyntax(t *testing.T) {
	f := newFixture(t)
	f.run(t, f.deps.cmdStart)
	f.run(t, f.deps.cmdSetID, "12212345")
	if got := f.run(t, f.deps.cmdAddCourse, "CSARCH2:1234"); !strings.Contains(got, "1234") {
		t.Fatalf("reply = %q", got)
	}
	if got := f.run(t, f.deps.cmdAddCourse, "CSARCH2:abc"); !strings.Contains(got, "Usage") {
		t.Fatalf("reply = %q", got)
	}
}

func TestCourseCommandReportsStatus(t *testing.T) {
	f := newFixture(t)
	f.run(t, f.deps.cmdStart)
	f.run(t, f.deps.cmdSetID, "12212345")
	f.cli.secs = []provider.Section{
		{ClassNbr: 101, Course: "CSOPESY", Section: "S11", EnrlCap: 30, Enrolled: 12},
	}
	if got := f.run(t, f.deps.cmdCourse, "CSOPESY"); !strings.Contains(got, "1/1 sections open") {
		t.Fatalf("reply = %q", got)
	}
}

func TestCourseCommandBlockedUpstream(t *testing.T) {
	f := newFixture(t)
	f.run(t, f.deps.cmdStart)
	f.run(t, f.deps.cmdSetID, "12212345")
	f.cli.err = &provider.Error{Kind: provider.KindBlocked, Op: "fetch"}
	if got := f.run(t, f.deps.cmdCourse, "CSOPESY"); !strings.Contains(got, "blocking") {
		t.Fatalf("reply = %q", got)
	}
}

func TestCheckWithNothingTracked(t *testing.T) {
	f := newFixture(t)
	f.run(t, f.deps.cmdStart)
	f.run(t, f.deps.cmdSetID, "12212345")
	if got := f.run(t, f.deps.cmdCheck); !strings.Contains(got, "Nothing to check") {
		t.Fatalf("reply = %q", got)
	}
}

func TestStopForgetsSubscriber(t *testing.T) {
	f := newFixture(t)
	f.run(t, f.deps.cmdStart)
	if got := f.run(t, f.deps.cmdStop); !strings.Contains(got, "Unsubscribed") {
		t.Fatalf("reply = %q", got)
	}
	if got := f.run(t, f.deps.cmdStop); !strings.Contains(got, "/start") {
		t.Fatalf("reply = %q", got)
	}
}
