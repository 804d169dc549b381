// Package watcher runs the periodic availability sweep: fetch every
// tracked course, diff against the stored baseline, and hand changes to
// the dispatcher.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"slotwatch/internal/diff"
	"slotwatch/internal/dispatch"
	"slotwatch/internal/provider"
	"slotwatch/internal/registry"
)

type Config struct {
	Enabled      bool
	Interval     time.Duration
	FetchTimeout time.Duration
	MaxInFlight  int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Minute
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 4
	}
	return c
}

// fetchGroup identifies one upstream request. Keys sharing a course and
// credential are served by a single fetch per sweep.
type fetchGroup struct {
	course     string
	credential string
}

// blockKey identifies one chat's view of one course's blocked episode.
type blockKey struct {
	chatID int64
	course string
}

type Watcher struct {
	cfg    Config
	reg    *registry.Registry
	client provider.Client
	disp   *dispatch.Dispatcher
	log    *slog.Logger

	cron    *cron.Cron
	entryID cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu sync.Mutex
	// inflight marks fetch groups currently being processed. A sweep that
	// finds a group still in flight skips it; fetches are never queued.
	inflight map[fetchGroup]bool
	// blocked marks chats already told about the current blocked episode
	// of one course. Cleared only when a fetch for that same course
	// succeeds, so a healthy course never resets another course's episode.
	blocked map[blockKey]bool
	// courseBaseline is the broadcast-side view of each course, kept
	// separately from subscriber baselines so the websocket feed sees
	// opened transitions regardless of who tracks what.
	courseBaseline map[string]diff.Snapshot
}

func New(cfg Config, reg *registry.Registry, client provider.Client, disp *dispatch.Dispatcher, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{
		cfg:            cfg.withDefaults(),
		reg:            reg,
		client:         client,
		disp:           disp,
		log:            log,
		inflight:       map[fetchGroup]bool{},
		blocked:        map[blockKey]bool{},
		courseBaseline: map[string]diff.Snapshot{},
	}
}

// Start schedules periodic sweeps. It is a no-op when disabled.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.cfg.Enabled {
		w.log.Info("watcher disabled")
		return nil
	}
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.cron = cron.New()
	id, err := w.cron.AddFunc(fmt.Sprintf("@every %s", w.cfg.Interval), func() {
		w.RunCycle(w.ctx)
	})
	if err != nil {
		return fmt.Errorf("watcher: schedule: %w", err)
	}
	w.entryID = id
	w.cron.Start()
	w.log.Info("watcher started", "interval", w.cfg.Interval.String())
	return nil
}

// Stop halts the schedule and waits for in-flight fetches to drain.
func (w *Watcher) Stop(ctx context.Context) error {
	if w.cancel != nil {
		w.cancel()
	}
	if w.cron != nil {
		stopped := w.cron.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunCycle performs one full sweep over every tracking key. Failures of
// one course never stop the rest of the sweep.
func (w *Watcher) RunCycle(ctx context.Context) {
	w.runKeys(ctx, w.reg.Keys())
}

// TriggerCheck sweeps only the keys of one chat, for the on-demand check
// command. It returns how many fetch groups were started.
func (w *Watcher) TriggerCheck(ctx context.Context, chatID int64) (int, error) {
	keys := w.reg.KeysForChat(chatID)
	if len(keys) == 0 {
		return 0, registry.ErrNotTracked
	}
	return w.runKeys(ctx, keys), nil
}

// runKeys groups keys by (course, credential), fetches each group once
// under the concurrency cap, and processes results. It blocks until every
// started group finishes, and returns the number of groups started.
func (w *Watcher) runKeys(ctx context.Context, keys []registry.Key) int {
	groups := map[fetchGroup][]registry.Key{}
	for _, k := range keys {
		cred, err := w.reg.Credential(k.ChatID)
		if err != nil {
			continue
		}
		g := fetchGroup{course: k.Course, credential: cred}
		groups[g] = append(groups[g], k)
	}

	sem := make(chan struct{}, w.cfg.MaxInFlight)
	var cycleWG sync.WaitGroup
	started := 0
	for g, gkeys := range groups {
		w.mu.Lock()
		if w.inflight[g] {
			w.mu.Unlock()
			w.log.Debug("fetch still in flight, skipping", "course", g.course)
			continue
		}
		w.inflight[g] = true
		w.mu.Unlock()
		started++

		w.wg.Add(1)
		cycleWG.Add(1)
		go func(g fetchGroup, gkeys []registry.Key) {
			defer w.wg.Done()
			defer cycleWG.Done()
			defer func() {
				w.mu.Lock()
				delete(w.inflight, g)
				w.mu.Unlock()
			}()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			fctx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
			secs, err := w.client.Fetch(fctx, g.course, g.credential)
			cancel()
			if err != nil {
				w.handleFetchError(ctx, g, gkeys, err)
				return
			}
			w.handleFetchSuccess(ctx, g, gkeys, secs)
		}(g, gkeys)
	}
	cycleWG.Wait()
	return started
}

func (w *Watcher) handleFetchError(ctx context.Context, g fetchGroup, keys []registry.Key, err error) {
	kind := provider.KindOf(err)
	w.log.Warn("course fetch failed", "course", g.course, "kind", kind.String(), "err", err)

	if kind != provider.KindBlocked {
		return
	}
	// Tell each affected chat once per blocked episode, not every sweep.
	for _, k := range keys {
		bk := blockKey{chatID: k.ChatID, course: k.Course}
		w.mu.Lock()
		already := w.blocked[bk]
		w.blocked[bk] = true
		w.mu.Unlock()
		if already {
			continue
		}
		_ = w.disp.SendText(ctx, k.ChatID,
			"⚠️ The enlistment site is blocking automated checks right now. Watching continues; you'll get updates once it recovers.")
	}
}

func (w *Watcher) handleFetchSuccess(ctx context.Context, g fetchGroup, keys []registry.Key, secs []provider.Section) {
	full := diff.Build(secs)

	for _, k := range keys {
		// End this course's blocked episode so the next one notifies again.
		w.mu.Lock()
		delete(w.blocked, blockKey{chatID: k.ChatID, course: k.Course})
		w.mu.Unlock()

		cur := w.snapshotForKey(k, secs)
		old, hasBaseline := w.reg.Snapshot(k)
		if hasBaseline {
			ch := diff.Compute(old, cur)
			if !ch.Empty() {
				_ = w.disp.DispatchTargeted(ctx, k, ch)
			}
		} else if missing := w.missingNbrs(k, cur); len(missing) > 0 {
			// A tracked class number absent from the very first fetch is
			// most likely a typo; say so once instead of going silent.
			_ = w.disp.SendText(ctx, k.ChatID, fmt.Sprintf(
				"⚠️ %s: class number(s) %s not found in the current offerings. Check /prefs for typos.",
				k.Course, joinInts(missing)))
		}
		// The first successful fetch only records the baseline; nothing
		// is announced for state that predates the subscription.
		if err := w.reg.PutSnapshot(ctx, k, cur); err != nil {
			w.log.Error("snapshot persist failed", "chat_id", k.ChatID, "course", k.Course, "err", err)
		}
	}

	// Broadcast uses its own per-course baseline so opened transitions
	// reach websocket listeners even on a course no chat saw change.
	w.mu.Lock()
	prev := w.courseBaseline[g.course]
	w.courseBaseline[g.course] = full
	w.mu.Unlock()
	var courseCh diff.Changes
	if prev != nil {
		courseCh = diff.Compute(prev, full)
	}
	w.disp.DispatchBroadcast(ctx, g.course, full, courseCh)
}

func (w *Watcher) missingNbrs(k registry.Key, snap diff.Snapshot) []int {
	if k.AllSections {
		return nil
	}
	var missing []int
	for _, n := range w.reg.TrackedNbrs(k) {
		if _, ok := snap[n]; !ok {
			missing = append(missing, n)
		}
	}
	return missing
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}

// snapshotForKey filters the fetched sections down to what the key tracks.
func (w *Watcher) snapshotForKey(k registry.Key, secs []provider.Section) diff.Snapshot {
	if k.AllSections {
		return diff.Build(secs)
	}
	tracked := map[int]bool{}
	for _, n := range w.reg.TrackedNbrs(k) {
		tracked[n] = true
	}
	var filtered []provider.Section
	for _, s := range secs {
		if tracked[s.ClassNbr] {
			filtered = append(filtered, s)
		}
	}
	return diff.Build(filtered)
}

// QueryNow fetches a course on demand with the chat's credential and
// reports current availability. It never touches stored baselines.
func (w *Watcher) QueryNow(ctx context.Context, chatID int64, course string) error {
	cred, err := w.reg.Credential(chatID)
	if err != nil {
		return err
	}
	fctx, cancel := context.WithTimeout(ctx, w.cfg.FetchTimeout)
	defer cancel()
	secs, err := w.client.Fetch(fctx, course, cred)
	if err != nil {
		return err
	}
	return w.disp.SendStatus(ctx, chatID, course, diff.Build(secs))
}
