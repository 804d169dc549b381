// Package dispatch turns change reports into outbound notifications: HTML
// messages to the subscriber's chat and a JSON payload to websocket
// listeners.
package dispatch

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"slotwatch/internal/diff"
	"slotwatch/internal/registry"
	"slotwatch/internal/transport"
	logx "slotwatch/pkg/logx"
	"slotwatch/pkg/tgui"
)

// Broadcaster fans a payload out to connected listeners.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg []byte)
}

// Payload is the wire format broadcast to websocket listeners whenever a
// course has seats.
type Payload struct {
	Available []int  `json:"available"`
	Timestamp string `json:"timestamp"`
}

type Dispatcher struct {
	adapter transport.Adapter
	hub     Broadcaster
	log     logx.Logger

	// reannounce repeats unchanged broadcast payloads every sweep.
	reannounce bool

	mu   sync.Mutex
	last map[string]uint64 // course -> hash of last broadcast payload
}

func New(adapter transport.Adapter, hub Broadcaster, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		adapter: adapter,
		hub:     hub,
		log:     log,
		last:    map[string]uint64{},
	}
}

// SetReannounce toggles repeat broadcasts of unchanged payloads.
func (d *Dispatcher) SetReannounce(v bool) {
	d.mu.Lock()
	d.reannounce = v
	d.mu.Unlock()
}

// DispatchTargeted sends a change report to the subscriber's chat. Empty
// reports are silently dropped.
func (d *Dispatcher) DispatchTargeted(ctx context.Context, key registry.Key, ch diff.Changes) error {
	if ch.Empty() {
		return nil
	}
	lines := formatChanges(key.Course, ch)
	to := transport.ChatTarget{ChatID: key.ChatID}
	for _, chunk := range tgui.SplitLines(lines, tgui.MaxMessageLen) {
		if _, err := d.adapter.SendText(ctx, to, chunk, &transport.SendOptions{ParseMode: "HTML"}); err != nil {
			d.log.Warn("targeted notification failed",
				logx.Int64("chat_id", key.ChatID),
				logx.String("course", key.Course),
				logx.Err(err))
			return err
		}
	}
	return nil
}

// DispatchBroadcast publishes the course's open class numbers to the
// websocket hub. Nothing goes out when no section has seats and none
// opened this sweep. Payloads identical to the previous broadcast for the
// course are suppressed unless a section just opened, so a stuck offering
// list doesn't spam listeners every sweep.
func (d *Dispatcher) DispatchBroadcast(ctx context.Context, course string, cur diff.Snapshot, ch diff.Changes) {
	if d.hub == nil {
		return
	}
	available := openNbrs(cur)
	opened := ch.Opened()
	if len(available) == 0 && len(opened) == 0 {
		return
	}

	payload := Payload{
		Available: available,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if payload.Available == nil {
		payload.Available = []int{}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}

	h := hashNbrs(available)
	d.mu.Lock()
	same := d.last[course] == h
	d.last[course] = h
	reannounce := d.reannounce
	d.mu.Unlock()
	if same && len(opened) == 0 && !reannounce {
		return
	}

	d.hub.Broadcast(ctx, b)
	d.log.Debug("availability broadcast",
		logx.String("course", course),
		logx.Int("available", len(available)),
		logx.Int("opened", len(opened)))
}

// SendStatus reports the current offerings of one course to a chat, used
// by the on-demand query command.
func (d *Dispatcher) SendStatus(ctx context.Context, chatID int64, course string, snap diff.Snapshot) error {
	lines := formatStatus(course, snap)
	to := transport.ChatTarget{ChatID: chatID}
	for _, chunk := range tgui.SplitLines(lines, tgui.MaxMessageLen) {
		if _, err := d.adapter.SendText(ctx, to, chunk, &transport.SendOptions{ParseMode: "HTML"}); err != nil {
			return err
		}
	}
	return nil
}

// SendText delivers a plain notice (errors, blocked episodes) to a chat.
func (d *Dispatcher) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := d.adapter.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, &transport.SendOptions{ParseMode: "HTML"})
	return err
}

func openNbrs(snap diff.Snapshot) []int {
	var out []int
	for _, sec := range snap.Sections() {
		if sec.Open() {
			out = append(out, sec.ClassNbr)
		}
	}
	return out
}

func hashNbrs(nbrs []int) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, n := range nbrs {
		v := uint64(n)
		for i := 0; i < 8; i++ {
			buf[i] = byte(v >> (8 * i))
		}
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}
