package core

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"slotwatch/internal/config"
	"slotwatch/internal/transport"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update  transport.Update
	Chat    transport.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string

	Adapter transport.Adapter
	Config  *config.Config
	Logger  *slog.Logger
	Owners  []int64
}

type CommandManager struct {
	mu    sync.RWMutex
	cmds  map[string]*Command // name -> command
	alias map[string]*Command // alias -> command

	owners []int64

	log     *slog.Logger
	adapter transport.Adapter
	cfgm    *config.Manager

	jobs chan func()
}

func NewCommandManager(log *slog.Logger, adapter transport.Adapter, cfgm *config.Manager, owners []int64) *CommandManager {
	return &CommandManager{
		cmds:    map[string]*Command{},
		alias:   map[string]*Command{},
		log:     log,
		adapter: adapter,
		cfgm:    cfgm,
		owners:  append([]int64(nil), owners...),
		jobs:    make(chan func(), 256),
	}
}

// SetOwners updates the owner list used for AccessOwnerOnly checks.
// Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) ownersSnapshot() []int64 {
	m.mu.RLock()
	cp := append([]int64(nil), m.owners...)
	m.mu.RUnlock()
	return cp
}

// SetRegistry replaces the full command table. /help is always injected.
func (m *CommandManager) SetRegistry(cmds []Command) {
	helper := Command{
		Name:        "help",
		Aliases:     []string{"h"},
		Description: "show this help",
		Usage:       "/help",
		Handle: func(ctx context.Context, req *Request) error {
			_, err := req.Adapter.SendText(ctx, req.Chat, m.helpText(), &transport.SendOptions{DisablePreview: true})
			return err
		},
	}
	cmds = append(cmds, helper)

	byName := map[string]*Command{}
	byAlias := map[string]*Command{}
	for _, c := range cmds {
		name := strings.TrimSpace(c.Name)
		if name == "" || c.Handle == nil {
			continue
		}
		cc := c
		byName[name] = &cc
		for _, a := range c.Aliases {
			a = strings.TrimSpace(a)
			if a == "" || strings.Contains(a, " ") {
				continue
			}
			byAlias[a] = &cc
		}
	}

	m.mu.Lock()
	m.cmds = byName
	m.alias = byAlias
	m.mu.Unlock()
}

// MenuCommands returns the registered commands sorted by name, for the
// Telegram command menu.
func (m *CommandManager) MenuCommands() []transport.BotCommand {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]transport.BotCommand, 0, len(m.cmds))
	for name, c := range m.cmds {
		out = append(out, transport.BotCommand{Command: name, Description: c.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Command < out[j].Command })
	return out
}

func (m *CommandManager) helpText() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.cmds))
	for n := range m.cmds {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, n := range names {
		c := m.cmds[n]
		usage := c.Usage
		if usage == "" {
			usage = "/" + n
		}
		fmt.Fprintf(&b, "%s - %s\n", usage, c.Description)
	}
	return b.String()
}

// DispatchLoop consumes updates and runs matched commands on a bounded
// worker pool. It returns when ctx is canceled or updates closes.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	workers := runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	if m.log != nil {
		m.log.Info("command dispatcher started", slog.Int("workers", workers), slog.Int("job_queue_cap", cap(m.jobs)))
	}

	var (
		wg        sync.WaitGroup
		closeOnce sync.Once
	)
	closeJobs := func() {
		closeOnce.Do(func() { close(m.jobs) })
	}

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					if m.log != nil {
						m.log.Error("panic in command worker", slog.Int("worker", idx), slog.Any("panic", r), slog.String("stack", string(debug.Stack())))
					}
				}
			}()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-m.jobs:
					if !ok {
						return
					}
					if job == nil {
						continue
					}
					job()
				}
			}
		}()
	}

	defer func() {
		closeJobs()
		wg.Wait()
		if m.log != nil {
			m.log.Info("command dispatcher stopped")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Kind == transport.UpdateMessage {
				m.routeMessage(ctx, up)
			}
		}
	}
}

func (m *CommandManager) routeMessage(root context.Context, up transport.Update) {
	if up.Message == nil {
		return
	}
	msg := up.Message
	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := tokenizeCommandLine(text)
	if len(parts) == 0 {
		return
	}
	word := strings.TrimPrefix(parts[0], "/")
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}

	m.mu.RLock()
	cmd := m.cmds[word]
	if cmd == nil {
		cmd = m.alias[word]
	}
	m.mu.RUnlock()

	if cmd == nil {
		_, _ = m.adapter.SendText(root, transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, "unknown command. try /help", nil)
		return
	}
	m.enqueue(root, up, *cmd, args)
}

func (m *CommandManager) enqueue(root context.Context, up transport.Update, cmd Command, args []string) {
	msg := up.Message
	owners := m.ownersSnapshot()
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, owners) {
		_, _ = m.adapter.SendText(root, transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}, "unauthorized", nil)
		return
	}

	rid := newReqID()
	reqLog := m.log.With(
		slog.String("rid", rid),
		slog.Int64("chat_id", msg.ChatID),
		slog.Int64("from_id", msg.FromID),
		slog.String("cmd", cmd.Name),
	)

	req := &Request{
		Update:  up,
		Chat:    transport.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Adapter: m.adapter,
		Config:  m.cfgm.Get(),
		Logger:  reqLog,
		Owners:  owners,
	}

	final := Chain(
		cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)

	select {
	case m.jobs <- func() { _ = final(root, req) }:
	default:
		_, _ = m.adapter.SendText(root, req.Chat, "busy, try again", nil)
	}
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
