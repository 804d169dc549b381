// Package bot defines the Telegram command surface and translates command
// input into registry and watcher operations.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"slotwatch/internal/core"
	"slotwatch/internal/dispatch"
	"slotwatch/internal/provider"
	"slotwatch/internal/registry"
	"slotwatch/internal/transport"
	"slotwatch/internal/watcher"
	"slotwatch/pkg/tgui"
)

type Deps struct {
	Registry   *registry.Registry
	Watcher    *watcher.Watcher
	Dispatcher *dispatch.Dispatcher
	Log        *slog.Logger
}

// Commands builds the full command table.
func Commands(d Deps) []core.Command {
	return []core.Command{
		{
			Name:        "start",
			Description: "subscribe to availability updates",
			Usage:       "/start",
			Handle:      d.cmdStart,
		},
		{
			Name:        "stop",
			Description: "unsubscribe and forget everything",
			Usage:       "/stop",
			Handle:      d.cmdStop,
		},
		{
			Name:        "setid",
			Description: "set your 8-digit ID number",
			Usage:       "/setid 12212345",
			Handle:      d.cmdSetID,
		},
		{
			Name:        "addcourse",
			Aliases:     []string{"track"},
			Description: "watch a course, or one section via COURSE:CLASSNBR",
			Usage:       "/addcourse CSOPESY",
			Handle:      d.cmdAddCourse,
		},
		{
			Name:        "removecourse",
			Aliases:     []string{"untrack"},
			Description: "stop watching a course or section",
			Usage:       "/removecourse CSOPESY",
			Handle:      d.cmdRemoveCourse,
		},
		{
			Name:        "course",
			Description: "show current availability of a course",
			Usage:       "/course CSOPESY",
			Timeout:     45 * time.Second,
			Handle:      d.cmdCourse,
		},
		{
			Name:        "check",
			Description: "run your checks right now",
			Usage:       "/check",
			Timeout:     2 * time.Minute,
			Handle:      d.cmdCheck,
		},
		{
			Name:        "prefs",
			Description: "show what you are watching",
			Usage:       "/prefs",
			Handle:      d.cmdPrefs,
		},
	}
}

func reply(ctx context.Context, req *core.Request, text string) error {
	_, err := req.Adapter.SendText(ctx, req.Chat, text, &transport.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

func (d Deps) cmdStart(ctx context.Context, req *core.Request) error {
	if err := d.Registry.Register(ctx, req.Chat.ChatID); err != nil {
		return reply(ctx, req, "Something went wrong saving your subscription. Please try again.")
	}
	return reply(ctx, req,
		"👋 You're subscribed!\n"+
			"1. /setid 12212345 to set your ID number\n"+
			"2. /addcourse CSOPESY to watch a course\n"+
			"3. /prefs to review your list\n"+
			"I'll message you when seats change.")
}

func (d Deps) cmdStop(ctx context.Context, req *core.Request) error {
	err := d.Registry.Unsubscribe(ctx, req.Chat.ChatID)
	if errors.Is(err, registry.ErrNotSubscribed) {
		return reply(ctx, req, "You weren't subscribed. /start to begin.")
	}
	if err != nil {
		return reply(ctx, req, "Could not remove your subscription. Please try again.")
	}
	return reply(ctx, req, "🛑 Unsubscribed. All your tracked courses were removed.")
}

func (d Deps) cmdSetID(ctx context.Context, req *core.Request) error {
	if len(req.Args) != 1 {
		return reply(ctx, req, "Usage: /setid 12212345")
	}
	err := d.Registry.SetCredential(ctx, req.Chat.ChatID, req.Args[0])
	switch {
	case errors.Is(err, registry.ErrNotSubscribed):
		return reply(ctx, req, "Not subscribed yet. Send /start first.")
	case errors.Is(err, registry.ErrBadCredential):
		return reply(ctx, req, "That doesn't look right. The ID number is exactly 8 digits.")
	case err != nil:
		return reply(ctx, req, "Could not save your ID number. Please try again.")
	}
	return reply(ctx, req, "✅ ID number saved.")
}

func (d Deps) cmdAddCourse(ctx context.Context, req *core.Request) error {
	if len(req.Args) != 1 {
		return reply(ctx, req, "Usage: /addcourse CSOPESY or /addcourse CSOPESY:1234")
	}
	course, classNbr, err := core.ParseCourseArg(req.Args[0])
	if err != nil {
		return reply(ctx, req, "Usage: /addcourse CSOPESY or /addcourse CSOPESY:1234")
	}
	err = d.Registry.AddTracking(ctx, req.Chat.ChatID, course, classNbr)
	switch {
	case errors.Is(err, registry.ErrNotSubscribed):
		return reply(ctx, req, "Not subscribed yet. Send /start first.")
	case errors.Is(err, registry.ErrNoCredential):
		return reply(ctx, req, "Set your ID number first: /setid 12212345")
	case errors.Is(err, registry.ErrAlreadyTracked):
		return reply(ctx, req, "Already on your list.")
	case err != nil:
		return reply(ctx, req, "Could not save that. Please try again.")
	}
	what := string(tgui.B(course))
	if classNbr > 0 {
		what = fmt.Sprintf("%s section %s", tgui.B(course), tgui.Code(fmt.Sprint(classNbr)))
	}
	return reply(ctx, req, fmt.Sprintf("👀 Watching %s. First update arrives after the next sweep.", what))
}

func (d Deps) cmdRemoveCourse(ctx context.Context, req *core.Request) error {
	if len(req.Args) != 1 {
		return reply(ctx, req, "Usage: /removecourse CSOPESY or /removecourse CSOPESY:1234")
	}
	course, classNbr, err := core.ParseCourseArg(req.Args[0])
	if err != nil {
		return reply(ctx, req, "Usage: /removecourse CSOPESY or /removecourse CSOPESY:1234")
	}
	err = d.Registry.RemoveTracking(ctx, req.Chat.ChatID, course, classNbr)
	switch {
	case errors.Is(err, registry.ErrNotSubscribed):
		return reply(ctx, req, "Not subscribed yet. Send /start first.")
	case errors.Is(err, registry.ErrNotTracked):
		return reply(ctx, req, "That wasn't on your list. /prefs shows what you're watching.")
	case err != nil:
		return reply(ctx, req, "Could not save that. Please try again.")
	}
	return reply(ctx, req, fmt.Sprintf("Removed %s.", tgui.B(course)))
}

func (d Deps) cmdCourse(ctx context.Context, req *core.Request) error {
	if len(req.Args) != 1 {
		return reply(ctx, req, "Usage: /course CSOPESY")
	}
	course, _, err := core.ParseCourseArg(req.Args[0])
	if err != nil {
		return reply(ctx, req, "Usage: /course CSOPESY")
	}
	err = d.Watcher.QueryNow(ctx, req.Chat.ChatID, course)
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, registry.ErrNotSubscribed):
		return reply(ctx, req, "Not subscribed yet. Send /start first.")
	case errors.Is(err, registry.ErrNoCredential):
		return reply(ctx, req, "Set your ID number first: /setid 12212345")
	}
	return reply(ctx, req, fetchErrorText(course, err))
}

func (d Deps) cmdCheck(ctx context.Context, req *core.Request) error {
	started, err := d.Watcher.TriggerCheck(ctx, req.Chat.ChatID)
	if errors.Is(err, registry.ErrNotTracked) {
		return reply(ctx, req, "Nothing to check. Add a course first: /addcourse CSOPESY")
	}
	if err != nil {
		return reply(ctx, req, "Check failed. Please try again.")
	}
	if started == 0 {
		return reply(ctx, req, "A check is already running for your courses; results will follow.")
	}
	return reply(ctx, req, fmt.Sprintf("🔎 Checked %d course(s). No message means nothing changed.", started))
}

func (d Deps) cmdPrefs(ctx context.Context, req *core.Request) error {
	prefs, err := d.Registry.Preferences(req.Chat.ChatID)
	if errors.Is(err, registry.ErrNotSubscribed) {
		return reply(ctx, req, "Not subscribed yet. Send /start first.")
	}
	if err != nil {
		return reply(ctx, req, "Could not load your preferences. Please try again.")
	}

	var b strings.Builder
	if prefs.HasCredential {
		b.WriteString("🪪 ID number: set\n")
	} else {
		b.WriteString("🪪 ID number: not set (/setid)\n")
	}
	if len(prefs.Courses) == 0 && len(prefs.Sections) == 0 {
		b.WriteString("Nothing tracked yet. /addcourse CSOPESY to begin.")
		return reply(ctx, req, b.String())
	}
	if len(prefs.Courses) > 0 {
		b.WriteString("Courses:\n")
		for _, c := range prefs.Courses {
			fmt.Fprintf(&b, "• %s\n", tgui.B(c))
		}
	}
	if len(prefs.Sections) > 0 {
		b.WriteString("Sections:\n")
		courses := make([]string, 0, len(prefs.Sections))
		for c := range prefs.Sections {
			courses = append(courses, c)
		}
		sort.Strings(courses)
		for _, course := range courses {
			parts := make([]string, 0, len(prefs.Sections[course]))
			for _, n := range prefs.Sections[course] {
				parts = append(parts, string(tgui.Code(fmt.Sprint(n))))
			}
			fmt.Fprintf(&b, "• %s: %s\n", tgui.B(course), strings.Join(parts, ", "))
		}
	}
	return reply(ctx, req, strings.TrimRight(b.String(), "\n"))
}

func fetchErrorText(course string, err error) string {
	switch provider.KindOf(err) {
	case provider.KindBlocked:
		return "⚠️ The enlistment site is blocking automated checks right now. Try again in a bit."
	case provider.KindNotFound:
		return fmt.Sprintf("Course %s doesn't seem to be offered this term.", tgui.B(course))
	case provider.KindMalformed:
		return "The site returned something I couldn't read. Try again later."
	default:
		return "Couldn't reach the enlistment site. Try again later."
	}
}
