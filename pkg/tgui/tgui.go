// Package tgui contains small helpers for building Telegram-safe message
// text: HTML escaping and size-bounded splitting.
package tgui

// MaxMessageLen is Telegram's hard limit for a single text message.
const MaxMessageLen = 4096
