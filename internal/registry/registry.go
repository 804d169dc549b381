// Package registry keeps the in-memory subscriber roster and writes every
// mutation through to storage before committing it, so a crash never loses
// an acknowledged change.
package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"slotwatch/internal/diff"
	"slotwatch/internal/provider"
	"slotwatch/internal/storage"
	logx "slotwatch/pkg/logx"
)

var (
	ErrNotSubscribed  = errors.New("chat is not subscribed")
	ErrNoCredential   = errors.New("no credential set; use /setid first")
	ErrBadCredential  = errors.New("credential must be an 8-digit ID number")
	ErrAlreadyTracked = errors.New("already tracking that course")
	ErrNotTracked     = errors.New("not tracking that course")
)

var credentialRe = regexp.MustCompile(`^\d{8}$`)

// persistRetries bounds how many times a failed storage write is retried
// before the mutation is rejected.
const persistRetries = 3

// Key identifies one tracking item of one chat.
type Key struct {
	ChatID int64
	Course string

	// AllSections is true for whole-course items; false means only the
	// class numbers listed under the course's sections entry matter.
	AllSections bool
}

// DataKey is the map key used in the persisted previous_data document:
// "COURSE" for whole-course items, "COURSE:sections" for section items.
func (k Key) DataKey() string {
	if k.AllSections {
		return k.Course
	}
	return k.Course + ":sections"
}

// Registry owns all subscriber records. All methods are safe for
// concurrent use.
type Registry struct {
	store storage.Store
	log   logx.Logger

	mu   sync.RWMutex
	recs map[int64]storage.SubscriberRecord
}

func New(store storage.Store, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{store: store, log: log, recs: map[int64]storage.SubscriberRecord{}}
}

// Load hydrates the roster from storage. Call once at startup.
func (r *Registry) Load(ctx context.Context) error {
	recs, err := r.store.LoadSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("registry: load: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = make(map[int64]storage.SubscriberRecord, len(recs))
	for _, rec := range recs {
		r.recs[rec.ChatID] = rec
	}
	r.log.Info("subscribers loaded", logx.Int("count", len(recs)))
	return nil
}

// persist writes rec through to storage with bounded retries and commits
// it to memory only on success.
func (r *Registry) persist(ctx context.Context, rec storage.SubscriberRecord) error {
	var err error
	for i := 0; i < persistRetries; i++ {
		if err = r.store.PutSubscriber(ctx, rec); err == nil {
			r.recs[rec.ChatID] = rec
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	r.log.Error("subscriber persist failed", logx.Int64("chat_id", rec.ChatID), logx.Err(err))
	return fmt.Errorf("registry: persist chat %d: %w", rec.ChatID, err)
}

// Register creates an empty record for the chat. Registering twice is a
// no-op so /start stays idempotent.
func (r *Registry) Register(ctx context.Context, chatID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recs[chatID]; ok {
		return nil
	}
	rec := storage.SubscriberRecord{
		ChatID:       chatID,
		Courses:      []string{},
		Sections:     map[string][]int{},
		PreviousData: map[string][]provider.Section{},
	}
	return r.persist(ctx, rec)
}

// Unsubscribe removes the chat and everything it tracked.
func (r *Registry) Unsubscribe(ctx context.Context, chatID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recs[chatID]; !ok {
		return ErrNotSubscribed
	}
	var err error
	for i := 0; i < persistRetries; i++ {
		if err = r.store.DeleteSubscriber(ctx, chatID); err == nil {
			delete(r.recs, chatID)
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("registry: delete chat %d: %w", chatID, err)
}

// SetCredential validates and stores the chat's enlistment ID number.
func (r *Registry) SetCredential(ctx context.Context, chatID int64, idNo string) error {
	idNo = strings.TrimSpace(idNo)
	if !credentialRe.MatchString(idNo) {
		return ErrBadCredential
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[chatID]
	if !ok {
		return ErrNotSubscribed
	}
	rec = rec.Clone()
	rec.IDNo = idNo
	return r.persist(ctx, rec)
}

// Credential returns the chat's ID number, or ErrNoCredential.
func (r *Registry) Credential(chatID int64) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recs[chatID]
	if !ok {
		return "", ErrNotSubscribed
	}
	if rec.IDNo == "" {
		return "", ErrNoCredential
	}
	return rec.IDNo, nil
}

// AddTracking adds a course (classNbr <= 0) or one section of it
// (classNbr > 0) to the chat's watch list. A credential must be set first
// so the watcher can fetch on the chat's behalf.
func (r *Registry) AddTracking(ctx context.Context, chatID int64, course string, classNbr int) error {
	course = normalizeCourse(course)
	if course == "" {
		return fmt.Errorf("registry: empty course code")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[chatID]
	if !ok {
		return ErrNotSubscribed
	}
	if rec.IDNo == "" {
		return ErrNoCredential
	}
	rec = rec.Clone()

	if classNbr <= 0 {
		for _, c := range rec.Courses {
			if c == course {
				return ErrAlreadyTracked
			}
		}
		rec.Courses = append(rec.Courses, course)
		sort.Strings(rec.Courses)
		return r.persist(ctx, rec)
	}

	nbrs := rec.Sections[course]
	for _, n := range nbrs {
		if n == classNbr {
			return ErrAlreadyTracked
		}
	}
	if rec.Sections == nil {
		rec.Sections = map[string][]int{}
	}
	nbrs = append(nbrs, classNbr)
	sort.Ints(nbrs)
	rec.Sections[course] = nbrs
	return r.persist(ctx, rec)
}

// RemoveTracking drops a course or section item and its stored snapshot.
func (r *Registry) RemoveTracking(ctx context.Context, chatID int64, course string, classNbr int) error {
	course = normalizeCourse(course)
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[chatID]
	if !ok {
		return ErrNotSubscribed
	}
	rec = rec.Clone()

	if classNbr <= 0 {
		idx := -1
		for i, c := range rec.Courses {
			if c == course {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrNotTracked
		}
		rec.Courses = append(rec.Courses[:idx], rec.Courses[idx+1:]...)
		delete(rec.PreviousData, Key{ChatID: chatID, Course: course, AllSections: true}.DataKey())
		return r.persist(ctx, rec)
	}

	nbrs := rec.Sections[course]
	idx := -1
	for i, n := range nbrs {
		if n == classNbr {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNotTracked
	}
	nbrs = append(nbrs[:idx], nbrs[idx+1:]...)
	if len(nbrs) == 0 {
		delete(rec.Sections, course)
		delete(rec.PreviousData, Key{ChatID: chatID, Course: course}.DataKey())
	} else {
		rec.Sections[course] = nbrs
	}
	return r.persist(ctx, rec)
}

// Preferences is a read-only view of what one chat tracks.
type Preferences struct {
	HasCredential bool
	Courses       []string
	Sections      map[string][]int
}

func (r *Registry) Preferences(chatID int64) (Preferences, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recs[chatID]
	if !ok {
		return Preferences{}, ErrNotSubscribed
	}
	rec = rec.Clone()
	return Preferences{
		HasCredential: rec.IDNo != "",
		Courses:       rec.Courses,
		Sections:      rec.Sections,
	}, nil
}

// Keys returns every tracking key across all subscribers. Keys of chats
// without a credential are skipped since nothing can be fetched for them.
func (r *Registry) Keys() []Key {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Key
	for chatID, rec := range r.recs {
		if rec.IDNo == "" {
			continue
		}
		for _, c := range rec.Courses {
			out = append(out, Key{ChatID: chatID, Course: c, AllSections: true})
		}
		for c := range rec.Sections {
			out = append(out, Key{ChatID: chatID, Course: c})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ChatID != b.ChatID {
			return a.ChatID < b.ChatID
		}
		if a.Course != b.Course {
			return a.Course < b.Course
		}
		return a.AllSections && !b.AllSections
	})
	return out
}

// KeysForChat returns the tracking keys of a single chat.
func (r *Registry) KeysForChat(chatID int64) []Key {
	var out []Key
	for _, k := range r.Keys() {
		if k.ChatID == chatID {
			out = append(out, k)
		}
	}
	return out
}

// Snapshot returns the stored baseline for a key, filtered to the key's
// tracked class numbers for section items. ok is false when no baseline
// was ever stored.
func (r *Registry) Snapshot(key Key) (diff.Snapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, found := r.recs[key.ChatID]
	if !found {
		return nil, false
	}
	secs, ok := rec.PreviousData[key.DataKey()]
	if !ok {
		return nil, false
	}
	return diff.Build(secs), true
}

// TrackedNbrs returns the class numbers a section key watches, or nil for
// whole-course keys.
func (r *Registry) TrackedNbrs(key Key) []int {
	if key.AllSections {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recs[key.ChatID]
	if !ok {
		return nil
	}
	return append([]int(nil), rec.Sections[key.Course]...)
}

// PutSnapshot stores the new baseline for a key after a successful fetch.
func (r *Registry) PutSnapshot(ctx context.Context, key Key, snap diff.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.recs[key.ChatID]
	if !ok {
		return ErrNotSubscribed
	}
	rec = rec.Clone()
	if rec.PreviousData == nil {
		rec.PreviousData = map[string][]provider.Section{}
	}
	rec.PreviousData[key.DataKey()] = snap.Sections()
	return r.persist(ctx, rec)
}

func normalizeCourse(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
