// engine.go: The strata configuration engine
//
// The engine has zero or more sources. Writing only ever occurs to the first
// source, if at all; non-first sources are never writable. With zero sources
// nothing is writable and reads always return nil.
//
// Changes can be requested two ways:
//
//   - sync: the bus message is sent to the writer and we block until the
//     reply arrives. The change signal follows soon after.
//
//   - fast: we record the value locally and signal the change, returning
//     immediately, as if the value were already in the database from the
//     viewpoint of the local process. If the write later fails we emit a
//     second change signal: to the program it looks like the value was
//     changed and then quickly changed back by some external agent.
//
// In fast mode, immediately putting every request in flight would keep the
// writer needlessly busy rewriting the database after a burst of changes, so
// at most one request is in flight at a time; subsequent changes merge into
// a single aggregated pending changeset submitted as the next write.
//
// The engine is oblivious to threads: it owns no goroutine and schedules no
// timers. Calls into the consumer notification happen on whatever thread
// triggered them. The engine itself is completely thread-safe, implemented
// with three locks:
//
//   - sourcesMu protects the refreshable parts of the sources and the state
//     counter. The sources slice itself is set at construction and never
//     changes. Static source attributes may be read without the lock.
//
//   - queueMu protects pending, inFlight, lastHandled and the queue
//     condition variable.
//
//   - subMu protects the two subscription count maps.
//
// If sourcesMu and queueMu are held together, sourcesMu was acquired first.
// subMu is never held together with either of the other two. No lock is
// ever held across the consumer notification callback, which may re-enter
// the engine.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// ReadFlags adjust which layers a read consults.
type ReadFlags int

const (
	// ReadFlagsNone is the normal layered read.
	ReadFlagsNone ReadFlags = 0

	// ReadDefaultValue skips the writable database and the queues: the value
	// the user would see after a reset of the key.
	ReadDefaultValue ReadFlags = 1 << iota

	// ReadUserValue ignores all locks and returns the user value even when a
	// lock hides it, including pending values in the queues.
	ReadUserValue
)

// ChangeEvent is one change notification delivered to the consumer.
type ChangeEvent struct {
	// Prefix is the path under which changes occurred: a key, or a dir when
	// several paths changed at once.
	Prefix string

	// Changes lists the changed paths relative to Prefix. A single "" entry
	// means Prefix itself.
	Changes []string

	// Tag is the writer's tag for an authoritative change. HasTag is false
	// on locally synthesised notifications.
	Tag    string
	HasTag bool

	// IsWritability marks a writability change rather than a value change.
	IsWritability bool

	// OriginTag is the opaque token the writer of a fast change supplied, so
	// a consumer can filter self-echoes. Nil on authoritative signals.
	OriginTag interface{}

	// Time is the delivery timestamp in unix nanoseconds.
	Time int64
}

// ChangeNotify is the consumer call-out. It is invoked synchronously on
// whatever thread triggered the notification; a client layer may reschedule
// delivery onto a preferred thread.
type ChangeNotify func(engine *Engine, event *ChangeEvent)

// The process-wide engine list lets the signal dispatcher find every live
// engine. Engines unlink themselves during Close, under the same lock, and
// the signal path treats a missing entry as a silent drop.
var (
	engineListMu sync.Mutex
	engineList   []*Engine
)

// Engine composes sources, the write queue and the subscription book.
type Engine struct {
	notify    ChangeNotify
	transport Transport
	settings  *Settings
	audit     *AuditLogger

	sourcesMu sync.Mutex
	state     uint64
	sources   []*Source

	queueMu        sync.Mutex
	queueCond      *sync.Cond
	pending        *Changeset
	inFlight       *Changeset
	lastHandled    string
	hasLastHandled bool

	subMu        sync.Mutex
	establishing map[string]uint32
	active       map[string]uint32

	closed atomic.Bool
}

// NewEngine builds an engine for the given profile selector ("" selects the
// default profile chain), registers it on the process-wide list and opens
// its sources. transport nil selects the shared D-Bus transport; settings
// nil resolves from the environment.
func NewEngine(profile string, notify ChangeNotify, transport Transport, settings *Settings) *Engine {
	if settings == nil {
		settings = (&Settings{}).WithDefaults()
	} else {
		settings = settings.WithDefaults()
	}
	if transport == nil {
		transport = DefaultTransport()
	}

	audit, err := NewAuditLogger(settings.Audit)
	if err != nil {
		audit, _ = NewAuditLogger(AuditConfig{Enabled: false})
	}

	engine := &Engine{
		notify:       notify,
		transport:    transport,
		settings:     settings,
		audit:        audit,
		sources:      openProfile(profile, &settings.Dirs, transport),
		establishing: make(map[string]uint32),
		active:       make(map[string]uint32),
	}
	engine.queueCond = sync.NewCond(&engine.queueMu)

	engineListMu.Lock()
	engineList = append(engineList, engine)
	engineListMu.Unlock()

	return engine
}

// Close unlinks the engine from the signal dispatcher and releases its
// sources. Idempotent; concurrent signal deliveries racing with Close are
// dropped.
func (e *Engine) Close() {
	if !e.closed.CompareAndSwap(false, true) {
		return
	}

	engineListMu.Lock()
	for i, other := range engineList {
		if other == e {
			engineList = append(engineList[:i], engineList[i+1:]...)
			break
		}
	}
	engineListMu.Unlock()

	e.sourcesMu.Lock()
	for _, source := range e.sources {
		source.Free()
	}
	e.sourcesMu.Unlock()

	_ = e.audit.Close()
}

// acquireSources takes the sources lock and refreshes every source, bumping
// the state counter once per source whose database identity changed.
// Anything accessing the databases, even only reading, must hold the lock:
// a refresh could be happening on another thread.
func (e *Engine) acquireSources() {
	e.sourcesMu.Lock()
	for _, source := range e.sources {
		if source.Refresh() {
			e.state++
		}
	}
}

func (e *Engine) releaseSources() {
	e.sourcesMu.Unlock()
}

// State returns the engine state token: a counter that changes every time a
// source is observed to have changed on refresh. Consumers use it to detect
// races between subscription establishment and database mutation.
func (e *Engine) State() uint64 {
	e.acquireSources()
	state := e.state
	e.releaseSources()
	return state
}

// isWritableLocked implements the writability rule with sourcesMu held:
// at least one source, a writable first source, and no lock for key in any
// non-first source. Locks in the first source are ignored: either it is
// writable (so ignoring them is right) or the first check already failed.
func (e *Engine) isWritableLocked(key string) bool {
	if len(e.sources) == 0 || !e.sources[0].Writable {
		return false
	}
	for _, source := range e.sources[1:] {
		if source.LockedKeys().Has(key) {
			return false
		}
	}
	return true
}

// IsWritable reports whether a write to key could currently succeed.
func (e *Engine) IsWritable(key string) bool {
	if CheckKey(key) != nil {
		return false
	}
	e.acquireSources()
	writable := e.isWritableLocked(key)
	e.releaseSources()
	return writable
}

// findKeyInQueue scans the read-through queue from tail to head; the most
// recently queued entry containing key wins.
func findKeyInQueue(queue []*Changeset, key string) (bool, *Value) {
	for i := len(queue) - 1; i >= 0; i-- {
		if found, value := queue[i].Get(key); found {
			return true, value
		}
	}
	return false, nil
}

// Read returns the effective value for key, or nil. readThrough is an
// optional ordered queue of uncommitted deltas consulted above the engine's
// own queues. The read never fails: an invalid key simply reads as nil.
//
// Rules, in their interaction:
//
//   - steady state, no locks: the value from the lowest-index source that
//     contains one.
//
//   - locks: a lock in source i (i > 0; locks in source 0 are ignored) pins
//     the result to source i or deeper, hiding read-through and the queues.
//
//   - ReadUserValue ignores locks entirely and reports the user's own value,
//     including pending values in the queues.
//
//   - ReadDefaultValue skips the writable database and every queue: the
//     value after a hypothetical reset.
//
//   - read-through and the queues are consulted only with a writable first
//     source and no lock found. A nil (reset) entry hides any value in the
//     first source but cannot hide deeper sources: if a non-writable source
//     contains a value for key, this function cannot return nil.
func (e *Engine) Read(flags ReadFlags, readThrough []*Changeset, key string) *Value {
	if CheckKey(key) != nil {
		return nil
	}

	var value *Value
	lockLevel := 0

	e.acquireSources()

	// Step 1: check for lockdown, deepest source first. Source 0 is exempt.
	if flags&ReadUserValue == 0 {
		for i := len(e.sources) - 1; i > 0; i-- {
			if e.sources[i].LockedKeys().Has(key) {
				lockLevel = i
				break
			}
		}
	}

	// Steps 2 to 4 run only with no locks and a writable first source.
	if lockLevel == 0 && len(e.sources) != 0 && e.sources[0].Writable {
		foundKey := false

		// ReadDefaultValue behaves as if the key were just reset: "find" a
		// nil value here so the queues and source 0 are skipped.
		if flags&ReadDefaultValue != 0 {
			foundKey = true
		}

		// Step 2: the read-through queue.
		if !foundKey && readThrough != nil {
			foundKey, value = findKeyInQueue(readThrough, key)
		}

		// Step 3: our own queued fast changes, pending first because those
		// were submitted more recently.
		if !foundKey {
			e.queueMu.Lock()
			if e.pending != nil {
				foundKey, value = e.pending.Get(key)
			}
			if !foundKey && e.inFlight != nil {
				foundKey, value = e.inFlight.Get(key)
			}
			e.queueMu.Unlock()
		}

		// Step 4: the first source.
		if !foundKey {
			value = e.sources[0].Values().Get(key)
		}

		// Source 0 is now handled either way; make step 5 skip it.
		lockLevel = 1
	}

	// Step 5: the remaining sources, until a value appears. Even a found
	// reset cannot mask values in lower layers.
	if flags&ReadUserValue == 0 {
		for i := lockLevel; value == nil && i < len(e.sources); i++ {
			value = e.sources[i].Values().Get(key)
		}
	}

	e.releaseSources()

	return value
}

// List returns the sorted union of relative names under dir from every
// source. Pending and in-flight changes are intentionally ignored: whether a
// pending reset removes a sub-dir from existence depends on the other keys
// under it, so we just report what the databases say.
func (e *Engine) List(dir string) []string {
	if CheckDir(dir) != nil {
		return nil
	}

	seen := make(map[string]struct{})

	e.acquireSources()
	for _, source := range e.sources {
		for _, rel := range source.Values().List(dir) {
			seen[rel] = struct{}{}
		}
	}
	e.releaseSources()

	list := make([]string, 0, len(seen))
	for rel := range seen {
		list = append(list, rel)
	}
	sort.Strings(list)
	return list
}

// ListLocks returns every locked key under dir, from sources deeper than the
// first. When the first source is not writable the entire dir is effectively
// locked and [dir] itself is returned. For a key argument, returns [] or
// [key] according to writability.
func (e *Engine) ListLocks(path string) []string {
	if IsDir(path) {
		seen := make(map[string]struct{})

		e.acquireSources()
		if len(e.sources) > 0 && e.sources[0].Writable {
			for _, source := range e.sources[1:] {
				for _, name := range source.LockedKeys().Names() {
					// Dirs cannot (yet) be locked, so only one direction of
					// containment needs checking.
					if strings.HasPrefix(name, path) {
						seen[name] = struct{}{}
					}
				}
			}
		} else {
			seen[path] = struct{}{}
		}
		e.releaseSources()

		locks := make([]string, 0, len(seen))
		for name := range seen {
			locks = append(locks, name)
		}
		sort.Strings(locks)
		return locks
	}

	if e.IsWritable(path) {
		return []string{}
	}
	return []string{path}
}

// effectiveDatabase reconstructs the current effective first-source contents
// as a database-mode changeset: the on-disk snapshot with the in-flight and
// pending changes applied. The pending changeset must stay unsealed, so it
// is filtered into a throwaway delta rather than described directly.
func (e *Engine) effectiveDatabase() *Changeset {
	var db *Changeset

	e.acquireSources()
	if len(e.sources) > 0 {
		db = e.sources[0].Values().Snapshot()
	} else {
		db = NewDatabaseChangeset(nil)
	}
	e.releaseSources()

	e.queueMu.Lock()
	if e.inFlight != nil {
		_ = db.Change(e.inFlight)
	}
	if e.pending != nil {
		if filtered := FilterChanges(db, e.pending); filtered != nil {
			_ = db.Change(filtered)
		}
	}
	e.queueMu.Unlock()

	return db
}

// checkWritable verifies that a changeset touches only writable keys.
// Resets always succeed, even without a writable database.
func (e *Engine) checkWritable(changeset *Changeset) error {
	e.acquireSources()
	ok := changeset.All(func(path string, value *Value) bool {
		return value == nil || e.isWritableLocked(path)
	})
	e.releaseSources()

	if !ok {
		return errors.New(ErrCodeNotWritable,
			"the operation attempted to modify one or more non-writable keys")
	}
	return nil
}

// emitChanges synthesises one change notification from a changeset's
// description. No engine lock may be held here: the callback can re-enter.
func (e *Engine) emitChanges(changeset *Changeset, originTag interface{}) {
	prefix, paths, _, n := changeset.Describe()
	if n == 0 {
		return
	}
	e.deliver(&ChangeEvent{
		Prefix:    prefix,
		Changes:   paths,
		OriginTag: originTag,
		Time:      timecache.CachedTimeNano(),
	})
}

// deliver runs the consumer notification, dropping it if the engine closed.
func (e *Engine) deliver(event *ChangeEvent) {
	if e.notify == nil || e.closed.Load() {
		return
	}
	e.notify(e, event)
}

// manageQueue promotes the pending changeset to in-flight by sending the
// Change call, when possible: there is a pending changeset and nothing is in
// flight already. Called with queueMu held, both when a new pending
// changeset appears and when the in-flight reply arrives.
func (e *Engine) manageQueue() {
	if e.pending != nil && e.inFlight == nil {
		change := e.pending
		e.pending = nil
		e.inFlight = change
		change.Seal()

		source := e.sources[0]
		handle := newCallHandle(e, replyString, func(reply interface{}, err error) {
			e.changeCompleted(change, reply, err)
		})
		e.transport.CallAsync(source.Bus, source.BusName, source.ObjectPath,
			WriterInterface, "Change", []interface{}{change.Serialise()}, handle)
	}

	if e.inFlight == nil {
		// The in-flight slot is never empty while changes are pending.
		if e.pending != nil {
			panic("strata: pending changes with no in-flight changeset")
		}
		e.queueCond.Broadcast()
	}
}

// changeCompleted handles the writer's reply to the in-flight Change call.
func (e *Engine) changeCompleted(change *Changeset, reply interface{}, err error) {
	e.queueMu.Lock()

	if e.inFlight != change {
		panic("strata: change reply does not match the in-flight changeset")
	}
	e.inFlight = nil

	if err == nil {
		// The write worked. We already notified for this changeset when it
		// was queued and the writer's change signal is probably about to
		// arrive carrying the same tag as this reply: record the tag so the
		// signal can be ignored when it comes.
		if tag, ok := reply.(string); ok {
			e.lastHandled = tag
			e.hasLastHandled = true
		}
	}

	// Another request can be sent now; check for pending changes.
	e.manageQueue()
	e.queueMu.Unlock()

	if err != nil {
		// Unexpected failure committing the change. Not much to do except
		// drop our local copy, warn, and notify that it is gone so observers
		// re-read and see the pre-write values.
		log.Printf("strata: failed to commit changes: %v", err)
		e.audit.LogWrite("change_failed", change)
		e.emitChanges(change, nil)
	}
}

// ChangeFast queues a change optimistically. The changeset is sealed and
// merged into the pending slot; the call returns once the local shadow is
// recorded, with the bus call happening asynchronously. originTag is handed
// back in the synthetic notification so the caller can filter self-echoes.
//
// A delta whose every entry already matches the effective value is still
// queued (for idempotence) but emits no local notification.
func (e *Engine) ChangeFast(changeset *Changeset, originTag interface{}) error {
	if changeset.IsEmpty() {
		return nil
	}

	// Compute redundancy against the effective database before this delta
	// joins it. Locks in deeper sources are deliberately not consulted: the
	// writability check below has already rejected locked keys.
	hasEffect := FilterChanges(e.effectiveDatabase(), changeset) != nil

	if err := e.checkWritable(changeset); err != nil {
		return err
	}

	// Only resets pass the check without a writable source. They cannot
	// change anything and there is no writer to send them to.
	if len(e.sources) == 0 || !e.sources[0].Writable {
		return nil
	}

	changeset.Seal()

	e.queueMu.Lock()

	// The pending changeset stays unsealed so later calls can merge into it;
	// the incoming (sealed) changeset cannot serve that role.
	if e.pending == nil {
		e.pending = NewChangeset()
	}
	_ = e.pending.Change(changeset)

	// There may be no in-flight request yet: try to promote right away.
	e.manageQueue()

	e.queueMu.Unlock()

	e.audit.LogWrite("change_fast", changeset)

	// Emit after dropping the lock to avoid deadlock on re-entry.
	if hasEffect {
		e.emitChanges(changeset, originTag)
	}

	return nil
}

// ChangeSync sends one synchronous Change call and returns the writer's tag.
// The queue is untouched and no optimistic notification is emitted: the
// change will be observed through the authoritative signal. The context
// carries cancellation; a cancelled call leaves the queue unaffected.
func (e *Engine) ChangeSync(ctx context.Context, changeset *Changeset) (string, error) {
	if changeset.IsEmpty() {
		return "", nil
	}

	if err := e.checkWritable(changeset); err != nil {
		return "", err
	}

	if len(e.sources) == 0 || !e.sources[0].Writable {
		// Only resets get this far without a writable source; there is
		// nothing for a writer to do with them.
		return "", nil
	}

	changeset.Seal()

	source := e.sources[0]
	reply, err := e.transport.CallSync(ctx, source.Bus, source.BusName, source.ObjectPath,
		WriterInterface, "Change", []interface{}{changeset.Serialise()}, replyString)
	if err != nil {
		if ctx.Err() != nil {
			return "", errors.Wrap(err, ErrCodeCancelled, "change was cancelled")
		}
		return "", err
	}

	e.audit.LogWrite("change_sync", changeset)

	tag, _ := reply.(string)
	return tag, nil
}

// incSubscriptions bumps the count for path in counts, asserting against
// overflow: wrapping here would be a programming error, not a state.
func incSubscriptions(counts map[string]uint32, path string) uint32 {
	if counts[path] == ^uint32(0) {
		panic("strata: subscription count overflow")
	}
	counts[path]++
	return counts[path]
}

// decSubscriptions drops the count for path, removing it at zero. The count
// must exist: unbalanced unsubscription is a programming error.
func decSubscriptions(counts map[string]uint32, path string) uint32 {
	count := counts[path]
	if count == 0 {
		panic("strata: unbalanced unsubscription")
	}
	count--
	if count == 0 {
		delete(counts, path)
	} else {
		counts[path] = count
	}
	return count
}

// moveSubscriptions folds the establishing count for path into the active
// count.
func moveSubscriptions(from, to map[string]uint32, path string) {
	fromCount := from[path]
	toCount := to[path]
	if toCount > ^uint32(0)-fromCount {
		panic("strata: subscription count overflow")
	}
	if fromCount != 0 {
		delete(from, path)
		to[path] = toCount + fromCount
	}
}

// WatchFast subscribes to change notifications for path without blocking.
// The first subscription per path installs one match rule per bussed source;
// while those requests are on the wire the subscription is counted as
// establishing and is promoted to active when the last reply arrives. If any
// source changes during establishment, one synthetic notification for path
// is delivered, since the consumer may have missed a real one.
func (e *Engine) WatchFast(path string) {
	e.subMu.Lock()
	numEstablishing := e.establishing[path]
	numActive := e.active[path]
	if numActive > 0 {
		incSubscriptions(e.active, path)
	} else {
		numEstablishing = incSubscriptions(e.establishing, path)
	}
	e.subMu.Unlock()

	if numEstablishing > 1 || numActive > 0 {
		return
	}

	if len(e.sources) == 0 {
		return
	}

	// The database could change while our match rules are on the wire, and
	// we have already returned to the caller as if the watch were
	// established. Capture the state token now; a mismatch when the last
	// reply arrives means something changed mid-install.
	state := e.State()

	var pending int32
	for _, source := range e.sources {
		if source.Bus != BusNone {
			pending++
		}
	}
	if pending == 0 {
		// Nothing to install; the subscription is immediately active.
		e.subMu.Lock()
		moveSubscriptions(e.establishing, e.active, path)
		e.subMu.Unlock()
		return
	}

	remaining := &pending
	established := func(reply interface{}, err error) {
		// Errors installing match rules are ignored: the documented contract
		// is that subscription requests never fail, at worst the consumer
		// misses notifications.
		if atomic.AddInt32(remaining, -1) > 0 {
			return
		}

		if state != e.State() {
			e.deliver(&ChangeEvent{
				Prefix:  path,
				Changes: []string{""},
				Time:    timecache.CachedTimeNano(),
			})
		}

		e.subMu.Lock()
		if e.establishing[path] > 0 {
			moveSubscriptions(e.establishing, e.active, path)
		}
		e.subMu.Unlock()
	}

	for _, source := range e.sources {
		if source.Bus == BusNone {
			continue
		}
		handle := newCallHandle(e, replyUnit, established)
		e.transport.CallAsync(source.Bus, busDaemonName, busDaemonPath, busDaemonInterface,
			"AddMatch", []interface{}{matchRule(source.ObjectPath, path)}, handle)
	}

	e.audit.LogSubscription("watch_fast", path)
}

// UnwatchFast drops one subscription to path. When the last one goes, one
// RemoveMatch per bussed source is issued. Unsubscribing more often than
// subscribing is a programming error. An unwatch during establishment is
// absorbed by the counts: the removal goes out when installation completes.
func (e *Engine) UnwatchFast(path string) {
	e.subMu.Lock()
	if e.active[path] > 0 {
		if decSubscriptions(e.active, path) > 0 || e.establishing[path] > 0 {
			e.subMu.Unlock()
			return
		}
	} else {
		if decSubscriptions(e.establishing, path) > 0 || e.active[path] > 0 {
			e.subMu.Unlock()
			return
		}
	}
	e.subMu.Unlock()

	for _, source := range e.sources {
		if source.Bus == BusNone {
			continue
		}
		handle := newCallHandle(e, replyUnit, func(reply interface{}, err error) {})
		e.transport.CallAsync(source.Bus, busDaemonName, busDaemonPath, busDaemonInterface,
			"RemoveMatch", []interface{}{matchRule(source.ObjectPath, path)}, handle)
	}

	e.audit.LogSubscription("unwatch_fast", path)
}

// WatchSync subscribes synchronously: the match rules are installed before
// the call returns, so no state-token race exists and only the active map is
// touched. Errors are silently ignored.
func (e *Engine) WatchSync(path string) {
	e.subMu.Lock()
	numActive := incSubscriptions(e.active, path)
	e.subMu.Unlock()

	if numActive == 1 {
		e.matchRuleSync("AddMatch", path)
	}
	e.audit.LogSubscription("watch_sync", path)
}

// UnwatchSync drops one synchronous subscription.
func (e *Engine) UnwatchSync(path string) {
	e.subMu.Lock()
	numActive := decSubscriptions(e.active, path)
	e.subMu.Unlock()

	if numActive == 0 {
		e.matchRuleSync("RemoveMatch", path)
	}
	e.audit.LogSubscription("unwatch_sync", path)
}

// matchRuleSync installs or removes the match rule on every bussed source.
// Only static source attributes are touched, so no lock is needed.
func (e *Engine) matchRuleSync(method, path string) {
	for _, source := range e.sources {
		if source.Bus == BusNone {
			continue
		}
		_, _ = e.transport.CallSync(context.Background(), source.Bus, busDaemonName,
			busDaemonPath, busDaemonInterface, method,
			[]interface{}{matchRule(source.ObjectPath, path)}, replyUnit)
	}
}

// interestedIn reports whether a signal on the given bus and object path
// belongs to one of the engine's sources. Sender identity is deliberately
// not checked; the object path carries the database identity.
func (e *Engine) interestedIn(bus BusType, objectPath string) bool {
	for _, source := range e.sources {
		if source.Bus == bus && source.ObjectPath == objectPath {
			return true
		}
	}
	return false
}

// lastHandledMatches reports whether tag is the tag of the most recently
// completed fast change, meaning the engine already notified locally.
func (e *Engine) lastHandledMatches(tag string) bool {
	e.queueMu.Lock()
	match := e.hasLastHandled && e.lastHandled == tag
	e.queueMu.Unlock()
	return match
}

// HandleBusSignal is the host's entry point for every incoming signal on any
// bus the process listens to. Malformed payloads, unknown members and
// unmatched bus/path combinations are silently ignored.
//
// For a given engine, notifications on a single path are delivered in
// arrival order; cross-engine ordering is unspecified.
func HandleBusSignal(bus BusType, sender, objectPath, member string, body []interface{}) {
	switch member {
	case "Notify":
		if len(body) != 3 {
			return
		}
		prefix, ok := body[0].(string)
		if !ok {
			return
		}
		changes, ok := body[1].([]string)
		if !ok || len(changes) == 0 {
			return
		}
		tag, ok := body[2].(string)
		if !ok {
			return
		}

		// Reject junk: a key prefix must come with changes of exactly [""];
		// a dir prefix must come with valid relative paths.
		if IsKey(prefix) {
			if len(changes) != 1 || changes[0] != "" {
				return
			}
		} else if IsDir(prefix) {
			for _, change := range changes {
				if !IsRelPath(change) {
					return
				}
			}
		} else {
			return
		}

		for _, engine := range snapshotEngines() {
			// This incoming notify may be for a change we already announced
			// when we placed it in the queue; lastHandled tells.
			if engine.lastHandledMatches(tag) {
				continue
			}
			if engine.interestedIn(bus, objectPath) {
				engine.deliver(&ChangeEvent{
					Prefix:  prefix,
					Changes: changes,
					Tag:     tag,
					HasTag:  true,
					Time:    timecache.CachedTimeNano(),
				})
			}
		}

	case "WritabilityNotify":
		if len(body) != 1 {
			return
		}
		path, ok := body[0].(string)
		if !ok || !IsPath(path) {
			return
		}

		for _, engine := range snapshotEngines() {
			if engine.interestedIn(bus, objectPath) {
				engine.deliver(&ChangeEvent{
					Prefix:        path,
					Changes:       []string{""},
					Tag:           "",
					HasTag:        true,
					IsWritability: true,
					Time:          timecache.CachedTimeNano(),
				})
			}
		}
	}
}

// snapshotEngines copies the process-wide engine list under its lock.
func snapshotEngines() []*Engine {
	engineListMu.Lock()
	engines := make([]*Engine, len(engineList))
	copy(engines, engineList)
	engineListMu.Unlock()
	return engines
}

// HasOutstanding reports whether a fast change is still awaiting its reply.
// The in-flight slot is never empty while changes are pending, so checking
// one slot suffices.
func (e *Engine) HasOutstanding() bool {
	e.queueMu.Lock()
	has := e.inFlight != nil
	e.queueMu.Unlock()
	return has
}

// Sync blocks until the write queue has fully drained.
func (e *Engine) Sync() {
	e.queueMu.Lock()
	for e.inFlight != nil {
		e.queueCond.Wait()
	}
	e.queueMu.Unlock()
}
