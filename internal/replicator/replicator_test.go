package replicator

import (
	"sync"
	"time"

	"github.com/kvchain/multipaxos/internal/consensus"
	"github.com/kvchain/multipaxos/internal/storage"
	"go.uber.org/zap"
)

// memStore is an in-process Store stub so layer tests never touch disk.
type memStore struct {
	mu  sync.Mutex
	rec storage.Record
}

func (m *memStore) Save(r storage.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = r
	return nil
}

func (m *memStore) Load() (storage.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec, nil
}

// fakeSender records every payload handed to it instead of touching a
// socket, so tests can assert on what a layer tried to broadcast or send.
type fakeSender struct {
	mu     sync.Mutex
	toAll  [][]byte
	toPeer map[string][][]byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{toPeer: make(map[string][][]byte)}
}

func (f *fakeSender) SendToPeer(uid string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toPeer[uid] = append(f.toPeer[uid], payload)
	return nil
}

func (f *fakeSender) SendToAllPeers(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toAll = append(f.toAll, payload)
}

func (f *fakeSender) broadcastCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.toAll)
}

func (f *fakeSender) peerCount(uid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.toPeer[uid])
}

// fakeTimerEntry is what fakeTimers remembers about one armed slot.
type fakeTimerEntry struct {
	fn        func()
	repeating bool
	d         time.Duration
}

// fakeTimers is a manually-driven Timers stub: arming never starts a real
// clock. Tests fire a slot explicitly by calling trigger, and can assert on
// what's currently armed via isArmed().
type fakeTimers struct {
	mu    sync.Mutex
	slots map[TimerSlot]fakeTimerEntry
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{slots: make(map[TimerSlot]fakeTimerEntry)}
}

func (f *fakeTimers) ArmOnce(slot TimerSlot, d time.Duration, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[slot] = fakeTimerEntry{fn: fn, repeating: false, d: d}
}

func (f *fakeTimers) ArmRepeating(slot TimerSlot, d time.Duration, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slots[slot] = fakeTimerEntry{fn: fn, repeating: true, d: d}
}

func (f *fakeTimers) Cancel(slot TimerSlot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.slots, slot)
}

func (f *fakeTimers) isArmed(slot TimerSlot) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.slots[slot]
	return ok
}

func (f *fakeTimers) intervalOf(slot TimerSlot) time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slots[slot].d
}

// trigger invokes a slot's callback as if the clock had fired it, without
// removing it from the map first — callers rearm or cancel inside fn, same
// as the real Engine.
func (f *fakeTimers) trigger(slot TimerSlot) {
	f.mu.Lock()
	entry, ok := f.slots[slot]
	f.mu.Unlock()
	if ok {
		entry.fn()
	}
}

func noopLogger() *zap.Logger { return zap.NewNop() }

func zeroPID() consensus.ProposalID { return consensus.ProposalID{} }
