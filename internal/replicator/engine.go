package replicator

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kvchain/multipaxos/internal/config"
	"github.com/kvchain/multipaxos/internal/storage"
	"github.com/kvchain/multipaxos/internal/transport"
	"github.com/kvchain/multipaxos/internal/wire"
	"go.uber.org/zap"
)

// Engine is the single-goroutine cooperative event loop of spec.md §5: it
// owns every timer the protocol needs, composes the four layers into one
// Core, and dispatches inbound datagrams through a fixed, typed switch
// rather than the original's dynamic method lookup (spec.md §9).
type Engine struct {
	cfg   config.Conf
	trans *transport.Transport
	log   *zap.Logger

	top    Core
	master *Master

	timers  map[TimerSlot]*timerState
	genSeq  uint64
	fired   chan firedEvent
	done    chan struct{}
}

type timerState struct {
	gen       uint64
	timer     *time.Timer
	fn        func()
	repeating bool
	interval  time.Duration
}

type firedEvent struct {
	slot TimerSlot
	gen  uint64
}

// NewEngine loads durable state, builds the layered Core stack (Master ->
// Driver -> Sync -> Register, Master only present if cfg.Master is set),
// and wires it to the given transport. Call Run to start the event loop.
func NewEngine(cfg config.Conf, trans *transport.Transport, log *zap.Logger) (*Engine, error) {
	if err := storage.EnsureDir(cfg.StatePath); err != nil {
		return nil, err
	}
	store := storage.NewFileStore(cfg.StatePath)

	e := &Engine{
		cfg:    cfg,
		trans:  trans,
		log:    log,
		timers: make(map[TimerSlot]*timerState),
		fired:  make(chan firedEvent, 32),
		done:   make(chan struct{}),
	}

	sender := transportSender{t: trans, log: log}

	reg, err := NewRegister(cfg.UID, cfg.PeerUIDs(), cfg.QuorumSize(), store, sender, log)
	if err != nil {
		return nil, err
	}

	syncLayer := NewSync(reg, e, sender, SyncConfig{SyncDelay: cfg.SyncDelay}, log)

	driver := NewDriver(syncLayer, e, DriverConfig{
		BackoffInitial:      cfg.BackoffInitial,
		BackoffCap:          cfg.BackoffCap,
		DriveSilenceTimeout: cfg.DriveSilenceTimeout,
		RetransmitInterval:  cfg.RetransmitInterval,
	}, log)

	var top Core = driver
	if cfg.Master {
		master := NewMaster(driver, e, MasterConfig{
			LeaseWindow:        cfg.LeaseWindow,
			RetransmitInterval: cfg.RetransmitInterval,
		}, log)
		top = master
		e.master = master
	}

	if ts, ok := top.(topSetter); ok {
		ts.setTop(top)
	}
	e.top = top

	if e.master != nil {
		e.master.AfterLoad()
	}

	return e, nil
}

// ProposeClientValue submits a client-originated value, as if it had
// arrived as a "propose" datagram.
func (e *Engine) ProposeClientValue(value []byte) {
	e.top.ProposeUpdate(value, true)
}

// Run services the transport's inbound channel and every armed timer until
// ctx is canceled. It never runs two handlers concurrently: the next
// select iteration doesn't begin until the current one's handler, including
// any synchronous Store.Save, returns.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.done)

	for {
		select {
		case <-ctx.Done():
			return

		case in := <-e.trans.Inbound():
			e.handleInbound(in)

		case fe := <-e.fired:
			e.dispatchFire(fe.slot, fe.gen)
		}
	}
}

func (e *Engine) handleInbound(in transport.Inbound) {
	corrID := uuid.New().String()
	env := in.Env

	e.log.Debug("replicator: inbound datagram",
		zap.String("correlation_id", corrID),
		zap.String("from", in.From),
		zap.String("type", string(env.Type)))

	switch env.Type {
	case wire.TypePropose:
		e.top.ProposeUpdate(env.ProposeVal, true)
	case wire.TypePrepare:
		e.top.ReceivePrepare(env.From, env.Prepare.InstanceNumber, env.Prepare.ProposalID)
	case wire.TypePromise:
		p := env.Promise
		e.top.ReceivePromise(env.From, p.InstanceNumber, p.ProposalID, p.LastAcceptedID, p.LastAcceptedValue)
	case wire.TypeAccept:
		a := env.Accept
		e.top.ReceiveAccept(env.From, a.InstanceNumber, a.ProposalID, a.ProposalValue)
	case wire.TypeAccepted:
		a := env.Accepted
		e.top.ReceiveAccepted(env.From, a.InstanceNumber, a.ProposalID, a.ProposalValue)
	case wire.TypeNack:
		n := env.Nack
		e.top.ReceiveNack(env.From, n.InstanceNumber, n.ProposalID, n.PromisedProposal)
	case wire.TypeSyncRequest:
		e.top.ReceiveSyncRequest(env.From, env.SyncRequest.InstanceNumber)
	case wire.TypeCatchup:
		e.top.ReceiveCatchup(env.From, env.Catchup.InstanceNumber, env.Catchup.CurrentValue)
	default:
		e.log.Warn("replicator: dropping datagram of unrecognized type", zap.String("type", string(env.Type)))
	}
}

func (e *Engine) dispatchFire(slot TimerSlot, gen uint64) {
	st, ok := e.timers[slot]
	if !ok || st.gen != gen {
		return // superseded or canceled since this fire was scheduled
	}

	st.fn()

	// Re-arm only if this slot is still exactly the timer we just fired
	// (the callback itself may have rearmed or canceled it).
	if cur, ok := e.timers[slot]; ok && cur == st && st.repeating {
		e.scheduleNext(slot, st)
	}
}

func (e *Engine) scheduleNext(slot TimerSlot, st *timerState) {
	st.timer = time.AfterFunc(st.interval, func() {
		select {
		case e.fired <- firedEvent{slot: slot, gen: st.gen}:
		case <-e.done:
		}
	})
}

// ArmOnce implements Timers.
func (e *Engine) ArmOnce(slot TimerSlot, d time.Duration, fn func()) {
	e.arm(slot, d, fn, false)
}

// ArmRepeating implements Timers.
func (e *Engine) ArmRepeating(slot TimerSlot, d time.Duration, fn func()) {
	e.arm(slot, d, fn, true)
}

func (e *Engine) arm(slot TimerSlot, d time.Duration, fn func(), repeating bool) {
	if old, ok := e.timers[slot]; ok {
		old.timer.Stop()
	}

	e.genSeq++
	gen := e.genSeq
	st := &timerState{gen: gen, fn: fn, repeating: repeating, interval: d}
	st.timer = time.AfterFunc(d, func() {
		select {
		case e.fired <- firedEvent{slot: slot, gen: gen}:
		case <-e.done:
		}
	})
	e.timers[slot] = st
}

// Cancel implements Timers.
func (e *Engine) Cancel(slot TimerSlot) {
	if st, ok := e.timers[slot]; ok {
		st.timer.Stop()
		delete(e.timers, slot)
	}
}

// transportSender adapts transport.Transport to the Sender interface the
// replicator layers use to address peers.
type transportSender struct {
	t   *transport.Transport
	log *zap.Logger
}

func (s transportSender) SendToPeer(uid string, payload []byte) error {
	return s.t.Send(uid, payload)
}

func (s transportSender) SendToAllPeers(payload []byte) {
	for _, err := range s.t.Broadcast(payload) {
		s.log.Warn("replicator: broadcast send failed", zap.Error(err))
	}
}
