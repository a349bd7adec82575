// Package transport binds the engine to the network: one UDP socket per
// peer, a background goroutine that decodes inbound datagrams and feeds them
// into a channel, and send helpers addressed by peer uid.
package transport

import (
	"fmt"
	"net"
	"sync/atomic"

	"github.com/kvchain/multipaxos/internal/config"
	"github.com/kvchain/multipaxos/internal/wire"
	"go.uber.org/zap"
)

// Inbound pairs a decoded envelope with the peer uid it arrived from, as
// resolved from the datagram's source address against the peer directory.
// Datagrams from unrecognized addresses are dropped before reaching the
// channel (spec.md §7's malformed-packet handling covers decode failures;
// an unknown sender is the transport-level analogue).
type Inbound struct {
	From string
	Env  wire.Envelope
}

// Transport owns a single UDP socket for one peer and the directory mapping
// every peer uid to its listening address.
type Transport struct {
	conn *net.UDPConn
	self string

	addrToUID map[string]string
	uidToAddr map[string]*net.UDPAddr

	inbound chan Inbound
	dead    int32
	log     *zap.Logger
}

// New resolves the peer directory from cfg, binds a UDP socket on this
// peer's own address, and starts the background read loop. Mirrors the
// teacher's Make()-style constructor: construction both builds the value
// and launches the goroutine that keeps it alive.
func New(cfg config.Conf, log *zap.Logger) (*Transport, error) {
	selfAddr, ok := cfg.AddressOf(cfg.UID)
	if !ok {
		return nil, fmt.Errorf("transport: no address configured for self uid %q", cfg.UID)
	}

	laddr, err := net.ResolveUDPAddr("udp", selfAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve own address %q: %w", selfAddr, err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", selfAddr, err)
	}

	t := &Transport{
		conn:      conn,
		self:      cfg.UID,
		addrToUID: make(map[string]string, len(cfg.Peers)),
		uidToAddr: make(map[string]*net.UDPAddr, len(cfg.Peers)),
		inbound:   make(chan Inbound, 256),
		log:       log,
	}

	for _, p := range cfg.Peers {
		raddr, err := net.ResolveUDPAddr("udp", p.Address)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("transport: resolve peer %q address %q: %w", p.UID, p.Address, err)
		}
		t.uidToAddr[p.UID] = raddr
		t.addrToUID[raddr.String()] = p.UID
	}

	go t.readLoop()

	return t, nil
}

func (t *Transport) readLoop() {
	buf := make([]byte, 64*1024)
	for atomic.LoadInt32(&t.dead) == 0 {
		n, raddr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if atomic.LoadInt32(&t.dead) != 0 {
				return
			}
			t.log.Warn("transport: read error", zap.Error(err))
			continue
		}

		from, known := t.addrToUID[raddr.String()]
		if !known {
			t.log.Debug("transport: dropping datagram from unrecognized address", zap.String("addr", raddr.String()))
			continue
		}

		env, err := wire.Decode(buf[:n])
		if err != nil {
			t.log.Warn("transport: malformed datagram", zap.String("from", from), zap.Error(err))
			continue
		}
		env.From = from

		select {
		case t.inbound <- Inbound{From: from, Env: env}:
		default:
			t.log.Warn("transport: inbound channel full, dropping datagram", zap.String("from", from))
		}
	}
}

// Inbound returns the channel of decoded, peer-attributed datagrams.
func (t *Transport) Inbound() <-chan Inbound {
	return t.inbound
}

// Send addresses a single peer by uid.
func (t *Transport) Send(uid string, payload []byte) error {
	raddr, ok := t.uidToAddr[uid]
	if !ok {
		return fmt.Errorf("transport: unknown peer uid %q", uid)
	}
	_, err := t.conn.WriteToUDP(payload, raddr)
	return err
}

// Broadcast sends payload to every known peer, including self (spec.md
// §4.3's send_prepare/send_accept/send_accepted broadcast primitives treat
// self-delivery as implementation-defined; looping the datagram back through
// the socket keeps self-handling identical to remote handling).
func (t *Transport) Broadcast(payload []byte) []error {
	var errs []error
	for uid := range t.uidToAddr {
		if err := t.Send(uid, payload); err != nil {
			errs = append(errs, fmt.Errorf("transport: send to %s: %w", uid, err))
		}
	}
	return errs
}

// Self returns this transport's own peer uid.
func (t *Transport) Self() string { return t.self }

// Close stops the read loop and releases the socket.
func (t *Transport) Close() error {
	atomic.StoreInt32(&t.dead, 1)
	return t.conn.Close()
}
