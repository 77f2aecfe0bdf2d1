// Package router implements Module I, the cooperative supervisor tying
// the SHMP Dispatcher, S0 nonce tick, Resource Directory probe pump, and
// Z/IP/UDP listener into one set of coordinated goroutines, per spec.md
// §4.I and the §5 concurrency model. Grounded on sakateka-yanet2's
// errgroup-based task supervision and generalizing the teacher's single
// RunNPI select loop to the multi-task model SPEC_FULL.md describes.
package router

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/siliconlabs/zwave-ip-gateway/internal/netif"
	"github.com/siliconlabs/zwave-ip-gateway/internal/rd"
	"github.com/siliconlabs/zwave-ip-gateway/internal/s0"
	"github.com/siliconlabs/zwave-ip-gateway/internal/shmp"
	"github.com/siliconlabs/zwave-ip-gateway/internal/zip"
)

// probePumpPeriod and nonceTickPeriod are spec.md §4.I's "sleeps 100 ms
// between iterations" and §4.D's once-a-second TTL tick.
const (
	probePumpPeriod = 100 * time.Millisecond
	nonceTickPeriod = 1 * time.Second
)

// Loop is the Router Loop supervisor. Construction wires it to the
// already-running SHMP Dispatcher and the Resource Directory/Virtual
// Netif/Z/IP Bridge it drives.
type Loop struct {
	dispatcher *shmp.Dispatcher
	nonces     *s0.NonceStore
	directory  *rd.Directory
	virtual    *netif.Virtual
	listener   *netif.Listener
	bridge     *zip.Bridge
	ra         *netif.RAAdvertiser

	log zerolog.Logger
}

// New constructs a Loop. ra may be nil if RA advertisement is handled
// out of process.
func New(dispatcher *shmp.Dispatcher, nonces *s0.NonceStore, directory *rd.Directory, virtual *netif.Virtual, listener *netif.Listener, bridge *zip.Bridge, ra *netif.RAAdvertiser, log zerolog.Logger) *Loop {
	return &Loop{
		dispatcher: dispatcher,
		nonces:     nonces,
		directory:  directory,
		virtual:    virtual,
		listener:   listener,
		bridge:     bridge,
		ra:         ra,
		log:        log.With().Str("component", "router.loop").Logger(),
	}
}

// Run starts every task and blocks until ctx is cancelled or one task
// returns an unrecoverable error, per spec.md §5 "Task cancellation is
// not required; subsystem shutdown uses a cooperative stop flag" —
// realised here as errgroup's shared context cancellation.
func (l *Loop) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		l.dispatcher.RunDispatchLoop(ctx)
		return nil
	})
	g.Go(func() error { return l.runNonceTick(ctx) })
	g.Go(func() error { return l.runProbePump(ctx) })
	g.Go(func() error { return l.runUDPListener(ctx) })
	if l.ra != nil {
		g.Go(func() error { return l.ra.Run(ctx) })
	}

	return g.Wait()
}

// runNonceTick implements spec.md §4.I step 2: "Ticks the S0 nonce TTL
// once per second."
func (l *Loop) runNonceTick(ctx context.Context) error {
	ticker := time.NewTicker(nonceTickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.nonces.Tick()
		}
	}
}

// runProbePump implements spec.md §4.I step 3: "Runs any pending
// node-probe step," advancing every non-terminal node one FSM step per
// tick and reacting to Done/ProbeFail transitions (virtual netif address
// assignment/withdrawal, §4.F/§4.G).
func (l *Loop) runProbePump(ctx context.Context) error {
	ticker := time.NewTicker(probePumpPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.stepPending()
		}
	}
}

func (l *Loop) stepPending() {
	for _, n := range l.directory.Nodes() {
		if n.Mode == rd.ModeDeleted || n.Mode == rd.ModeFailed {
			continue
		}
		if n.State == rd.StateDone || n.State == rd.StateProbeFail || n.State == rd.StateFailing {
			continue
		}

		wasDone := n.IsDone()
		n.AdvanceState()

		if err := l.directory.Save(n.NodeId); err != nil {
			l.log.Warn().Err(err).Uint16("node", uint16(n.NodeId)).Msg("failed to persist probe step")
		}

		if !wasDone && n.IsDone() {
			if err := l.virtual.Assign(n.NodeId); err != nil {
				l.log.Warn().Err(err).Uint16("node", uint16(n.NodeId)).Msg("failed to assign virtual address")
			}
		}
	}
}

// runUDPListener implements the UDP-listener task from spec.md §5: reads
// datagrams destined for the virtual netif's routed prefix and hands
// them to the Z/IP Bridge.
func (l *Loop) runUDPListener(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		dg, err := l.listener.ReadFrom()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.log.Warn().Err(err).Msg("UDP listener read failed")
			continue
		}
		if dg == nil {
			continue
		}
		if !l.virtual.MatchesPrefix(dg.DstNode) {
			continue
		}
		if err := l.bridge.HandleDatagram(ctx, dg); err != nil {
			l.log.Debug().Err(err).Msg("dropping datagram")
		}
	}
}

// HandleNodeFailure withdraws a node's virtual address on transition to
// Failed/Deleted, per spec.md §4.G "On RD transition to Failed/Deleted:
// mark Invalid." Called by whichever serial callback observes the
// failure (e.g. an ApplicationUpdate NodeInfoFail).
func (l *Loop) HandleNodeFailure(id shmp.NodeId) {
	if n, ok := l.directory.Get(id); ok {
		n.Fail()
		if err := l.directory.Save(id); err != nil {
			l.log.Warn().Err(err).Uint16("node", uint16(id)).Msg("failed to persist node failure")
		}
	}
	if err := l.virtual.Withdraw(id); err != nil {
		l.log.Warn().Err(err).Uint16("node", uint16(id)).Msg("failed to withdraw virtual address")
	}
}
