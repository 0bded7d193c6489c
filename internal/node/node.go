package node

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"

	"github.com/smart-protocol/smart/config"
	"github.com/smart-protocol/smart/internal/access"
	"github.com/smart-protocol/smart/internal/checkpoint"
	"github.com/smart-protocol/smart/internal/custody"
	"github.com/smart-protocol/smart/internal/eventlog"
	"github.com/smart-protocol/smart/internal/identity"
	"github.com/smart-protocol/smart/internal/ledger"
	"github.com/smart-protocol/smart/internal/metrics"
	"github.com/smart-protocol/smart/internal/protocol"
	"github.com/smart-protocol/smart/internal/state"
	"github.com/smart-protocol/smart/internal/yield"
)

// Options are the parts of a node that are not read from the config file
type Options struct {
	Clock   state.Clock // defaults to the system clock
	Genesis *Genesis
}

// Node owns one ledger and serves it over HTTP. The ledger is
// single-threaded: every request holds mu for its whole duration.
type Node struct {
	mu sync.Mutex

	cfg       *config.Config
	clock     state.Clock
	journal   *state.Journal
	roles     *access.RoleTable
	registry  *identity.Registry
	token     *ledger.Token
	custodian *custody.Custodian
	store     *checkpoint.Store
	engine    *yield.Engine
	asset     *yield.MemoryAsset

	events   *eventlog.Store
	metrics  *metrics.Metrics
	hub      *Hub
	recorder *opRecorder
	receipts *ReceiptStore
	router   *mux.Router
}

func New(cfg *config.Config, opts Options) (*Node, error) {
	clock := opts.Clock
	if clock == nil {
		clock = &state.SystemClock{}
	}

	roles, err := access.NewRoleTableFromConfig(cfg.Roles)
	if err != nil {
		return nil, fmt.Errorf("roles: %w", err)
	}
	registry, err := identity.NewRegistryFromConfig(cfg.Identities)
	if err != nil {
		return nil, fmt.Errorf("identities: %w", err)
	}

	n := &Node{
		cfg:      cfg,
		clock:    clock,
		roles:    roles,
		registry: registry,
		metrics:  metrics.New(),
		hub:      NewHub(),
		recorder: &opRecorder{},
		receipts: NewReceiptStore(),
		router:   mux.NewRouter(),
	}

	sinks := Fanout{n.recorder, n.metrics, n.hub}
	if cfg.EventLogPath != "" {
		if n.events, err = eventlog.Open(cfg.EventLogPath); err != nil {
			return nil, err
		}
		sinks = append(sinks, n.events)
		log.Printf("[Node] Recording events to %s", cfg.EventLogPath)
	}
	n.journal = state.NewJournal(clock, sinks)

	if n.store, err = checkpoint.NewStore(cfg.StorageDir, n.journal); err != nil {
		n.Close()
		return nil, err
	}
	resume, err := n.store.HasHistory()
	if err != nil {
		n.Close()
		return nil, err
	}

	n.token = ledger.NewToken(cfg.Token.Name, cfg.Token.Symbol, cfg.Token.Decimals, n.journal, roles)
	n.custodian = custody.NewCustodian(n.token, roles, registry)
	n.token.Use(n.custodian)

	var engineSnap *yield.EngineSnapshot
	if resume {
		if engineSnap, err = loadSnapshot[yield.EngineSnapshot](n.store, engineSnapshot); err != nil {
			n.Close()
			return nil, err
		}
	}
	if cfg.Yield != nil {
		if err := n.setupYield(cfg.Yield, engineSnap); err != nil {
			n.Close()
			return nil, err
		}
	} else if engineSnap != nil {
		log.Printf("[Node] Storage holds yield state but no yield schedule is configured, ignoring it")
	}
	n.token.Use(checkpoint.NewTracker(n.store))

	switch {
	case resume:
		if err := n.restore(engineSnap); err != nil {
			n.Close()
			return nil, fmt.Errorf("resume from %s: %w", cfg.StorageDir, err)
		}
		if opts.Genesis != nil {
			log.Printf("[Node] Storage %s already holds a ledger, genesis ignored", cfg.StorageDir)
		}
	case opts.Genesis != nil:
		if err := n.applyGenesis(opts.Genesis); err != nil {
			n.Close()
			return nil, fmt.Errorf("genesis: %w", err)
		}
		n.recorder.take()
		if err := n.persist(); err != nil {
			n.Close()
			return nil, err
		}
	}

	n.setupRoutes()
	return n, nil
}

// setupYield builds the engine on the schedule persisted by an earlier run
// if there is one, otherwise on a new schedule starting StartOffset
// seconds from now
func (n *Node) setupYield(yc *config.YieldConfig, snap *yield.EngineSnapshot) error {
	var schedule *yield.Schedule
	var err error
	if snap != nil {
		if schedule, err = yield.RestoreSchedule(snap.Schedule); err != nil {
			return fmt.Errorf("persisted yield schedule: %w", err)
		}
		if c := schedule.Config(); c.End-c.Start != yc.Duration || c.Interval != yc.Interval || c.RateBps != yc.RateBps {
			log.Printf("[Node] Configured yield schedule differs from the persisted one, keeping %+v", c)
		}
	} else {
		now := n.clock.Now()
		start := now + yc.StartOffset
		schedule, err = yield.NewSchedule(yield.Config{
			Start:    start,
			End:      start + yc.Duration,
			RateBps:  yc.RateBps,
			Interval: yc.Interval,
		}, now)
		if err != nil {
			return fmt.Errorf("yield schedule: %w", err)
		}
	}

	basis := uint256.NewInt(1)
	if yc.Basis != "" {
		if basis, err = protocol.ParseAmount(yc.Basis); err != nil {
			return fmt.Errorf("yield basis: %w", err)
		}
	}
	if !common.IsHexAddress(yc.Address) {
		return fmt.Errorf("yield address %q is not a hex address", yc.Address)
	}
	symbol := yc.PaymentAsset
	if symbol == "" {
		symbol = "USD"
	}

	n.asset = yield.NewMemoryAsset(symbol, n.journal)
	n.engine = yield.NewEngine(common.HexToAddress(yc.Address), schedule, yield.NewFixedBasis(basis), yield.Backends{
		History: n.store,
		Live:    n.token,
		Asset:   n.asset,
		Auth:    n.roles,
		Journal: n.journal,
	})
	n.token.Use(yield.NewMintGate(schedule, n.clock))
	log.Printf("[Node] Yield schedule %d-%d, %d periods of %ds at %d bps",
		schedule.Start(), schedule.End(), schedule.NumPeriods(), schedule.Interval(), schedule.RateBps())
	return nil
}

func (n *Node) Router() *mux.Router            { return n.router }
func (n *Node) Token() *ledger.Token           { return n.token }
func (n *Node) Custodian() *custody.Custodian  { return n.custodian }
func (n *Node) Checkpoints() *checkpoint.Store { return n.store }
func (n *Node) Engine() *yield.Engine          { return n.engine }
func (n *Node) Asset() *yield.MemoryAsset      { return n.asset }
func (n *Node) Hub() *Hub                      { return n.hub }
func (n *Node) Metrics() *metrics.Metrics      { return n.metrics }
func (n *Node) Receipts() *ReceiptStore        { return n.receipts }
func (n *Node) EventLog() *eventlog.Store      { return n.events }

// execute runs one state-changing operation and records its receipt.
// State is persisted only after the operation has committed.
func (n *Node) execute(op string, fn func() (string, error)) (*Receipt, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.recorder.take()
	result, err := fn()
	n.metrics.ObserveOperation(op, err)
	if err == nil {
		if perr := n.persist(); perr != nil {
			log.Printf("[Node] Failed to persist state after %s: %v", op, perr)
		}
	}

	receipt := newReceipt(op, n.clock.Now(), n.recorder.take(), err)
	receipt.Result = result
	n.receipts.AddReceipt(receipt)
	return receipt, err
}

// view runs a read-only function under the node lock
func (n *Node) view(fn func() error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return fn()
}

// Serve listens on addr until ctx is cancelled
func (n *Node) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           n.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Node] %s listening on %s", n.cfg.Token.Symbol, addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		n.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Close flushes and closes the checkpoint store and the event log
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.hub.Close()
	var errs []error
	if n.store != nil {
		errs = append(errs, n.store.Close())
		n.store = nil
	}
	if n.events != nil {
		errs = append(errs, n.events.Close())
		n.events = nil
	}
	return errors.Join(errs...)
}

// WatchPeriods logs every yield period that completes while the node runs.
// It returns when ctx is cancelled.
func (n *Node) WatchPeriods(ctx context.Context, every time.Duration) error {
	if n.engine == nil {
		return nil
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			var completed, total uint64
			n.view(func() error {
				s := n.engine.Schedule()
				completed = s.LastCompletedPeriod(n.clock.Now())
				total = s.NumPeriods()
				return nil
			})
			if completed > last {
				log.Printf("[Node] Yield period %d of %d completed", completed, total)
				last = completed
			}
		}
	}
}
