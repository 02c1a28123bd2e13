package custody

import (
	"context"
	"sync"
	"time"

	"github.com/filecoin-project/go-statemachine"
	"github.com/filecoin-project/go-statestore"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	"github.com/raulk/clock"
	"go.opencensus.io/stats"
	"golang.org/x/xerrors"

	"github.com/icpgeeks/iicustody/build"
	"github.com/icpgeeks/iicustody/identity"
	"github.com/icpgeeks/iicustody/journal"
	"github.com/icpgeeks/iicustody/ledger"
	"github.com/icpgeeks/iicustody/lib/leaselock"
	"github.com/icpgeeks/iicustody/metrics"
	"github.com/icpgeeks/iicustody/rewards"
)

// ErrLocked is returned by request operations while another operation holds
// the custody record. The caller retries after the held lease expires.
var ErrLocked = xerrors.New("custody record locked by a concurrent operation")

// the custody record and the lock slot each live under a single fixed key
// in their own namespace
const (
	recordKey = uint64(0)
	lockKey   = uint64(0)
)

var (
	dsCustody  = datastore.NewKey("/custody")
	dsLock     = datastore.NewKey("/custody-lock")
	dsEventLog = datastore.NewKey("/custody-log")
)

// lockRecord is the persisted single-writer lock slot.
type lockRecord struct {
	Lock leaselock.State
}

// Config tunes the custody controller. All windows and intervals are in
// nanoseconds.
type Config struct {
	// QuarantineWindow is the cool-down after capture before the first asset
	// snapshot may back a sale.
	QuarantineWindow uint64

	// RevalidateInterval is how often the held assets are re-fetched and
	// re-verified against the validated snapshot.
	RevalidateInterval uint64

	// LeaseDuration bounds how long a single operation may hold the record;
	// RecoveryMargin is the extra grace before a stalled holder is preempted.
	LeaseDuration  uint64
	RecoveryMargin uint64

	// PollInterval spaces re-entries while waiting on out-of-band progress,
	// RetryBackoff spaces retries after a processing error.
	PollInterval uint64
	RetryBackoff uint64

	// MaxBuyerOffers bounds the standing offer list per deal.
	MaxBuyerOffers int

	// PositionPageSize is the staked-position info page size.
	PositionPageSize uint64

	// DelegationTTL is the validity window requested for asset-fetch
	// delegations.
	DelegationTTL uint64

	// DerivedAccounts is how many derived sub-account candidates the account
	// audit checks beyond the known ones.
	DerivedAccounts uint64

	// TransferFee is the flat ledger fee paid per transfer leg.
	TransferFee uint64

	// Rewards splits the sale price between the reward legs.
	Rewards rewards.Split

	// DeveloperAccount and HubAccount receive their respective reward legs.
	DeveloperAccount ledger.Account
	HubAccount       ledger.Account
}

// DefaultConfig returns the controller defaults used when the node config
// leaves a knob unset.
func DefaultConfig() Config {
	return Config{
		QuarantineWindow:   uint64(48 * time.Hour),
		RevalidateInterval: uint64(6 * time.Hour),
		LeaseDuration:      uint64(time.Minute),
		RecoveryMargin:     uint64(5 * time.Second),
		PollInterval:       uint64(15 * time.Second),
		RetryBackoff:       uint64(30 * time.Second),
		MaxBuyerOffers:     32,
		PositionPageSize:   16,
		DelegationTTL:      uint64(30 * time.Minute),
		DerivedAccounts:    8,
		TransferFee:        10_000,
		Rewards: rewards.Split{
			ReferralBp:  200,
			DeveloperBp: 100,
			HubBp:       100,
		},
	}
}

// Controller drives a single custody record: it owns the persisted state,
// the single-writer lease lock, the append-only transition log and the timer
// that re-enters processing when a deadline or retry comes due.
type Controller struct {
	identity identity.Provider
	ledger   ledger.Ledger
	cfg      Config

	sts   *statestore.StateStore
	locks *statestore.StateStore
	elog  *eventLog

	j             journal.Journal
	evtTransition journal.EventType

	clock clock.Clock

	// lk serializes operations within this process; the persisted lease
	// excludes writers across processes and restarts.
	lk sync.Mutex

	tlk      sync.Mutex
	timer    *clock.Timer
	timerAt  uint64
	recovery *clock.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

// NewController wires a controller over the node datastore and the identity
// and ledger collaborators. Call Start to begin processing.
func NewController(ds datastore.Datastore, ip identity.Provider, lg ledger.Ledger, j journal.Journal, cfg Config) *Controller {
	if j == nil {
		j = journal.NilJournal()
	}
	return &Controller{
		identity: ip,
		ledger:   lg,
		cfg:      cfg,

		sts:   statestore.New(namespace.Wrap(ds, dsCustody)),
		locks: statestore.New(namespace.Wrap(ds, dsLock)),
		elog:  newEventLog(namespace.Wrap(ds, dsEventLog)),

		j:             j,
		evtTransition: j.RegisterEventType("custody", "transition"),

		clock: build.Clock,
	}
}

func (c *Controller) now() uint64 {
	return uint64(c.clock.Now().UnixNano())
}

// Start ensures the persisted record and lock slot exist, replays a restart
// transition and kicks processing.
func (c *Controller) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if has, err := c.sts.Has(recordKey); err != nil {
		return xerrors.Errorf("checking custody record: %w", err)
	} else if !has {
		if err := c.sts.Begin(recordKey, &CustodyInfo{Phase: WaitingActivation}); err != nil {
			return xerrors.Errorf("initializing custody record: %w", err)
		}
	}
	if has, err := c.locks.Has(lockKey); err != nil {
		return xerrors.Errorf("checking lock slot: %w", err)
	} else if !has {
		if err := c.locks.Begin(lockKey, &lockRecord{}); err != nil {
			return xerrors.Errorf("initializing lock slot: %w", err)
		}
	}

	// a lease held across a crash must run out before processing resumes
	var rec lockRecord
	if err := c.readLock(&rec); err != nil {
		return err
	}
	if now := c.now(); rec.Lock.Locked && !rec.Lock.Expired(now) {
		log.Warnw("custody lock held at startup, deferring to lease expiration",
			"expiration", rec.Lock.Expiration)
		c.armContinuation(rec.Lock.Expiration + c.cfg.RecoveryMargin)
		return nil
	}

	if err := c.Submit(ctx, EventRestart{}); err != nil && !xerrors.Is(err, ErrLocked) {
		return err
	}
	return nil
}

// Stop halts timer-driven processing. In-flight steps finish on their own.
func (c *Controller) Stop(context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	c.tlk.Lock()
	defer c.tlk.Unlock()
	if c.timer != nil {
		c.timer.Stop()
	}
	if c.recovery != nil {
		c.recovery.Stop()
	}
	return nil
}

// Info returns a copy of the current custody record.
func (c *Controller) Info(context.Context) (CustodyInfo, error) {
	var infos []CustodyInfo
	if err := c.sts.List(&infos); err != nil {
		return CustodyInfo{}, xerrors.Errorf("listing custody record: %w", err)
	}
	if len(infos) == 0 {
		return CustodyInfo{}, xerrors.New("custody record not initialized")
	}
	return infos[0], nil
}

// LockExpiration returns when the currently installed processing lease runs
// out, zero when the record is unlocked or the lease already expired.
func (c *Controller) LockExpiration() uint64 {
	var rec lockRecord
	if err := c.readLock(&rec); err != nil {
		return 0
	}
	if !rec.Lock.Locked || rec.Lock.Expired(c.now()) {
		return 0
	}
	return rec.Lock.Expiration
}

func (c *Controller) readLock(out *lockRecord) error {
	var recs []lockRecord
	if err := c.locks.List(&recs); err != nil {
		return xerrors.Errorf("listing lock slot: %w", err)
	}
	if len(recs) == 0 {
		return xerrors.New("lock slot not initialized")
	}
	*out = recs[0]
	return nil
}

// Submit folds one externally-driven event into the record under the lock,
// returning ErrLocked when a concurrent operation holds it. The transition
// either fully applies or the record is untouched.
func (c *Controller) Submit(ctx context.Context, evt custodyEvent) error {
	if !c.lk.TryLock() {
		return ErrLocked
	}
	defer c.lk.Unlock()

	lease, err := c.acquireLease()
	if err != nil {
		return err
	}
	defer c.releaseLease(lease)

	if err := c.mutate(evt); err != nil {
		return err
	}

	c.kick()
	return nil
}

// mutate applies one event through the planner inside a statestore mutation.
// Must run with the lease held.
func (c *Controller) mutate(evt custodyEvent) error {
	err := c.sts.Get(recordKey).Mutate(func(st *CustodyInfo) error {
		_, _, err := c.Plan([]statemachine.Event{{User: evt}}, st)
		return err
	})
	if err != nil {
		return err
	}

	info, ierr := c.Info(context.Background())
	if ierr != nil {
		log.Errorw("reading record for transition log", "error", ierr)
		return nil
	}
	if lerr := c.elog.record(c.now(), evt, &info); lerr != nil {
		log.Errorw("appending transition log", "event", eventName(evt), "error", lerr)
	}

	journal.MaybeAddEntry(c.j, c.evtTransition, func() interface{} {
		return map[string]interface{}{
			"event": eventName(evt),
			"phase": info.Phase,
		}
	})
	return nil
}

func (c *Controller) acquireLease() (leaselock.Lease, error) {
	now := c.now()
	var lease leaselock.Lease
	err := c.locks.Get(lockKey).Mutate(func(r *lockRecord) error {
		l, err := r.Lock.Acquire(now, c.cfg.LeaseDuration)
		if err != nil {
			return err
		}
		lease = l
		return nil
	})
	if err != nil {
		var held *leaselock.ErrHeld
		if xerrors.As(err, &held) {
			stats.Record(context.Background(), metrics.CustodyLockHeld.M(1))
			c.armRecovery(held.Expiration, nil)
			return leaselock.Lease{}, xerrors.Errorf("%w: held until %d", ErrLocked, held.Expiration)
		}
		return leaselock.Lease{}, xerrors.Errorf("acquiring custody lease: %w", err)
	}

	// watchdog: if this holder stalls without releasing, force a processing
	// pass once the lease runs out
	c.armRecovery(lease.Expiration, &lease)
	return lease, nil
}

func (c *Controller) releaseLease(l leaselock.Lease) {
	c.disarmRecovery()
	err := c.locks.Get(lockKey).Mutate(func(r *lockRecord) error {
		if !r.Lock.Release(l.Token) {
			log.Warnw("custody lease expired before release", "token", l.Token)
		}
		return nil
	})
	if err != nil {
		log.Errorw("releasing custody lease", "error", err)
	}
}
