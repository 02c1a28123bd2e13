package custody

import (
	"context"
	"testing"
	"time"

	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/raulk/clock"
	"github.com/stretchr/testify/require"

	"github.com/icpgeeks/iicustody/build"
	"github.com/icpgeeks/iicustody/identity"
	"github.com/icpgeeks/iicustody/ledger"
	"github.com/icpgeeks/iicustody/mock"
)

const (
	testOwner    identity.Principal = "owner"
	testBuyer    identity.Principal = "buyer"
	testReferrer identity.Principal = "referrer"

	testIdentity = uint64(7)
)

type testEnv struct {
	t *testing.T

	c  *Controller
	mc *clock.Mock
	ip *mock.Identity
	lg *mock.Ledger
	ds datastore.Datastore
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.TransferFee = 0
	cfg.DeveloperAccount = ledger.Account{Owner: "developer"}
	cfg.HubAccount = ledger.Account{Owner: "hub"}
	return cfg
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	mc := clock.NewMock()
	mc.Set(time.Unix(1_700_000_000, 0))

	prev := build.Clock
	build.Clock = mc
	t.Cleanup(func() { build.Clock = prev })

	ip := mock.NewIdentity("identity-controller")
	lg := mock.NewLedger()
	ds := dssync.MutexWrap(datastore.NewMapDatastore())

	c := NewController(ds, ip, lg, nil, cfg)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Stop(context.Background()) })

	return &testEnv{t: t, c: c, mc: mc, ip: ip, lg: lg, ds: ds}
}

func (e *testEnv) ctx() context.Context { return context.Background() }

// settle drives processing passes until the record goes passive, then
// returns the resulting record.
func (e *testEnv) settle() CustodyInfo {
	for i := 0; i < 50; i++ {
		e.c.step()
	}
	return e.info()
}

func (e *testEnv) info() CustodyInfo {
	info, err := e.c.Info(e.ctx())
	require.NoError(e.t, err)
	return info
}

func (e *testEnv) advance(d time.Duration) {
	e.mc.Add(d)
}

// captureToHold walks the controller through activation, capture and the
// initial asset intake, leaving it holding the identity under quarantine.
func (e *testEnv) captureToHold() CustodyInfo {
	require.NoError(e.t, e.c.Activate(e.ctx(), testOwner, testIdentity))
	require.NoError(e.t, e.c.StartCapture(e.ctx(), testOwner))

	info := e.settle()
	require.Equal(e.t, PhaseCapture, info.Phase)
	require.Equal(e.t, NeedConfirmSessionRegistration, info.Capture.Step)

	code := info.Capture.ConfirmationCode
	require.NotEmpty(e.t, code)
	require.NoError(e.t, e.c.ConfirmCaptureSession(e.ctx(), testOwner, code))

	info = e.settle()
	require.Equal(e.t, PhaseHolding, info.Phase)
	return info
}

// openDeal lets the quarantine elapse and sets up a trading sale deal at the
// given price.
func (e *testEnv) openDeal(price uint64) CustodyInfo {
	e.advance(time.Duration(e.c.cfg.QuarantineWindow) + time.Minute)

	info := e.settle()
	require.Equal(e.t, Hold, info.Holding.Kind)
	require.Zero(e.t, info.Holding.QuarantinedUntil)

	expireAt := e.c.now() + uint64(7*24*time.Hour)
	require.NoError(e.t, e.c.SetSaleIntention(e.ctx(), testOwner, expireAt, "owner@example.com", testReferrer))
	require.NoError(e.t, e.c.SetSellOffer(e.ctx(), testOwner, price))
	require.NoError(e.t, e.c.PlaceBuyerOffer(e.ctx(), testBuyer, price))

	info = e.info()
	deal := info.ActiveSaleDeal()
	require.NotNil(e.t, deal)
	require.Equal(e.t, Trading, deal.Kind)
	return info
}

func TestCaptureToHolding(t *testing.T) {
	e := newTestEnv(t, testConfig())

	// pre-existing attachments the cleanup must strip
	e.ip.AddAuthnMethod(testIdentity, identity.AuthnMethod{ID: "old-device", Kind: identity.AuthnMethodWebAuthn, PublicKey: []byte("previous-owner")})
	e.ip.AddCredential(testIdentity, identity.Credential{ID: "cred-1", Issuer: "issuer"})

	e.lg.AddPosition(ledger.StakedPosition{ID: 1, Stake: 500, Maturity: 50, Hotkeys: []identity.Principal{"hot-1"}})
	e.lg.AddPosition(ledger.StakedPosition{ID: 2, Stake: 300})

	acct := ledger.Account{Owner: "identity-controller"}
	e.lg.AddAccount(acct)
	e.lg.SetBalance(acct, 1234)

	start := e.c.now()
	info := e.captureToHold()

	require.Equal(t, Hold, info.Holding.Kind)
	require.Equal(t, testOwner, info.Owner)
	require.Equal(t, identity.Principal("identity-controller"), info.Controller)
	require.Equal(t, start+e.c.cfg.QuarantineWindow, info.Holding.QuarantinedUntil)

	// validated snapshot covers both positions and the account, hotkeys gone
	require.NotNil(t, info.Assets)
	require.Len(t, info.Assets.Positions, 2)
	require.Empty(t, info.Assets.Positions["1"].Hotkeys)
	require.Equal(t, uint64(1234), info.Assets.Accounts[acct.Key()])
	require.Nil(t, info.FetchingAssets)

	// the foreign method and credential were removed from the identity
	iinfo, err := e.ip.Info(e.ctx(), testIdentity)
	require.NoError(t, err)
	require.Len(t, iinfo.AuthnMethods, 1)
	require.Empty(t, iinfo.Credentials)
}

func TestCaptureSessionExpiry(t *testing.T) {
	e := newTestEnv(t, testConfig())

	require.NoError(t, e.c.Activate(e.ctx(), testOwner, testIdentity))
	require.NoError(t, e.c.StartCapture(e.ctx(), testOwner))

	info := e.settle()
	require.Equal(t, NeedConfirmSessionRegistration, info.Capture.Step)

	// nobody confirms; the session lapses
	e.advance(20 * time.Minute)
	info = e.settle()
	require.Equal(t, CaptureFailed, info.Capture.Step)
	require.Equal(t, SessionRegistrationModeExpired, info.Capture.Failure)

	// confirming a dead session is rejected
	err := e.c.ConfirmCaptureSession(e.ctx(), testOwner, "000000")
	require.ErrorIs(t, err, ErrWrongState)

	// cancel resets to a clean slate and capture can start over
	require.NoError(t, e.c.CancelCapture(e.ctx(), testOwner))
	info = e.info()
	require.Equal(t, WaitingStartCapture, info.Phase)
	require.Nil(t, info.Capture)

	require.NoError(t, e.c.StartCapture(e.ctx(), testOwner))
	info = e.settle()
	require.Equal(t, PhaseCapture, info.Phase)
	require.Equal(t, NeedConfirmSessionRegistration, info.Capture.Step)
}

func TestSaleSettlement(t *testing.T) {
	e := newTestEnv(t, testConfig())
	e.captureToHold()

	const price = uint64(1_000_000)
	e.openDeal(price)

	// the buyer pre-authorizes and funds the full price
	buyerAcct := ledger.Account{Owner: testBuyer}
	e.lg.SetBalance(buyerAcct, price)
	e.lg.Approve(buyerAcct, ledger.Allowance{Spender: "custodian", Amount: price})

	require.NoError(t, e.c.AcceptBuyerOffer(e.ctx(), testOwner, testBuyer, price))

	info := e.settle()
	require.Equal(t, Hold, info.Holding.Kind)
	require.Nil(t, info.Holding.SaleDeal)
	require.Nil(t, info.LastError)

	// custody now answers to the buyer
	require.Equal(t, testBuyer, info.Owner)

	// 200bp referral, 100bp developer, 100bp hub, remainder to the seller
	sale := info.CompletedSale
	require.NotNil(t, sale)
	require.Equal(t, testOwner, sale.Seller)
	require.Equal(t, testBuyer, sale.Buyer)
	require.Equal(t, price, sale.Price)
	require.Equal(t, uint64(20_000), sale.ReferralPaid)
	require.Equal(t, uint64(10_000), sale.DeveloperPaid)
	require.Equal(t, uint64(10_000), sale.HubPaid)
	require.Equal(t, uint64(960_000), sale.SellerAmount)

	require.Equal(t, uint64(20_000), e.lg.GetBalance(ledger.Account{Owner: testReferrer}))
	require.Equal(t, uint64(10_000), e.lg.GetBalance(ledger.Account{Owner: "developer"}))
	require.Equal(t, uint64(10_000), e.lg.GetBalance(ledger.Account{Owner: "hub"}))
	require.Equal(t, uint64(960_000), e.lg.GetBalance(ledger.Account{Owner: testOwner}))
	require.Zero(t, e.lg.GetBalance(transitAccount(testIdentity)))
	require.Zero(t, e.lg.GetBalance(buyerAcct))
}

func TestSaleDealExpiresMidSettlement(t *testing.T) {
	e := newTestEnv(t, testConfig())
	e.captureToHold()

	const price = uint64(1_000_000)
	info := e.openDeal(price)
	dealExpireAt := info.ActiveSaleDeal().ExpireAt

	// accepted, but the buyer never funds the allowance
	require.NoError(t, e.c.AcceptBuyerOffer(e.ctx(), testOwner, testBuyer, price))

	info = e.settle()
	deal := info.Holding.SaleDeal
	require.Equal(t, Accept, deal.Kind)
	require.Equal(t, TransferSaleAmountToTransit, deal.AcceptStep)
	require.NotNil(t, info.LastError)

	// a partial payment straggles into the transit account
	e.lg.SetBalance(transitAccount(testIdentity), 300_000)

	// the certificate expires with the deal stuck mid-settlement: the deal is
	// dismantled, the buyer made whole, and the identity parks unsellable
	e.advance(time.Duration(dealExpireAt-e.c.now()) + time.Minute)
	info = e.settle()

	require.Equal(t, Unsellable, info.Holding.Kind)
	require.Equal(t, CertificateExpired, info.Holding.Reason)
	require.Nil(t, info.LastError)
	require.Nil(t, info.CompletedSale)
	require.Equal(t, testOwner, info.Owner)

	require.Equal(t, uint64(300_000), e.lg.GetBalance(ledger.Account{Owner: testBuyer}))
	require.Zero(t, e.lg.GetBalance(transitAccount(testIdentity)))
}

func TestPassiveSaleDealLapses(t *testing.T) {
	e := newTestEnv(t, testConfig())
	e.captureToHold()

	info := e.openDeal(500_000)
	expireAt := info.ActiveSaleDeal().ExpireAt

	// nobody accepts; the deal simply lapses and holding continues
	e.advance(time.Duration(expireAt-e.c.now()) + time.Minute)
	info = e.settle()

	require.Equal(t, Hold, info.Holding.Kind)
	require.Nil(t, info.Holding.SaleDeal)
	require.Nil(t, info.CompletedSale)
}

func TestRevalidationDetectsLeakage(t *testing.T) {
	e := newTestEnv(t, testConfig())

	acct := ledger.Account{Owner: "identity-controller"}
	e.lg.AddAccount(acct)
	e.lg.SetBalance(acct, 1000)

	e.captureToHold()

	// value leaks out of custody between snapshots
	e.lg.SetBalance(acct, 400)

	e.advance(time.Duration(e.c.cfg.RevalidateInterval) + time.Minute)
	info := e.settle()

	require.Equal(t, Unsellable, info.Holding.Kind)
	require.Equal(t, ValidationFailed, info.Holding.Reason)

	// unsellable does not block giving the identity back
	require.True(t, info.ReleaseEligible())
}

func TestAuditFindsForeignApproval(t *testing.T) {
	e := newTestEnv(t, testConfig())

	// a previous owner parked a live allowance on the default account
	e.lg.Approve(ledger.Account{Owner: "identity-controller"},
		ledger.Allowance{Spender: "previous-owner", Amount: 10})

	info := e.captureToHold()
	require.Equal(t, Unsellable, info.Holding.Kind)
	require.Equal(t, ApproveOnAccount, info.Holding.Reason)

	// no sale can open on an unsellable identity
	err := e.c.SetSaleIntention(e.ctx(), testOwner, e.c.now()+uint64(time.Hour), "", "")
	require.ErrorIs(t, err, ErrWrongState)
}

func TestManualRelease(t *testing.T) {
	e := newTestEnv(t, testConfig())
	e.captureToHold()

	require.NoError(t, e.c.StartRelease(e.ctx(), testOwner, ManualRelease, ""))

	info := e.settle()
	require.Equal(t, PhaseRelease, info.Phase)
	require.Equal(t, WaitingAuthnMethodRegistration, info.Release.Step)

	// the owner registers their fresh method out-of-band, then asks for
	// confirmation
	require.NoError(t, e.c.ConfirmReleaseRegistration(e.ctx(), testOwner))

	info = e.settle()
	require.Equal(t, PhaseClosed, info.Phase)
	require.Nil(t, info.Release)
	require.NotNil(t, info.Closed)
	require.Equal(t, e.c.now(), info.Closed.At)
	require.True(t, info.Terminal())

	// the custodian's method is gone from the identity
	pub, err := e.ip.HolderKey(e.ctx(), testIdentity)
	require.NoError(t, err)
	iinfo, err := e.ip.Info(e.ctx(), testIdentity)
	require.NoError(t, err)
	for _, m := range iinfo.AuthnMethods {
		require.NotEqual(t, pub, m.PublicKey)
	}
}

func TestReleaseRegistrationExpires(t *testing.T) {
	e := newTestEnv(t, testConfig())
	e.captureToHold()

	require.NoError(t, e.c.StartRelease(e.ctx(), testOwner, ManualRelease, ""))

	info := e.settle()
	require.Equal(t, WaitingAuthnMethodRegistration, info.Release.Step)

	// the owner never shows up
	e.advance(20 * time.Minute)
	info = e.settle()
	require.Equal(t, ReleaseFailed, info.Release.Step)
	require.NotEmpty(t, info.Release.Error)
	require.True(t, info.Terminal())

	// restarting runs the pipeline again from the top
	require.NoError(t, e.c.RestartRelease(e.ctx(), testOwner))
	info = e.settle()
	require.Equal(t, WaitingAuthnMethodRegistration, info.Release.Step)
	require.Empty(t, info.Release.Error)

	require.NoError(t, e.c.ConfirmReleaseRegistration(e.ctx(), testOwner))
	info = e.settle()
	require.Equal(t, PhaseClosed, info.Phase)
}

func TestReleaseOwnerAccessDenied(t *testing.T) {
	e := newTestEnv(t, testConfig())
	e.captureToHold()

	// the freshly registered method cannot actually reach the identity; the
	// custodian must not delete its own method
	e.ip.OwnerAccess = false

	require.NoError(t, e.c.StartRelease(e.ctx(), testOwner, ManualRelease, ""))
	e.settle()
	require.NoError(t, e.c.ConfirmReleaseRegistration(e.ctx(), testOwner))

	info := e.settle()
	require.Equal(t, ReleaseFailed, info.Release.Step)
	require.Equal(t, PhaseRelease, info.Phase)

	// access restored, restart completes the release
	e.ip.OwnerAccess = true
	require.NoError(t, e.c.RestartRelease(e.ctx(), testOwner))
	e.settle()
	require.NoError(t, e.c.ConfirmReleaseRegistration(e.ctx(), testOwner))
	info = e.settle()
	require.Equal(t, PhaseClosed, info.Phase)
}

func TestLossOfCustodyReleaseRecaptures(t *testing.T) {
	e := newTestEnv(t, testConfig())
	e.captureToHold()

	require.NoError(t, e.c.StartRelease(e.ctx(), testOwner, DangerousLossOfCustody, ""))
	e.settle()
	require.NoError(t, e.c.ConfirmReleaseRegistration(e.ctx(), testOwner))

	// custody is compromised: instead of closing, a fresh capture starts and
	// the old snapshot is discarded
	info := e.settle()
	require.Equal(t, PhaseCapture, info.Phase)
	require.Nil(t, info.Assets)
	require.Equal(t, testOwner, info.Owner)
}

func TestRequestAuthorization(t *testing.T) {
	e := newTestEnv(t, testConfig())

	require.NoError(t, e.c.Activate(e.ctx(), testOwner, testIdentity))

	// only the owner may drive owner-scoped requests
	require.ErrorIs(t, e.c.StartCapture(e.ctx(), "stranger"), ErrNotOwner)
	require.ErrorIs(t, e.c.StartRelease(e.ctx(), "stranger", ManualRelease, ""), ErrNotOwner)

	// activation is one-shot
	require.ErrorIs(t, e.c.Activate(e.ctx(), testOwner, testIdentity), ErrWrongState)
}

func TestOwnerCannotBidOnOwnIdentity(t *testing.T) {
	e := newTestEnv(t, testConfig())
	e.captureToHold()
	e.openDeal(100_000)

	err := e.c.PlaceBuyerOffer(e.ctx(), testOwner, 100_000)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrWrongState)
}

func TestProcessingErrorSurfacesAndClears(t *testing.T) {
	e := newTestEnv(t, testConfig())
	e.captureToHold()

	const price = uint64(50_000)
	e.openDeal(price)
	require.NoError(t, e.c.AcceptBuyerOffer(e.ctx(), testOwner, testBuyer, price))

	// unfunded buyer: the transfer step fails and the fault is visible
	info := e.settle()
	require.NotNil(t, info.LastError)
	require.Contains(t, info.LastError.Message, "allowance")

	// funding arrives; the retry succeeds and clears the fault
	buyerAcct := ledger.Account{Owner: testBuyer}
	e.lg.SetBalance(buyerAcct, price)
	e.lg.Approve(buyerAcct, ledger.Allowance{Spender: "custodian", Amount: price})

	info = e.settle()
	require.Nil(t, info.LastError)
	require.NotNil(t, info.CompletedSale)

	// repeated identical failures coalesced in the transition log
	entries, err := e.c.Log(e.ctx(), 500)
	require.NoError(t, err)
	var coalesced bool
	for _, entry := range entries {
		if entry.Kind == "ProcessingError" && entry.Count > 1 {
			coalesced = true
		}
	}
	require.True(t, coalesced)
}

func TestRestartResumesAfterCrash(t *testing.T) {
	e := newTestEnv(t, testConfig())
	before := e.captureToHold()
	require.NoError(t, e.c.Stop(e.ctx()))

	// a second controller over the same datastore picks the record up where
	// the first one left it
	c2 := NewController(e.ds, e.ip, e.lg, nil, testConfig())
	require.NoError(t, c2.Start(e.ctx()))
	defer c2.Stop(e.ctx()) //nolint:errcheck

	info, err := c2.Info(e.ctx())
	require.NoError(t, err)
	require.Equal(t, before.Phase, info.Phase)
	require.Equal(t, before.Owner, info.Owner)
	require.Equal(t, before.Holding.QuarantinedUntil, info.Holding.QuarantinedUntil)
	require.NotNil(t, info.Assets)
}

func TestStartDefersToHeldLease(t *testing.T) {
	e := newTestEnv(t, testConfig())
	e.captureToHold()
	require.NoError(t, e.c.Stop(e.ctx()))

	// simulate a crash mid-operation: a live lease is still installed
	var expiration uint64
	err := e.c.locks.Get(lockKey).Mutate(func(r *lockRecord) error {
		l, err := r.Lock.Acquire(e.c.now(), uint64(time.Minute))
		expiration = l.Expiration
		return err
	})
	require.NoError(t, err)

	c2 := NewController(e.ds, e.ip, e.lg, nil, testConfig())
	require.NoError(t, c2.Start(e.ctx()))
	defer c2.Stop(e.ctx()) //nolint:errcheck

	// processing is deferred until after the foreign lease runs out
	require.Equal(t, expiration, c2.LockExpiration())
	require.Equal(t, expiration+c2.cfg.RecoveryMargin, c2.NextWake())

	// and a submitted event cannot jump the lease either
	err = c2.Submit(e.ctx(), EventRestart{})
	require.ErrorIs(t, err, ErrLocked)
}

func TestClockAdvanceFiresArmedTimers(t *testing.T) {
	e := newTestEnv(t, testConfig())
	e.captureToHold()
	require.NotZero(t, e.c.NextWake())

	// advancing the clock across the quarantine wake must not wedge: timer
	// callbacks hand processing off to a goroutine instead of re-entering
	// the clock while it fires them
	done := make(chan struct{})
	go func() {
		e.advance(time.Duration(e.c.cfg.QuarantineWindow) + time.Minute)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("clock advance blocked on a firing custody timer")
	}

	info := e.settle()
	require.Equal(t, Hold, info.Holding.Kind)
	require.Zero(t, info.Holding.QuarantinedUntil)
}

func TestLeaseWatchdogArmsAndDisarms(t *testing.T) {
	e := newTestEnv(t, testConfig())

	lease, err := e.c.acquireLease()
	require.NoError(t, err)

	e.c.tlk.Lock()
	armed := e.c.recovery != nil
	e.c.tlk.Unlock()
	require.True(t, armed, "successful acquire must arm the stall watchdog")

	e.c.releaseLease(lease)

	e.c.tlk.Lock()
	armed = e.c.recovery != nil
	e.c.tlk.Unlock()
	require.False(t, armed, "clean release must disarm the stall watchdog")
}

func TestStalledHolderRecovered(t *testing.T) {
	e := newTestEnv(t, testConfig())
	require.NoError(t, e.c.Activate(e.ctx(), testOwner, testIdentity))
	require.NoError(t, e.c.StartCapture(e.ctx(), testOwner))

	// a holder takes the lease and stalls without ever releasing it
	_, err := e.c.acquireLease()
	require.NoError(t, err)

	require.ErrorIs(t, e.c.Submit(e.ctx(), EventRestart{}), ErrLocked)

	// once the lease runs out the watchdog forces a pass over the stalled
	// holder and capture proceeds on its own
	e.advance(time.Duration(e.c.cfg.LeaseDuration+e.c.cfg.RecoveryMargin) + time.Second)

	require.Eventually(t, func() bool {
		info, err := e.c.Info(e.ctx())
		return err == nil && info.Capture != nil && info.Capture.Step == NeedConfirmSessionRegistration
	}, 10*time.Second, 10*time.Millisecond)
}
