package custody

import (
	cbor "github.com/ipfs/go-ipld-cbor"
	"golang.org/x/xerrors"

	"github.com/icpgeeks/iicustody/identity"
	"github.com/icpgeeks/iicustody/ledger"
	"github.com/icpgeeks/iicustody/lib/leaselock"
)

func init() {
	cbor.RegisterCborType(CustodyInfo{})
	cbor.RegisterCborType(CaptureState{})
	cbor.RegisterCborType(HoldingState{})
	cbor.RegisterCborType(SaleDealState{})
	cbor.RegisterCborType(BuyerOffer{})
	cbor.RegisterCborType(FetchAssetsState{})
	cbor.RegisterCborType(CheckAssetsState{})
	cbor.RegisterCborType(CancelSaleDealState{})
	cbor.RegisterCborType(ReleaseState{})
	cbor.RegisterCborType(ClosedState{})
	cbor.RegisterCborType(AssetsSnapshot{})
	cbor.RegisterCborType(ProcessingError{})
	cbor.RegisterCborType(CompletedSale{})
	cbor.RegisterCborType(identity.Delegation{})
	cbor.RegisterCborType(ledger.StakedPosition{})
	cbor.RegisterCborType(ledger.Account{})
	cbor.RegisterCborType(LogEntry{})
	cbor.RegisterCborType(lockRecord{})
	cbor.RegisterCborType(leaselock.State{})
}

// ErrWrongState rejects an event or request whose expected state shape does
// not match the current one. Always recoverable by the caller; never recorded
// as a processing fault.
var ErrWrongState = xerrors.New("wrong state")

func wrongState(format string, args ...interface{}) error {
	return xerrors.Errorf("%w: "+format, append([]interface{}{ErrWrongState}, args...)...)
}

// CustodyPhase is the top-level custody phase.
type CustodyPhase string

const (
	WaitingActivation   CustodyPhase = "WaitingActivation"
	WaitingStartCapture CustodyPhase = "WaitingStartCapture"
	PhaseCapture        CustodyPhase = "Capture"
	PhaseHolding        CustodyPhase = "Holding"
	PhaseRelease        CustodyPhase = "Release"
	PhaseClosed         CustodyPhase = "Closed"
)

// CaptureStep is a step of the linear capture pipeline.
type CaptureStep string

const (
	CreateHolderKey                CaptureStep = "CreateHolderKey"
	RegisterAuthnSession           CaptureStep = "RegisterAuthnSession"
	NeedConfirmSessionRegistration CaptureStep = "NeedConfirmAuthnMethodSessionRegistration"
	ExitRegistrationMode           CaptureStep = "ExitAuthnMethodRegistrationMode"
	ResolveIdentityController      CaptureStep = "ResolveIdentityController"
	CleanupIdentityAuthnMethods    CaptureStep = "CleanupIdentityAuthnMethods"
	CaptureFailed                  CaptureStep = "CaptureFailed"
)

// CaptureFailure classifies why capture failed.
type CaptureFailure string

const (
	SessionRegistrationModeExpired CaptureFailure = "SessionRegistrationModeExpired"
	CaptureProviderError           CaptureFailure = "ProviderError"
)

// CaptureState is the capture sub-state.
type CaptureState struct {
	Step CaptureStep

	HolderKey        []byte
	RegistrationID   string
	ConfirmationCode string
	ExpireAt         uint64 // session confirmation deadline, unix nanos
	Controller       identity.Principal

	// CaptureFailed only
	Failure CaptureFailure
	Error   string
}

// HoldingKind discriminates the holding sub-state.
type HoldingKind string

const (
	StartHolding   HoldingKind = "StartHolding"
	Hold           HoldingKind = "Hold"
	ValidateAssets HoldingKind = "ValidateAssets"
	FetchAssets    HoldingKind = "FetchAssets"
	CheckAssets    HoldingKind = "CheckAssets"
	CancelSaleDeal HoldingKind = "CancelSaleDeal"
	Unsellable     HoldingKind = "Unsellable"
)

// UnsellableReason tells why holding became terminal.
type UnsellableReason string

const (
	ApproveOnAccount   UnsellableReason = "ApproveOnAccount"
	ValidationFailed   UnsellableReason = "ValidationFailed"
	CertificateExpired UnsellableReason = "CertificateExpired"
)

// HoldingState is the recursive holding sub-state. Exactly one wrapper phase
// (ValidateAssets, FetchAssets, CheckAssets, CancelSaleDeal) may be active at
// a time; its Wrap holds the state to resume once the sub-workflow completes
// and is always constructed from a strictly simpler state, so the chain can
// never cycle.
type HoldingState struct {
	Kind HoldingKind

	// Hold only. QuarantinedUntil, while in the future, is the cool-down
	// window before the first asset snapshot may be trusted for sale.
	QuarantinedUntil uint64
	SaleDeal         *SaleDealState

	// wrapper payloads
	Fetch  *FetchAssetsState
	Check  *CheckAssetsState
	Cancel *CancelSaleDealState
	Wrap   *HoldingState

	// Unsellable only
	Reason UnsellableReason
}

// SaleDealKind discriminates the sale-deal sub-state.
type SaleDealKind string

const (
	WaitingSellOffer SaleDealKind = "WaitingSellOffer"
	Trading          SaleDealKind = "Trading"
	Accept           SaleDealKind = "Accept"
)

// AcceptStep is a step of the linear accept/settlement pipeline.
type AcceptStep string

const (
	StartAccept                 AcceptStep = "StartAccept"
	TransferSaleAmountToTransit AcceptStep = "TransferSaleDealAmountToTransitAccount"
	ResolveReferralRewardPayee  AcceptStep = "ResolveReferralRewardPayee"
	PayReferralReward           AcceptStep = "PayReferralReward"
	PayDeveloperReward          AcceptStep = "PayDeveloperReward"
	PayHubReward                AcceptStep = "PayHubReward"
	TransferSaleAmountToSeller  AcceptStep = "TransferSaleDealAmountToSellerAccount"
)

// BuyerOffer is one buyer's standing offer on the deal.
type BuyerOffer struct {
	Buyer     identity.Principal
	Amount    uint64
	CreatedAt uint64
}

// SaleDealState is the escrow sub-workflow brokering transfer of custody to a
// buyer for a price.
type SaleDealState struct {
	Kind SaleDealKind

	ExpireAt uint64 // certificate/contract expiration, unix nanos
	Contact  string
	Referrer identity.Principal

	// SellPrice is the seller's asking price; zero until a sell offer is set.
	SellPrice uint64

	Offers []BuyerOffer

	// Accept only
	Buyer         identity.Principal
	AcceptPrice   uint64
	AcceptStep    AcceptStep
	ReferralPayee *ledger.Account

	// distributed legs, for the completed-sale record
	ReferralPaid  uint64
	DeveloperPaid uint64
	HubPaid       uint64
}

// FetchStep is a step of the asset-fetch pipeline.
type FetchStep string

const (
	PrepareDelegation       FetchStep = "PrepareDelegation"
	WaitSignedDelegation    FetchStep = "WaitSignedDelegation"
	ListStakedPositions     FetchStep = "ListStakedPositions"
	FetchStakedPositionInfo FetchStep = "FetchStakedPositionInfo"
	RemovePositionHotkeys   FetchStep = "RemoveStakedPositionHotkeys"
	ListAccounts            FetchStep = "ListAccounts"
	FetchAccountBalances    FetchStep = "FetchAccountBalances"
)

// FetchAssetsState is the asset-fetch sub-state. The snapshot being
// assembled lives in CustodyInfo.FetchingAssets.
type FetchAssetsState struct {
	Step FetchStep

	SessionKey         []byte
	DelegationExpireAt uint64
	Delegation         *identity.Delegation

	PositionIDs []uint64
	// PageSize is the staked-position info page size; dropped to 1 after a
	// processing error so a single poisoned entry cannot wedge the page.
	PageSize uint64

	Accounts []ledger.Account
}

// CheckStep is a step of the account-audit pipeline.
type CheckStep string

const (
	StartCheck           CheckStep = "StartCheck"
	ListAuditAccounts    CheckStep = "ListAuditAccounts"
	CheckAccountApproval CheckStep = "CheckAccountApproval"
)

// CheckAssetsState is the sub-account audit sub-state.
type CheckAssetsState struct {
	Step CheckStep

	// Candidates are the sub-accounts to audit, checked sequentially.
	Candidates [][]byte
	Next       uint64
}

// CancelStep is a step of the sale-deal cancellation pipeline.
type CancelStep string

const (
	StartCancelSaleDeal           CancelStep = "StartCancelSaleDeal"
	RefundBuyerFromTransitAccount CancelStep = "RefundBuyerFromTransitAccount"
)

// CancelSaleDealState carries the deal being dismantled while the buyer is
// made whole from the transit account.
type CancelSaleDealState struct {
	Step CancelStep
	Deal *SaleDealState
}

// ReleaseInitiation records why release started; it determines the terminal
// outcome of the release pipeline.
type ReleaseInitiation string

const (
	ManualRelease              ReleaseInitiation = "Manual"
	DangerousLossOfCustody     ReleaseInitiation = "DangerousLossOfCustody"
	ExternalApiIncompatibility ReleaseInitiation = "ExternalApiIncompatibility"
)

// ReleaseStep is a step of the release pipeline.
type ReleaseStep string

const (
	StartRelease                     ReleaseStep = "StartRelease"
	EnterAuthnMethodRegistrationMode ReleaseStep = "EnterAuthnMethodRegistrationMode"
	WaitingAuthnMethodRegistration   ReleaseStep = "WaitingAuthnMethodRegistration"
	ConfirmAuthnMethodRegistration   ReleaseStep = "ConfirmAuthnMethodRegistration"
	CheckingAccessFromOwnerMethod    ReleaseStep = "CheckingAccessFromOwnerAuthnMethod"
	DeleteHolderAuthnMethod          ReleaseStep = "DeleteHolderAuthnMethod"
	EnsureOrphanedRegistrationExited ReleaseStep = "EnsureOrphanedRegistrationExited"
	ReleaseFailed                    ReleaseStep = "ReleaseFailed"
)

// ReleaseState is the release sub-state.
type ReleaseState struct {
	Initiation ReleaseInitiation
	// Reason is carried into Closed for manual release.
	Reason UnsellableReason

	Step ReleaseStep

	RegistrationID string
	ExpireAt       uint64 // registration expiration, unix nanos
	ConfirmError   string

	// ReleaseFailed only
	Error string
}

// ClosedState is the terminal custody record.
type ClosedState struct {
	Reason UnsellableReason // empty for non-manual closure
	At     uint64
}

// AssetsSnapshot is one enumeration of the identity's assets. Positions are
// keyed by decimal position id, accounts by sub-account key.
type AssetsSnapshot struct {
	Positions map[string]ledger.StakedPosition
	Accounts  map[string]uint64

	// Subaccounts are the raw sub-accounts enumerated during the fetch,
	// re-audited by the account check.
	Subaccounts [][]byte

	FetchedAt   uint64
	ValidatedAt uint64
}

// NewAssetsSnapshot returns an empty snapshot ready to be filled by the
// fetch pipeline.
func NewAssetsSnapshot(now uint64) *AssetsSnapshot {
	return &AssetsSnapshot{
		Positions: map[string]ledger.StakedPosition{},
		Accounts:  map[string]uint64{},
		FetchedAt: now,
	}
}

// ProcessingError is the single latest background processing fault, visible
// to external observers and cleared by every subsequent successful
// transition.
type ProcessingError struct {
	Message    string
	At         uint64
	RetryAfter uint64 // explicit backoff in nanos, zero for the default
}

// CompletedSale is the audit record of a settled sale.
type CompletedSale struct {
	Seller identity.Principal
	Buyer  identity.Principal
	Price  uint64

	SellerAmount  uint64
	ReferralPaid  uint64
	DeveloperPaid uint64
	HubPaid       uint64

	CompletedAt uint64
}

// CustodyInfo is the single persistent custody record: the full recursive
// phase tree plus the side fields owned by it.
type CustodyInfo struct {
	Owner          identity.Principal
	IdentityNumber uint64

	// Controller is the identity's on-ledger controller principal, resolved
	// during capture. The audited ledger accounts hang off it.
	Controller identity.Principal

	Phase   CustodyPhase
	Capture *CaptureState
	Holding *HoldingState
	Release *ReleaseState
	Closed  *ClosedState

	// Assets is the validated snapshot; FetchingAssets the one being
	// assembled by an in-flight fetch.
	Assets         *AssetsSnapshot
	FetchingAssets *AssetsSnapshot

	CompletedSale *CompletedSale
	LastError     *ProcessingError

	UpdatedAt uint64
}

// // shape matchers
//
// Every transition first asserts the current state matches an expected shape
// through one of these helpers, which reject with ErrWrongState otherwise.

func (st *CustodyInfo) expectPhase(p CustodyPhase) error {
	if st.Phase != p {
		return wrongState("expected phase %s, got %s", p, st.Phase)
	}
	return nil
}

func (st *CustodyInfo) capture(steps ...CaptureStep) (*CaptureState, error) {
	if st.Phase != PhaseCapture || st.Capture == nil {
		return nil, wrongState("expected Capture, got %s", st.Phase)
	}
	for _, s := range steps {
		if st.Capture.Step == s {
			return st.Capture, nil
		}
	}
	return nil, wrongState("expected capture step in %v, got %s", steps, st.Capture.Step)
}

func (st *CustodyInfo) holding(kinds ...HoldingKind) (*HoldingState, error) {
	if st.Phase != PhaseHolding || st.Holding == nil {
		return nil, wrongState("expected Holding, got %s", st.Phase)
	}
	if len(kinds) == 0 {
		return st.Holding, nil
	}
	for _, k := range kinds {
		if st.Holding.Kind == k {
			return st.Holding, nil
		}
	}
	return nil, wrongState("expected holding kind in %v, got %s", kinds, st.Holding.Kind)
}

func (st *CustodyInfo) hold() (*HoldingState, error) {
	return st.holding(Hold)
}

// saleDeal matches a deal on the top-level Hold state.
func (st *CustodyInfo) saleDeal(kinds ...SaleDealKind) (*SaleDealState, error) {
	h, err := st.hold()
	if err != nil {
		return nil, err
	}
	if h.SaleDeal == nil {
		return nil, wrongState("no sale deal")
	}
	for _, k := range kinds {
		if h.SaleDeal.Kind == k {
			return h.SaleDeal, nil
		}
	}
	return nil, wrongState("expected sale deal in %v, got %s", kinds, h.SaleDeal.Kind)
}

func (st *CustodyInfo) accept(steps ...AcceptStep) (*SaleDealState, error) {
	deal, err := st.saleDeal(Accept)
	if err != nil {
		return nil, err
	}
	for _, s := range steps {
		if deal.AcceptStep == s {
			return deal, nil
		}
	}
	return nil, wrongState("expected accept step in %v, got %s", steps, deal.AcceptStep)
}

func (st *CustodyInfo) fetch(steps ...FetchStep) (*HoldingState, *FetchAssetsState, error) {
	h, err := st.holding(FetchAssets)
	if err != nil {
		return nil, nil, err
	}
	if h.Fetch == nil {
		return nil, nil, wrongState("FetchAssets without fetch state")
	}
	for _, s := range steps {
		if h.Fetch.Step == s {
			return h, h.Fetch, nil
		}
	}
	return nil, nil, wrongState("expected fetch step in %v, got %s", steps, h.Fetch.Step)
}

func (st *CustodyInfo) check(steps ...CheckStep) (*HoldingState, *CheckAssetsState, error) {
	h, err := st.holding(CheckAssets)
	if err != nil {
		return nil, nil, err
	}
	if h.Check == nil {
		return nil, nil, wrongState("CheckAssets without check state")
	}
	for _, s := range steps {
		if h.Check.Step == s {
			return h, h.Check, nil
		}
	}
	return nil, nil, wrongState("expected check step in %v, got %s", steps, h.Check.Step)
}

func (st *CustodyInfo) cancel(steps ...CancelStep) (*HoldingState, *CancelSaleDealState, error) {
	h, err := st.holding(CancelSaleDeal)
	if err != nil {
		return nil, nil, err
	}
	if h.Cancel == nil {
		return nil, nil, wrongState("CancelSaleDeal without cancel state")
	}
	for _, s := range steps {
		if h.Cancel.Step == s {
			return h, h.Cancel, nil
		}
	}
	return nil, nil, wrongState("expected cancel step in %v, got %s", steps, h.Cancel.Step)
}

func (st *CustodyInfo) release(steps ...ReleaseStep) (*ReleaseState, error) {
	if st.Phase != PhaseRelease || st.Release == nil {
		return nil, wrongState("expected Release, got %s", st.Phase)
	}
	for _, s := range steps {
		if st.Release.Step == s {
			return st.Release, nil
		}
	}
	return nil, wrongState("expected release step in %v, got %s", steps, st.Release.Step)
}
