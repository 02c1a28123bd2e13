// Package config defines the on-disk configuration of the custodian daemon.
package config

import (
	"time"

	"github.com/icpgeeks/iicustody/custody"
	"github.com/icpgeeks/iicustody/identity"
	"github.com/icpgeeks/iicustody/ledger"
	"github.com/icpgeeks/iicustody/rewards"
)

// Duration is a wrapper type for time.Duration for decoding and encoding
// from/to TOML.
type Duration time.Duration

// UnmarshalText implements interface for TOML decoding.
func (dur *Duration) UnmarshalText(text []byte) error {
	d, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*dur = Duration(d)
	return nil
}

// MarshalText implements interface for TOML encoding.
func (dur Duration) MarshalText() ([]byte, error) {
	d := time.Duration(dur)
	return []byte(d.String()), nil
}

func (dur Duration) Nanos() uint64 {
	if dur < 0 {
		return 0
	}
	return uint64(dur)
}

// Custodian is the full daemon configuration.
type Custodian struct {
	API      API
	Custody  Custody
	Identity Endpoint
	Ledger   Endpoint
	Journal  Journal
}

// API configures the daemon's JSON-RPC listener.
type API struct {
	ListenAddress string
	Timeout       Duration
}

// Endpoint locates an external collaborator service.
type Endpoint struct {
	URL   string
	Token string
}

// Journal configures the filesystem journal.
type Journal struct {
	// DisabledEvents is a comma-separated list of system:event references to
	// disable journaling for.
	DisabledEvents string
}

// Custody tunes the custody controller.
type Custody struct {
	QuarantineWindow   Duration
	RevalidateInterval Duration
	LeaseDuration      Duration
	RecoveryMargin     Duration
	PollInterval       Duration
	RetryBackoff       Duration
	DelegationTTL      Duration

	MaxBuyerOffers   int
	PositionPageSize uint64
	DerivedAccounts  uint64

	// TransferFee is the flat ledger fee per transfer leg, in e8s.
	TransferFee uint64

	// Reward proportions in basis points of the sale price.
	ReferralRewardBp  uint64
	DeveloperRewardBp uint64
	HubRewardBp       uint64

	// DeveloperAccount and HubAccount are the principals receiving their
	// reward legs; empty disables the leg.
	DeveloperAccount string
	HubAccount       string
}

// DefaultCustodian returns the default daemon configuration.
func DefaultCustodian() *Custodian {
	def := custody.DefaultConfig()
	return &Custodian{
		API: API{
			ListenAddress: "127.0.0.1:3453",
			Timeout:       Duration(30 * time.Second),
		},
		Custody: Custody{
			QuarantineWindow:   Duration(def.QuarantineWindow),
			RevalidateInterval: Duration(def.RevalidateInterval),
			LeaseDuration:      Duration(def.LeaseDuration),
			RecoveryMargin:     Duration(def.RecoveryMargin),
			PollInterval:       Duration(def.PollInterval),
			RetryBackoff:       Duration(def.RetryBackoff),
			DelegationTTL:      Duration(def.DelegationTTL),

			MaxBuyerOffers:   def.MaxBuyerOffers,
			PositionPageSize: def.PositionPageSize,
			DerivedAccounts:  def.DerivedAccounts,

			TransferFee:       def.TransferFee,
			ReferralRewardBp:  def.Rewards.ReferralBp,
			DeveloperRewardBp: def.Rewards.DeveloperBp,
			HubRewardBp:       def.Rewards.HubBp,
		},
	}
}

// Controller maps the TOML custody section onto the controller config.
func (c Custody) Controller() custody.Config {
	return custody.Config{
		QuarantineWindow:   c.QuarantineWindow.Nanos(),
		RevalidateInterval: c.RevalidateInterval.Nanos(),
		LeaseDuration:      c.LeaseDuration.Nanos(),
		RecoveryMargin:     c.RecoveryMargin.Nanos(),
		PollInterval:       c.PollInterval.Nanos(),
		RetryBackoff:       c.RetryBackoff.Nanos(),
		DelegationTTL:      c.DelegationTTL.Nanos(),

		MaxBuyerOffers:   c.MaxBuyerOffers,
		PositionPageSize: c.PositionPageSize,
		DerivedAccounts:  c.DerivedAccounts,

		TransferFee: c.TransferFee,
		Rewards: rewards.Split{
			ReferralBp:  c.ReferralRewardBp,
			DeveloperBp: c.DeveloperRewardBp,
			HubBp:       c.HubRewardBp,
		},
		DeveloperAccount: principalAccount(c.DeveloperAccount),
		HubAccount:       principalAccount(c.HubAccount),
	}
}

func principalAccount(p string) ledger.Account {
	return ledger.Account{Owner: identity.Principal(p)}
}
