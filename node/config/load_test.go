package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := DefaultCustodian()

	require.Equal(t, "127.0.0.1:3453", cfg.API.ListenAddress)
	require.Equal(t, Duration(48*time.Hour), cfg.Custody.QuarantineWindow)
	require.Equal(t, uint64(200), cfg.Custody.ReferralRewardBp)

	ctrl := cfg.Custody.Controller()
	require.Equal(t, uint64(48*time.Hour), ctrl.QuarantineWindow)
	require.Equal(t, uint64(200), ctrl.Rewards.ReferralBp)
	require.True(t, ctrl.Rewards.Valid())
	require.True(t, ctrl.DeveloperAccount.Owner.Empty())
}

func TestFromReaderOverlaysDefaults(t *testing.T) {
	raw := `
[API]
ListenAddress = "0.0.0.0:9999"

[Custody]
QuarantineWindow = "1h"
DeveloperAccount = "developer-principal"

[Identity]
URL = "https://identity.example/rpc/v0"
Token = "secret"
`
	cfg, err := FromReader(bytes.NewBufferString(raw))
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:9999", cfg.API.ListenAddress)
	require.Equal(t, "https://identity.example/rpc/v0", cfg.Identity.URL)
	require.Equal(t, "secret", cfg.Identity.Token)

	// set keys override, unset keys keep their defaults
	require.Equal(t, Duration(time.Hour), cfg.Custody.QuarantineWindow)
	require.Equal(t, Duration(6*time.Hour), cfg.Custody.RevalidateInterval)

	ctrl := cfg.Custody.Controller()
	require.Equal(t, "developer-principal", string(ctrl.DeveloperAccount.Owner))
}

func TestFromReaderRejectsBadDuration(t *testing.T) {
	_, err := FromReader(bytes.NewBufferString("[Custody]\nQuarantineWindow = \"soon\"\n"))
	require.Error(t, err)
}

func TestWriteThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := DefaultCustodian()
	cfg.API.ListenAddress = "127.0.0.1:1234"
	cfg.Custody.RetryBackoff = Duration(90 * time.Second)
	cfg.Ledger.URL = "https://ledger.example/rpc/v0"

	require.NoError(t, WriteFile(path, cfg))

	loaded, err := FromFile(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

func TestFromFileMissingYieldsDefaults(t *testing.T) {
	cfg, err := FromFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.Equal(t, DefaultCustodian(), cfg)
}
