package config

import (
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"
)

// FromFile loads the daemon config from a TOML file. A missing file yields
// the defaults; a present file is decoded over them, so unset keys keep
// their default values.
func FromFile(path string) (*Custodian, error) {
	file, err := os.Open(path)
	switch {
	case os.IsNotExist(err):
		return DefaultCustodian(), nil
	case err != nil:
		return nil, err
	}
	defer file.Close() //nolint:errcheck

	return FromReader(file)
}

// FromReader loads the daemon config from a reader over the defaults.
func FromReader(reader io.Reader) (*Custodian, error) {
	cfg := DefaultCustodian()
	if _, err := toml.NewDecoder(reader).Decode(cfg); err != nil {
		return nil, xerrors.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// WriteFile persists the config as TOML at path.
func WriteFile(path string, cfg *Custodian) error {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer file.Close() //nolint:errcheck

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return xerrors.Errorf("encoding config: %w", err)
	}
	return nil
}
