// Package repo manages the custodian's on-disk repository: config, the
// leveldb datastore backing custody state, the journal directory and the API
// endpoint advertisement.
package repo

import (
	"os"
	"path/filepath"
	"strings"

	levelds "github.com/ipfs/go-ds-leveldb"
	logging "github.com/ipfs/go-log/v2"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/xerrors"

	"github.com/ipfs/go-datastore"

	"github.com/icpgeeks/iicustody/node/config"
)

var log = logging.Logger("repo")

const (
	fsConfig    = "config.toml"
	fsAPI       = "api"
	fsDatastore = "datastore"
)

var (
	// ErrRepoExists is returned by Init when the repo is already initialized.
	ErrRepoExists = xerrors.New("repo exists")

	// ErrNoAPIEndpoint is returned by APIEndpoint when no daemon has
	// advertised one.
	ErrNoAPIEndpoint = xerrors.New("API not running (no endpoint)")
)

// FsRepo is a filesystem repository.
type FsRepo struct {
	path string
}

// NewFS constructs a repo handle at the given path; the repo may not exist
// yet.
func NewFS(path string) (*FsRepo, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}
	return &FsRepo{path: path}, nil
}

func (r *FsRepo) Path() string {
	return r.path
}

// Exists reports whether the repo has been initialized.
func (r *FsRepo) Exists() (bool, error) {
	_, err := os.Stat(filepath.Join(r.path, fsConfig))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Init creates the repo directory and writes the default config.
func (r *FsRepo) Init() error {
	exist, err := r.Exists()
	if err != nil {
		return err
	}
	if exist {
		return ErrRepoExists
	}

	log.Infof("Initializing repo at '%s'", r.path)
	if err := os.MkdirAll(r.path, 0755); err != nil && !os.IsExist(err) {
		return err
	}

	return config.WriteFile(filepath.Join(r.path, fsConfig), config.DefaultCustodian())
}

// Config loads the repo config, applying defaults for unset keys.
func (r *FsRepo) Config() (*config.Custodian, error) {
	return config.FromFile(filepath.Join(r.path, fsConfig))
}

// Datastore opens the repo's leveldb-backed datastore.
func (r *FsRepo) Datastore() (datastore.Batching, error) {
	ds, err := levelds.NewDatastore(filepath.Join(r.path, fsDatastore), nil)
	if err != nil {
		return nil, xerrors.Errorf("opening leveldb datastore: %w", err)
	}
	return ds, nil
}

// SetAPIEndpoint advertises the running daemon's RPC address in the repo.
func (r *FsRepo) SetAPIEndpoint(addr string) error {
	return os.WriteFile(filepath.Join(r.path, fsAPI), []byte(addr), 0644)
}

// APIEndpoint reads the advertised RPC address.
func (r *FsRepo) APIEndpoint() (string, error) {
	raw, err := os.ReadFile(filepath.Join(r.path, fsAPI))
	if os.IsNotExist(err) {
		return "", ErrNoAPIEndpoint
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

// ClearAPIEndpoint removes the endpoint advertisement on shutdown.
func (r *FsRepo) ClearAPIEndpoint() error {
	err := os.Remove(filepath.Join(r.path, fsAPI))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
