package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/icpgeeks/iicustody/build"
	"github.com/icpgeeks/iicustody/custody"
	"github.com/icpgeeks/iicustody/identity"
	"github.com/icpgeeks/iicustody/journal"
	"github.com/icpgeeks/iicustody/journal/fsjournal"
	"github.com/icpgeeks/iicustody/ledger"
	"github.com/icpgeeks/iicustody/metrics"
	"github.com/icpgeeks/iicustody/mock"
	"github.com/icpgeeks/iicustody/node"
	"github.com/icpgeeks/iicustody/node/config"
)

var initCmd = &cli.Command{
	Name:  "init",
	Usage: "Initialize a custodian repo",
	Action: func(cctx *cli.Context) error {
		r, err := openRepo(cctx)
		if err != nil {
			return err
		}
		return r.Init()
	},
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "Start the custodian daemon",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "api",
			Usage: "override the config API listen address",
		},
		&cli.BoolFlag{
			Name:  "mock-services",
			Usage: "run against in-memory identity and ledger fakes",
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx := cctx.Context

		r, err := openRepo(cctx)
		if err != nil {
			return err
		}
		if exist, err := r.Exists(); err != nil {
			return err
		} else if !exist {
			return xerrors.Errorf("repo at '%s' is not initialized, run 'iicustody init'", r.Path())
		}

		cfg, err := r.Config()
		if err != nil {
			return xerrors.Errorf("loading config: %w", err)
		}

		if err := view.Register(metrics.DefaultViews...); err != nil {
			return xerrors.Errorf("registering metric views: %w", err)
		}
		mctx, _ := tag.New(ctx,
			tag.Insert(metrics.Version, build.BuildVersion),
			tag.Insert(metrics.Commit, build.CurrentCommit),
		)
		stats.Record(mctx, metrics.Info.M(1))

		disabled, err := journal.ParseDisabledEvents(cfg.Journal.DisabledEvents)
		if err != nil {
			return xerrors.Errorf("parsing journal disabled events: %w", err)
		}
		jrnl, err := fsjournal.OpenFSJournal(r.Path(), disabled)
		if err != nil {
			return xerrors.Errorf("opening journal: %w", err)
		}
		defer jrnl.Close() //nolint:errcheck
		journal.J = jrnl

		ds, err := r.Datastore()
		if err != nil {
			return err
		}
		defer ds.Close() //nolint:errcheck

		ip, lg, closeClients, err := connectServices(cctx, cfg)
		if err != nil {
			return err
		}
		defer closeClients()

		ctrl := custody.NewController(ds, ip, lg, jrnl, cfg.Custody.Controller())
		if err := ctrl.Start(ctx); err != nil {
			return xerrors.Errorf("starting custody controller: %w", err)
		}
		defer ctrl.Stop(context.Background()) //nolint:errcheck

		a := &node.CustodianAPI{
			Controller:   ctrl,
			ShutdownChan: make(chan struct{}),
		}

		addr := cfg.API.ListenAddress
		if cctx.IsSet("api") {
			addr = cctx.String("api")
		}
		shutdownRPC, err := node.ServeRPC(a, addr)
		if err != nil {
			return err
		}
		if err := r.SetAPIEndpoint(addr); err != nil {
			return xerrors.Errorf("advertising API endpoint: %w", err)
		}
		defer r.ClearAPIEndpoint() //nolint:errcheck

		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

		select {
		case sig := <-sigCh:
			log.Warnw("received shutdown signal", "signal", sig)
		case <-a.ShutdownChan:
			log.Warn("received shutdown request over RPC")
		case <-ctx.Done():
		}

		return shutdownRPC(context.Background())
	},
}

// connectServices dials the configured identity and ledger services, falling
// back to in-memory fakes when requested.
func connectServices(cctx *cli.Context, cfg *config.Custodian) (identity.Provider, ledger.Ledger, func(), error) {
	if cctx.Bool("mock-services") || cfg.Identity.URL == "" || cfg.Ledger.URL == "" {
		log.Warn("running against in-memory identity and ledger fakes")
		return mock.NewIdentity("mock-controller"), mock.NewLedger(), func() {}, nil
	}

	ip, closeIdentity, err := node.NewIdentityClient(cctx.Context, cfg.Identity)
	if err != nil {
		return nil, nil, nil, xerrors.Errorf("connecting identity service: %w", err)
	}
	lg, closeLedger, err := node.NewLedgerClient(cctx.Context, cfg.Ledger)
	if err != nil {
		closeIdentity()
		return nil, nil, nil, xerrors.Errorf("connecting ledger service: %w", err)
	}
	return ip, lg, func() {
		closeLedger()
		closeIdentity()
	}, nil
}
