package main

import (
	"net/http"
	"os"
	"strings"

	"github.com/filecoin-project/go-jsonrpc"
	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"

	"github.com/icpgeeks/iicustody/api"
	"github.com/icpgeeks/iicustody/api/client"
	"github.com/icpgeeks/iicustody/build"
	"github.com/icpgeeks/iicustody/identity"
	"github.com/icpgeeks/iicustody/lib/iilog"
	"github.com/icpgeeks/iicustody/node/repo"
)

var log = logging.Logger("main")

const (
	// FlagRepo names the repo path flag shared by all commands.
	FlagRepo = "repo"

	// FlagCaller names the principal flag identifying the request caller.
	FlagCaller = "caller"
)

func main() {
	iilog.SetupLogLevels()

	app := &cli.App{
		Name:    "iicustody",
		Usage:   "Custodial identity escrow controller",
		Version: build.UserVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    FlagRepo,
				EnvVars: []string{"IICUSTODY_PATH"},
				Value:   "~/.iicustody",
				Usage:   "Specify path of the custodian repo",
			},
		},
		Commands: []*cli.Command{
			initCmd,
			runCmd,
			statusCmd,
			logCmd,
			activateCmd,
			captureCmd,
			saleCmd,
			releaseCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Errorf("%+v", err)
		os.Exit(1)
	}
}

func openRepo(cctx *cli.Context) (*repo.FsRepo, error) {
	return repo.NewFS(cctx.String(FlagRepo))
}

// getAPI dials the daemon advertised in the repo.
func getAPI(cctx *cli.Context) (api.Custodian, jsonrpc.ClientCloser, error) {
	r, err := openRepo(cctx)
	if err != nil {
		return nil, nil, err
	}
	addr, err := r.APIEndpoint()
	if err != nil {
		return nil, nil, err
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr + "/rpc/v0"
	}
	return client.NewCustodianRPC(cctx.Context, addr, http.Header{})
}

func caller(cctx *cli.Context) identity.Principal {
	return identity.Principal(cctx.String(FlagCaller))
}

var callerFlag = &cli.StringFlag{
	Name:     FlagCaller,
	Usage:    "principal on whose behalf the request is made",
	EnvVars:  []string{"IICUSTODY_CALLER"},
	Required: true,
}
