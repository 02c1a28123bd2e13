package node

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/filecoin-project/go-jsonrpc"
	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"
	"go.opencensus.io/tag"
	"golang.org/x/xerrors"

	"github.com/icpgeeks/iicustody/api"
	"github.com/icpgeeks/iicustody/build"
	"github.com/icpgeeks/iicustody/metrics"
)

var log = logging.Logger("node")

// ServeRPC exposes the custodian API over JSON-RPC at addr and returns a
// function that shuts the listener down.
func ServeRPC(a api.Custodian, addr string) (func(ctx context.Context) error, error) {
	rpcServer := jsonrpc.NewServer()
	rpcServer.Register("Custodian", a)

	m := mux.NewRouter()
	m.Handle("/rpc/v0", rpcServer)

	lst, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, xerrors.Errorf("could not listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:           m,
		ReadHeaderTimeout: 30 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			ctx, _ := tag.New(context.Background(), tag.Upsert(metrics.Version, build.BuildVersion))
			return ctx
		},
	}

	go func() {
		if err := srv.Serve(lst); err != nil && err != http.ErrServerClosed {
			log.Errorw("rpc server exited", "error", err)
		}
	}()

	log.Infow("rpc listening", "addr", lst.Addr().String())

	return srv.Shutdown, nil
}
