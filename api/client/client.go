// Package client constructs JSON-RPC clients for the custodian API.
package client

import (
	"context"
	"net/http"

	"github.com/filecoin-project/go-jsonrpc"

	"github.com/icpgeeks/iicustody/api"
)

// NewCustodianRPC creates a new http jsonrpc client bound to the custodian
// API at addr.
func NewCustodianRPC(ctx context.Context, addr string, requestHeader http.Header) (api.Custodian, jsonrpc.ClientCloser, error) {
	var res api.CustodianStruct
	closer, err := jsonrpc.NewMergeClient(ctx, addr, "Custodian",
		[]interface{}{
			&res.Internal,
		},
		requestHeader,
	)
	return &res, closer, err
}
