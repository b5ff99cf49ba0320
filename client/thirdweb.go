package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

// ThirdwebTxResponse is the success body of the thirdweb transaction route.
type ThirdwebTxResponse struct {
	TransactionHash common.Hash    `json:"transactionHash"`
	SmartAccount    common.Address `json:"smartAccount"`
	// ProcessingTime is the server side handling time in milliseconds.
	ProcessingTime int64 `json:"processingTime"`
}

// ThirdwebRoute triggers a sponsored transaction through the server route.
type ThirdwebRoute interface {
	// Submit posts the route and returns its response and the round trip time.
	Submit(ctx context.Context) (*ThirdwebTxResponse, time.Duration, error)
}

// thirdwebRoute implements ThirdwebRoute.
type thirdwebRoute struct {
	log  logrus.FieldLogger
	rest *restClient
}

// NewThirdwebRoute creates a route client for url. A non-empty secret signs
// every request with an HS256 bearer token.
func NewThirdwebRoute(log logrus.FieldLogger, url string, secret []byte) (ThirdwebRoute, error) {
	if url == "" {
		return nil, fmt.Errorf("thirdweb route url is empty")
	}

	rest := newRESTClient(url, 120*time.Second)
	rest.jwtSecret = secret

	return &thirdwebRoute{
		log:  log.WithField("component", "thirdweb-route"),
		rest: rest,
	}, nil
}

func (t *thirdwebRoute) Submit(ctx context.Context) (*ThirdwebTxResponse, time.Duration, error) {
	var resp ThirdwebTxResponse

	duration, err := t.rest.doRequest(ctx, http.MethodPost, "", nil, &resp)
	if err != nil {
		return nil, duration, fmt.Errorf("thirdweb route failed: %w", err)
	}
	if resp.TransactionHash == (common.Hash{}) {
		return nil, duration, fmt.Errorf("thirdweb route returned no transaction hash")
	}

	t.log.WithFields(logrus.Fields{
		"tx":             resp.TransactionHash.Hex(),
		"smartAccount":   resp.SmartAccount.Hex(),
		"processingTime": resp.ProcessingTime,
		"duration":       duration,
	}).Debug("thirdweb route completed")

	return &resp, duration, nil
}

// Verify interface compliance.
var _ ThirdwebRoute = (*thirdwebRoute)(nil)
