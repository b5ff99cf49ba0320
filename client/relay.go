package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
)

// DefaultRelayURL is the public Gelato relay API.
const DefaultRelayURL = "https://api.gelato.digital"

// TaskState is the lifecycle state of a relay task.
type TaskState string

// Task states reported by the relay.
const (
	TaskCheckPending           TaskState = "CheckPending"
	TaskExecPending            TaskState = "ExecPending"
	TaskWaitingForConfirmation TaskState = "WaitingForConfirmation"
	TaskExecSuccess            TaskState = "ExecSuccess"
	TaskExecReverted           TaskState = "ExecReverted"
	TaskCancelled              TaskState = "Cancelled"
	TaskNotFound               TaskState = "NotFound"
)

// Pending returns true while the task has not reached a terminal state.
func (s TaskState) Pending() bool {
	switch s {
	case TaskCheckPending, TaskExecPending, TaskWaitingForConfirmation, TaskNotFound, "":
		return true
	default:
		return false
	}
}

// SponsoredCallRequest is the body of a sponsored relay call.
type SponsoredCallRequest struct {
	ChainID       string         `json:"chainId"`
	Target        common.Address `json:"target"`
	Data          hexutil.Bytes  `json:"data"`
	SponsorAPIKey string         `json:"sponsorApiKey"`
}

// TaskStatus is the relay's view of a task.
type TaskStatus struct {
	ChainID         string      `json:"chainId"`
	TaskID          string      `json:"taskId"`
	TaskState       TaskState   `json:"taskState"`
	TransactionHash common.Hash `json:"transactionHash"`
	BlockNumber     uint64      `json:"blockNumber"`
	LastCheckMsg    string      `json:"lastCheckMessage"`
}

// Relay defines the Gelato relay operations used by the Gelato adapter.
type Relay interface {
	// SponsoredCall submits a call paid by the sponsor key and returns the task id.
	SponsoredCall(ctx context.Context, chainID *big.Int, target common.Address, data []byte) (string, error)
	// TaskStatus returns the executed task, ErrNotFound while it is pending.
	TaskStatus(ctx context.Context, taskID string) (*TaskStatus, error)
}

// relayClient implements Relay.
type relayClient struct {
	log    logrus.FieldLogger
	rest   *restClient
	apiKey string
}

// NewRelay creates a relay client. An empty baseURL selects DefaultRelayURL.
func NewRelay(log logrus.FieldLogger, baseURL, apiKey string) (Relay, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("relay sponsor api key is empty")
	}
	if baseURL == "" {
		baseURL = DefaultRelayURL
	}

	return &relayClient{
		log:    log.WithField("component", "relay-client"),
		rest:   newRESTClient(strings.TrimRight(baseURL, "/"), 30*time.Second),
		apiKey: apiKey,
	}, nil
}

type sponsoredCallResponse struct {
	TaskID string `json:"taskId"`
}

func (r *relayClient) SponsoredCall(ctx context.Context, chainID *big.Int, target common.Address, data []byte) (string, error) {
	req := &SponsoredCallRequest{
		ChainID:       chainID.String(),
		Target:        target,
		Data:          data,
		SponsorAPIKey: r.apiKey,
	}

	var resp sponsoredCallResponse
	duration, err := r.rest.doRequest(ctx, http.MethodPost, "/relays/v2/sponsored-call", req, &resp)
	if err != nil {
		return "", fmt.Errorf("sponsored call failed: %w", err)
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("sponsored call returned no task id")
	}

	r.log.WithFields(logrus.Fields{
		"taskId":   resp.TaskID,
		"target":   target.Hex(),
		"duration": duration,
	}).Debug("Relay task created")

	return resp.TaskID, nil
}

type taskStatusResponse struct {
	Task *TaskStatus `json:"task"`
}

func (r *relayClient) TaskStatus(ctx context.Context, taskID string) (*TaskStatus, error) {
	var resp taskStatusResponse
	if _, err := r.rest.doRequest(ctx, http.MethodGet, "/tasks/status/"+taskID, nil, &resp); err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
		}
		return nil, err
	}

	task := resp.Task
	if task == nil || task.TaskState.Pending() {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}

	if task.TaskState != TaskExecSuccess {
		return nil, fmt.Errorf("task %s ended in state %s: %s", taskID, task.TaskState, task.LastCheckMsg)
	}
	if task.TransactionHash == (common.Hash{}) {
		return nil, fmt.Errorf("task %s succeeded without a transaction hash", taskID)
	}

	return task, nil
}

// Verify interface compliance.
var _ Relay = (*relayClient)(nil)
