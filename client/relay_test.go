package client

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelay_SponsoredCall(t *testing.T) {
	var body SponsoredCallRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/relays/v2/sponsored-call", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"taskId":"0xtask"}`))
	}))
	defer srv.Close()

	relay, err := NewRelay(logrus.New(), srv.URL+"/", "sponsor-key")
	require.NoError(t, err)

	target := common.HexToAddress("0x4444444444444444444444444444444444444444")
	taskID, err := relay.SponsoredCall(context.Background(), big.NewInt(84532), target, []byte{0xab})
	require.NoError(t, err)

	assert.Equal(t, "0xtask", taskID)
	assert.Equal(t, "84532", body.ChainID)
	assert.Equal(t, target, body.Target)
	assert.Equal(t, []byte{0xab}, []byte(body.Data))
	assert.Equal(t, "sponsor-key", body.SponsorAPIKey)
}

func TestRelay_SponsoredCallErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Unsupported chain"}`))
	}))
	defer srv.Close()

	relay, err := NewRelay(logrus.New(), srv.URL, "sponsor-key")
	require.NoError(t, err)

	_, err = relay.SponsoredCall(context.Background(), big.NewInt(1), common.Address{}, nil)
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, "Unsupported chain", httpErr.Message)

	_, err = NewRelay(logrus.New(), srv.URL, "")
	require.Error(t, err)
}

func TestRelay_TaskStatus(t *testing.T) {
	txHash := "0x1111111111111111111111111111111111111111111111111111111111111111"

	tests := []struct {
		name     string
		status   int
		body     string
		notFound bool
		wantErr  string
	}{
		{name: "check pending", status: 200, body: `{"task":{"taskState":"CheckPending"}}`, notFound: true},
		{name: "waiting", status: 200, body: `{"task":{"taskState":"WaitingForConfirmation"}}`, notFound: true},
		{name: "missing task", status: 200, body: `{}`, notFound: true},
		{name: "unknown task", status: 404, body: `{"message":"Task not indexed"}`, notFound: true},
		{name: "reverted", status: 200, body: `{"task":{"taskState":"ExecReverted","lastCheckMessage":"out of gas"}}`, wantErr: "out of gas"},
		{name: "cancelled", status: 200, body: `{"task":{"taskState":"Cancelled"}}`, wantErr: "Cancelled"},
		{name: "no hash", status: 200, body: `{"task":{"taskState":"ExecSuccess"}}`, wantErr: "without a transaction hash"},
		{name: "server error", status: 500, body: `{"error":"boom"}`, wantErr: "boom"},
		{name: "success", status: 200, body: `{"task":{"taskId":"t","taskState":"ExecSuccess","transactionHash":"` + txHash + `"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/tasks/status/t", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			relay, err := NewRelay(logrus.New(), srv.URL, "sponsor-key")
			require.NoError(t, err)

			task, err := relay.TaskStatus(context.Background(), "t")

			switch {
			case tt.notFound:
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrNotFound)
			case tt.wantErr != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.False(t, IsNotFound(err))
			default:
				require.NoError(t, err)
				assert.Equal(t, TaskExecSuccess, task.TaskState)
				assert.Equal(t, common.HexToHash(txHash), task.TransactionHash)
			}
		})
	}
}

func TestTaskState_Pending(t *testing.T) {
	for _, s := range []TaskState{TaskCheckPending, TaskExecPending, TaskWaitingForConfirmation, TaskNotFound, ""} {
		assert.True(t, s.Pending(), s)
	}
	for _, s := range []TaskState{TaskExecSuccess, TaskExecReverted, TaskCancelled} {
		assert.False(t, s.Pending(), s)
	}
}

func TestThirdwebRoute_Submit(t *testing.T) {
	secret := []byte("route-secret")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		raw, _ := io.ReadAll(r.Body)
		assert.Empty(t, raw)

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		parsed, err := jwt.Parse(token, func(*jwt.Token) (interface{}, error) { return secret, nil })
		if assert.NoError(t, err) {
			assert.True(t, parsed.Valid)
		}

		_, _ = w.Write([]byte(`{
			"transactionHash": "0x1111111111111111111111111111111111111111111111111111111111111111",
			"smartAccount": "0x5555555555555555555555555555555555555555",
			"processingTime": 850
		}`))
	}))
	defer srv.Close()

	route, err := NewThirdwebRoute(logrus.New(), srv.URL, secret)
	require.NoError(t, err)

	resp, rtt, err := route.Submit(context.Background())
	require.NoError(t, err)

	assert.Equal(t, common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111"), resp.TransactionHash)
	assert.Equal(t, common.HexToAddress("0x5555555555555555555555555555555555555555"), resp.SmartAccount)
	assert.Equal(t, int64(850), resp.ProcessingTime)
	assert.Positive(t, rtt)
	assert.Less(t, rtt, 5*time.Second)
}

func TestThirdwebRoute_Errors(t *testing.T) {
	status := http.StatusInternalServerError
	body := `{"error":"Missing THIRDWEB_SECRET_KEY"}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	route, err := NewThirdwebRoute(logrus.New(), srv.URL, nil)
	require.NoError(t, err)

	_, _, err = route.Submit(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Missing THIRDWEB_SECRET_KEY")

	status = http.StatusOK
	body = `{"smartAccount":"0x5555555555555555555555555555555555555555"}`
	_, _, err = route.Submit(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no transaction hash")

	_, err = NewThirdwebRoute(logrus.New(), "", nil)
	require.Error(t, err)
}

func TestGenerateJWT(t *testing.T) {
	token, err := GenerateJWT([]byte("secret"))
	require.NoError(t, err)

	parsed, err := jwt.Parse(token, func(tok *jwt.Token) (interface{}, error) {
		assert.Equal(t, jwt.SigningMethodHS256, tok.Method)
		return []byte("secret"), nil
	})
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
}
