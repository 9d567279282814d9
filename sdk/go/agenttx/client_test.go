package agenttx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentTx-ERC20/internal/agent"
	"AgentTx-ERC20/internal/api"
	"AgentTx-ERC20/internal/auth"
	"AgentTx-ERC20/internal/delegation"
	"AgentTx-ERC20/internal/storage/mysql"
	"AgentTx-ERC20/internal/tool/erc20"
	"AgentTx-ERC20/internal/web3"
)

type stubCaller struct{}

func (stubCaller) ContractCall(context.Context, web3.ContractCall) (common.Hash, error) {
	return common.HexToHash("0xc0ffee"), nil
}

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer, err := delegation.NewKeyedSigner(key)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	ledger, err := mysql.NewMemoryTransferRepository(t.TempDir())
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	authService, err := auth.NewService(auth.Config{Mode: auth.ModeAPIKey, Keys: []auth.KeyConfig{
		{Name: "sdk", Key: "sdk-key", Permissions: []string{"*"}},
	}})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	ag := agent.New(erc20.New(stubCaller{}), signer.Context(), agent.WithLedger(ledger))
	srv := httptest.NewServer(api.NewServer("", ag, api.WithAuth(authService)).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func params() Parameters {
	return Parameters{
		To:           "0x2c7536E3605D9C16a7a3D7b1898e529396a65c23",
		Amount:       "3.25",
		TokenAddress: "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
	}
}

func TestClientAgainstServer(t *testing.T) {
	srv := newBackend(t)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx := context.Background()

	if _, err := client.Precheck(ctx, params()); !IsAPIError(err, http.StatusUnauthorized) {
		t.Fatalf("expected 401 without key, got %v", err)
	}
	client.SetAPIKey("sdk-key")

	check, err := client.Precheck(ctx, params())
	if err != nil || !check.Success {
		t.Fatalf("precheck: %+v (%v)", check, err)
	}

	resp, err := client.Execute(ctx, "sdk-inv-1", params())
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !resp.Result.Success || resp.InvocationID != "sdk-inv-1" || resp.Result.Amount != "3.25" {
		t.Fatalf("unexpected response %+v", resp)
	}

	records, err := client.ListTransfers(ctx, 10)
	if err != nil || len(records) != 1 || records[0].TxHash != resp.Result.TxHash {
		t.Fatalf("unexpected records %+v (%v)", records, err)
	}

	schema, err := client.Schema(ctx)
	if err != nil || schema["name"] != "erc20-transfer" {
		t.Fatalf("unexpected schema %v (%v)", schema, err)
	}
}

func TestClientToolFailureIsNotAnAPIError(t *testing.T) {
	srv := newBackend(t)
	client, _ := NewClient(srv.URL, srv.Client())
	client.SetAPIKey("sdk-key")

	bad := params()
	bad.Amount = "-1"
	check, err := client.Precheck(context.Background(), bad)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if check.Success || check.ErrorCode != "INVALID_AMOUNT" {
		t.Fatalf("unexpected precheck %+v", check)
	}
}

func TestClientDecodesErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success":false,"error":"invalid tool parameters","errorCode":"INVALID_PARAMETERS"}`))
	}))
	defer srv.Close()

	client, _ := NewClient(srv.URL+"/prefix", srv.Client())
	_, err := client.Precheck(context.Background(), Parameters{})
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "INVALID_PARAMETERS" || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestNewClientRejectsBadURL(t *testing.T) {
	if _, err := NewClient("localhost:8080", nil); err == nil {
		t.Fatalf("expected error for url without scheme")
	}
}
