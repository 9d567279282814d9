package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"AgentTx-ERC20/internal/agent"
	"AgentTx-ERC20/internal/auth"
	"AgentTx-ERC20/internal/delegation"
	"AgentTx-ERC20/internal/storage/mysql"
	"AgentTx-ERC20/internal/tool/erc20"
	"AgentTx-ERC20/internal/web3"
)

const validBody = `{"to":"0x2c7536E3605D9C16a7a3D7b1898e529396a65c23","amount":"1","tokenAddress":"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"}`

type stubCaller struct{ calls int }

func (s *stubCaller) ContractCall(context.Context, web3.ContractCall) (common.Hash, error) {
	s.calls++
	return common.HexToHash("0xbeef"), nil
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *stubCaller) {
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
	caller := &stubCaller{}
	ag := agent.New(erc20.New(caller), signer.Context(), agent.WithLedger(ledger))
	return NewServer(":0", ag, append([]Option{WithMetrics(true)}, opts...)...), caller
}

func do(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestPrecheckEndpoint(t *testing.T) {
	server, caller := newTestServer(t)
	h := server.Handler()

	rec := do(t, h, http.MethodPost, toolPrefix+"/precheck", validBody, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var result erc20.PrecheckResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !result.Success || !result.AddressValid || !result.TokenAddressValid {
		t.Fatalf("unexpected precheck: %+v", result)
	}
	if caller.calls != 0 {
		t.Fatalf("precheck must not submit")
	}

	rec = do(t, h, http.MethodPost, toolPrefix+"/precheck", `{"to":"0x2c7536E3605D9C16a7a3D7b1898e529396a65c23","amount":"1","tokenAddress":"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913","chainId":0}`, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Success || result.ErrorCode != erc20.CodeInvalidChainID {
		t.Fatalf("expected invalid chain id, got %+v", result)
	}
}

func TestPrecheckRejectsMalformedBody(t *testing.T) {
	server, _ := newTestServer(t)
	h := server.Handler()

	for _, body := range []string{`not json`, `{"to":"0x1"}`, `{"to":"a","amount":"1","tokenAddress":"b","extra":true}`} {
		rec := do(t, h, http.MethodPost, toolPrefix+"/precheck", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
		var payload errorBody
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if payload.ErrorCode != erc20.CodeInvalidParameters {
			t.Fatalf("body %q: unexpected code %q", body, payload.ErrorCode)
		}
	}

	if rec := do(t, h, http.MethodGet, toolPrefix+"/precheck", "", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestExecuteAndListTransfers(t *testing.T) {
	server, caller := newTestServer(t)
	h := server.Handler()

	rec := do(t, h, http.MethodPost, toolPrefix+"/execute", validBody, map[string]string{InvocationHeader: "inv-api-1"})
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var resp agent.TransferResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.InvocationID != "inv-api-1" || !resp.Result.Success || caller.calls != 1 {
		t.Fatalf("unexpected response %+v", resp)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/transfers?limit=5", "", nil)
	var records []mysql.TransferRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 || records[0].InvocationID != "inv-api-1" {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestSchemaAndMetricsEndpoints(t *testing.T) {
	server, _ := newTestServer(t)
	h := server.Handler()

	rec := do(t, h, http.MethodGet, toolPrefix+"/schema", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"tokenAddress"`) {
		t.Fatalf("unexpected schema response %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/metrics", "", nil)
	if !strings.Contains(rec.Body.String(), `operation="schema",method="GET",code="200"`) {
		t.Fatalf("request metrics missing:\n%s", rec.Body.String())
	}
}

func TestServerWithoutAgent(t *testing.T) {
	h := NewServer(":0", nil).Handler()
	if rec := do(t, h, http.MethodPost, toolPrefix+"/execute", validBody, nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/metrics", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("metrics should not be mounted, got %d", rec.Code)
	}
}

func TestAuthGuardsTransferRoutes(t *testing.T) {
	svc, err := auth.NewService(auth.Config{Mode: auth.ModeAPIKey, Keys: []auth.KeyConfig{
		{Name: "reader", Key: "r", Permissions: []string{auth.PermissionPrecheck, auth.PermissionRead}},
	}})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	server, caller := newTestServer(t, WithAuth(svc))
	h := server.Handler()

	if rec := do(t, h, http.MethodPost, toolPrefix+"/precheck", validBody, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	bearer := map[string]string{"Authorization": "Bearer r"}
	if rec := do(t, h, http.MethodPost, toolPrefix+"/precheck", validBody, bearer); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, toolPrefix+"/execute", validBody, bearer); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	if caller.calls != 0 {
		t.Fatalf("forbidden execute reached the chain")
	}
	if rec := do(t, h, http.MethodGet, toolPrefix+"/schema", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("schema should stay public, got %d", rec.Code)
	}
}
