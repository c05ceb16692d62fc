package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"escrow-service/internal/docs"
	"escrow-service/internal/rails"
	"escrow-service/internal/repository/memory"
	"escrow-service/internal/router"
	"escrow-service/internal/usecase/contract"
	"escrow-service/internal/usecase/escrow"
	"escrow-service/internal/usecase/transaction"
	"escrow-service/internal/usecase/wallet"
	"escrow-service/pkg/jwtutil"
	"escrow-service/pkg/middleware"
	"escrow-service/pkg/response"
)

func newTestServer() *httptest.Server {
	return newTestServerWithAuth(middleware.NewAuth(nil, false))
}

func newTestServerWithAuth(auth *middleware.Auth) *httptest.Server {
	txRepo := memory.NewTransactionRepository()
	journal := transaction.New(txRepo, nil, nil)
	walletRepo := memory.NewWalletRepository()
	walletRepo.AttachJournal(txRepo)
	walletUC := wallet.New(walletRepo, journal, rails.NewSimulatedProvider(), wallet.NewNotifier(nil), nil, nil)
	escrowUC := escrow.New(walletRepo, journal, nil)
	contractUC := contract.New(memory.NewContractRepository(), escrowUC, docs.NewMemoryGate(), false, nil, nil)

	return httptest.NewServer(router.New(walletUC, contractUC, journal, auth))
}

func postJSON(t *testing.T, url string, body any) *response.APIResponse {
	t.Helper()
	return postJSONBearer(t, url, "", body)
}

func postJSONBearer(t *testing.T, url, token string, body any) *response.APIResponse {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("build request for %s: %v", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()

	var out response.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response of %s: %v", url, err)
	}
	return &out
}

func dataField(t *testing.T, r *response.APIResponse, key string) any {
	t.Helper()
	m, ok := r.Data.(map[string]any)
	if !ok {
		t.Fatalf("data is %T, want object", r.Data)
	}
	return m[key]
}

func TestContractLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	// Fund the buyer's main wallet through the rail and its callback.
	dep := postJSON(t, srv.URL+"/api/wallets/deposit", map[string]any{
		"owner_id": "usr_buyer", "amount": "60000", "currency": "USDC", "account_ref": "bank:1",
	})
	if dep.Status != "success" {
		t.Fatalf("deposit failed: %s", dep.Message)
	}
	providerRef, _ := dataField(t, dep, "provider_ref").(string)
	if providerRef == "" {
		t.Fatal("deposit response missing provider_ref")
	}
	cb := postJSON(t, srv.URL+"/rails/callback", map[string]any{
		"provider_ref": providerRef, "success": true,
	})
	if cb.Status != "success" {
		t.Fatalf("callback failed: %s", cb.Message)
	}

	created := postJSON(t, srv.URL+"/api/contracts/", map[string]any{
		"parties": []map[string]string{
			{"role": "BUYER", "owner_id": "usr_buyer"},
			{"role": "SELLER", "owner_id": "usr_seller"},
		},
		"terms": map[string]any{
			"currency": "USDC", "value": "50000",
			"delivery_deadline": "2026-12-31T00:00:00Z", "inspection_days": 7,
		},
	})
	if created.Status != "success" {
		t.Fatalf("create contract failed: %s", created.Message)
	}
	contractID, _ := dataField(t, created, "id").(string)
	if contractID == "" {
		t.Fatal("create response missing contract id")
	}

	base := srv.URL + "/api/contracts/" + contractID

	// Funding before approval must be rejected without moving anything.
	early := postJSON(t, base+"/fund", map[string]any{"amount": "50000", "currency": "USDC"})
	if early.Status != "error" {
		t.Fatal("funding a DRAFT contract should fail")
	}
	if early.Retriable == nil || *early.Retriable {
		t.Fatal("an illegal transition is not retriable")
	}

	for _, owner := range []string{"usr_buyer", "usr_seller"} {
		r := postJSON(t, base+"/approve", map[string]any{"party_owner": owner})
		if r.Status != "success" {
			t.Fatalf("approval by %s failed: %s", owner, r.Message)
		}
	}

	funded := postJSON(t, base+"/fund", map[string]any{"amount": "50000", "currency": "USDC"})
	if funded.Status != "success" {
		t.Fatalf("fund failed: %s", funded.Message)
	}
	if got, _ := dataField(t, funded, "status").(string); got != "FUNDED" {
		t.Fatalf("contract status = %q, want FUNDED", got)
	}

	for _, step := range []string{"ship", "receive", "release"} {
		r := postJSON(t, base+"/"+step, map[string]any{})
		if r.Status != "success" {
			t.Fatalf("%s failed: %s", step, r.Message)
		}
	}

	final := postJSON(t, base+"/fund", map[string]any{"amount": "1", "currency": "USDC"})
	if final.Status != "error" {
		t.Fatal("a COMPLETED contract cannot be funded")
	}

	// Seller got paid.
	resp, err := http.Get(fmt.Sprintf("%s/api/wallets/owner/%s", srv.URL, "usr_seller"))
	if err != nil {
		t.Fatalf("list seller wallets: %v", err)
	}
	defer resp.Body.Close()
	var listResp response.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&listResp); err != nil {
		t.Fatalf("decode wallets: %v", err)
	}
	wallets, _ := dataField(t, &listResp, "wallets").([]any)
	if len(wallets) != 1 {
		t.Fatalf("seller wallets = %d, want 1", len(wallets))
	}
	w, _ := wallets[0].(map[string]any)
	balances, _ := w["balances"].(map[string]any)
	if balances["USDC"] != "50000" {
		t.Fatalf("seller USDC balance = %v, want 50000", balances["USDC"])
	}
}

func TestApprovalUsesTokenIdentityWhenAuthEnabled(t *testing.T) {
	verifier := jwtutil.NewVerifier([]byte("test-secret"), "escrow-service", "escrow-api")
	srv := newTestServerWithAuth(middleware.NewAuth(verifier, true))
	defer srv.Close()

	buyerToken, err := verifier.Sign("usr_buyer", "trader", time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// No bearer token: rejected at the door.
	resp, err := http.Post(srv.URL+"/api/contracts/", "application/json", bytes.NewReader([]byte("{}")))
	if err != nil {
		t.Fatalf("POST without token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without token = %d, want 401", resp.StatusCode)
	}

	created := postJSONBearer(t, srv.URL+"/api/contracts/", buyerToken, map[string]any{
		"parties": []map[string]string{
			{"role": "BUYER", "owner_id": "usr_buyer"},
			{"role": "SELLER", "owner_id": "usr_seller"},
		},
		"terms": map[string]any{
			"currency": "USDC", "value": "100",
			"delivery_deadline": "2026-12-31T00:00:00Z", "inspection_days": 7,
		},
	})
	if created.Status != "success" {
		t.Fatalf("create contract failed: %s", created.Message)
	}
	contractID, _ := dataField(t, created, "id").(string)

	// The body claims the seller is approving, but the token says buyer; the
	// token wins.
	approved := postJSONBearer(t, srv.URL+"/api/contracts/"+contractID+"/approve", buyerToken,
		map[string]any{"party_owner": "usr_seller"})
	if approved.Status != "success" {
		t.Fatalf("approve failed: %s", approved.Message)
	}
	approvals, _ := dataField(t, approved, "approvals").(map[string]any)
	if approvals["usr_buyer"] != true {
		t.Fatalf("approvals = %v, want the buyer recorded", approvals)
	}
	if _, ok := approvals["usr_seller"]; ok {
		t.Fatal("the body must not impersonate another party")
	}
}

func TestWithdrawOverdraftOverHTTP(t *testing.T) {
	srv := newTestServer()
	defer srv.Close()

	dep := postJSON(t, srv.URL+"/api/wallets/deposit", map[string]any{
		"owner_id": "usr_a", "amount": "50", "currency": "USDC", "account_ref": "bank:1",
	})
	providerRef, _ := dataField(t, dep, "provider_ref").(string)
	postJSON(t, srv.URL+"/rails/callback", map[string]any{"provider_ref": providerRef, "success": true})

	walletID, _ := dataField(t, dep, "to_wallet_id").(string)
	if walletID == "" {
		t.Fatal("deposit response missing to_wallet_id")
	}

	over := postJSON(t, srv.URL+"/api/wallets/withdraw", map[string]any{
		"wallet_id": walletID, "amount": "100", "currency": "USDC", "destination": "bank:2",
	})
	if over.Status != "error" {
		t.Fatal("overdraw should fail")
	}

	resp, err := http.Get(srv.URL + "/api/wallets/" + walletID + "/balance/USDC")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	defer resp.Body.Close()
	var balResp response.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&balResp); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if got := dataField(t, &balResp, "balance"); got != "50" {
		t.Fatalf("balance = %v, want 50 untouched", got)
	}
}
