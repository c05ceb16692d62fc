package handler

import (
	"encoding/json"
	"net/http"

	"escrow-service/internal/domain"
	"escrow-service/internal/usecase/transaction"
	"escrow-service/internal/usecase/wallet"
	"escrow-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// Amounts travel as strings on the wire and are parsed into exact decimals.
func parseAmount(raw string) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func OpenWalletHandler(uc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			OwnerID    string  `json:"owner_id"`
			Kind       string  `json:"kind"`
			ContractID *string `json:"contract_id,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}

		wlt, err := uc.Open(r.Context(), body.OwnerID, domain.WalletKind(body.Kind), body.ContractID)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusCreated, wlt)
	}
}

func GetWalletHandler(uc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID := chi.URLParam(r, "walletID")
		if walletID == "" {
			response.Error(w, http.StatusBadRequest, "Missing wallet ID")
			return
		}
		wlt, err := uc.Get(r.Context(), walletID)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, wlt)
	}
}

func ListWalletsHandler(uc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := chi.URLParam(r, "ownerID")
		if ownerID == "" {
			response.Error(w, http.StatusBadRequest, "Missing owner ID")
			return
		}
		wallets, err := uc.ListByOwner(r.Context(), ownerID)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, map[string]interface{}{"wallets": wallets})
	}
}

func BalanceHandler(uc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		walletID := chi.URLParam(r, "walletID")
		currency := chi.URLParam(r, "currency")
		if walletID == "" || currency == "" {
			response.Error(w, http.StatusBadRequest, "Missing wallet ID or currency")
			return
		}
		balance, err := uc.Balance(r.Context(), walletID, currency)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, map[string]string{
			"wallet_id": walletID,
			"currency":  currency,
			"balance":   balance.String(),
		})
	}
}

func DepositHandler(uc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			OwnerID    string `json:"owner_id"`
			Amount     string `json:"amount"`
			Currency   string `json:"currency"`
			AccountRef string `json:"account_ref"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		amount, ok := parseAmount(body.Amount)
		if !ok {
			response.Error(w, http.StatusBadRequest, "Invalid amount")
			return
		}

		t, err := uc.Deposit(r.Context(), body.OwnerID, body.Currency, amount, body.AccountRef)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusAccepted, t)
	}
}

func WithdrawHandler(uc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			WalletID    string `json:"wallet_id"`
			Amount      string `json:"amount"`
			Currency    string `json:"currency"`
			Destination string `json:"destination"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		amount, ok := parseAmount(body.Amount)
		if !ok {
			response.Error(w, http.StatusBadRequest, "Invalid amount")
			return
		}

		t, err := uc.Withdraw(r.Context(), body.WalletID, body.Currency, amount, body.Destination)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusAccepted, t)
	}
}

func TransferHandler(uc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			FromWalletID string `json:"from_wallet_id"`
			ToWalletID   string `json:"to_wallet_id"`
			Amount       string `json:"amount"`
			Currency     string `json:"currency"`
			Description  string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		amount, ok := parseAmount(body.Amount)
		if !ok {
			response.Error(w, http.StatusBadRequest, "Invalid amount")
			return
		}

		t, err := uc.Transfer(r.Context(), body.FromWalletID, body.ToWalletID, body.Currency, amount, body.Description)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, t)
	}
}

// ListTransactionsHandler filters the journal by query params, newest first.
func ListTransactionsHandler(uc *transaction.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := &domain.TransactionFilter{}
		if v := q.Get("wallet_id"); v != "" {
			f.WalletID = &v
		}
		if v := q.Get("contract_id"); v != "" {
			f.ContractID = &v
		}
		if v := q.Get("owner_id"); v != "" {
			f.OwnerID = &v
		}
		if v := q.Get("kind"); v != "" {
			k := domain.TransactionKind(v)
			f.Kind = &k
		}
		if v := q.Get("status"); v != "" {
			st := domain.TransactionStatus(v)
			f.Status = &st
		}

		txs, err := uc.List(r.Context(), f)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
	}
}
