package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"escrow-service/internal/domain"
	"escrow-service/internal/usecase/contract"
	"escrow-service/pkg/middleware"
	"escrow-service/pkg/response"

	"github.com/go-chi/chi/v5"
)

// partyOwner resolves who is acting: the authenticated owner when a token was
// presented, otherwise the owner named in the request body (auth disabled).
func partyOwner(r *http.Request, bodyOwner string) string {
	if v := middleware.OwnerID(r.Context()); v != "" {
		return v
	}
	return bodyOwner
}

func CreateContractHandler(uc *contract.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Parties []struct {
				Role    string `json:"role"`
				OwnerID string `json:"owner_id"`
			} `json:"parties"`
			Terms struct {
				Currency         string    `json:"currency"`
				Value            string    `json:"value"`
				DeliveryDeadline time.Time `json:"delivery_deadline"`
				InspectionDays   int       `json:"inspection_days"`
			} `json:"terms"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		value, ok := parseAmount(body.Terms.Value)
		if !ok {
			response.Error(w, http.StatusBadRequest, "Invalid contract value")
			return
		}

		parties := make([]domain.Party, 0, len(body.Parties))
		for _, p := range body.Parties {
			parties = append(parties, domain.Party{
				Role:    domain.PartyRole(p.Role),
				OwnerID: p.OwnerID,
			})
		}

		c, err := uc.Create(r.Context(), parties, domain.TradeTerms{
			Currency:         body.Terms.Currency,
			Value:            value,
			DeliveryDeadline: body.Terms.DeliveryDeadline,
			InspectionDays:   body.Terms.InspectionDays,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusCreated, c)
	}
}

func ApproveContractHandler(uc *contract.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PartyOwner string `json:"party_owner"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		c, err := uc.Approve(r.Context(), chi.URLParam(r, "contractID"), partyOwner(r, body.PartyOwner))
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, c)
	}
}

func FundContractHandler(uc *contract.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
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
		c, err := uc.Fund(r.Context(), chi.URLParam(r, "contractID"), amount, body.Currency)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, c)
	}
}

func ActivateContractHandler(uc *contract.Service) http.HandlerFunc {
	return transitionHandler(func(r *http.Request) (*domain.Contract, error) {
		return uc.Activate(r.Context(), chi.URLParam(r, "contractID"))
	})
}

func MarkShippedHandler(uc *contract.Service) http.HandlerFunc {
	return transitionHandler(func(r *http.Request) (*domain.Contract, error) {
		return uc.MarkShipped(r.Context(), chi.URLParam(r, "contractID"))
	})
}

func ConfirmReceiptHandler(uc *contract.Service) http.HandlerFunc {
	return transitionHandler(func(r *http.Request) (*domain.Contract, error) {
		return uc.ConfirmReceipt(r.Context(), chi.URLParam(r, "contractID"))
	})
}

func ReleaseContractHandler(uc *contract.Service) http.HandlerFunc {
	return transitionHandler(func(r *http.Request) (*domain.Contract, error) {
		return uc.Release(r.Context(), chi.URLParam(r, "contractID"))
	})
}

func CancelContractHandler(uc *contract.Service) http.HandlerFunc {
	return transitionHandler(func(r *http.Request) (*domain.Contract, error) {
		return uc.Cancel(r.Context(), chi.URLParam(r, "contractID"))
	})
}

func DisputeContractHandler(uc *contract.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RaisedBy string `json:"raised_by"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		c, err := uc.Dispute(r.Context(), chi.URLParam(r, "contractID"), partyOwner(r, body.RaisedBy))
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, c)
	}
}

func ResolveDisputeHandler(uc *contract.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Outcome string `json:"outcome"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		c, err := uc.ResolveDispute(r.Context(), chi.URLParam(r, "contractID"), domain.DisputeOutcome(body.Outcome))
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, c)
	}
}

func GetContractHandler(uc *contract.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := uc.Get(r.Context(), chi.URLParam(r, "contractID"))
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, c)
	}
}

func ListContractsHandler(uc *contract.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f := &domain.ContractFilter{}
		if v := q.Get("status"); v != "" {
			st := domain.ContractStatus(v)
			f.Status = &st
		}
		if v := q.Get("owner_id"); v != "" {
			f.OwnerID = &v
		}
		if v := q.Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				f.Limit = n
			}
		}

		contracts, err := uc.List(r.Context(), f)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, map[string]interface{}{"contracts": contracts})
	}
}

func transitionHandler(call func(*http.Request) (*domain.Contract, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := call(r)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, c)
	}
}
