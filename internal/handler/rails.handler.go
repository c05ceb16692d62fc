package handler

import (
	"encoding/json"
	"net/http"

	"escrow-service/internal/usecase/wallet"
	"escrow-service/pkg/response"
)

// RailsCallbackHandler receives settlement callbacks from the external payment
// provider. Repeating a callback with the same outcome is a no-op.
func RailsCallbackHandler(uc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			ProviderRef string `json:"provider_ref"`
			Success     bool   `json:"success"`
			Reason      string `json:"reason,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			response.Error(w, http.StatusBadRequest, "Invalid JSON body")
			return
		}
		if body.ProviderRef == "" {
			response.Error(w, http.StatusBadRequest, "Missing provider_ref")
			return
		}

		t, err := uc.ResolveRail(r.Context(), body.ProviderRef, body.Success, body.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, http.StatusOK, t)
	}
}
