package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"escrow-service/internal/usecase/wallet"
	"escrow-service/pkg/response"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WalletWSHandler subscribes an owner to live balance updates. The connection
// gets the full wallet list on subscribe and may re-request it with
// {"action":"get_wallets"}.
func WalletWSHandler(uc *wallet.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := chi.URLParam(r, "ownerID")
		if ownerID == "" {
			response.Error(w, http.StatusBadRequest, "Missing owner ID")
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		uc.Notifier.RegisterConnection(ownerID, conn)
		defer uc.Notifier.UnregisterConnection(ownerID, conn)

		ctx := r.Context()
		if _, err := uc.GetOrCreateMain(ctx, ownerID); err != nil {
			log.Printf("ws: failed to ensure main wallet for %s: %v", ownerID, err)
		}
		if wallets, err := uc.ListByOwner(ctx, ownerID); err == nil {
			uc.Notifier.NotifyInitial(ownerID, wallets)
		}

		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if mt != websocket.TextMessage {
				continue
			}
			var req struct {
				Action string `json:"action"`
			}
			if err := json.Unmarshal(msg, &req); err == nil && req.Action == "get_wallets" {
				if wallets, err := uc.ListByOwner(ctx, ownerID); err == nil {
					uc.Notifier.NotifyInitial(ownerID, wallets)
				}
			}
		}
	}
}
