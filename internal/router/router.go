package router

import (
	"escrow-service/internal/handler"
	"escrow-service/internal/usecase/contract"
	"escrow-service/internal/usecase/transaction"
	"escrow-service/internal/usecase/wallet"
	"escrow-service/pkg/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

func New(
	walletUC *wallet.Service,
	contractUC *contract.Service,
	journalUC *transaction.Service,
	auth *middleware.Auth,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Provider callbacks arrive unauthenticated; the provider ref is the proof.
	r.Post("/rails/callback", handler.RailsCallbackHandler(walletUC))

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/api", func(r chi.Router) {
			r.Route("/wallets", func(r chi.Router) {
				r.Post("/", handler.OpenWalletHandler(walletUC))
				r.Get("/{walletID}", handler.GetWalletHandler(walletUC))
				r.Get("/{walletID}/balance/{currency}", handler.BalanceHandler(walletUC))
				r.Get("/owner/{ownerID}", handler.ListWalletsHandler(walletUC))
				r.Post("/deposit", handler.DepositHandler(walletUC))
				r.Post("/withdraw", handler.WithdrawHandler(walletUC))
				r.Post("/transfer", handler.TransferHandler(walletUC))
			})

			r.Get("/transactions", handler.ListTransactionsHandler(journalUC))

			r.Route("/contracts", func(r chi.Router) {
				r.Post("/", handler.CreateContractHandler(contractUC))
				r.Get("/", handler.ListContractsHandler(contractUC))
				r.Get("/{contractID}", handler.GetContractHandler(contractUC))
				r.Post("/{contractID}/approve", handler.ApproveContractHandler(contractUC))
				r.Post("/{contractID}/fund", handler.FundContractHandler(contractUC))
				r.Post("/{contractID}/activate", handler.ActivateContractHandler(contractUC))
				r.Post("/{contractID}/ship", handler.MarkShippedHandler(contractUC))
				r.Post("/{contractID}/receive", handler.ConfirmReceiptHandler(contractUC))
				r.Post("/{contractID}/release", handler.ReleaseContractHandler(contractUC))
				r.Post("/{contractID}/dispute", handler.DisputeContractHandler(contractUC))
				r.Post("/{contractID}/resolve", handler.ResolveDisputeHandler(contractUC))
				r.Post("/{contractID}/cancel", handler.CancelContractHandler(contractUC))
			})

			r.Get("/ws/wallets/{ownerID}", handler.WalletWSHandler(walletUC))
		})
	})

	return r
}
