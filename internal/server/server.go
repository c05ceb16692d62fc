package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"escrow-service/internal/config"
	"escrow-service/internal/docs"
	"escrow-service/internal/pub"
	"escrow-service/internal/rails"
	"escrow-service/internal/repository"
	"escrow-service/internal/repository/memory"
	"escrow-service/internal/router"
	"escrow-service/internal/usecase/contract"
	"escrow-service/internal/usecase/escrow"
	"escrow-service/internal/usecase/transaction"
	"escrow-service/internal/usecase/wallet"
	"escrow-service/pkg/jwtutil"
	"escrow-service/pkg/middleware"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Server struct {
	httpServer  *http.Server
	db          *pgxpool.Pool
	rdb         *redis.Client
	kafkaWriter *kafka.Writer
	log         *zap.SugaredLogger
}

func New(cfg *config.Config, log *zap.SugaredLogger) (*Server, error) {
	var (
		db           *pgxpool.Pool
		walletRepo   repository.WalletRepository
		txRepo       repository.TransactionRepository
		contractRepo repository.ContractRepository
	)

	if cfg.StoreBackend == "memory" {
		mw := memory.NewWalletRepository()
		mt := memory.NewTransactionRepository()
		mw.AttachJournal(mt)
		walletRepo, txRepo = mw, mt
		contractRepo = memory.NewContractRepository()
	} else {
		pool, err := config.ConnectDB(cfg)
		if err != nil {
			return nil, err
		}
		db = pool
		walletRepo = repository.NewWalletRepo(pool)
		txRepo = repository.NewTransactionRepo(pool)
		contractRepo = repository.NewContractRepo(pool)
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
		})
	}

	var kw *kafka.Writer
	if cfg.KafkaBrokers != "" {
		kw = &kafka.Writer{
			Addr:     kafka.TCP(strings.Split(cfg.KafkaBrokers, ",")...),
			Balancer: &kafka.LeastBytes{},
		}
	}

	publisher := pub.NewEventPublisher(rdb, kw, log)
	journalUC := transaction.New(txRepo, publisher, log)
	notifier := wallet.NewNotifier(log)
	walletUC := wallet.New(walletRepo, journalUC, rails.NewSimulatedProvider(), notifier, rdb, log)
	escrowUC := escrow.New(walletRepo, journalUC, log)
	gate := docs.NewMemoryGate()
	contractUC := contract.New(contractRepo, escrowUC, gate, cfg.RequireVerifiedDocs, publisher, log)

	verifier := jwtutil.NewVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience)
	auth := middleware.NewAuth(verifier, cfg.AuthEnabled)

	r := router.New(walletUC, contractUC, journalUC, auth)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  30 * time.Second,
		},
		db:          db,
		rdb:         rdb,
		kafkaWriter: kw,
		log:         log,
	}, nil
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.db != nil {
		defer s.db.Close()
	}
	if s.rdb != nil {
		defer s.rdb.Close()
	}
	if s.kafkaWriter != nil {
		defer s.kafkaWriter.Close()
	}
	return s.httpServer.Shutdown(ctx)
}
