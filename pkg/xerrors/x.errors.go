package xerrors

import "errors"
import "github.com/jackc/pgx/v5/pgconn"

func ParsePGErrorCode(err error) string {
	if pgErr, ok := err.(*pgconn.PgError); ok {
		return pgErr.Code // e.g. 23505 for unique_violation
	}
	return "unknown"
}

// Generic
var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrInternalServer = errors.New("internal server error")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrNotFound       = errors.New("not found")
)

// Ledger / wallets
var (
	ErrWalletNotFound        = errors.New("wallet not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrDuplicateEscrowWallet = errors.New("escrow wallet already exists for contract")
	ErrCurrencyMismatch      = errors.New("currency mismatch")
)

// Journal
var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionFinal    = errors.New("transaction already in a terminal status")
)

// Contracts
var (
	ErrContractNotFound       = errors.New("contract not found")
	ErrInvalidStateTransition = errors.New("operation not allowed in current contract state")
	ErrDocumentsNotVerified   = errors.New("required documents not verified")
)

// Concurrency
var (
	ErrConcurrentModification = errors.New("concurrent modification, please retry")
)

// Retriable reports whether the caller may retry the same request unchanged.
// Insufficient funds and illegal transitions need new input; losing a race does not.
func Retriable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
