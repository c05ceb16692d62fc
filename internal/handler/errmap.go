package handler

import (
	"errors"
	"net/http"

	"escrow-service/pkg/response"
	xerrors "escrow-service/pkg/xerrors"
)

// writeError maps domain sentinels onto HTTP statuses. Unknown errors become a
// generic 500 so internals never leak to clients.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	msg := xerrors.ErrInternalServer.Error()

	switch {
	case errors.Is(err, xerrors.ErrInvalidRequest),
		errors.Is(err, xerrors.ErrCurrencyMismatch):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, xerrors.ErrUnauthorized):
		status, msg = http.StatusUnauthorized, err.Error()
	case errors.Is(err, xerrors.ErrNotFound),
		errors.Is(err, xerrors.ErrWalletNotFound),
		errors.Is(err, xerrors.ErrTransactionNotFound),
		errors.Is(err, xerrors.ErrContractNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, xerrors.ErrInvalidStateTransition),
		errors.Is(err, xerrors.ErrTransactionFinal),
		errors.Is(err, xerrors.ErrDocumentsNotVerified):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, xerrors.ErrDuplicateEscrowWallet):
		status, msg = http.StatusConflict, err.Error()
	case errors.Is(err, xerrors.ErrInsufficientFunds):
		status, msg = http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, xerrors.ErrConcurrentModification):
		status, msg = http.StatusConflict, err.Error()
	}

	response.ErrorRetriable(w, status, msg, xerrors.Retriable(err))
}
