package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	authsvc "github.com/ivankudzin/skillmarket/internal/services/auth"
	txsvc "github.com/ivankudzin/skillmarket/internal/services/transactions"
	"github.com/ivankudzin/skillmarket/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/skillmarket/internal/transport/http/errors"
)

type TransactionsHandler struct {
	service *txsvc.Service
	logger  *zap.Logger
}

func NewTransactionsHandler(service *txsvc.Service, logger *zap.Logger) *TransactionsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionsHandler{service: service, logger: logger}
}

func (h *TransactionsHandler) List(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.service == nil {
		writeInternal(w, "TRANSACTIONS_SERVICE_UNAVAILABLE", "transactions service is unavailable")
		return
	}

	page, err := h.service.ListForEmail(r.Context(), identity.Email, queryInt(r, "pageNumber"), queryInt(r, "pageSize"))
	if err != nil {
		switch {
		case errors.Is(err, txsvc.ErrValidation):
			writeBadRequest(w, "EMAIL_REQUIRED", "account has no email address")
		default:
			h.logger.Error("list customer transactions failed", zap.String("user_id", identity.UserID), zap.Error(err))
			writeInternal(w, "INTERNAL_ERROR", "failed to fetch transactions")
		}
		return
	}

	out := dto.TransactionPageResponse{
		Items:      make([]dto.TransactionResponse, 0, len(page.Items)),
		PageNumber: page.PageNumber,
		PageSize:   page.PageSize,
		TotalPages: page.TotalPages,
		TotalItems: page.TotalItems,
	}
	for _, item := range page.Items {
		out.Items = append(out.Items, dto.TransactionResponse{
			ID:        item.ID,
			Amount:    item.Amount,
			Currency:  item.Currency,
			Status:    item.Status,
			Type:      item.Type,
			OrderID:   item.OrderID,
			CreatedAt: item.CreatedAt,
		})
	}
	httperrors.Write(w, http.StatusOK, out)
}
