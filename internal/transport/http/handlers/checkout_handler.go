package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	checkoutsvc "github.com/ivankudzin/skillmarket/internal/services/checkout"
	"github.com/ivankudzin/skillmarket/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/skillmarket/internal/transport/http/errors"
)

type CheckoutHandler struct {
	service *checkoutsvc.Service
	siteURL string
	allowed map[string]struct{}
	logger  *zap.Logger
}

func NewCheckoutHandler(service *checkoutsvc.Service, siteURL string, allowedOrigins []string, logger *zap.Logger) *CheckoutHandler {
	if logger == nil {
		logger = zap.NewNop()
	}

	siteURL = normalizeOrigin(siteURL)
	allowed := make(map[string]struct{}, len(allowedOrigins)+1)
	if siteURL != "" {
		allowed[siteURL] = struct{}{}
	}
	for _, origin := range allowedOrigins {
		if origin = normalizeOrigin(origin); origin != "" {
			allowed[origin] = struct{}{}
		}
	}

	return &CheckoutHandler{
		service: service,
		siteURL: siteURL,
		allowed: allowed,
		logger:  logger,
	}
}

func (h *CheckoutHandler) Start(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "CHECKOUT_SERVICE_UNAVAILABLE", "checkout service is unavailable")
		return
	}

	var req dto.CheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.service.StartCheckout(r.Context(), checkoutsvc.StartInput{
		SkillID:   req.SkillID,
		Origin:    h.origin(r),
		ClientKey: clientKey(r),
	})
	if err != nil {
		var rateErr *checkoutsvc.RateLimitError
		switch {
		case errors.Is(err, checkoutsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "skillId is required")
		case errors.Is(err, checkoutsvc.ErrNotFound):
			writeNotFound(w, "SKILL_NOT_FOUND", "skill not found")
		case errors.As(err, &rateErr):
			w.Header().Set("Retry-After", strconv.FormatInt(rateErr.RetryAfterSec, 10))
			httperrors.Write(w, http.StatusTooManyRequests, httperrors.RateLimitError{
				Code:          "RATE_LIMITED",
				Message:       "too many checkout attempts",
				RetryAfterSec: rateErr.RetryAfterSec,
			})
		default:
			h.logger.Error("start checkout failed", zap.String("skill_id", req.SkillID), zap.Error(err))
			writeInternal(w, "CHECKOUT_FAILED", "failed to create checkout")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.CheckoutResponse{
		CheckoutURL: result.CheckoutURL,
		CheckoutID:  result.CheckoutID,
	})
}

// origin is where the buyer returns after paying. The calling page's origin
// is used only when it is the site itself or explicitly allowed; anything else
// falls back to the configured site.
func (h *CheckoutHandler) origin(r *http.Request) string {
	origin := normalizeOrigin(r.Header.Get("Origin"))
	if _, ok := h.allowed[origin]; ok && origin != "" {
		return origin
	}
	if origin != "" && origin != "null" {
		h.logger.Warn("checkout origin not allowed", zap.String("origin", origin))
	}
	return h.siteURL
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
}
