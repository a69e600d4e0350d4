package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ivankudzin/skillmarket/internal/domain/enums"
	"github.com/ivankudzin/skillmarket/internal/domain/model"
	authsvc "github.com/ivankudzin/skillmarket/internal/services/auth"
	purchasesvc "github.com/ivankudzin/skillmarket/internal/services/purchases"
	"github.com/ivankudzin/skillmarket/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/skillmarket/internal/transport/http/errors"
)

const warningSessionNotStored = "session_not_stored"

type PurchaseHandler struct {
	finalizer *purchasesvc.Finalizer
	purchases *purchasesvc.Service
	auth      *authsvc.Service
	cookies   CookieConfig
	logger    *zap.Logger
}

type PurchaseHandlerDependencies struct {
	Finalizer *purchasesvc.Finalizer
	Purchases *purchasesvc.Service
	Auth      *authsvc.Service
	Cookies   CookieConfig
	Logger    *zap.Logger
}

func NewPurchaseHandler(deps PurchaseHandlerDependencies) *PurchaseHandler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PurchaseHandler{
		finalizer: deps.Finalizer,
		purchases: deps.Purchases,
		auth:      deps.Auth,
		cookies:   deps.Cookies,
		logger:    logger,
	}
}

// Success finalizes the checkout the buyer was redirected back from. It is
// safe to call repeatedly for the same checkout.
func (h *PurchaseHandler) Success(w http.ResponseWriter, r *http.Request) {
	if h.finalizer == nil {
		writeInternal(w, "PURCHASE_SERVICE_UNAVAILABLE", "purchase service is unavailable")
		return
	}

	query := r.URL.Query()
	input := purchasesvc.FinalizeInput{
		SkillID:    query.Get("skillId"),
		CheckoutID: query.Get("checkout_id"),
	}
	if identity, ok := authsvc.IdentityFromContext(r.Context()); ok {
		input.Viewer = &identity
	}

	result, err := h.finalizer.Finalize(r.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, purchasesvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "skillId and checkout_id are required")
		case errors.Is(err, purchasesvc.ErrNotFound):
			writeNotFound(w, "NOT_FOUND", "skill or checkout not found")
		case errors.Is(err, purchasesvc.ErrUpstream):
			h.logger.Error("finalize purchase upstream failure", zap.String("checkout_id", input.CheckoutID), zap.Error(err))
			writeInternal(w, "UPSTREAM_ERROR", "payment provider is unavailable")
		default:
			h.logger.Error("finalize purchase failed", zap.String("checkout_id", input.CheckoutID), zap.Error(err))
			writeInternal(w, "INTERNAL_ERROR", "failed to finalize purchase")
		}
		return
	}

	out := dto.FinalizeResponse{
		OK:            true,
		Outcome:       string(result.Outcome),
		Skill:         skillResponse(result.Skill),
		CustomerEmail: result.CustomerEmail,
		Created:       result.Created,
		Warnings:      append([]string{}, result.Warnings...),
	}
	if result.Purchase != nil {
		p := purchaseResponse(*result.Purchase)
		out.Purchase = &p
	}

	if access := result.Access; access != nil {
		out.Access = &dto.AccessResponse{Kind: string(access.Kind), URL: access.URL}
		if access.Kind == enums.AccessKindSession && access.Session != nil {
			if !h.storeSession(w, r, *access.Session) {
				out.Access = nil
				out.Warnings = append(out.Warnings, warningSessionNotStored)
				if out.Outcome == string(enums.FinalizeOutcomeCompleted) {
					out.Outcome = string(enums.FinalizeOutcomeDegraded)
				}
			}
		}
	}

	httperrors.Write(w, http.StatusOK, out)
}

func (h *PurchaseHandler) storeSession(w http.ResponseWriter, r *http.Request, ps model.ProviderSession) bool {
	if h.auth == nil {
		return false
	}
	session, err := h.auth.Establish(r.Context(), ps)
	if err != nil {
		h.logger.Warn("store buyer session failed", zap.String("user_id", ps.User.ID), zap.Error(err))
		return false
	}
	setSessionCookie(w, h.cookies, session)
	return true
}

// AccountPurchases lists what the signed-in user bought, including guest
// purchases made with their email that are not linked yet.
func (h *PurchaseHandler) AccountPurchases(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.purchases == nil {
		writeInternal(w, "PURCHASE_SERVICE_UNAVAILABLE", "purchase service is unavailable")
		return
	}

	items, err := h.purchases.ListForUser(r.Context(), identity.UserID, strings.TrimSpace(identity.Email))
	if err != nil {
		h.logger.Error("list account purchases failed", zap.String("user_id", identity.UserID), zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to list purchases")
		return
	}

	out := dto.PurchaseListResponse{Items: make([]dto.PurchaseResponse, 0, len(items))}
	for _, item := range items {
		out.Items = append(out.Items, purchaseResponse(item))
	}
	httperrors.Write(w, http.StatusOK, out)
}
