package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	authsvc "github.com/ivankudzin/skillmarket/internal/services/auth"
	catalogsvc "github.com/ivankudzin/skillmarket/internal/services/catalog"
	deliverysvc "github.com/ivankudzin/skillmarket/internal/services/delivery"
	purchasesvc "github.com/ivankudzin/skillmarket/internal/services/purchases"
	"github.com/ivankudzin/skillmarket/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/skillmarket/internal/transport/http/errors"
)

type SkillsHandler struct {
	catalog   *catalogsvc.Service
	purchases *purchasesvc.Service
	delivery  *deliverysvc.Service
	logger    *zap.Logger
}

func NewSkillsHandler(
	catalog *catalogsvc.Service,
	purchases *purchasesvc.Service,
	delivery *deliverysvc.Service,
	logger *zap.Logger,
) *SkillsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SkillsHandler{
		catalog:   catalog,
		purchases: purchases,
		delivery:  delivery,
		logger:    logger,
	}
}

func (h *SkillsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeInternal(w, "CATALOG_SERVICE_UNAVAILABLE", "catalog service is unavailable")
		return
	}

	skills, err := h.catalog.List(r.Context(), r.URL.Query().Get("category"))
	if err != nil {
		h.logger.Error("list skills failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to list skills")
		return
	}

	out := dto.SkillListResponse{Items: make([]dto.SkillResponse, 0, len(skills))}
	for _, skill := range skills {
		out.Items = append(out.Items, skillResponse(skill))
	}
	httperrors.Write(w, http.StatusOK, out)
}

func (h *SkillsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeInternal(w, "CATALOG_SERVICE_UNAVAILABLE", "catalog service is unavailable")
		return
	}

	skill, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, catalogsvc.ErrNotFound), errors.Is(err, catalogsvc.ErrValidation):
			writeNotFound(w, "SKILL_NOT_FOUND", "skill not found")
		default:
			h.logger.Error("get skill failed", zap.Error(err))
			writeInternal(w, "INTERNAL_ERROR", "failed to load skill")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, skillResponse(skill))
}

// Access hands a buyer the download link of a skill they paid for.
func (h *SkillsHandler) Access(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.catalog == nil || h.purchases == nil || h.delivery == nil {
		writeInternal(w, "DELIVERY_SERVICE_UNAVAILABLE", "delivery service is unavailable")
		return
	}

	skill, err := h.catalog.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, catalogsvc.ErrNotFound), errors.Is(err, catalogsvc.ErrValidation):
			writeNotFound(w, "SKILL_NOT_FOUND", "skill not found")
		default:
			h.logger.Error("get skill failed", zap.Error(err))
			writeInternal(w, "INTERNAL_ERROR", "failed to load skill")
		}
		return
	}

	owned, err := h.purchases.HasPurchased(r.Context(), identity.UserID, identity.Email, skill.ID)
	if err != nil {
		h.logger.Error("check purchase failed", zap.String("skill_id", skill.ID), zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to check purchase")
		return
	}
	if !owned {
		writeForbidden(w, "NOT_PURCHASED", "skill has not been purchased")
		return
	}

	url, err := h.delivery.AccessURL(r.Context(), skill)
	if err != nil {
		if errors.Is(err, deliverysvc.ErrNoContent) {
			writeNotFound(w, "NO_CONTENT", "skill has no downloadable content")
			return
		}
		h.logger.Error("build access url failed", zap.String("skill_id", skill.ID), zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to build access url")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.SkillAccessResponse{URL: url})
}
