package handlers

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/ivankudzin/skillmarket/internal/domain/model"
	"github.com/ivankudzin/skillmarket/internal/infra/s3"
	"github.com/ivankudzin/skillmarket/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/skillmarket/internal/transport/http/errors"
)

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{Code: code, Message: message})
}

func writeUnauthorized(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{Code: code, Message: message})
}

func writeForbidden(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusForbidden, httperrors.APIError{Code: code, Message: message})
}

func writeNotFound(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusNotFound, httperrors.APIError{Code: code, Message: message})
}

func writeInternal(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{Code: code, Message: message})
}

// clientKey identifies the caller for rate limiting. RealIP has already
// replaced RemoteAddr with the forwarded address when one was sent.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get(key)))
	if err != nil {
		return 0
	}
	return v
}

func skillResponse(skill model.Skill) dto.SkillResponse {
	out := dto.SkillResponse{
		ID:          skill.ID,
		Name:        skill.Name,
		Description: skill.Description,
		Category:    skill.Category,
		Author:      skill.Author,
		Price:       skill.Price,
		Tags:        skill.Tags,
		CreatedAt:   skill.CreatedAt,
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	// Bucket objects are only handed out through the access endpoint.
	if _, _, isObject := s3.ParseObjectURL(skill.URL); !isObject {
		out.URL = skill.URL
	}
	return out
}

func purchaseResponse(p model.Purchase) dto.PurchaseResponse {
	return dto.PurchaseResponse{
		ID:            p.ID,
		SkillID:       p.SkillID,
		Status:        string(p.Status),
		CheckoutID:    p.CreemCheckoutID,
		TransactionID: p.CreemTransactionID,
		CustomerEmail: p.CustomerEmail,
		Linked:        p.UserID != nil,
		CreatedAt:     p.CreatedAt,
	}
}
