package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ivankudzin/skillmarket/internal/domain/model"
	"github.com/ivankudzin/skillmarket/internal/infra/s3"
)

var ErrNoContent = errors.New("skill has no downloadable content")

type Presigner interface {
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

type Service struct {
	presigner Presigner
	ttl       time.Duration
}

func NewService(presigner Presigner, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Service{presigner: presigner, ttl: ttl}
}

// AccessURL returns a link the buyer can open. Objects kept in the bucket
// get a short-lived signed link; any other URL is returned as is.
func (s *Service) AccessURL(ctx context.Context, skill model.Skill) (string, error) {
	raw := strings.TrimSpace(skill.URL)
	if raw == "" {
		return "", ErrNoContent
	}

	bucket, key, ok := s3.ParseObjectURL(raw)
	if !ok {
		return raw, nil
	}
	if s.presigner == nil {
		return "", fmt.Errorf("object storage is not configured")
	}

	signed, err := s.presigner.PresignGet(ctx, bucket, key, s.ttl)
	if err != nil {
		return "", fmt.Errorf("sign skill %s: %w", skill.ID, err)
	}
	return signed, nil
}
