package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/skillmarket/internal/domain/model"
	pgrepo "github.com/ivankudzin/skillmarket/internal/repo/postgres"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("skill not found")
)

type SkillStore interface {
	List(ctx context.Context, category string) ([]pgrepo.SkillRecord, error)
	FindByID(ctx context.Context, id string) (pgrepo.SkillRecord, error)
}

type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

type Dependencies struct {
	Skills   SkillStore
	Cache    Cache
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// Service reads the product catalog. Reads go through a short-lived cache
// when one is configured; cache failures fall back to the store.
type Service struct {
	skills   SkillStore
	cache    Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		skills:   deps.Skills,
		cache:    deps.Cache,
		cacheTTL: deps.CacheTTL,
		logger:   logger,
	}
}

func (s *Service) List(ctx context.Context, category string) ([]model.Skill, error) {
	if s.skills == nil {
		return nil, fmt.Errorf("skill store is nil")
	}

	category = strings.TrimSpace(category)
	key := "skills:list:" + strings.ToLower(category)

	var cached []model.Skill
	if s.readCache(ctx, key, &cached) {
		return cached, nil
	}

	records, err := s.skills.List(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}

	items := make([]model.Skill, 0, len(records))
	for _, record := range records {
		items = append(items, toModel(record))
	}

	s.writeCache(ctx, key, items)
	return items, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Skill, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.Skill{}, ErrValidation
	}
	if s.skills == nil {
		return model.Skill{}, fmt.Errorf("skill store is nil")
	}

	key := "skills:id:" + id

	var cached model.Skill
	if s.readCache(ctx, key, &cached) {
		return cached, nil
	}

	record, err := s.skills.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgrepo.ErrSkillNotFound) {
			return model.Skill{}, ErrNotFound
		}
		return model.Skill{}, fmt.Errorf("get skill: %w", err)
	}

	skill := toModel(record)
	s.writeCache(ctx, key, skill)
	return skill, nil
}

func (s *Service) readCache(ctx context.Context, key string, dest any) bool {
	if s.cache == nil || s.cacheTTL <= 0 {
		return false
	}
	found, err := s.cache.GetJSON(ctx, key, dest)
	if err != nil {
		s.logger.Warn("catalog cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return found
}

func (s *Service) writeCache(ctx context.Context, key string, value any) {
	if s.cache == nil || s.cacheTTL <= 0 {
		return
	}
	if err := s.cache.SetJSON(ctx, key, value, s.cacheTTL); err != nil {
		s.logger.Warn("catalog cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func toModel(record pgrepo.SkillRecord) model.Skill {
	tags := record.Tags
	if tags == nil {
		tags = []string{}
	}

	skill := model.Skill{
		ID:          record.ID,
		Name:        record.Name,
		Description: record.Description,
		Category:    record.Category,
		Author:      record.Author,
		Price:       record.Price,
		URL:         record.URL,
		Tags:        tags,
		CreatedAt:   record.CreatedAt,
	}
	if record.CreemProductID != nil {
		skill.CreemProductID = strings.TrimSpace(*record.CreemProductID)
	}
	return skill
}
