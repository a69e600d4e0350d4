package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrSkillNotFound = errors.New("skill not found")

type SkillRepo struct {
	pool *pgxpool.Pool
}

type SkillRecord struct {
	ID             string
	Name           string
	Description    string
	Category       string
	Author         string
	Price          *float64
	URL            string
	Tags           []string
	CreemProductID *string
	CreatedAt      time.Time
}

func NewSkillRepo(pool *pgxpool.Pool) *SkillRepo {
	return &SkillRepo{pool: pool}
}

const skillColumns = `id::text, name, COALESCE(description, ''), COALESCE(category, ''), COALESCE(author, ''), price::float8, COALESCE(url, ''), COALESCE(tags, '{}'::text[]), creem_product_id, created_at`

// List returns skills newest first. An empty category returns every skill.
func (r *SkillRepo) List(ctx context.Context, category string) ([]SkillRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	category = strings.TrimSpace(category)
	rows, err := r.pool.Query(ctx, `
SELECT `+skillColumns+`
FROM skills
WHERE ($1 = '' OR category = $1)
ORDER BY created_at DESC, id
`, category)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	items := make([]SkillRecord, 0)
	for rows.Next() {
		record, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate skills: %w", err)
	}

	return items, nil
}

func (r *SkillRepo) FindByID(ctx context.Context, id string) (SkillRecord, error) {
	if r.pool == nil {
		return SkillRecord{}, fmt.Errorf("postgres pool is nil")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return SkillRecord{}, ErrSkillNotFound
	}

	record, err := scanSkill(r.pool.QueryRow(ctx, `
SELECT `+skillColumns+`
FROM skills
WHERE id::text = $1
LIMIT 1
`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SkillRecord{}, ErrSkillNotFound
		}
		return SkillRecord{}, fmt.Errorf("find skill by id: %w", err)
	}

	return record, nil
}

func scanSkill(row pgx.Row) (SkillRecord, error) {
	var record SkillRecord
	if err := row.Scan(
		&record.ID,
		&record.Name,
		&record.Description,
		&record.Category,
		&record.Author,
		&record.Price,
		&record.URL,
		&record.Tags,
		&record.CreemProductID,
		&record.CreatedAt,
	); err != nil {
		return SkillRecord{}, err
	}
	return record, nil
}
