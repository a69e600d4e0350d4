package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrPurchaseNotFound = errors.New("purchase not found")

type PurchaseRepo struct {
	pool *pgxpool.Pool
}

type PurchaseRecord struct {
	ID                 string
	UserID             *string
	SkillID            string
	CreemProductID     string
	CreemCheckoutID    *string
	CreemTransactionID *string
	CustomerEmail      *string
	Status             string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type PurchaseCreate struct {
	ID                 string
	UserID             *string
	SkillID            string
	CreemProductID     string
	CreemCheckoutID    *string
	CreemTransactionID *string
	CustomerEmail      *string
	Status             string
}

// PurchaseUpdate changes only the non-nil fields.
type PurchaseUpdate struct {
	Status             *string
	UserID             *string
	CreemTransactionID *string
	CustomerEmail      *string
}

func NewPurchaseRepo(pool *pgxpool.Pool) *PurchaseRepo {
	return &PurchaseRepo{pool: pool}
}

const purchaseColumns = `id::text, user_id::text, skill_id, creem_product_id, creem_checkout_id, creem_transaction_id, customer_email, status, created_at, updated_at`

// Create inserts a purchase. When a row with the same checkout id already
// exists the stored row is returned untouched and created is false.
func (r *PurchaseRepo) Create(ctx context.Context, in PurchaseCreate) (PurchaseRecord, bool, error) {
	if r.pool == nil {
		return PurchaseRecord{}, false, fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(in.SkillID) == "" || strings.TrimSpace(in.Status) == "" {
		return PurchaseRecord{}, false, fmt.Errorf("invalid purchase create payload")
	}

	id := strings.TrimSpace(in.ID)
	if id == "" {
		id = uuid.NewString()
	}

	record, err := scanPurchase(r.pool.QueryRow(ctx, `
INSERT INTO purchases (
	id,
	user_id,
	skill_id,
	creem_product_id,
	creem_checkout_id,
	creem_transaction_id,
	customer_email,
	status,
	created_at,
	updated_at
) VALUES ($1::uuid, $2::uuid, $3, $4, $5, $6, $7, $8, NOW(), NOW())
ON CONFLICT (creem_checkout_id) WHERE creem_checkout_id IS NOT NULL DO NOTHING
RETURNING `+purchaseColumns+`
`, id, in.UserID, strings.TrimSpace(in.SkillID), strings.TrimSpace(in.CreemProductID),
		trimmed(in.CreemCheckoutID), trimmed(in.CreemTransactionID), trimmed(in.CustomerEmail), in.Status))
	if err == nil {
		return record, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		if isUniqueViolation(err) {
			return PurchaseRecord{}, false, fmt.Errorf("purchase id %s already exists: %w", id, err)
		}
		return PurchaseRecord{}, false, fmt.Errorf("create purchase: %w", err)
	}

	// Conflict on checkout id: hand back the row that won.
	if in.CreemCheckoutID == nil {
		return PurchaseRecord{}, false, fmt.Errorf("create purchase: no row returned")
	}
	existing, err := r.FindByCheckoutID(ctx, *in.CreemCheckoutID)
	if err != nil {
		return PurchaseRecord{}, false, err
	}
	return existing, false, nil
}

func (r *PurchaseRepo) UpdateByID(ctx context.Context, id string, in PurchaseUpdate) (PurchaseRecord, error) {
	if r.pool == nil {
		return PurchaseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(id) == "" {
		return PurchaseRecord{}, fmt.Errorf("invalid purchase id")
	}

	record, err := scanPurchase(r.pool.QueryRow(ctx, `
UPDATE purchases
SET
	status = COALESCE($2, status),
	user_id = COALESCE($3::uuid, user_id),
	creem_transaction_id = COALESCE($4, creem_transaction_id),
	customer_email = COALESCE($5, customer_email),
	updated_at = NOW()
WHERE id::text = $1
RETURNING `+purchaseColumns+`
`, strings.TrimSpace(id), in.Status, in.UserID, trimmed(in.CreemTransactionID), trimmed(in.CustomerEmail)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRecord{}, ErrPurchaseNotFound
		}
		return PurchaseRecord{}, fmt.Errorf("update purchase: %w", err)
	}

	return record, nil
}

func (r *PurchaseRepo) ListByOwner(ctx context.Context, ownerID string) ([]PurchaseRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(ownerID) == "" {
		return []PurchaseRecord{}, nil
	}

	return r.list(ctx, `
SELECT `+purchaseColumns+`
FROM purchases
WHERE user_id::text = $1
ORDER BY created_at DESC, id
`, strings.TrimSpace(ownerID))
}

func (r *PurchaseRepo) ListByEmail(ctx context.Context, email string) ([]PurchaseRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if strings.TrimSpace(email) == "" {
		return []PurchaseRecord{}, nil
	}

	return r.list(ctx, `
SELECT `+purchaseColumns+`
FROM purchases
WHERE lower(customer_email) = lower($1)
ORDER BY created_at DESC, id
`, strings.TrimSpace(email))
}

func (r *PurchaseRepo) FindByTransactionID(ctx context.Context, transactionID string) (PurchaseRecord, error) {
	return r.findOne(ctx, "creem_transaction_id", transactionID)
}

func (r *PurchaseRepo) FindByCheckoutID(ctx context.Context, checkoutID string) (PurchaseRecord, error) {
	return r.findOne(ctx, "creem_checkout_id", checkoutID)
}

// LinkByEmailToOwner attaches unowned purchases made with email to ownerID.
// The update and its audit event commit together. Rows that already have an
// owner are never touched, so a repeated call affects zero rows.
func (r *PurchaseRepo) LinkByEmailToOwner(ctx context.Context, email, ownerID string) (int64, error) {
	if r.pool == nil {
		return 0, fmt.Errorf("postgres pool is nil")
	}
	email = strings.TrimSpace(email)
	ownerID = strings.TrimSpace(ownerID)
	if email == "" || ownerID == "" {
		return 0, fmt.Errorf("invalid link payload")
	}

	var affected int64
	err := WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
UPDATE purchases
SET user_id = $2::uuid, updated_at = NOW()
WHERE lower(customer_email) = lower($1)
  AND user_id IS NULL
`, email, ownerID)
		if err != nil {
			return fmt.Errorf("link purchases: %w", err)
		}
		affected = tag.RowsAffected()
		if affected == 0 {
			return nil
		}

		return insertEvents(ctx, tx, &ownerID, []EventWriteRecord{{
			Name:  "purchases_linked",
			Props: map[string]any{"count": affected},
		}})
	})
	if err != nil {
		return 0, err
	}

	return affected, nil
}

// HasCompleted reports whether a completed purchase of skillID belongs to the
// owner, either directly or through the email it was paid with.
func (r *PurchaseRepo) HasCompleted(ctx context.Context, ownerID, email, skillID string) (bool, error) {
	if r.pool == nil {
		return false, fmt.Errorf("postgres pool is nil")
	}

	var exists bool
	err := r.pool.QueryRow(ctx, `
SELECT EXISTS (
	SELECT 1
	FROM purchases
	WHERE skill_id = $3
	  AND status = 'completed'
	  AND (user_id::text = $1 OR ($2 <> '' AND lower(customer_email) = lower($2)))
)
`, strings.TrimSpace(ownerID), strings.TrimSpace(email), strings.TrimSpace(skillID)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check completed purchase: %w", err)
	}

	return exists, nil
}

func (r *PurchaseRepo) findOne(ctx context.Context, column, value string) (PurchaseRecord, error) {
	if r.pool == nil {
		return PurchaseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return PurchaseRecord{}, ErrPurchaseNotFound
	}

	record, err := scanPurchase(r.pool.QueryRow(ctx, `
SELECT `+purchaseColumns+`
FROM purchases
WHERE `+column+` = $1
ORDER BY created_at
LIMIT 1
`, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseRecord{}, ErrPurchaseNotFound
		}
		return PurchaseRecord{}, fmt.Errorf("find purchase by %s: %w", column, err)
	}

	return record, nil
}

func (r *PurchaseRepo) list(ctx context.Context, query string, args ...any) ([]PurchaseRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	defer rows.Close()

	items := make([]PurchaseRecord, 0)
	for rows.Next() {
		record, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		items = append(items, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purchases: %w", err)
	}

	return items, nil
}

func scanPurchase(row pgx.Row) (PurchaseRecord, error) {
	var record PurchaseRecord
	if err := row.Scan(
		&record.ID,
		&record.UserID,
		&record.SkillID,
		&record.CreemProductID,
		&record.CreemCheckoutID,
		&record.CreemTransactionID,
		&record.CustomerEmail,
		&record.Status,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return PurchaseRecord{}, err
	}
	return record, nil
}

func trimmed(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.TrimSpace(*v)
	if s == "" {
		return nil
	}
	return &s
}
