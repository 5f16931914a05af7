package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/digkill/pawstudio/internal/database"
	"github.com/digkill/pawstudio/internal/models"
)

// ErrDuplicatePayment is returned when a provider event was already recorded.
var ErrDuplicatePayment = errors.New("payment already recorded")

type PaymentRepository struct {
	db database.Querier
}

func NewPaymentRepository(db database.Querier) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) WithTx(tx *sql.Tx) *PaymentRepository {
	return &PaymentRepository{db: tx}
}

// Create records a payment; the (provider, external_ref) unique key makes
// webhook redelivery return ErrDuplicatePayment.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	const query = `
INSERT INTO payments (user_id, provider, external_ref, event_type, credits, amount_minor, currency, status, raw_payload, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, query, payment.UserID, payment.Provider, payment.ExternalRef, payment.EventType, payment.Credits, payment.AmountMinor, payment.Currency, payment.Status, payment.RawPayload, now)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrDuplicatePayment
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	payment.ID = id
	payment.CreatedAt = now
	return nil
}

func (r *PaymentRepository) FindByExternalRef(ctx context.Context, provider, ref string) (*models.Payment, error) {
	const query = `
SELECT id, user_id, provider, external_ref, event_type, credits, amount_minor, currency, status, COALESCE(raw_payload, ''), created_at
FROM payments WHERE provider = ? AND external_ref = ? LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, provider, ref)
	var p models.Payment
	if err := row.Scan(&p.ID, &p.UserID, &p.Provider, &p.ExternalRef, &p.EventType, &p.Credits, &p.AmountMinor, &p.Currency, &p.Status, &p.RawPayload, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}
