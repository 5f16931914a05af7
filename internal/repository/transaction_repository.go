package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/digkill/pawstudio/internal/database"
	"github.com/digkill/pawstudio/internal/models"
)

type TransactionRepository struct {
	db database.Querier
}

func NewTransactionRepository(db database.Querier) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) WithTx(tx *sql.Tx) *TransactionRepository {
	return &TransactionRepository{db: tx}
}

func (r *TransactionRepository) Create(ctx context.Context, t *models.CreditTransaction) error {
	const query = `
INSERT INTO credit_transactions (user_id, amount, type, description, external_payment_ref, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, query, t.UserID, t.Amount, string(t.Type), t.Description, nullString(t.ExternalPaymentRef), now)
	if err != nil {
		return fmt.Errorf("insert credit transaction: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	t.ID = id
	t.CreatedAt = now
	return nil
}

func (r *TransactionRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.CreditTransaction, error) {
	const query = `
SELECT id, user_id, amount, type, description, external_payment_ref, created_at
FROM credit_transactions
WHERE user_id = ?
ORDER BY id DESC
LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]models.CreditTransaction, 0)
	for rows.Next() {
		var t models.CreditTransaction
		var typ string
		var ref sql.NullString
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &typ, &t.Description, &ref, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit transaction: %w", err)
		}
		t.Type = models.TransactionType(typ)
		t.ExternalPaymentRef = stringPtr(ref)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// SumByType returns the absolute credit volume per transaction type.
func (r *TransactionRepository) SumByType(ctx context.Context) (map[models.TransactionType]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT type, COALESCE(SUM(amount), 0) FROM credit_transactions GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("sum credit transactions: %w", err)
	}
	defer rows.Close()

	sums := make(map[models.TransactionType]int)
	for rows.Next() {
		var typ string
		var sum int
		if err := rows.Scan(&typ, &sum); err != nil {
			return nil, fmt.Errorf("scan credit sum: %w", err)
		}
		if sum < 0 {
			sum = -sum
		}
		sums[models.TransactionType(typ)] = sum
	}
	return sums, rows.Err()
}

// Mismatches lists users whose balance differs from the sum of their ledger rows.
func (r *TransactionRepository) Mismatches(ctx context.Context) ([]models.LedgerMismatch, error) {
	const query = `
SELECT u.id, u.credits, COALESCE(t.total, 0)
FROM users u
LEFT JOIN (
    SELECT user_id, SUM(amount) AS total FROM credit_transactions GROUP BY user_id
) t ON t.user_id = u.id
WHERE u.credits <> COALESCE(t.total, 0)
ORDER BY u.id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("ledger mismatches: %w", err)
	}
	defer rows.Close()

	out := make([]models.LedgerMismatch, 0)
	for rows.Next() {
		var m models.LedgerMismatch
		if err := rows.Scan(&m.UserID, &m.Credits, &m.LedgerSum); err != nil {
			return nil, fmt.Errorf("scan ledger mismatch: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
