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

const userColumns = `id, email, password_hash, name, role, credits, trial_mode, created_at, updated_at`

type UserRepository struct {
	db database.Querier
}

func NewUserRepository(db database.Querier) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *UserRepository) WithTx(tx *sql.Tx) *UserRepository {
	return &UserRepository{db: tx}
}

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	var role string
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &role, &u.Credits, &u.TrialMode, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = models.Role(role)
	return &u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user by email: %w", err)
	}
	return u, nil
}

// Create inserts the user. The caller records any starting balance in the ledger.
func (r *UserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	const query = `
INSERT INTO users (email, password_hash, name, role, credits, trial_mode, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, query, user.Email, user.PasswordHash, user.Name, string(user.Role), user.Credits, user.TrialMode, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	user.ID = id
	user.CreatedAt = now
	user.UpdatedAt = now
	return user, nil
}

func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user list: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

func (r *UserRepository) UpdateAccess(ctx context.Context, userID int64, role models.Role, trialMode bool) error {
	const query = `UPDATE users SET role = ?, trial_mode = ?, updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, string(role), trialMode, time.Now().UTC(), userID); err != nil {
		return fmt.Errorf("update user access: %w", err)
	}
	return nil
}

// AddCredits increments the balance by a positive delta.
func (r *UserRepository) AddCredits(ctx context.Context, userID int64, delta int) error {
	if delta <= 0 {
		return fmt.Errorf("add credits: delta must be positive, got %d", delta)
	}
	const query = `UPDATE users SET credits = credits + ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, delta, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("add credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("add credits rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("add credits: user %d not found", userID)
	}
	return nil
}

// ConsumeCredits decrements the balance only when it covers amount, so two
// concurrent spends can never drive it negative. It reports whether the debit happened.
func (r *UserRepository) ConsumeCredits(ctx context.Context, userID int64, amount int) (bool, error) {
	const query = `
UPDATE users SET credits = credits - ?, updated_at = ?
WHERE id = ? AND credits >= ?`
	res, err := r.db.ExecContext(ctx, query, amount, time.Now().UTC(), userID, amount)
	if err != nil {
		return false, fmt.Errorf("consume credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume credits rows affected: %w", err)
	}
	return affected > 0, nil
}

func (r *UserRepository) Credits(ctx context.Context, userID int64) (int, error) {
	var credits int
	if err := r.db.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = ?`, userID).Scan(&credits); err != nil {
		return 0, fmt.Errorf("read credits: %w", err)
	}
	return credits, nil
}

func (r *UserRepository) Delete(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
