package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/digkill/pawstudio/internal/apperr"
	"github.com/digkill/pawstudio/internal/database"
	"github.com/digkill/pawstudio/internal/models"
	"github.com/digkill/pawstudio/internal/repository"
)

type AdminService struct {
	db      *sql.DB
	log     *slog.Logger
	users   *repository.UserRepository
	images  *repository.ImageRepository
	scenes  *repository.SceneRepository
	txs     *repository.TransactionRepository
	credits *CreditService
}

type UpdateUserInput struct {
	Role             *models.Role
	TrialMode        *bool
	CreditAdjustment *int
	Note             string
}

type UserPage struct {
	Users []models.User `json:"users"`
	Total int           `json:"total"`
}

func NewAdminService(db *sql.DB, log *slog.Logger, users *repository.UserRepository, images *repository.ImageRepository, scenes *repository.SceneRepository, txs *repository.TransactionRepository, credits *CreditService) *AdminService {
	return &AdminService{db: db, log: log, users: users, images: images, scenes: scenes, txs: txs, credits: credits}
}

func (s *AdminService) ListUsers(ctx context.Context, limit, offset int) (*UserPage, error) {
	limit, offset = page(limit, offset)
	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}
	total, err := s.users.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &UserPage{Users: users, Total: total}, nil
}

func (s *AdminService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("user not found")
	}
	return user, nil
}

// UpdateUser changes role and trial mode and applies a credit adjustment through
// the ledger. A negative adjustment larger than the balance is refused.
func (s *AdminService) UpdateUser(ctx context.Context, adminID, id int64, input UpdateUserInput) (*models.User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	role := user.Role
	if input.Role != nil {
		if *input.Role != models.RoleUser && *input.Role != models.RoleAdmin {
			return nil, apperr.Validation("role must be user or admin")
		}
		role = *input.Role
	}
	trial := user.TrialMode
	if input.TrialMode != nil {
		trial = *input.TrialMode
	}
	adjustment := 0
	if input.CreditAdjustment != nil {
		adjustment = *input.CreditAdjustment
	}
	note := strings.TrimSpace(input.Note)
	if note == "" {
		note = "admin adjustment"
	}
	note = fmt.Sprintf("%s (by admin %d)", note, adminID)

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if role != user.Role || trial != user.TrialMode {
			if err := s.users.WithTx(tx).UpdateAccess(ctx, id, role, trial); err != nil {
				return err
			}
		}
		switch {
		case adjustment > 0:
			return s.credits.grantTx(ctx, tx, id, adjustment, models.TransactionBonus, note, nil)
		case adjustment < 0:
			ok, err := s.credits.debitTx(ctx, tx, id, -adjustment, note)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Validation("adjustment would make the balance negative")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("user updated by admin", "admin_id", adminID, "user_id", id, "role", role, "trial", trial, "adjustment", adjustment)
	return s.GetUser(ctx, id)
}

func (s *AdminService) Stats(ctx context.Context) (*models.Stats, error) {
	users, err := s.users.Count(ctx)
	if err != nil {
		return nil, err
	}
	images, err := s.images.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	sums, err := s.txs.SumByType(ctx)
	if err != nil {
		return nil, err
	}
	scenes, err := s.scenes.Count(ctx, true)
	if err != nil {
		return nil, err
	}
	return &models.Stats{
		Users:          users,
		ImagesByStatus: images,
		CreditsSold:    sums[models.TransactionPurchase],
		CreditsUsed:    sums[models.TransactionUsage],
		CreditsBonus:   sums[models.TransactionBonus],
		ActiveScenes:   scenes,
	}, nil
}

func (s *AdminService) Reconcile(ctx context.Context, fix bool) ([]models.LedgerMismatch, error) {
	return s.credits.Reconcile(ctx, fix)
}
