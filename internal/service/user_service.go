package service

import (
	"context"
	"database/sql"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/digkill/pawstudio/internal/apperr"
	"github.com/digkill/pawstudio/internal/auth"
	"github.com/digkill/pawstudio/internal/database"
	"github.com/digkill/pawstudio/internal/models"
	"github.com/digkill/pawstudio/internal/repository"
)

type UserService struct {
	db      *sql.DB
	log     *slog.Logger
	users   *repository.UserRepository
	images  *repository.ImageRepository
	photos  *repository.PhotoRepository
	credits *CreditService
	tokens  *auth.Tokens
	store   ObjectStore
	signup  SignupPolicy
}

// SignupPolicy is what a new account starts with.
type SignupPolicy struct {
	BonusCredits int
	TrialMode    bool
}

type Session struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

func NewUserService(db *sql.DB, log *slog.Logger, users *repository.UserRepository, images *repository.ImageRepository, photos *repository.PhotoRepository, credits *CreditService, tokens *auth.Tokens, store ObjectStore, policy SignupPolicy) *UserService {
	return &UserService{
		db:      db,
		log:     log,
		users:   users,
		images:  images,
		photos:  photos,
		credits: credits,
		tokens:  tokens,
		store:   store,
		signup:  policy,
	}
}

func (s *UserService) Signup(ctx context.Context, email, password, name string) (*Session, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.Validation("email is invalid")
	}
	existing, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperr.Conflict("email is already registered")
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(name),
		Role:         models.RoleUser,
		TrialMode:    s.signup.TrialMode,
	}
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := s.users.WithTx(tx).Create(ctx, user); err != nil {
			if database.IsUniqueViolation(err) {
				return apperr.Conflict("email is already registered")
			}
			return err
		}
		if s.signup.BonusCredits > 0 {
			if err := s.credits.grantTx(ctx, tx, user.ID, s.signup.BonusCredits, models.TransactionBonus, "signup bonus", nil); err != nil {
				return err
			}
			user.Credits = s.signup.BonusCredits
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("user signed up", "user_id", user.ID, "bonus", s.signup.BonusCredits, "trial", user.TrialMode)
	return s.session(user)
}

func (s *UserService) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, password) {
		return nil, apperr.Authentication("invalid email or password")
	}
	return s.session(user)
}

func (s *UserService) session(user *models.User) (*Session, error) {
	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, err
	}
	return &Session{Token: token, User: user}, nil
}

func (s *UserService) Get(ctx context.Context, id int64) (*models.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("user not found")
	}
	return user, nil
}

// DeleteAccount removes the user's stored files, then the user. Rows cascade.
// Storage failures are logged and do not block deletion.
func (s *UserService) DeleteAccount(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	imageKeys, err := s.images.StorageKeysByUser(ctx, id)
	if err != nil {
		return err
	}
	photoKeys, err := s.photos.StorageKeysByUser(ctx, id)
	if err != nil {
		return err
	}
	failed := 0
	for _, key := range append(imageKeys, photoKeys...) {
		if err := s.store.Delete(ctx, key); err != nil {
			failed++
			s.log.Warn("delete stored object", "user_id", id, "key", key, "err", err)
		}
	}

	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("account deleted", "user_id", id, "objects", len(imageKeys)+len(photoKeys), "delete_failures", failed)
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
