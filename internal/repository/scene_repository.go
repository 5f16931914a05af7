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

const sceneColumns = `id, name, description, prompt, credit_cost, is_active, reference_image_url, sort_order, created_at, updated_at`

type SceneRepository struct {
	db database.Querier
}

func NewSceneRepository(db database.Querier) *SceneRepository {
	return &SceneRepository{db: db}
}

func scanScene(row interface{ Scan(...any) error }) (*models.Scene, error) {
	var s models.Scene
	var description, ref sql.NullString
	if err := row.Scan(&s.ID, &s.Name, &description, &s.Prompt, &s.CreditCost, &s.IsActive, &ref, &s.SortOrder, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Description = description.String
	s.ReferenceImageURL = stringPtr(ref)
	return &s, nil
}

func (r *SceneRepository) List(ctx context.Context, activeOnly bool) ([]models.Scene, error) {
	query := `SELECT ` + sceneColumns + ` FROM scenes`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY sort_order ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list scenes: %w", err)
	}
	defer rows.Close()

	scenes := make([]models.Scene, 0)
	for rows.Next() {
		s, err := scanScene(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scene: %w", err)
		}
		scenes = append(scenes, *s)
	}
	return scenes, rows.Err()
}

func (r *SceneRepository) GetByID(ctx context.Context, id int64) (*models.Scene, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE id = ?`, id)
	s, err := scanScene(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get scene: %w", err)
	}
	return s, nil
}

func (r *SceneRepository) Count(ctx context.Context, activeOnly bool) (int, error) {
	query := `SELECT COUNT(*) FROM scenes`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	var count int
	if err := r.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count scenes: %w", err)
	}
	return count, nil
}

func (r *SceneRepository) Create(ctx context.Context, scene *models.Scene) (*models.Scene, error) {
	const query = `
INSERT INTO scenes (name, description, prompt, credit_cost, is_active, reference_image_url, sort_order, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, query, scene.Name, scene.Description, scene.Prompt, scene.CreditCost, scene.IsActive, nullString(scene.ReferenceImageURL), scene.SortOrder, now, now)
	if err != nil {
		return nil, fmt.Errorf("create scene: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("scene last insert id: %w", err)
	}
	return r.GetByID(ctx, id)
}

func (r *SceneRepository) Update(ctx context.Context, scene *models.Scene) (*models.Scene, error) {
	const query = `
UPDATE scenes
SET name = ?, description = ?, prompt = ?, credit_cost = ?, is_active = ?, reference_image_url = ?, sort_order = ?, updated_at = ?
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, scene.Name, scene.Description, scene.Prompt, scene.CreditCost, scene.IsActive, nullString(scene.ReferenceImageURL), scene.SortOrder, time.Now().UTC(), scene.ID); err != nil {
		return nil, fmt.Errorf("update scene: %w", err)
	}
	return r.GetByID(ctx, scene.ID)
}

func (r *SceneRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM scenes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete scene: %w", err)
	}
	return nil
}
