package service

import (
	"context"
	"strings"

	"github.com/digkill/pawstudio/internal/apperr"
	"github.com/digkill/pawstudio/internal/models"
	"github.com/digkill/pawstudio/internal/repository"
)

type SceneService struct {
	repo *repository.SceneRepository
}

type CreateSceneInput struct {
	Name              string
	Description       string
	Prompt            string
	CreditCost        int
	IsActive          *bool
	ReferenceImageURL *string
	SortOrder         int
}

type UpdateSceneInput struct {
	Name              *string
	Description       *string
	Prompt            *string
	CreditCost        *int
	IsActive          *bool
	ReferenceImageURL *string
	SortOrder         *int
}

var defaultScenes = []models.Scene{
	{Name: "Space Explorer", Description: "Your pet in an astronaut suit", Prompt: "Dress the pet in a detailed white astronaut suit floating above Earth, keep the pet's face and fur identical, cinematic lighting", CreditCost: 1, SortOrder: 10},
	{Name: "Royal Portrait", Description: "Renaissance oil painting", Prompt: "Turn this photo into a Renaissance oil portrait of the pet as royalty wearing a velvet cloak and golden crown, keep the pet recognisable", CreditCost: 1, SortOrder: 20},
	{Name: "Superhero", Description: "Caped crusader", Prompt: "Make the pet a comic book superhero with a flowing red cape on a city rooftop at night, keep the pet's markings", CreditCost: 1, SortOrder: 30},
	{Name: "Watercolor", Description: "Soft watercolor sketch", Prompt: "Convert the image into a soft watercolor painting with loose brush strokes and a white paper background", CreditCost: 1, SortOrder: 40},
	{Name: "Pirate Captain", Description: "Ahoy!", Prompt: "Dress the pet as a pirate captain with a tricorn hat on the deck of a wooden ship, keep the pet's face unchanged", CreditCost: 1, SortOrder: 50},
}

func NewSceneService(repo *repository.SceneRepository) *SceneService {
	return &SceneService{repo: repo}
}

// EnsureDefaultScenes seeds the catalogue when it is empty.
func (s *SceneService) EnsureDefaultScenes(ctx context.Context) (int, error) {
	count, err := s.repo.Count(ctx, false)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		return 0, nil
	}
	for i := range defaultScenes {
		scene := defaultScenes[i]
		scene.IsActive = true
		if _, err := s.repo.Create(ctx, &scene); err != nil {
			return i, err
		}
	}
	return len(defaultScenes), nil
}

func (s *SceneService) List(ctx context.Context, activeOnly bool) ([]models.Scene, error) {
	return s.repo.List(ctx, activeOnly)
}

func (s *SceneService) Get(ctx context.Context, id int64) (*models.Scene, error) {
	scene, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if scene == nil {
		return nil, apperr.NotFound("scene not found")
	}
	return scene, nil
}

func (s *SceneService) Create(ctx context.Context, input CreateSceneInput) (*models.Scene, error) {
	input.Name = strings.TrimSpace(input.Name)
	input.Prompt = strings.TrimSpace(input.Prompt)
	if input.Name == "" {
		return nil, apperr.Validation("name is required")
	}
	if input.Prompt == "" {
		return nil, apperr.Validation("prompt is required")
	}
	if input.CreditCost < 0 {
		return nil, apperr.Validation("creditCost must not be negative")
	}
	isActive := true
	if input.IsActive != nil {
		isActive = *input.IsActive
	}
	scene := models.Scene{
		Name:              input.Name,
		Description:       input.Description,
		Prompt:            input.Prompt,
		CreditCost:        input.CreditCost,
		IsActive:          isActive,
		ReferenceImageURL: input.ReferenceImageURL,
		SortOrder:         input.SortOrder,
	}
	return s.repo.Create(ctx, &scene)
}

func (s *SceneService) Update(ctx context.Context, id int64, input UpdateSceneInput) (*models.Scene, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if input.Name != nil {
		if strings.TrimSpace(*input.Name) == "" {
			return nil, apperr.Validation("name is required")
		}
		existing.Name = strings.TrimSpace(*input.Name)
	}
	if input.Description != nil {
		existing.Description = *input.Description
	}
	if input.Prompt != nil {
		if strings.TrimSpace(*input.Prompt) == "" {
			return nil, apperr.Validation("prompt is required")
		}
		existing.Prompt = strings.TrimSpace(*input.Prompt)
	}
	if input.CreditCost != nil {
		if *input.CreditCost < 0 {
			return nil, apperr.Validation("creditCost must not be negative")
		}
		existing.CreditCost = *input.CreditCost
	}
	if input.IsActive != nil {
		existing.IsActive = *input.IsActive
	}
	if input.ReferenceImageURL != nil {
		if *input.ReferenceImageURL == "" {
			existing.ReferenceImageURL = nil
		} else {
			existing.ReferenceImageURL = input.ReferenceImageURL
		}
	}
	if input.SortOrder != nil {
		existing.SortOrder = *input.SortOrder
	}
	return s.repo.Update(ctx, existing)
}

func (s *SceneService) Delete(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}
