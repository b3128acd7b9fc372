package core

import (
	"context"
	"fmt"
	"strings"

	"genflow/internal/model"
)

// CreateShot persists a new empty shot.
func (s *Service) CreateShot(ctx context.Context, projectID, name string) (*model.Shot, error) {
	now := s.now().UTC()
	shot := model.Shot{
		ID:        NewID(),
		ProjectID: strings.TrimSpace(projectID),
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := shot.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateShot(ctx, shot); err != nil {
		return nil, fmt.Errorf("create shot: %w", err)
	}

	s.logger.Info("shot created", "shot_id", shot.ID, "project_id", shot.ProjectID)
	return &shot, nil
}

// ShotGenerations returns the generations placed in a shot, ordered by position.
func (s *Service) ShotGenerations(ctx context.Context, shotID string) ([]model.ShotGeneration, error) {
	if _, err := s.store.GetShot(ctx, shotID); err != nil {
		return nil, err
	}
	return s.store.ListShotGenerations(ctx, shotID)
}

// ListGenerations returns the generations of a project.
func (s *Service) ListGenerations(ctx context.Context, projectID string) ([]model.Generation, error) {
	return s.store.ListGenerations(ctx, projectID)
}
