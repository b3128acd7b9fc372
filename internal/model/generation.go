package model

import (
	"fmt"
	"time"
)

// GenerationTypeTravelOutput is the type of generations produced by stitched travel videos.
const GenerationTypeTravelOutput = "video_travel_output"

// Generation is a persisted artifact produced by one or more tasks.
type Generation struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Tasks     []string  `json:"tasks"`
	Location  string    `json:"location"`
	Type      string    `json:"type"`
	Params    Params    `json:"params,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Shot is an ordered collection of generations.
type Shot struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"projectId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the fields required to persist a new shot.
func (s Shot) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("id is required: %w", ErrNotValid)
	}
	if s.ProjectID == "" {
		return fmt.Errorf("project id is required: %w", ErrNotValid)
	}
	return nil
}

// ShotGeneration places a generation at a position inside a shot.
type ShotGeneration struct {
	ID           string    `json:"id"`
	ShotID       string    `json:"shotId"`
	GenerationID string    `json:"generationId"`
	Position     int       `json:"position"`
	CreatedAt    time.Time `json:"createdAt"`
}
