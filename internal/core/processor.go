package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"genflow/internal/model"
	"genflow/internal/notify"
)

// DefaultSideEffectTypes are the task types whose completion produces a generation.
var DefaultSideEffectTypes = []model.TaskType{
	model.TaskTypeStitch,
	model.TaskTypeTravelStitch,
	model.TaskTypeSingleImage,
}

// ProcessorConfig is the configuration for the Processor.
type ProcessorConfig struct {
	Store           Store
	Publisher       notify.Publisher
	Logger          *slog.Logger
	SideEffectTypes []model.TaskType
	Now             func() time.Time
}

func (c *ProcessorConfig) defaults() error {
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	c.Logger = c.Logger.With("svc", "core.Processor")
	if len(c.SideEffectTypes) == 0 {
		c.SideEffectTypes = DefaultSideEffectTypes
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return nil
}

// Processor turns a completed task into a generation placed at the end of its shot.
type Processor struct {
	store     Store
	publisher notify.Publisher
	logger    *slog.Logger
	types     map[model.TaskType]struct{}
	now       func() time.Time
}

// NewProcessor creates a new side effect processor.
func NewProcessor(cfg ProcessorConfig) (*Processor, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	types := make(map[model.TaskType]struct{}, len(cfg.SideEffectTypes))
	for _, t := range cfg.SideEffectTypes {
		types[t] = struct{}{}
	}

	return &Processor{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		types:     types,
		now:       cfg.Now,
	}, nil
}

// SideEffectTypes returns the task types handled by the processor.
func (p *Processor) SideEffectTypes() []model.TaskType {
	out := make([]model.TaskType, 0, len(p.types))
	for t := range p.types {
		out = append(out, t)
	}
	return out
}

// Eligible reports whether the task should produce a generation.
func (p *Processor) Eligible(t model.Task) bool {
	_, ok := p.types[t.Type]
	return ok && t.Status == model.TaskStatusComplete && t.GenerationProcessedAt == nil
}

// Result is the outcome of processing one task.
type Result struct {
	Generation *model.Generation
	Placement  *model.ShotGeneration
	// Duplicate is set when another caller already materialized the task.
	Duplicate bool
}

// Process materializes the generation of a completed task exactly once.
//
// The claim on the processed marker, the generation, and its shot placement
// are written in a single transaction, so a failure leaves the task eligible
// for a later retry and a concurrent caller observes a duplicate.
func (p *Processor) Process(ctx context.Context, task model.Task) (*Result, error) {
	if _, ok := p.types[task.Type]; !ok {
		return nil, fmt.Errorf("task %s has type %q without side effect: %w", task.ID, task.Type, model.ErrNotValid)
	}
	if task.Status != model.TaskStatusComplete {
		return nil, fmt.Errorf("task %s is %s, not complete: %w", task.ID, task.Status, model.ErrNotValid)
	}
	if task.GenerationProcessedAt != nil {
		return &Result{Duplicate: true}, nil
	}

	params := NormalizeParams(task.Params)
	if params == nil {
		params = model.Params{}
	}
	location := ""
	if task.OutputLocation != nil {
		location = NormalizeLocation(*task.OutputLocation)
	}
	if location == "" {
		location = params.String(model.ParamOutputLocation)
	}
	shotID := shotIDFromParams(params)

	var missing []string
	if shotID == "" {
		missing = append(missing, "shot id")
	}
	if location == "" {
		missing = append(missing, "output location")
	}
	if task.ProjectID == "" {
		missing = append(missing, "project id")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("task %s is missing %v: %w", task.ID, missing, model.ErrMissingDependency)
	}

	now := p.now().UTC()
	gen := model.Generation{
		ID:        NewID(),
		ProjectID: task.ProjectID,
		Tasks:     []string{task.ID},
		Location:  location,
		Type:      generationType(task.Type),
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
	placement := model.ShotGeneration{
		ID:           NewID(),
		ShotID:       shotID,
		GenerationID: gen.ID,
		CreatedAt:    now,
	}

	err := p.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		won, err := tx.MarkProcessed(ctx, task.ID, params, location)
		if err != nil {
			return fmt.Errorf("claim task: %w", err)
		}
		if !won {
			return model.ErrDuplicateSideEffect
		}
		if err := tx.CreateGeneration(ctx, gen); err != nil {
			return fmt.Errorf("create generation: %w", err)
		}
		pos, err := tx.NextShotPosition(ctx, shotID)
		if err != nil {
			return fmt.Errorf("next shot position: %w", err)
		}
		placement.Position = pos
		if err := tx.CreateShotGeneration(ctx, placement); err != nil {
			return fmt.Errorf("create shot generation: %w", err)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrDuplicateSideEffect) {
			p.logger.Debug("task already processed", "task_id", task.ID)
			return &Result{Duplicate: true}, nil
		}
		return nil, err
	}

	p.logger.Info("generation created", "task_id", task.ID, "generation_id", gen.ID, "shot_id", shotID, "position", placement.Position)

	if p.publisher != nil {
		p.publisher.Broadcast(notify.NewTaskCompleted(task.ID, task.ProjectID))
		p.publisher.Broadcast(notify.NewGenerationsUpdated(task.ProjectID, shotID))
	}

	return &Result{Generation: &gen, Placement: &placement}, nil
}

// shotIDFromParams looks up the target shot, including inside the orchestrator
// details that travel tasks carry along.
func shotIDFromParams(params model.Params) string {
	if id := params.String(model.ParamShotID, "shotId"); id != "" {
		return id
	}
	for _, key := range []string{"orchestrator_details", "full_orchestrator_payload"} {
		nested, ok := asParams(params[key])
		if !ok {
			continue
		}
		if id := nested.String(model.ParamShotID, "shotId"); id != "" {
			return id
		}
	}
	return ""
}

func asParams(v any) (model.Params, bool) {
	switch t := v.(type) {
	case model.Params:
		return t, true
	case map[string]any:
		return model.Params(t), true
	default:
		return nil, false
	}
}

func generationType(t model.TaskType) string {
	switch t {
	case model.TaskTypeSingleImage:
		return "image"
	default:
		return model.GenerationTypeTravelOutput
	}
}
