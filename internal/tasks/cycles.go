package tasks

import (
	"context"
	"fmt"
	"strings"

	"github.com/pdcadash/pdca/internal/docstore"
	"github.com/pdcadash/pdca/internal/schema"
	"github.com/pdcadash/pdca/internal/shard"
)

// CyclePatch edits a cycle in place. Nil fields are left alone.
type CyclePatch struct {
	CycleDate *string
	Situation *string
	Issue     *string
	Action    *string
	Target    *string
	Status    *schema.Status
}

func (p CyclePatch) apply(c *schema.PdcaCycle) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&c.CycleDate, p.CycleDate)
	set(&c.Situation, p.Situation)
	set(&c.Issue, p.Issue)
	set(&c.Action, p.Action)
	set(&c.Target, p.Target)
	if p.Status != nil {
		c.Status = *p.Status
	}
}

// AddCycle appends a cycle to an entity's cycles.json. Missing id, status
// and timestamps are filled in.
func (s *Service) AddCycle(ctx context.Context, clientID, entityID string, c schema.PdcaCycle) (schema.PdcaCycle, error) {
	stamp := schema.Stamp(s.now())
	if c.ID == "" {
		c.ID = s.newID()
	}
	if c.Status == "" {
		c.Status = schema.StatusOpen
	}
	c.ClientID = clientID
	c.EntityID = entityID
	c.CreatedAt = stamp
	c.UpdatedAt = stamp
	if err := c.Validate(); err != nil {
		return schema.PdcaCycle{}, fmt.Errorf("invalid cycle: %w", err)
	}

	clientFolder, err := s.resolver.ResolveClientFolder(ctx, clientID)
	if err != nil {
		return schema.PdcaCycle{}, err
	}
	folder, err := s.resolver.EnsureEntityFolder(ctx, clientFolder, entityID)
	if err != nil {
		return schema.PdcaCycle{}, err
	}
	list, err := shard.Load[schema.PdcaCycle](ctx, s.shards, folder, schema.CyclesFile)
	if err != nil {
		return schema.PdcaCycle{}, err
	}
	for _, existing := range list {
		if existing.ID == c.ID {
			return schema.PdcaCycle{}, fmt.Errorf("invalid cycle: %w", &schema.ValidationError{Field: "id", Reason: "already exists"})
		}
	}
	list = append(list, c)
	if err := shard.Save(ctx, s.shards, list, folder, schema.CyclesFile); err != nil {
		return schema.PdcaCycle{}, err
	}
	return c, nil
}

// UpdateCycle edits the status or content of a cycle. Cycles are never
// removed.
func (s *Service) UpdateCycle(ctx context.Context, clientID, entityID, cycleID string, patch CyclePatch) (schema.PdcaCycle, error) {
	scratch := schema.PdcaCycle{ID: "scratch", EntityID: "scratch", CycleDate: "2000-01-01", Status: schema.StatusOpen}
	patch.apply(&scratch)
	if err := scratch.Validate(); err != nil {
		return schema.PdcaCycle{}, fmt.Errorf("invalid cycle: %w", err)
	}

	_, folder, err := s.entityFolder(ctx, clientID, entityID)
	if err != nil {
		return schema.PdcaCycle{}, err
	}
	list, err := shard.Load[schema.PdcaCycle](ctx, s.shards, folder, schema.CyclesFile)
	if err != nil {
		return schema.PdcaCycle{}, err
	}
	for i := range list {
		if list[i].ID != cycleID {
			continue
		}
		patch.apply(&list[i])
		list[i].UpdatedAt = schema.Stamp(s.now())
		if err := list[i].Validate(); err != nil {
			return schema.PdcaCycle{}, fmt.Errorf("invalid cycle: %w", err)
		}
		if err := shard.Save(ctx, s.shards, list, folder, schema.CyclesFile); err != nil {
			return schema.PdcaCycle{}, err
		}
		return list[i], nil
	}
	return schema.PdcaCycle{}, fmt.Errorf("cycle %q: %w", cycleID, docstore.ErrNotFound)
}

// ListCycles returns the cycles of one entity, oldest cycle date first.
func (s *Service) ListCycles(ctx context.Context, clientID, entityID string) ([]schema.PdcaCycle, error) {
	_, folder, err := s.entityFolder(ctx, clientID, entityID)
	if isNoFolder(err) {
		return []schema.PdcaCycle{}, nil
	}
	if err != nil {
		return nil, err
	}
	list, err := shard.Load[schema.PdcaCycle](ctx, s.shards, folder, schema.CyclesFile)
	if err != nil {
		return nil, err
	}
	sortCycles(list)
	return list, nil
}
