package gathering

import (
	"context"

	"gathering-service/internal/apperr"
	"gathering-service/internal/models"
)

// Get returns one gathering with its effective status.
func (c *Coordinator) Get(ctx context.Context, gatheringID int) (models.Gathering, error) {
	g, err := c.repo.GetGathering(ctx, gatheringID)
	if err != nil {
		return models.Gathering{}, mapNotFound(err)
	}
	return c.present(g), nil
}

// ListBrowse returns joinable gatherings of kind in the university, soonest first.
func (c *Coordinator) ListBrowse(ctx context.Context, kind models.GatheringType, university string) ([]models.Gathering, error) {
	if !kind.Valid() {
		return nil, apperr.Validation("type must be meeting or carpool")
	}
	return c.repo.ListBrowsable(ctx, kind, university, c.clock.Now())
}

// ListMine returns the user's current gatherings plus kicks and admin deletes
// they have not acknowledged yet.
func (c *Coordinator) ListMine(ctx context.Context, userID int) ([]models.Gathering, error) {
	list, err := c.repo.ListForUser(ctx, userID, c.clock.Now())
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i] = c.present(list[i])
	}
	return list, nil
}
