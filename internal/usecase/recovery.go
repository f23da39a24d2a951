package usecase

import (
	"context"
	"fmt"

	"github.com/eliteGoblin/focusd/mon_sup/internal/domain"
	"github.com/eliteGoblin/focusd/mon_sup/internal/topology"
)

// RestoreCached applies the first non-empty cached baseline among slots and
// clears that slot on success. The cache is advisory: this only runs on an
// explicit operator request, never on startup.
func RestoreCached(
	ctx context.Context,
	controller *topology.Controller,
	store domain.BaselineStore,
	slots ...string,
) (domain.TopologySnapshot, topology.Report, error) {
	for _, slot := range slots {
		snap, err := store.Load(slot)
		if err != nil {
			return domain.TopologySnapshot{}, topology.Report{}, fmt.Errorf("failed to load %s baseline: %w", slot, err)
		}
		if snap == nil {
			continue
		}
		report, err := controller.Restore(ctx, *snap)
		if err != nil {
			return *snap, report, err
		}
		if err := store.Clear(slot); err != nil {
			return *snap, report, fmt.Errorf("restored but failed to clear %s baseline: %w", slot, err)
		}
		return *snap, report, nil
	}
	return domain.TopologySnapshot{}, topology.Report{}, domain.ErrNoBaseline
}
