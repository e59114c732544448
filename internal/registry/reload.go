package registry

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/mcpgateway/pkg/models"
)

// Loader is the subset of the Capability Loader the Registry needs to
// drive a reload, kept as an interface so registry tests don't depend on
// the filesystem.
type Loader interface {
	Load() (*models.Snapshot, []string, error)
}

// HotReloader drives the Registry's hot-reload path (§4.B): load to a
// staged snapshot, and only swap in the result if loading succeeded.
// Loading failures never touch the live snapshot — callers see the
// returned error and the registry keeps serving whatever it had before.
type HotReloader struct {
	registry *Registry
	loader   Loader
}

// NewHotReloader binds a Registry to the Loader that feeds its reloads.
func NewHotReloader(r *Registry, l Loader) *HotReloader {
	return &HotReloader{registry: r, loader: l}
}

// Reload loads a staged snapshot and swaps it in on success. On failure it
// logs the InvalidDefinition/DuplicateName error and leaves the current
// snapshot untouched (§8 scenario 6).
func (h *HotReloader) Reload() error {
	staged, warnings, err := h.loader.Load()
	if err != nil {
		log.Warn().Err(err).Msg("capability reload failed, keeping previous snapshot")
		return fmt.Errorf("hot reload: %w", err)
	}
	for _, w := range warnings {
		log.Warn().Msg(w)
	}
	ev := h.registry.ReloadFrom(staged)
	log.Info().Uint64("version", ev.Version).Int("added", len(ev.Added)).Int("removed", len(ev.Removed)).Int("modified", len(ev.Modified)).Msg("capability registry reloaded")
	return nil
}
