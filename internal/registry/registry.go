// Package registry implements the Tool Registry (§4.B): the authoritative
// map of tool/resource/prompt name to definition, held as an immutable
// snapshot swapped atomically on every mutation. Readers never block
// writers and never block each other, via a single atomic.Pointer swap
// instead of a guarded map.
package registry

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/agentoven/mcpgateway/pkg/models"
)

// ChangeEvent describes one hot-reload or merge transition, for the
// Notification Broker to translate into tools/list_changed etc.
type ChangeEvent struct {
	Version  uint64
	Added    []string
	Removed  []string
	Modified []string
}

// Registry holds the current snapshot and assigns monotonically
// increasing versions on every swap.
type Registry struct {
	snap    atomic.Pointer[models.Snapshot]
	version atomic.Uint64

	onChange func(ChangeEvent)
}

// New constructs a Registry seeded with the empty snapshot.
func New() *Registry {
	r := &Registry{}
	r.snap.Store(models.EmptySnapshot())
	return r
}

// OnChange registers a callback invoked after every successful swap. Only
// one subscriber is supported directly; callers that need fan-out should
// wire the Notification Broker as that one subscriber.
func (r *Registry) OnChange(fn func(ChangeEvent)) { r.onChange = fn }

// Snapshot returns the current snapshot. The returned value is immutable
// and safe to read from multiple goroutines without further
// synchronisation; it never changes after being returned.
func (r *Registry) Snapshot() *models.Snapshot {
	return r.snap.Load()
}

// GetTool looks up a tool by name in the current snapshot.
func (r *Registry) GetTool(name string) (models.Tool, bool) {
	s := r.Snapshot()
	t, ok := s.Tools[name]
	return t, ok
}

// ListVisible returns the current version and every tool satisfying
// enabled ∧ ¬hidden, sorted by name (§8 scenario 1: "sorted by name").
func (r *Registry) ListVisible() (uint64, []models.Tool) {
	s := r.Snapshot()
	out := s.VisibleTools()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return s.Version, out
}

// ListVisibleResources returns the current version and every resource
// satisfying enabled ∧ ¬hidden, sorted by URI.
func (r *Registry) ListVisibleResources() (uint64, []models.Resource) {
	s := r.Snapshot()
	out := make([]models.Resource, 0, len(s.Resources))
	for _, res := range s.Resources {
		if res.Visible() {
			out = append(out, res)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URI < out[j].URI })
	return s.Version, out
}

// GetResource looks up a resource by URI in the current snapshot.
func (r *Registry) GetResource(uri string) (models.Resource, bool) {
	s := r.Snapshot()
	res, ok := s.Resources[uri]
	return res, ok
}

// ListVisiblePrompts returns the current version and every prompt
// satisfying enabled ∧ ¬hidden, sorted by name.
func (r *Registry) ListVisiblePrompts() (uint64, []models.Prompt) {
	s := r.Snapshot()
	out := make([]models.Prompt, 0, len(s.Prompts))
	for _, p := range s.Prompts {
		if p.Visible() {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return s.Version, out
}

// GetPrompt looks up a prompt by name in the current snapshot.
func (r *Registry) GetPrompt(name string) (models.Prompt, bool) {
	s := r.Snapshot()
	p, ok := s.Prompts[name]
	return p, ok
}

// ListAll returns every tool regardless of visibility, for management
// surfaces.
func (r *Registry) ListAll() []models.Tool {
	s := r.Snapshot()
	out := make([]models.Tool, 0, len(s.Tools))
	for _, t := range s.Tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Mutation is one atomic batch operation applied by Apply.
type Mutation struct {
	UpsertTool   *models.Tool
	RemoveTool   string
	SetEnabled   string
	Enabled      bool
	SetHidden    string
	Hidden       bool
}

// Apply performs an atomic batch of mutations against a copy of the
// current snapshot and swaps it in as the new version. Either every
// mutation in the batch lands, or none do: the copy is discarded on
// validation failure and the prior snapshot remains current.
func (r *Registry) Apply(muts []Mutation) (uint64, error) {
	cur := r.Snapshot()
	next := cloneSnapshot(cur)

	for _, m := range muts {
		switch {
		case m.UpsertTool != nil:
			if !m.UpsertTool.Routable() {
				return 0, fmt.Errorf("tool %q: agent %q missing required agent_params", m.UpsertTool.Name, m.UpsertTool.Agent)
			}
			next.Tools[m.UpsertTool.Name] = *m.UpsertTool
		case m.RemoveTool != "":
			delete(next.Tools, m.RemoveTool)
		case m.SetEnabled != "":
			t, ok := next.Tools[m.SetEnabled]
			if !ok {
				return 0, fmt.Errorf("tool %q not found", m.SetEnabled)
			}
			t.Enabled = m.Enabled
			next.Tools[m.SetEnabled] = t
		case m.SetHidden != "":
			t, ok := next.Tools[m.SetHidden]
			if !ok {
				return 0, fmt.Errorf("tool %q not found", m.SetHidden)
			}
			t.Hidden = m.Hidden
			next.Tools[m.SetHidden] = t
		}
	}

	return r.swap(next, diffToolNames(cur, next)), nil
}

// ReloadFrom atomically replaces the entire registry contents with a
// freshly loaded snapshot, e.g. from the Capability Loader on hot reload
// (§4.B). The caller is responsible for validating before calling this;
// ReloadFrom itself never rejects a snapshot. External-source
// contributions previously merged via MergeExternal are preserved by
// copying them into the new snapshot under their existing source tag,
// unless the loader itself re-supplies them.
func (r *Registry) ReloadFrom(loaded *models.Snapshot) ChangeEvent {
	cur := r.Snapshot()
	next := &models.Snapshot{
		Tools:     map[string]models.Tool{},
		Resources: map[string]models.Resource{},
		Prompts:   map[string]models.Prompt{},
	}
	for k, v := range loaded.Tools {
		next.Tools[k] = v
	}
	for k, v := range loaded.Resources {
		next.Resources[k] = v
	}
	for k, v := range loaded.Prompts {
		next.Prompts[k] = v
	}
	// Preserve external-source contributions: the loader only knows about
	// on-disk capability files, not what the Supervisor has merged in.
	for k, v := range cur.Tools {
		if v.Provenance.SourceSystem != "capability_loader" {
			if _, clash := next.Tools[k]; !clash {
				next.Tools[k] = v
			}
		}
	}
	for k, v := range cur.Resources {
		if v.Provenance.SourceSystem != "capability_loader" {
			if _, clash := next.Resources[k]; !clash {
				next.Resources[k] = v
			}
		}
	}
	for k, v := range cur.Prompts {
		if v.Provenance.SourceSystem != "capability_loader" {
			if _, clash := next.Prompts[k]; !clash {
				next.Prompts[k] = v
			}
		}
	}

	ev := diffToolNames(cur, next)
	ev.Version = r.swap(next, ev)
	return ev
}

// MergeExternal replaces the full contribution of one external source
// (identified by source_system, e.g. "external_mcp:filesystem") with a
// new set of tools, per §3's "a merge from an external source fully
// replaces that source's contribution (no orphans)" invariant. A tool whose
// name is already held by a different source is skipped with a warning, so
// the earlier holder keeps it (first-wins).
func (r *Registry) MergeExternal(sourceSystem string, tools []models.Tool, resources []models.Resource, prompts []models.Prompt) (uint64, ChangeEvent) {
	cur := r.Snapshot()
	next := cloneSnapshot(cur)

	for name, t := range next.Tools {
		if t.Provenance.SourceSystem == sourceSystem {
			delete(next.Tools, name)
		}
	}
	for uri, res := range next.Resources {
		if res.Provenance.SourceSystem == sourceSystem {
			delete(next.Resources, uri)
		}
	}
	for name, p := range next.Prompts {
		if p.Provenance.SourceSystem == sourceSystem {
			delete(next.Prompts, name)
		}
	}
	for _, t := range tools {
		if held, ok := next.Tools[t.Name]; ok {
			log.Warn().Str("tool", t.Name).Str("source", sourceSystem).Str("held_by", held.Provenance.SourceSystem).Msg("registry: external tool name already taken, keeping the existing tool")
			continue
		}
		next.Tools[t.Name] = t
	}
	for _, res := range resources {
		next.Resources[res.URI] = res
	}
	for _, p := range prompts {
		next.Prompts[p.Name] = p
	}

	ev := diffToolNames(cur, next)
	v := r.swap(next, ev)
	ev.Version = v
	return v, ev
}

// DisableSource sets enabled to the given value for every tool belonging to
// the given source, without removing them from the registry (§7 "Partial failure":
// a backed-off external MCP server's tools stay visible to management but
// are not dispatchable).
func (r *Registry) DisableSource(sourceSystem string, enabled bool) (uint64, ChangeEvent) {
	cur := r.Snapshot()
	next := cloneSnapshot(cur)
	for name, t := range next.Tools {
		if t.Provenance.SourceSystem == sourceSystem {
			t.Enabled = enabled
			next.Tools[name] = t
		}
	}
	ev := diffToolNames(cur, next)
	v := r.swap(next, ev)
	ev.Version = v
	return v, ev
}

func (r *Registry) swap(next *models.Snapshot, ev ChangeEvent) uint64 {
	v := r.version.Add(1)
	next.Version = v
	r.snap.Store(next)
	ev.Version = v
	if r.onChange != nil && (len(ev.Added) > 0 || len(ev.Removed) > 0 || len(ev.Modified) > 0) {
		r.onChange(ev)
	}
	log.Debug().Uint64("version", v).Int("added", len(ev.Added)).Int("removed", len(ev.Removed)).Int("modified", len(ev.Modified)).Msg("registry snapshot swapped")
	return v
}

func cloneSnapshot(s *models.Snapshot) *models.Snapshot {
	next := &models.Snapshot{
		Tools:     make(map[string]models.Tool, len(s.Tools)),
		Resources: make(map[string]models.Resource, len(s.Resources)),
		Prompts:   make(map[string]models.Prompt, len(s.Prompts)),
	}
	for k, v := range s.Tools {
		next.Tools[k] = v
	}
	for k, v := range s.Resources {
		next.Resources[k] = v
	}
	for k, v := range s.Prompts {
		next.Prompts[k] = v
	}
	return next
}

func diffToolNames(prev, next *models.Snapshot) ChangeEvent {
	var ev ChangeEvent
	for name, nt := range next.Tools {
		if pt, ok := prev.Tools[name]; !ok {
			ev.Added = append(ev.Added, name)
		} else if !toolsEqual(pt, nt) {
			ev.Modified = append(ev.Modified, name)
		}
	}
	for name := range prev.Tools {
		if _, ok := next.Tools[name]; !ok {
			ev.Removed = append(ev.Removed, name)
		}
	}
	sort.Strings(ev.Added)
	sort.Strings(ev.Removed)
	sort.Strings(ev.Modified)
	return ev
}

func toolsEqual(a, b models.Tool) bool {
	return a.Description == b.Description &&
		a.Agent == b.Agent &&
		a.Enabled == b.Enabled &&
		a.Hidden == b.Hidden &&
		a.Category == b.Category &&
		string(a.InputSchema) == string(b.InputSchema)
}
