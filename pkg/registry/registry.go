package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/chainlesschain/skilltools/internal/observability"
	"github.com/chainlesschain/skilltools/pkg/tooldef"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotFound is returned when no tool matches an id.
	ErrNotFound = errors.New("tool not found")
	// ErrBuiltinImmutable is returned when a caller tries to replace or
	// remove a builtin tool.
	ErrBuiltinImmutable = errors.New("builtin tools cannot be replaced or unregistered")
	// ErrStaleVersion is returned when a replacement is older than the
	// registered definition.
	ErrStaleVersion = errors.New("replacement version is older than registered version")
)

// DuplicateError reports an id or name collision.
type DuplicateError struct {
	Field string // "id" or "name"
	Value string
	Owner string // id of the tool already holding Value
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate tool %s %q (already used by %s)", e.Field, e.Value, e.Owner)
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Category    string
	ToolType    string
	Permission  string
	EnabledOnly bool
	BuiltinOnly bool
	CustomOnly  bool
}

func (f Filter) matches(def *tooldef.ToolDefinition) bool {
	if f.Category != "" && !strings.EqualFold(def.Category, f.Category) {
		return false
	}
	if f.ToolType != "" && !strings.EqualFold(def.ToolType, f.ToolType) {
		return false
	}
	if f.Permission != "" && !def.HasPermission(f.Permission) {
		return false
	}
	if f.EnabledOnly && !def.Enabled {
		return false
	}
	if f.BuiltinOnly && !def.IsBuiltin {
		return false
	}
	if f.CustomOnly && def.IsBuiltin {
		return false
	}
	return true
}

// snapshot is an immutable view of the registry. Definitions inside a
// snapshot are never modified; mutations build a new snapshot.
type snapshot struct {
	byID   map[string]*tooldef.ToolDefinition
	byName map[string]string
	gen    uint64
}

func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		byID:   make(map[string]*tooldef.ToolDefinition, len(s.byID)+1),
		byName: make(map[string]string, len(s.byName)+1),
		gen:    s.gen + 1,
	}
	for k, v := range s.byID {
		next.byID[k] = v
	}
	for k, v := range s.byName {
		next.byName[k] = v
	}
	return next
}

func (s *snapshot) lookup(idOrName string) *tooldef.ToolDefinition {
	if def, ok := s.byID[idOrName]; ok {
		return def
	}
	if id, ok := s.byName[idOrName]; ok {
		return s.byID[id]
	}
	return nil
}

// Registry indexes tool definitions by id and name. Reads are lock-free
// against the current snapshot; writers serialize and swap a new one.
type Registry struct {
	current atomic.Pointer[snapshot]
	writeMu sync.Mutex

	subMu       sync.RWMutex
	subscribers map[int]func(Event)
	nextSubID   int
}

// New creates an empty Registry.
func New() *Registry {
	observability.EnsureRegistered()

	r := &Registry{subscribers: make(map[int]func(Event))}
	r.current.Store(&snapshot{
		byID:   map[string]*tooldef.ToolDefinition{},
		byName: map[string]string{},
	})
	return r
}

// Register adds a definition. The definition is copied; later changes by the
// caller do not affect the registry.
func (r *Registry) Register(def *tooldef.ToolDefinition) error {
	if err := tooldef.Validate(def); err != nil {
		return err
	}
	stored := def.Clone()
	stored.Normalize()

	r.writeMu.Lock()
	cur := r.current.Load()
	if err := checkCollisions(cur, stored, ""); err != nil {
		r.writeMu.Unlock()
		return err
	}
	next := cur.clone()
	next.byID[stored.ID] = stored
	next.byName[stored.Name] = stored.ID
	r.swap(next)
	r.writeMu.Unlock()

	log.Info().
		Str("tool", stored.ID).
		Str("name", stored.Name).
		Bool("builtin", stored.IsBuiltin).
		Int("risk_level", int(stored.RiskLevel)).
		Msg("Tool registered")

	r.publish(Event{Type: EventRegistered, ToolID: stored.ID})
	return nil
}

// Replace swaps a registered custom tool for a new definition with the same
// id. The replacement's version must not be older than the current one.
func (r *Registry) Replace(def *tooldef.ToolDefinition) error {
	if err := tooldef.Validate(def); err != nil {
		return err
	}
	stored := def.Clone()
	stored.Normalize()

	r.writeMu.Lock()
	cur := r.current.Load()
	old, ok := cur.byID[stored.ID]
	if !ok {
		r.writeMu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, stored.ID)
	}
	if old.IsBuiltin || stored.IsBuiltin {
		r.writeMu.Unlock()
		return fmt.Errorf("%w: %s", ErrBuiltinImmutable, stored.ID)
	}
	if !tooldef.IsNewerOrEqual(stored, old) {
		r.writeMu.Unlock()
		return fmt.Errorf("%w: %s %s < %s", ErrStaleVersion, stored.ID, stored.Version, old.Version)
	}
	if err := checkCollisions(cur, stored, stored.ID); err != nil {
		r.writeMu.Unlock()
		return err
	}
	next := cur.clone()
	delete(next.byName, old.Name)
	next.byID[stored.ID] = stored
	next.byName[stored.Name] = stored.ID
	r.swap(next)
	r.writeMu.Unlock()

	log.Info().
		Str("tool", stored.ID).
		Str("version", stored.Version).
		Msg("Tool replaced")

	r.publish(Event{Type: EventReplaced, ToolID: stored.ID})
	return nil
}

// Unregister removes a custom tool.
func (r *Registry) Unregister(id string) error {
	r.writeMu.Lock()
	cur := r.current.Load()
	def, ok := cur.byID[id]
	if !ok {
		r.writeMu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if def.IsBuiltin {
		r.writeMu.Unlock()
		return fmt.Errorf("%w: %s", ErrBuiltinImmutable, id)
	}
	next := cur.clone()
	delete(next.byID, id)
	delete(next.byName, def.Name)
	r.swap(next)
	r.writeMu.Unlock()

	log.Info().Str("tool", id).Msg("Tool unregistered")

	r.publish(Event{Type: EventUnregistered, ToolID: id})
	return nil
}

// SetEnabled soft-enables or soft-disables a tool. Disabled tools stay in the
// registry but cannot be invoked.
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.writeMu.Lock()
	cur := r.current.Load()
	def, ok := cur.byID[id]
	if !ok {
		r.writeMu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if def.Enabled == enabled {
		r.writeMu.Unlock()
		return nil
	}
	updated := def.Clone()
	updated.Enabled = enabled
	next := cur.clone()
	next.byID[id] = updated
	r.swap(next)
	r.writeMu.Unlock()

	eventType := EventDisabled
	if enabled {
		eventType = EventEnabled
	}
	log.Info().Str("tool", id).Bool("enabled", enabled).Msg("Tool availability changed")

	r.publish(Event{Type: eventType, ToolID: id})
	return nil
}

// Get resolves an id, falling back to a name, and returns a copy of the
// definition.
func (r *Registry) Get(idOrName string) (*tooldef.ToolDefinition, bool) {
	def := r.current.Load().lookup(idOrName)
	if def == nil {
		return nil, false
	}
	return def.Clone(), true
}

// List returns copies of all definitions matching f, sorted by id.
func (r *Registry) List(f Filter) []*tooldef.ToolDefinition {
	snap := r.current.Load()
	out := make([]*tooldef.ToolDefinition, 0, len(snap.byID))
	for _, def := range snap.byID {
		if f.matches(def) {
			out = append(out, def.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the sorted ids of definitions matching f.
func (r *Registry) IDs(f Filter) []string {
	snap := r.current.Load()
	out := make([]string, 0, len(snap.byID))
	for id, def := range snap.byID {
		if f.matches(def) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Categories returns the distinct categories with their tool counts.
func (r *Registry) Categories() map[string]int {
	snap := r.current.Load()
	out := make(map[string]int)
	for _, def := range snap.byID {
		out[def.Category]++
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.current.Load().byID)
}

// Generation increases by one on every successful mutation.
func (r *Registry) Generation() uint64 {
	return r.current.Load().gen
}

func (r *Registry) swap(next *snapshot) {
	r.current.Store(next)

	enabled := 0
	for _, def := range next.byID {
		if def.Enabled {
			enabled++
		}
	}
	observability.SetRegisteredTools(len(next.byID), enabled)
}

// checkCollisions rejects a definition whose id or name is already taken,
// ignoring the entry with id self.
func checkCollisions(s *snapshot, def *tooldef.ToolDefinition, self string) error {
	if self == "" {
		if _, exists := s.byID[def.ID]; exists {
			return &DuplicateError{Field: "id", Value: def.ID, Owner: def.ID}
		}
		if owner, exists := s.byName[def.ID]; exists && owner != def.ID {
			return &DuplicateError{Field: "id", Value: def.ID, Owner: owner}
		}
	}
	if owner, exists := s.byName[def.Name]; exists && owner != self {
		return &DuplicateError{Field: "name", Value: def.Name, Owner: owner}
	}
	if other, exists := s.byID[def.Name]; exists && other.ID != def.ID {
		return &DuplicateError{Field: "name", Value: def.Name, Owner: other.ID}
	}
	return nil
}
