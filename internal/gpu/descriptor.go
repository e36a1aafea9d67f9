package gpu

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// MaxSetBindings is the most bindings one set layout may declare.
const MaxSetBindings = 25

// Descriptor errors.
var (
	// ErrDuplicateBinding is returned when a binding index is used twice.
	ErrDuplicateBinding = errors.New("gpu: duplicate descriptor binding")

	// ErrTooManyBindings is returned when a layout exceeds MaxSetBindings.
	ErrTooManyBindings = errors.New("gpu: too many descriptor bindings")

	// ErrEmptyLayout is returned when a layout has no bindings.
	ErrEmptyLayout = errors.New("gpu: descriptor set layout has no bindings")

	// ErrForeignWrite is returned when a batch holds writes for another set.
	ErrForeignWrite = errors.New("gpu: descriptor write targets another set")
)

// =============================================================================
// Set layouts
// =============================================================================

// SetLayoutSummary is the ordered binding list of a descriptor set layout.
// Binding indices are unique within a summary.
type SetLayoutSummary struct {
	bindings []LayoutBinding
}

// NewSetLayoutSummary returns a summary holding the given bindings.
func NewSetLayoutSummary(bindings ...LayoutBinding) (*SetLayoutSummary, error) {
	s := &SetLayoutSummary{}
	for _, b := range bindings {
		if err := s.add(b); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add appends a binding. A count of 0 means 1.
func (s *SetLayoutSummary) Add(binding uint32, typ DescriptorType, stages ShaderStage, count uint32) error {
	return s.add(LayoutBinding{Binding: binding, Type: typ, Stages: stages, Count: count})
}

func (s *SetLayoutSummary) add(nb LayoutBinding) error {
	for _, b := range s.bindings {
		if b.Binding == nb.Binding {
			return fmt.Errorf("%w: %d", ErrDuplicateBinding, nb.Binding)
		}
	}
	if len(s.bindings) == MaxSetBindings {
		return fmt.Errorf("%w: limit %d", ErrTooManyBindings, MaxSetBindings)
	}
	if nb.Count == 0 {
		nb.Count = 1
	}
	s.bindings = append(s.bindings, nb)
	return nil
}

// Bindings returns a copy of the bindings in insertion order.
func (s *SetLayoutSummary) Bindings() []LayoutBinding {
	return slices.Clone(s.bindings)
}

// Binding returns the binding with the given index.
func (s *SetLayoutSummary) Binding(index uint32) (LayoutBinding, bool) {
	for _, b := range s.bindings {
		if b.Binding == index {
			return b, true
		}
	}
	return LayoutBinding{}, false
}

// key identifies the binding set regardless of insertion order.
func (s *SetLayoutSummary) key() string {
	sorted := slices.Clone(s.bindings)
	slices.SortFunc(sorted, func(a, b LayoutBinding) int { return int(a.Binding) - int(b.Binding) })
	var sb strings.Builder
	for _, b := range sorted {
		fmt.Fprintf(&sb, "%d:%d:%d:%d:%d;", b.Binding, b.Type, b.Stages, b.Count, b.View)
	}
	return sb.String()
}

// SetLayoutCache deduplicates descriptor set layouts by binding set.
// It is safe for concurrent use.
type SetLayoutCache struct {
	mu      sync.Mutex
	device  Device
	layouts map[string]SetLayoutHandle
}

// NewSetLayoutCache returns an empty cache.
func NewSetLayoutCache(device Device) *SetLayoutCache {
	return &SetLayoutCache{device: device, layouts: make(map[string]SetLayoutHandle)}
}

// Get returns the layout for a summary, creating it on first use.
func (c *SetLayoutCache) Get(s *SetLayoutSummary) (SetLayoutHandle, error) {
	if len(s.bindings) == 0 {
		return 0, ErrEmptyLayout
	}
	key := s.key()

	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.layouts[key]; ok {
		return h, nil
	}
	h, err := c.device.CreateSetLayout(s.Bindings())
	if err != nil {
		return 0, fmt.Errorf("create set layout: %w", err)
	}
	c.layouts[key] = h
	slogger().Debug("set layout created", "bindings", len(s.bindings), "cached", len(c.layouts))
	return h, nil
}

// Len returns the number of cached layouts.
func (c *SetLayoutCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.layouts)
}

// Destroy destroys every cached layout.
func (c *SetLayoutCache) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, h := range c.layouts {
		c.device.DestroySetLayout(h)
		delete(c.layouts, k)
	}
}

// =============================================================================
// Descriptor allocation
// =============================================================================

// DescriptorAllocator hands out descriptor sets from a growing list of
// pools. When the current pool is exhausted the other pools are tried
// before a new one is created. Freed sets return to the pool that owns
// them. It is safe for concurrent use.
type DescriptorAllocator struct {
	mu          sync.Mutex
	device      Device
	setsPerPool uint32
	sizes       []PoolSize
	pools       []DescriptorPoolHandle
	current     int
	owner       map[DescriptorSetHandle]int
}

// NewDescriptorAllocator sizes pools for framesInFlight frames of maxAssets
// assets each.
func NewDescriptorAllocator(device Device, framesInFlight, maxAssets int) *DescriptorAllocator {
	f := uint32(framesInFlight)
	return &DescriptorAllocator{
		device:      device,
		setsPerPool: 2 * f * uint32(maxAssets),
		sizes: []PoolSize{
			{Type: DescriptorUniformBuffer, Count: 4 * f * uint32(maxAssets)},
			{Type: DescriptorCombinedImageSampler, Count: 5 * f * uint32(maxAssets)},
			{Type: DescriptorStorageImage, Count: 4 * f * uint32(maxAssets)},
			{Type: DescriptorStorageBuffer, Count: f * uint32(maxAssets)},
		},
		owner: make(map[DescriptorSetHandle]int),
	}
}

// Allocate returns a new descriptor set with the given layout.
func (a *DescriptorAllocator) Allocate(layout SetLayoutHandle) (DescriptorSetHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	layouts := []SetLayoutHandle{layout}
	for i := range a.pools {
		idx := (a.current + i) % len(a.pools)
		sets, err := a.device.AllocateDescriptorSets(a.pools[idx], layouts)
		if errors.Is(err, ErrPoolExhausted) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("allocate descriptor set: %w", err)
		}
		a.current = idx
		a.owner[sets[0]] = idx
		return sets[0], nil
	}
	if err := a.growLocked(); err != nil {
		return 0, err
	}
	sets, err := a.device.AllocateDescriptorSets(a.pools[a.current], layouts)
	if err != nil {
		return 0, fmt.Errorf("allocate descriptor set: %w", err)
	}
	a.owner[sets[0]] = a.current
	return sets[0], nil
}

// growLocked creates a pool and makes it current.
// Caller must hold mu.
func (a *DescriptorAllocator) growLocked() error {
	p, err := a.device.CreateDescriptorPool(a.setsPerPool, a.sizes)
	if err != nil {
		return fmt.Errorf("create descriptor pool: %w", err)
	}
	a.pools = append(a.pools, p)
	a.current = len(a.pools) - 1
	slogger().Debug("descriptor pool created", "pools", len(a.pools), "maxSets", a.setsPerPool)
	return nil
}

// Free returns sets to the pools they were allocated from. Unknown sets
// are reported with ErrInvalidHandle before any set is freed.
func (a *DescriptorAllocator) Free(sets ...DescriptorSetHandle) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	byPool := make(map[int][]DescriptorSetHandle)
	for _, h := range sets {
		idx, ok := a.owner[h]
		if !ok {
			return fmt.Errorf("free descriptor set %d: %w", h, ErrInvalidHandle)
		}
		byPool[idx] = append(byPool[idx], h)
	}
	for idx, hs := range byPool {
		if err := a.device.FreeDescriptorSets(a.pools[idx], hs); err != nil {
			return fmt.Errorf("free descriptor sets: %w", err)
		}
		for _, h := range hs {
			delete(a.owner, h)
		}
	}
	return nil
}

// Allocated returns the number of sets handed out and not yet freed.
func (a *DescriptorAllocator) Allocated() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.owner)
}

// PoolCount returns the number of pools created so far.
func (a *DescriptorAllocator) PoolCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pools)
}

// Reset returns every set to the pools. Sets allocated before must not be
// used afterwards.
func (a *DescriptorAllocator) Reset() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.pools {
		if err := a.device.ResetDescriptorPool(p); err != nil {
			return fmt.Errorf("reset descriptor pool: %w", err)
		}
	}
	a.current = 0
	clear(a.owner)
	return nil
}

// Destroy destroys every pool.
func (a *DescriptorAllocator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, p := range a.pools {
		a.device.DestroyDescriptorPool(p)
	}
	a.pools = nil
	a.current = 0
	clear(a.owner)
}

// =============================================================================
// Descriptor sets
// =============================================================================

// DescriptorSet is a set allocated once at pass creation and mutated by
// Update.
type DescriptorSet struct {
	gctx    *Context
	handle  DescriptorSetHandle
	layout  SetLayoutHandle
	summary *SetLayoutSummary
}

// NewDescriptorSet allocates a set with the summary's cached layout.
func NewDescriptorSet(gctx *Context, summary *SetLayoutSummary) (*DescriptorSet, error) {
	layout, err := gctx.setLayouts.Get(summary)
	if err != nil {
		return nil, err
	}
	h, err := gctx.descriptors.Allocate(layout)
	if err != nil {
		return nil, err
	}
	return &DescriptorSet{gctx: gctx, handle: h, layout: layout, summary: summary}, nil
}

// NewDescriptorSets allocates n sets with the same layout. On failure the
// sets already allocated are freed.
func NewDescriptorSets(gctx *Context, summary *SetLayoutSummary, n int) ([]*DescriptorSet, error) {
	out := make([]*DescriptorSet, n)
	for i := range out {
		s, err := NewDescriptorSet(gctx, summary)
		if err != nil {
			_ = FreeDescriptorSets(out[:i]...)
			return nil, fmt.Errorf("descriptor set %d: %w", i, err)
		}
		out[i] = s
	}
	return out, nil
}

// Handle returns the native set handle.
func (s *DescriptorSet) Handle() DescriptorSetHandle { return s.handle }

// Layout returns the set's layout handle.
func (s *DescriptorSet) Layout() SetLayoutHandle { return s.layout }

// Summary returns the binding list the set was allocated with.
func (s *DescriptorSet) Summary() *SetLayoutSummary { return s.summary }

// Free returns the set to its pool. The set must not be bound by a
// recording still in flight. Freeing twice is a no-op.
func (s *DescriptorSet) Free() error {
	if s == nil || s.handle == 0 {
		return nil
	}
	if err := s.gctx.descriptors.Free(s.handle); err != nil {
		return err
	}
	s.handle = 0
	return nil
}

// FreeDescriptorSets frees every non-nil set and returns the first error.
func FreeDescriptorSets(sets ...*DescriptorSet) error {
	var first error
	for _, s := range sets {
		if err := s.Free(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Update applies every write of the batch in one device call. Every write
// must target this set.
func (s *DescriptorSet) Update(batch *WriteDescriptorSets) error {
	for _, w := range batch.writes {
		if w.Set != s.handle {
			return fmt.Errorf("%w: binding %d", ErrForeignWrite, w.Binding)
		}
	}
	batch.Commit(s.gctx)
	return nil
}
