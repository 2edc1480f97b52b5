package layout

import (
	"fmt"
	"sort"
	"sync"
)

// DuplicateTagError reports an attempt to register a tag twice. The first
// registration remains in effect.
type DuplicateTagError struct {
	Tag TypeTag
}

func (e *DuplicateTagError) Error() string {
	return fmt.Sprintf("layout for tag %s already registered", e.Tag)
}

// Registry maps type tags to their decoding rules. It is populated once during
// session setup and read-only afterwards; the lock exists because the DAP and
// HTTP surfaces may share one registry.
type Registry struct {
	rules map[TypeTag]*LayoutRule
	mutex sync.RWMutex
}

// NewRegistry creates an empty layout registry.
func NewRegistry() *Registry {
	return &Registry{
		rules: make(map[TypeTag]*LayoutRule),
	}
}

// Register associates a rule with a tag. Registering an already-known tag
// fails with DuplicateTagError and leaves the existing rule in place.
func (r *Registry) Register(tag TypeTag, rule *LayoutRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid layout for tag %s: %w", tag, err)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.rules[tag]; ok {
		return &DuplicateTagError{Tag: tag}
	}

	r.rules[tag] = rule
	return nil
}

// Lookup retrieves the rule for a tag. A missing tag is not an error: callers
// render unknown tags as opaque raw pointers.
func (r *Registry) Lookup(tag TypeTag) (*LayoutRule, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	rule, ok := r.rules[tag]
	return rule, ok
}

// Tags returns all registered tags in ascending order.
func (r *Registry) Tags() []TypeTag {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	tags := make([]TypeTag, 0, len(r.rules))
	for tag := range r.rules {
		tags = append(tags, tag)
	}

	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}

// Len returns the number of registered layouts.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.rules)
}
