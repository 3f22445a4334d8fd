package rlbridge

import (
	"fmt"
	"sync"
)

// Kind identifies the wire representation and in-memory shape of a channel.
type Kind string

const (
	KindInt     Kind = "int"
	KindFloat   Kind = "float"
	KindBool    Kind = "bool"
	KindIntFold Kind = "int_fold"
	KindNp      Kind = "np"
)

// Channel is the tagged-variant interface every channel kind satisfies.
// Implementations hold their own kind-specific state (fold vector, or
// shape+dtype+mapped region) behind this single surface, matching the
// "polymorphism over channel kinds" note in spec.md §9.
type Channel interface {
	// Name returns the channel's identifier, fixed at construction.
	Name() string
	// Kind returns the channel's declared kind.
	Kind() Kind
	// ShapeDescriptor returns the string form of the constructor arguments
	// used to reconstruct this channel on the remote side, or "" for
	// scalar kinds.
	ShapeDescriptor() string
	// Annotations returns the channel's semantic tag map. Callers must not
	// mutate the returned map.
	Annotations() map[string]string
	// Annotate sets a semantic tag, stringifying the value.
	Annotate(key string, value any)

	// SetValue validates/coerces v and marks the channel dirty.
	SetValue(v any) error
	// Value returns the externally visible (unparsed) representation.
	Value() any

	// Dirty reports whether the channel has been written since the last
	// successful serialize.
	Dirty() bool

	// Serialize produces the on-wire payload and clears the dirty flag.
	Serialize() (any, error)
	// Deserialize applies an incoming payload and clears the dirty flag.
	Deserialize(payload any) error

	// BindBacking attaches the channel to its backing file path. Scalar
	// kinds ignore this; np channels memory-map the file here.
	BindBacking(path string) error
	// Unbind releases any resources BindBacking acquired (e.g. an mmap).
	Unbind() error
}

// baseChannel holds the state common to every channel kind.
type baseChannel struct {
	mu          sync.Mutex
	name        string
	annotations map[string]string
	dirty       bool
}

func newBaseChannel(name string) baseChannel {
	return baseChannel{name: name, annotations: make(map[string]string)}
}

func (c *baseChannel) Name() string { return c.name }

func (c *baseChannel) Annotations() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.annotations))
	for k, v := range c.annotations {
		out[k] = v
	}
	return out
}

func (c *baseChannel) Annotate(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.annotations[key] = stringify(value)
}

func (c *baseChannel) markDirty() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}

func (c *baseChannel) clearDirty() {
	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
}

func (c *baseChannel) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
