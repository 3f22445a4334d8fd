package rlbridge

import (
	"fmt"
)

// IntFoldChannel packs a vector of small non-negative integers, each bounded
// by its own fold, into a single folded integer:
//
//	folded = Σ_i v_i · Π_{j<i} folds_j
//
// It is used for compact MultiBinary spaces with n < 64 (spec.md §6).
type IntFoldChannel struct {
	baseChannel
	folds   []int64 // folds[i] is the exclusive upper bound for element i
	strides []int64 // strides[i] = Π_{j<i} folds[j]
	value   int64   // folded representation; this is what crosses the wire
}

// NewIntFoldChannel constructs an unbound int_fold channel for the given
// per-element fold bounds.
func NewIntFoldChannel(name string, folds []int64) *IntFoldChannel {
	strides := make([]int64, len(folds))
	stride := int64(1)
	for i, f := range folds {
		strides[i] = stride
		stride *= f
	}
	return &IntFoldChannel{
		baseChannel: newBaseChannel(name),
		folds:       append([]int64(nil), folds...),
		strides:     strides,
	}
}

func (c *IntFoldChannel) Kind() Kind { return KindIntFold }

// ShapeDescriptor renders the fold vector as a tuple literal, e.g. "(2, 2, 2)".
func (c *IntFoldChannel) ShapeDescriptor() string {
	return FormatFoldDescriptor(c.folds)
}

// Folds returns a copy of the configured fold bounds.
func (c *IntFoldChannel) Folds() []int64 { return append([]int64(nil), c.folds...) }

// parse folds an external vector into the internal representation. Each
// element is first reduced modulo its own fold, tolerating out-of-range
// inputs, then recombined with the channel's strides.
func (c *IntFoldChannel) parse(vec []int64) (int64, error) {
	if len(vec) != len(c.folds) {
		return 0, fmt.Errorf("int_fold channel %q: expected %d elements, got %d", c.name, len(c.folds), len(vec))
	}
	var folded int64
	for i, v := range vec {
		m := v % c.folds[i]
		if m < 0 {
			m += c.folds[i]
		}
		folded += m * c.strides[i]
	}
	return folded, nil
}

// unparse unfolds the internal integer back into the external vector.
func (c *IntFoldChannel) unparse(folded int64) []int64 {
	out := make([]int64, len(c.folds))
	for i := range c.folds {
		out[i] = (folded / c.strides[i]) % c.folds[i]
	}
	return out
}

func (c *IntFoldChannel) SetValue(v any) error {
	vec, err := toInt64Slice(v)
	if err != nil {
		return err
	}
	folded, err := c.parse(vec)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.value = folded
	c.mu.Unlock()
	c.markDirty()
	return nil
}

func (c *IntFoldChannel) Value() any {
	c.mu.Lock()
	folded := c.value
	c.mu.Unlock()
	return c.unparse(folded)
}

// Serialize transmits the folded integer alone (spec.md §4.1).
func (c *IntFoldChannel) Serialize() (any, error) {
	c.mu.Lock()
	v := c.value
	c.mu.Unlock()
	c.clearDirty()
	return v, nil
}

func (c *IntFoldChannel) Deserialize(payload any) error {
	n, err := coerceInt(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.value = n
	c.mu.Unlock()
	c.clearDirty()
	return nil
}

func (c *IntFoldChannel) BindBacking(string) error { return nil }
func (c *IntFoldChannel) Unbind() error            { return nil }

func toInt64Slice(v any) ([]int64, error) {
	switch x := v.(type) {
	case []int64:
		return x, nil
	case []int:
		out := make([]int64, len(x))
		for i, e := range x {
			out[i] = int64(e)
		}
		return out, nil
	case []float64:
		out := make([]int64, len(x))
		for i, e := range x {
			out[i] = int64(e)
		}
		return out, nil
	case []any:
		out := make([]int64, len(x))
		for i, e := range x {
			n, err := coerceInt(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("int_fold channel: cannot coerce %T to []int64", v)
	}
}
