package rlbridge

import "fmt"

// NpChannel is a dense N-dimensional array channel. Its value is stored in
// the memory-mapped region: writes encode into the map, reads decode a
// fresh []float64 copy of it (no view of the map is handed out), and
// serialization over the socket carries only the boolean presence
// sentinel `true` — the payload itself moves through the shared file
// (spec.md §3, §4.1).
type NpChannel struct {
	baseChannel
	shape     []int64
	dtypeCode string
	dt        dtypeInfo
	elemCount int64

	owner   bool // true on the side that creates/truncates the backing file
	mapping *mappedFile
}

// NewNpChannel constructs an unbound np channel. owner must be true on the
// side responsible for pre-sizing the backing file (the server); false on
// the side that opens a file the peer already created (the client).
func NewNpChannel(name string, shape []int64, dtypeCode string, owner bool) (*NpChannel, error) {
	dt, err := parseDtypeInfo(dtypeCode)
	if err != nil {
		return nil, err
	}
	count := int64(1)
	for _, d := range shape {
		count *= d
	}
	return &NpChannel{
		baseChannel: newBaseChannel(name),
		shape:       append([]int64(nil), shape...),
		dtypeCode:   dtypeCode,
		dt:          dt,
		elemCount:   count,
		owner:       owner,
	}, nil
}

func (c *NpChannel) Kind() Kind { return KindNp }

// Shape returns a copy of the channel's dimension vector.
func (c *NpChannel) Shape() []int64 { return append([]int64(nil), c.shape...) }

// ElementSize returns the per-element byte width implied by the dtype.
func (c *NpChannel) ElementSize() int { return c.dt.width }

func (c *NpChannel) ShapeDescriptor() string {
	return FormatNpDescriptor(c.shape, c.dtypeCode)
}

// BindBacking opens (and, if owner, pre-sizes) the backing file at path and
// memory-maps it. Must be called before the first SetValue/Value.
func (c *NpChannel) BindBacking(path string) error {
	size := c.elemCount * int64(c.dt.width)
	m, err := openMapped(path, size, c.owner)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.mapping = m
	c.mu.Unlock()
	return nil
}

func (c *NpChannel) Unbind() error {
	c.mu.Lock()
	m := c.mapping
	c.mapping = nil
	c.mu.Unlock()
	if m == nil {
		return nil
	}
	return m.close()
}

// SetValue copies v elementwise into the mapped region and marks the
// channel dirty. v must have exactly as many entries as the shape's
// element count.
func (c *NpChannel) SetValue(v any) error {
	vals, err := toFloat64Slice(v)
	if err != nil {
		return err
	}
	if int64(len(vals)) != c.elemCount {
		return fmt.Errorf("np channel %q: expected %d elements, got %d", c.name, c.elemCount, len(vals))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mapping == nil {
		return fmt.Errorf("np channel %q: not bound to a backing file", c.name)
	}
	for i, f := range vals {
		c.dt.putElement(c.mapping.data, i, f)
	}
	c.dirty = true
	return nil
}

// Value returns a freshly decoded copy of the mapped region's contents.
func (c *NpChannel) Value() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mapping == nil {
		return nil
	}
	out := make([]float64, c.elemCount)
	for i := range out {
		out[i] = c.dt.getElement(c.mapping.data, i)
	}
	return out
}

// Serialize transmits only the presence sentinel; the payload already
// moved through the memory map (spec.md §4.1).
func (c *NpChannel) Serialize() (any, error) {
	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
	return true, nil
}

// Deserialize is a no-op beyond clearing dirty: the peer's write already
// landed in the shared mapping before it sent the presence sentinel.
func (c *NpChannel) Deserialize(payload any) error {
	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
	return nil
}

func toFloat64Slice(v any) ([]float64, error) {
	switch x := v.(type) {
	case []float64:
		return x, nil
	case []int64:
		out := make([]float64, len(x))
		for i, e := range x {
			out[i] = float64(e)
		}
		return out, nil
	case []any:
		out := make([]float64, len(x))
		for i, e := range x {
			f, err := coerceFloat(e)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("np channel: cannot coerce %T to []float64", v)
	}
}
