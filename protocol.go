package rlbridge

import (
	"encoding/json"
	"fmt"
)

// describeEntry is one channel's entry in a description message's content:
// a [kind, shape_descriptor|null, annotations] triple (spec.md §6), encoded
// as a 3-element JSON array rather than an object.
type describeEntry struct {
	Kind        Kind
	Shape       *string
	Annotations map[string]string
}

func (d describeEntry) MarshalJSON() ([]byte, error) {
	var shapeVal any
	if d.Shape != nil {
		shapeVal = *d.Shape
	}
	arr := [3]any{d.Kind, shapeVal, d.Annotations}
	return json.Marshal(arr)
}

func (d *describeEntry) UnmarshalJSON(data []byte) error {
	var arr [3]json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("description entry: %w", err)
	}
	if err := json.Unmarshal(arr[0], &d.Kind); err != nil {
		return fmt.Errorf("description entry kind: %w", err)
	}
	var rawShape any
	if err := json.Unmarshal(arr[1], &rawShape); err != nil {
		return fmt.Errorf("description entry shape: %w", err)
	}
	if rawShape != nil {
		s, ok := rawShape.(string)
		if !ok {
			return fmt.Errorf("description entry shape: expected string or null, got %T", rawShape)
		}
		d.Shape = &s
	}
	if err := json.Unmarshal(arr[2], &d.Annotations); err != nil {
		return fmt.Errorf("description entry annotations: %w", err)
	}
	return nil
}

// closeContent is the content of a close message (spec.md §6).
type closeContent struct {
	Reason    *string `json:"reason"`
	Exception *int    `json:"exception,omitempty"`
}

// exceptionContent is the content of an exception message (spec.md §6).
type exceptionContent struct {
	Reason    *string `json:"reason"`
	Exception int     `json:"exception"`
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func errorIDOf(err error) (ErrorID, bool) {
	te, ok := err.(*TaxonomyError)
	if !ok {
		return 0, false
	}
	return te.ID(), true
}

func reasonOf(err error) string {
	if te, ok := err.(*TaxonomyError); ok {
		return te.Reason()
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
