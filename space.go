package rlbridge

import "fmt"

// SpaceKind identifies one of the four action/observation space shapes the
// bridge understands (spec.md §6).
type SpaceKind string

const (
	SpaceDiscrete      SpaceKind = "Discrete"
	SpaceMultiBinary   SpaceKind = "MultiBinary"
	SpaceMultiDiscrete SpaceKind = "MultiDiscrete"
	SpaceBox           SpaceKind = "Box"
)

// Space describes one of an Environment's action/observation spaces, the
// collaborator contract named in spec.md §6.
type Space struct {
	Kind SpaceKind

	// N is the cardinality for Discrete, or the bit-count for MultiBinary.
	N int64
	// Shape is the dimension vector for MultiDiscrete and Box.
	Shape []int64
	// Dtype is the element dtype code for Box (fallback "u1" if the
	// environment names none).
	Dtype string
}

// Wrap maps an environment Space to the channel kind spec.md §6 specifies,
// named name. It does not bind the channel to a backing file; that happens
// when the channel is registered with Bridge.AddChannel. owner must be true
// on the side constructing the session's channel set (the server).
func Wrap(name string, space Space, owner bool) (Channel, error) {
	switch space.Kind {
	case SpaceDiscrete:
		ch := NewIntChannel(name)
		ch.Annotate("type", "Discrete")
		ch.Annotate("n", space.N)
		return ch, nil

	case SpaceMultiBinary:
		if space.N < 64 {
			folds := make([]int64, space.N)
			for i := range folds {
				folds[i] = 2
			}
			ch := NewIntFoldChannel(name, folds)
			ch.Annotate("type", "MultiBinary")
			ch.Annotate("n", space.N)
			return ch, nil
		}
		ch, err := NewNpChannel(name, []int64{space.N}, "u1", owner)
		if err != nil {
			return nil, err
		}
		ch.Annotate("type", "MultiBinary")
		ch.Annotate("n", space.N)
		return ch, nil

	case SpaceMultiDiscrete:
		ch, err := NewNpChannel(name, space.Shape, "<i8", owner)
		if err != nil {
			return nil, err
		}
		ch.Annotate("type", "MultiDiscrete")
		ch.Annotate("shape", formatIntTuple(space.Shape))
		return ch, nil

	case SpaceBox:
		dtype := space.Dtype
		if dtype == "" {
			dtype = "u1"
		}
		ch, err := NewNpChannel(name, space.Shape, dtype, owner)
		if err != nil {
			return nil, err
		}
		ch.Annotate("type", "Box")
		ch.Annotate("shape", formatIntTuple(space.Shape))
		return ch, nil

	default:
		return nil, fmt.Errorf("rlbridge: unsupported space kind %q", space.Kind)
	}
}

// Unwrap reconstructs a Space descriptor from a channel's annotations, the
// inverse of Wrap (used by the client driver to expose ActionSpace/
// ObservationSpace after the handshake — see SPEC_FULL.md §10).
func Unwrap(ch Channel) (Space, error) {
	ann := ch.Annotations()
	kind := SpaceKind(ann["type"])
	switch kind {
	case SpaceDiscrete:
		n, err := parseAnnotationInt(ann, "n")
		if err != nil {
			return Space{}, err
		}
		return Space{Kind: SpaceDiscrete, N: n}, nil

	case SpaceMultiBinary:
		n, err := parseAnnotationInt(ann, "n")
		if err != nil {
			return Space{}, err
		}
		return Space{Kind: SpaceMultiBinary, N: n}, nil

	case SpaceMultiDiscrete:
		np, ok := ch.(*NpChannel)
		if !ok {
			return Space{}, fmt.Errorf("rlbridge: MultiDiscrete annotation on non-np channel %q", ch.Name())
		}
		return Space{Kind: SpaceMultiDiscrete, Shape: np.Shape()}, nil

	case SpaceBox:
		np, ok := ch.(*NpChannel)
		if !ok {
			return Space{}, fmt.Errorf("rlbridge: Box annotation on non-np channel %q", ch.Name())
		}
		return Space{Kind: SpaceBox, Shape: np.Shape(), Dtype: np.dtypeCode}, nil

	default:
		return Space{}, fmt.Errorf("rlbridge: unrecognized space annotation %q on channel %q", ann["type"], ch.Name())
	}
}

func parseAnnotationInt(ann map[string]string, key string) (int64, error) {
	raw, ok := ann[key]
	if !ok {
		return 0, fmt.Errorf("rlbridge: missing %q annotation", key)
	}
	var n int64
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return 0, fmt.Errorf("rlbridge: annotation %q=%q is not an integer", key, raw)
	}
	return n, nil
}
