package rlbridge

import (
	"errors"
	"fmt"
	"time"
)

// Fixed channel names the stepping loop wires to every environment
// regardless of its action/observation space kind (spec.md §4.6, §8
// scenarios 1–6).
const (
	ChannelAction      = "ac"
	ChannelObservation = "ob"
	ChannelReward      = "reward"
	ChannelDone        = "done"
	ChannelReset       = "reset"
)

// ServerOptions configures one run of the stepping loop (spec.md §4.6). Zero
// value for either limit means unbounded, matching the spec's ℕ⁺∪{∞} /
// ℝ⁺∪{∞} domains.
type ServerOptions struct {
	// TimestepLimit bounds the number of steps served. 0 means unbounded.
	TimestepLimit int64
	// WallClockLimit bounds the session's total duration from the start of
	// Run; time spent waiting to accept counts against it. 0 means
	// unbounded.
	WallClockLimit time.Duration
	// IgnoreReset, when true, rejects a reset while an episode is already
	// running and a step while the episode is already done, raising
	// ResetError instead of acting on them.
	IgnoreReset bool
}

// Server drives one rendezvous directory's environment-side session: the
// Bridge, the channels wrapped from the environment's action/observation
// spaces, and the timestep/wall-clock stepping loop.
type Server struct {
	bridge *Bridge
	env    Environment

	ac      Channel
	ob      Channel
	reward  Channel
	doneCh  Channel
	resetCh Channel
}

// NewServer constructs the server's channel set from env's action and
// observation spaces and the three fixed scalar channels the loop needs
// (spec.md §6 wrap rules, §4.6).
func NewServer(dir string, env Environment, opts ...Option) (*Server, error) {
	b := NewServerBridge(dir, opts...)

	ac, err := b.WrapChannel(ChannelAction, env.ActionSpace())
	if err != nil {
		return nil, fmt.Errorf("rlbridge: wrap action space: %w", err)
	}
	ob, err := b.WrapChannel(ChannelObservation, env.ObservationSpace())
	if err != nil {
		return nil, fmt.Errorf("rlbridge: wrap observation space: %w", err)
	}
	reward, err := b.AddChannel(ChannelReward, NewFloatChannel(ChannelReward))
	if err != nil {
		return nil, err
	}
	doneCh, err := b.AddChannel(ChannelDone, NewBoolChannel(ChannelDone))
	if err != nil {
		return nil, err
	}
	resetCh, err := b.AddChannel(ChannelReset, NewBoolChannel(ChannelReset))
	if err != nil {
		return nil, err
	}

	return &Server{
		bridge:  b,
		env:     env,
		ac:      ac,
		ob:      ob,
		reward:  reward,
		doneCh:  doneCh,
		resetCh: resetCh,
	}, nil
}

// Bridge exposes the underlying Bridge, e.g. for SessionID() or a custom
// Close call from a signal handler.
func (s *Server) Bridge() *Bridge { return s.bridge }

// Run binds the listening socket, accepts the one client this rendezvous
// directory supports, and executes the stepping loop described in spec.md
// §4.6 until a terminal condition. It returns the number of timesteps
// served. An accept timeout is not an error: it yields (0, nil).
func (s *Server) Run(opts ServerOptions) (int64, error) {
	if err := s.bridge.Listen(); err != nil {
		return 0, err
	}

	var end time.Time
	hasDeadline := opts.WallClockLimit > 0
	if hasDeadline {
		end = time.Now().Add(opts.WallClockLimit)
	}

	if err := s.bridge.Accept(end); err != nil {
		if errors.Is(err, errAcceptTimeout) {
			return 0, nil
		}
		return 0, err
	}

	done := true // no episode in progress until the first reset
	var ts int64
	unbounded := opts.TimestepLimit <= 0

	for unbounded || ts < opts.TimestepLimit {
		if hasDeadline && !time.Now().Before(end) {
			cause := NewWallClockTimeoutError("wall-clock budget exhausted before next receive")
			s.bridge.cfg.metrics.IncrementTaxonomyError(ErrIDWallClockTimeout)
			_ = s.bridge.Close("wall-clock budget exhausted", cause)
			return ts, cause
		}
		if hasDeadline {
			if err := s.bridge.SetDeadline(end); err != nil {
				return ts, err
			}
		}

		if err := s.bridge.Recv(); err != nil {
			switch {
			case IsTimeout(err):
				cause := NewWallClockTimeoutError("receive timed out")
				s.bridge.cfg.metrics.IncrementTaxonomyError(ErrIDWallClockTimeout)
				_ = s.bridge.Close("wall-clock budget exhausted", cause)
				return ts, cause
			case errors.Is(err, errPeerClosed):
				cause := NewClientDisconnectError("client disconnected mid-session")
				s.bridge.cfg.metrics.IncrementTaxonomyError(ErrIDClientDisconnect)
				_ = s.bridge.Close("client disconnected", cause)
				return ts, cause
			default:
				return ts, err
			}
		}

		wantsReset, _ := coerceBool(s.resetCh.Value())

		switch {
		case wantsReset && opts.IgnoreReset && !done:
			if err := s.bridge.RaiseRemote(NewResetError("reset requested while an episode is already running")); err != nil {
				return ts, err
			}
			s.markOutputsDirty()
			if err := s.bridge.Send(); err != nil {
				return ts, err
			}
			continue // illegal reset does not consume a timestep

		case wantsReset:
			obs, err := s.env.Reset()
			if err != nil {
				return ts, err
			}
			if err := setChannelFromObservation(s.ob, obs); err != nil {
				return ts, err
			}
			if err := s.resetCh.SetValue(false); err != nil {
				return ts, err
			}
			if err := s.reward.SetValue(0.0); err != nil {
				return ts, err
			}
			if err := s.doneCh.SetValue(false); err != nil {
				return ts, err
			}
			done = false
			s.bridge.cfg.metrics.IncrementResetsServed()

		case opts.IgnoreReset && done:
			if err := s.bridge.RaiseRemote(NewResetError("step requested but the episode has already ended")); err != nil {
				return ts, err
			}
			s.markOutputsDirty()
			if err := s.bridge.Send(); err != nil {
				return ts, err
			}
			continue // illegal step does not consume a timestep

		default:
			action := toActionSlice(s.ac.Value())
			obs, reward, stepDone, err := s.env.Step(action)
			if err != nil {
				return ts, err
			}
			if err := setChannelFromObservation(s.ob, obs); err != nil {
				return ts, err
			}
			if err := s.reward.SetValue(reward); err != nil {
				return ts, err
			}
			if err := s.doneCh.SetValue(stepDone); err != nil {
				return ts, err
			}
			done = stepDone
			s.bridge.cfg.metrics.IncrementStepsServed()
		}

		if err := s.bridge.Send(); err != nil {
			return ts, err
		}
		ts++
	}

	cause := NewTimestepTimeoutError("timestep budget exhausted")
	s.bridge.cfg.metrics.IncrementTaxonomyError(ErrIDTimestepTimeout)
	_ = s.bridge.Close("timestep budget exhausted", cause)
	return ts, cause
}

// markOutputsDirty re-marks the observation/reward/done channels dirty
// without changing their value, so a Send after a non-terminal exception
// still retransmits the session's current outputs (spec.md §4.6 step 4).
func (s *Server) markOutputsDirty() {
	_ = s.ob.SetValue(s.ob.Value())
	_ = s.reward.SetValue(s.reward.Value())
	_ = s.doneCh.SetValue(s.doneCh.Value())
}

// setChannelFromObservation writes an environment observation into ch,
// narrowing to a single value for scalar channel kinds.
func setChannelFromObservation(ch Channel, obs []float64) error {
	switch ch.Kind() {
	case KindInt, KindFloat, KindBool:
		if len(obs) == 0 {
			return fmt.Errorf("rlbridge: empty observation for scalar channel %q", ch.Name())
		}
		return ch.SetValue(obs[0])
	default:
		return ch.SetValue(obs)
	}
}

// toActionSlice widens a channel's externally visible value to the
// []float64 shape Environment.Step expects, regardless of which channel
// kind carries the action.
func toActionSlice(v any) []float64 {
	switch x := v.(type) {
	case []float64:
		return x
	case []int64:
		out := make([]float64, len(x))
		for i, e := range x {
			out[i] = float64(e)
		}
		return out
	case int64:
		return []float64{float64(x)}
	case float64:
		return []float64{x}
	case bool:
		if x {
			return []float64{1}
		}
		return []float64{0}
	default:
		return nil
	}
}
