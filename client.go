package rlbridge

import (
	"fmt"
)

// Client drives step/reset cycles against a server's rendezvous directory
// (spec.md §4.7).
type Client struct {
	bridge *Bridge

	ac      Channel
	ob      Channel
	reward  Channel
	doneCh  Channel
	resetCh Channel
}

// Dial connects to the rendezvous directory at dir with exponential
// backoff: up to cfg.connectTries attempts, delay doubling from
// cfg.connectBackoff, retrying only while the rendezvous socket does not
// yet exist (spec.md §4.7).
func Dial(dir string, opts ...Option) (*Client, error) {
	b := NewClientBridge(dir, opts...)

	err := retryWithBackoff(b.cfg.connectTries, b.cfg.connectBackoff, errSockNotReady, b.Connect)
	if err != nil {
		return nil, fmt.Errorf("rlbridge: connect to %s: %w", dir, err)
	}

	c := &Client{bridge: b}
	var ok bool
	if c.ac, ok = b.Channel(ChannelAction); !ok {
		return nil, fmt.Errorf("rlbridge: server description is missing channel %q", ChannelAction)
	}
	if c.ob, ok = b.Channel(ChannelObservation); !ok {
		return nil, fmt.Errorf("rlbridge: server description is missing channel %q", ChannelObservation)
	}
	if c.reward, ok = b.Channel(ChannelReward); !ok {
		return nil, fmt.Errorf("rlbridge: server description is missing channel %q", ChannelReward)
	}
	if c.doneCh, ok = b.Channel(ChannelDone); !ok {
		return nil, fmt.Errorf("rlbridge: server description is missing channel %q", ChannelDone)
	}
	if c.resetCh, ok = b.Channel(ChannelReset); !ok {
		return nil, fmt.Errorf("rlbridge: server description is missing channel %q", ChannelReset)
	}
	return c, nil
}

// Bridge exposes the underlying Bridge, e.g. for SessionID() or Close.
func (c *Client) Bridge() *Bridge { return c.bridge }

// ActionSpace reconstructs the action space the server described, via the
// annotations Wrap attached to the action channel.
func (c *Client) ActionSpace() (Space, error) { return Unwrap(c.ac) }

// ObservationSpace reconstructs the observation space the server described.
func (c *Client) ObservationSpace() (Space, error) { return Unwrap(c.ob) }

// Step writes action into the ac channel, sends an update, waits for the
// server's reply, and returns the resulting observation, reward, and done
// flag (spec.md §4.7). info is always empty: the protocol carries no
// sideband metadata channel.
func (c *Client) Step(action []float64) (obs []float64, reward float64, done bool, info map[string]any, err error) {
	if err = setChannelFromObservation(c.ac, action); err != nil {
		return nil, 0, false, nil, err
	}
	if err = c.bridge.Send(); err != nil {
		return nil, 0, false, nil, err
	}
	if err = c.bridge.Recv(); err != nil {
		return nil, 0, false, nil, err
	}
	obs = toActionSlice(c.ob.Value())
	reward, _ = coerceFloat(c.reward.Value())
	done, _ = coerceBool(c.doneCh.Value())
	return obs, reward, done, map[string]any{}, nil
}

// Reset sets the reset channel, sends an update, waits for the server's
// reply, and returns the fresh episode's initial observation (spec.md
// §4.7).
func (c *Client) Reset() (obs []float64, err error) {
	if err := c.resetCh.SetValue(true); err != nil {
		return nil, err
	}
	if err := c.bridge.Send(); err != nil {
		return nil, err
	}
	if err := c.bridge.Recv(); err != nil {
		return nil, err
	}
	return toActionSlice(c.ob.Value()), nil
}

// Close tears down the client's half of the bridge.
func (c *Client) Close() error { return c.bridge.Close(reasonClientClosed, nil) }

const reasonClientClosed = "client closed"
