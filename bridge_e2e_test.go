package rlbridge

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tableEnv replays a fixed action→(observation, reward, done) table, the
// shape spec.md §8 scenarios 1 and 2 (BitEnv, MultiBitEnv) are specified
// against.
type tableEnv struct {
	acSpace, obSpace Space
	steps            map[string]tableStep
}

type tableStep struct {
	obs    []float64
	reward float64
	done   bool
}

func actionKey(action []float64) string {
	ints := make([]int64, len(action))
	for i, v := range action {
		ints[i] = int64(v)
	}
	return fmt.Sprint(ints)
}

func (e *tableEnv) ActionSpace() Space      { return e.acSpace }
func (e *tableEnv) ObservationSpace() Space { return e.obSpace }
func (e *tableEnv) Reset() ([]float64, error) {
	return []float64{0}, nil
}
func (e *tableEnv) Step(action []float64) ([]float64, float64, bool, error) {
	s, ok := e.steps[actionKey(action)]
	if !ok {
		return nil, 0, false, fmt.Errorf("unexpected action %v", action)
	}
	return s.obs, s.reward, s.done, nil
}

// counterEnv is the scenario-3 (Reset) fixture: reward counts timesteps
// since the last reset, and an episode ends the step action=1 is taken.
// Once done, further steps (absent a reset) report the terminal state
// unchanged.
type counterEnv struct {
	steps int64
	done  bool
}

func (e *counterEnv) ActionSpace() Space      { return Space{Kind: SpaceDiscrete, N: 2} }
func (e *counterEnv) ObservationSpace() Space { return Space{Kind: SpaceDiscrete, N: 1} }
func (e *counterEnv) Reset() ([]float64, error) {
	e.steps = 0
	e.done = false
	return []float64{0}, nil
}
func (e *counterEnv) Step(action []float64) ([]float64, float64, bool, error) {
	if e.done {
		return []float64{0}, float64(e.steps), true, nil
	}
	e.steps++
	if len(action) > 0 && action[0] == 1 {
		e.done = true
	}
	return []float64{0}, float64(e.steps), e.done, nil
}

// echoEnv never terminates and never rejects an action; it exists to drive
// the timestep/wall-clock budget scenarios where the environment's own
// logic is irrelevant.
type echoEnv struct{}

func (echoEnv) ActionSpace() Space      { return Space{Kind: SpaceDiscrete, N: 2} }
func (echoEnv) ObservationSpace() Space { return Space{Kind: SpaceDiscrete, N: 2} }
func (echoEnv) Reset() ([]float64, error) { return []float64{0}, nil }
func (echoEnv) Step(action []float64) ([]float64, float64, bool, error) {
	return action, 0, false, nil
}

type serverResult struct {
	ts  int64
	err error
}

func startServer(t *testing.T, dir string, env Environment, opts ServerOptions) <-chan serverResult {
	t.Helper()
	srv, err := NewServer(dir, env)
	require.NoError(t, err)
	ch := make(chan serverResult, 1)
	go func() {
		ts, err := srv.Run(opts)
		ch <- serverResult{ts: ts, err: err}
	}()
	return ch
}

func dialClient(t *testing.T, dir string) *Client {
	t.Helper()
	c, err := Dial(dir, WithConnectTries(100), WithConnectBackoff(5*time.Millisecond))
	require.NoError(t, err)
	return c
}

func taxonomyID(t *testing.T, err error) ErrorID {
	t.Helper()
	te, ok := err.(*TaxonomyError)
	require.Truef(t, ok, "expected *TaxonomyError, got %T: %v", err, err)
	return te.ID()
}

func TestBitEnvScenario(t *testing.T) {
	dir := t.TempDir()
	env := &tableEnv{
		acSpace: Space{Kind: SpaceDiscrete, N: 8},
		obSpace: Space{Kind: SpaceDiscrete, N: 2},
		steps: map[string]tableStep{
			actionKey([]float64{0}): {obs: []float64{0}, reward: 0.0, done: false},
			actionKey([]float64{1}): {obs: []float64{1}, reward: 0.0, done: false},
			actionKey([]float64{2}): {obs: []float64{0}, reward: 2.0, done: false},
			actionKey([]float64{3}): {obs: []float64{1}, reward: 2.0, done: false},
			actionKey([]float64{4}): {obs: []float64{0}, reward: 0.0, done: true},
		},
	}
	startServer(t, dir, env, ServerOptions{})
	client := dialClient(t, dir)

	for i, a := range []float64{0, 1, 2, 3, 4} {
		want := env.steps[actionKey([]float64{a})]
		obs, reward, done, info, err := client.Step([]float64{a})
		require.NoErrorf(t, err, "step %d", i)
		assert.Equal(t, want.obs, obs)
		assert.Equal(t, want.reward, reward)
		assert.Equal(t, want.done, done)
		assert.Empty(t, info)
	}
	require.NoError(t, client.Close())
}

func TestMultiBitEnvScenario(t *testing.T) {
	dir := t.TempDir()
	env := &tableEnv{
		acSpace: Space{Kind: SpaceMultiBinary, N: 3},
		obSpace: Space{Kind: SpaceDiscrete, N: 2},
		steps: map[string]tableStep{
			actionKey([]float64{0, 0, 0}): {obs: []float64{0}, reward: 0, done: false},
			actionKey([]float64{1, 0, 0}): {obs: []float64{1}, reward: 0, done: false},
			actionKey([]float64{0, 1, 0}): {obs: []float64{0}, reward: 1, done: false},
			actionKey([]float64{1, 1, 0}): {obs: []float64{1}, reward: 1, done: false},
			actionKey([]float64{0, 0, 1}): {obs: []float64{0}, reward: 0, done: true},
		},
	}
	startServer(t, dir, env, ServerOptions{})
	client := dialClient(t, dir)

	actions := [][]float64{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0}, {0, 0, 1}}
	for i, a := range actions {
		want := env.steps[actionKey(a)]
		obs, reward, done, _, err := client.Step(a)
		require.NoErrorf(t, err, "step %d", i)
		assert.Equal(t, want.obs, obs)
		assert.Equal(t, want.reward, reward)
		assert.Equal(t, want.done, done)
	}
	require.NoError(t, client.Close())
}

func TestResetScenario(t *testing.T) {
	dir := t.TempDir()
	env := &counterEnv{}
	startServer(t, dir, env, ServerOptions{})
	client := dialClient(t, dir)

	obs, err := client.Reset()
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, obs)

	obs, reward, done, _, err := client.Step([]float64{0})
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, obs)
	assert.Equal(t, 1.0, reward)
	assert.False(t, done)

	_, reward, done, _, err = client.Step([]float64{0})
	require.NoError(t, err)
	assert.Equal(t, 2.0, reward)
	assert.False(t, done)

	_, reward, done, _, err = client.Step([]float64{1})
	require.NoError(t, err)
	assert.Equal(t, 3.0, reward)
	assert.True(t, done)

	// post-terminal step without a reset: reward/done hold steady
	_, reward, done, _, err = client.Step([]float64{0})
	require.NoError(t, err)
	assert.Equal(t, 3.0, reward)
	assert.True(t, done)

	obs, err = client.Reset()
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, obs)

	_, reward, done, _, err = client.Step([]float64{0})
	require.NoError(t, err)
	assert.Equal(t, 1.0, reward, "fresh episode after reset should restart the counter")
	assert.False(t, done)

	require.NoError(t, client.Close())
}

func TestTimestepLimitScenario(t *testing.T) {
	dir := t.TempDir()
	startServer(t, dir, echoEnv{}, ServerOptions{TimestepLimit: 5})
	client := dialClient(t, dir)
	defer client.Close()

	for i := 0; i < 5; i++ {
		_, _, _, _, err := client.Step([]float64{0})
		require.NoErrorf(t, err, "step %d should succeed within the timestep budget", i)
	}

	_, _, _, _, err := client.Step([]float64{0})
	require.Error(t, err)
	assert.Equal(t, ErrIDTimestepTimeout, taxonomyID(t, err))
}

func TestWallClockLimitScenario(t *testing.T) {
	dir := t.TempDir()
	startServer(t, dir, echoEnv{}, ServerOptions{WallClockLimit: 100 * time.Millisecond})
	client := dialClient(t, dir)
	defer client.Close()

	_, _, _, _, err := client.Step([]float64{0})
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)

	_, _, _, _, err = client.Step([]float64{0})
	require.Error(t, err)
	assert.Equal(t, ErrIDWallClockTimeout, taxonomyID(t, err))
}

func TestIgnoreResetScenario(t *testing.T) {
	dir := t.TempDir()
	env := &counterEnv{}
	startServer(t, dir, env, ServerOptions{IgnoreReset: true})
	client := dialClient(t, dir)
	defer client.Close()

	// the server starts with no episode in progress, so under IgnoreReset a
	// step before the first reset would itself be ill-timed.
	obs, err := client.Reset()
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, obs)

	_, _, done, _, err := client.Step([]float64{0})
	require.NoError(t, err)
	assert.False(t, done)

	_, _, done, _, err = client.Step([]float64{1})
	require.NoError(t, err)
	assert.True(t, done)

	// another step without a reset: the server rejects it as ill-timed and
	// reports ResetError without closing the session.
	_, _, _, _, err = client.Step([]float64{0})
	require.Error(t, err)
	assert.Equal(t, ErrIDReset, taxonomyID(t, err))

	// the server also resent its current outputs as a separate update
	// alongside the exception; drain it before continuing the ping-pong.
	require.NoError(t, client.bridge.Recv())

	obs, err = client.Reset()
	require.NoError(t, err)
	assert.Equal(t, []float64{0}, obs)

	_, reward, done, _, err := client.Step([]float64{0})
	require.NoError(t, err, "session must continue normally after a non-terminal ResetError")
	assert.Equal(t, 1.0, reward)
	assert.False(t, done)
}
