package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataScienceBioLab/squirrel/errors"
)

func TestRegisterState(t *testing.T) {
	m := NewStateManager()

	st := NewState("draft", map[string]any{"title": "untitled"})
	require.NoError(t, m.RegisterState(st))

	got, err := m.GetState("draft")
	require.NoError(t, err)
	assert.Equal(t, "draft", got.Name)
	assert.Equal(t, "untitled", got.Data["title"])

	// Registration clones: mutating the original does not leak in.
	st.Set("title", "changed")
	got, err = m.GetState("draft")
	require.NoError(t, err)
	assert.Equal(t, "untitled", got.Data["title"])
}

func TestRegisterState_LastWriteWins(t *testing.T) {
	m := NewStateManager()

	require.NoError(t, m.RegisterState(NewState("draft", map[string]any{"rev": 1})))
	require.NoError(t, m.RegisterState(NewState("draft", map[string]any{"rev": 2})))

	got, err := m.GetState("draft")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Data["rev"])
}

func TestRegisterState_Invalid(t *testing.T) {
	m := NewStateManager()

	err := m.RegisterState(nil)
	assert.ErrorIs(t, err, errors.ErrInvalidState)

	unnamed := NewState("", nil)
	err = m.RegisterState(unnamed)
	assert.ErrorIs(t, err, errors.ErrInvalidState)
}

func TestRegisterTransition_EmptyEndpoints(t *testing.T) {
	m := NewStateManager()

	err := m.RegisterTransition(StateTransition{FromState: "", ToState: "published"})
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)

	err = m.RegisterTransition(StateTransition{FromState: "draft", ToState: ""})
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)
}

// Exercises the documented check order of TransitionState.
func TestTransitionState_CheckOrder(t *testing.T) {
	m := NewStateManager()

	require.NoError(t, m.RegisterState(NewState("draft", nil)))
	require.NoError(t, m.RegisterTransition(StateTransition{FromState: "draft", ToState: "review"}))

	// No edges out of the from-state at all.
	err := m.TransitionState("orphan", "review", nil)
	assert.ErrorIs(t, err, errors.ErrStateNotFound)

	// Edges exist but none lead to the target.
	err = m.TransitionState("draft", "archived", nil)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)

	// Edge exists but the target state itself was never registered.
	err = m.TransitionState("draft", "review", nil)
	assert.ErrorIs(t, err, errors.ErrStateNotFound)

	assert.Empty(t, m.GetHistory())
}

func TestTransitionState_DocumentWorkflow(t *testing.T) {
	m := NewStateManager()

	for _, name := range []string{"draft", "review", "published"} {
		require.NoError(t, m.RegisterState(NewState(name, nil)))
	}
	require.NoError(t, m.RegisterTransition(StateTransition{FromState: "draft", ToState: "review"}))
	require.NoError(t, m.RegisterTransition(StateTransition{FromState: "review", ToState: "published"}))
	require.NoError(t, m.RegisterTransition(StateTransition{FromState: "review", ToState: "draft"}))

	require.NoError(t, m.TransitionState("draft", "review", map[string]any{"actor": "alice"}))
	require.NoError(t, m.TransitionState("review", "published", nil))

	// Publishing directly from draft is not a registered edge.
	err := m.TransitionState("draft", "published", nil)
	assert.ErrorIs(t, err, errors.ErrInvalidTransition)

	history := m.GetHistory()
	require.Len(t, history, 2)
	assert.Equal(t, "draft", history[0].FromState)
	assert.Equal(t, "review", history[0].ToState)
	assert.Equal(t, "alice", history[0].Metadata["actor"])
	assert.Equal(t, "published", history[1].ToState)
	assert.False(t, history[1].Timestamp.Before(history[0].Timestamp))
}

func TestGetValidTransitions(t *testing.T) {
	m := NewStateManager()

	require.NoError(t, m.RegisterTransition(StateTransition{FromState: "review", ToState: "published"}))
	require.NoError(t, m.RegisterTransition(StateTransition{FromState: "review", ToState: "draft"}))

	edges := m.GetValidTransitions("review")
	require.Len(t, edges, 2)
	assert.Equal(t, "published", edges[0].ToState)
	assert.Equal(t, "draft", edges[1].ToState)

	assert.Empty(t, m.GetValidTransitions("published"))
}

func TestGetState_NotFound(t *testing.T) {
	m := NewStateManager()

	_, err := m.GetState("missing")
	assert.ErrorIs(t, err, errors.ErrStateNotFound)
}

func TestStateManager_ConcurrentTransitions(t *testing.T) {
	m := NewStateManager()

	require.NoError(t, m.RegisterState(NewState("a", nil)))
	require.NoError(t, m.RegisterState(NewState("b", nil)))
	require.NoError(t, m.RegisterTransition(StateTransition{FromState: "a", ToState: "b"}))
	require.NoError(t, m.RegisterTransition(StateTransition{FromState: "b", ToState: "a"}))

	const iterations = 50
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			require.NoError(t, m.TransitionState("a", "b", nil))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			require.NoError(t, m.TransitionState("b", "a", nil))
		}
	}()
	wg.Wait()

	assert.Len(t, m.GetHistory(), 2*iterations)
}

func TestStateVersioning(t *testing.T) {
	st := NewState("doc", map[string]any{"k": "v"})
	assert.Equal(t, uint64(1), st.Version)

	st.Set("k", "v2")
	assert.Equal(t, uint64(2), st.Version)
	assert.False(t, st.Persisted())

	st.Update(map[string]any{"a": 1, "b": 2})
	assert.Equal(t, uint64(3), st.Version)
	assert.Equal(t, 1, st.Data["a"])
	assert.Equal(t, "v2", st.Data["k"])
}

func TestStateClone_Independent(t *testing.T) {
	st := NewState("doc", map[string]any{"k": "v"})
	st.Metadata = map[string]any{"owner": "alice"}

	clone := st.Clone()
	clone.Data["k"] = "other"
	clone.Metadata["owner"] = "bob"

	assert.Equal(t, "v", st.Data["k"])
	assert.Equal(t, "alice", st.Metadata["owner"])
	assert.Equal(t, st.ID, clone.ID)
	assert.Equal(t, st.Version, clone.Version)
}
