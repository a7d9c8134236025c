package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateRejectsDuplicateStream(t *testing.T) {
	reg := NewRegistry(Deps{Clock: &fakeClock{}})

	first, err := reg.Create("MZ1", "CA1", &fakeTelephony{})
	require.NoError(t, err)

	_, err = reg.Create("MZ1", "CA2", &fakeTelephony{})
	assert.ErrorIs(t, err, ErrDuplicateStream)

	got, ok := reg.Get("MZ1")
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	reg := NewRegistry(Deps{Clock: &fakeClock{}})
	_, err := reg.Create("MZ1", "CA1", &fakeTelephony{})
	require.NoError(t, err)

	reg.Remove("MZ1")
	reg.Remove("MZ1")
	reg.Remove("never-existed")
	assert.Zero(t, reg.Len())
}

func TestRegistry_StaleSessionCleanupKeepsReplacement(t *testing.T) {
	reg := NewRegistry(Deps{Clock: &fakeClock{}})
	old, err := reg.Create("MZ1", "CA1", &fakeTelephony{})
	require.NoError(t, err)
	reg.Remove("MZ1")

	replacement, err := reg.Create("MZ1", "CA1", &fakeTelephony{})
	require.NoError(t, err)

	old.Close(ReasonTelephonyClosed)

	got, ok := reg.Get("MZ1")
	require.True(t, ok)
	assert.Same(t, replacement, got)
}

func TestRegistry_FindByCallSIDAndSnapshot(t *testing.T) {
	reg := NewRegistry(Deps{Clock: &fakeClock{}})
	_, err := reg.Create("MZ1", "CA1", &fakeTelephony{})
	require.NoError(t, err)
	s2, err := reg.Create("MZ2", "CA2", &fakeTelephony{})
	require.NoError(t, err)
	s2.JoinCallInfo("+1555", "+1777")

	found, ok := reg.FindByCallSID("CA2")
	require.True(t, ok)
	assert.Same(t, s2, found)
	_, ok = reg.FindByCallSID("")
	assert.False(t, ok)

	infos := reg.Snapshot()
	assert.Len(t, infos, 2)
	for _, info := range infos {
		if info.StreamSID == "MZ2" {
			assert.Equal(t, "+1555", info.From)
			assert.Equal(t, StateConnected, info.State)
		}
	}
}

func TestRegistry_BroadcastModelEventReachesLiveModels(t *testing.T) {
	reg := NewRegistry(Deps{Clock: &fakeClock{}})
	withModel, err := reg.Create("MZ1", "CA1", &fakeTelephony{})
	require.NoError(t, err)
	model := &fakeModel{}
	require.NoError(t, withModel.AttachModel(model))
	_, err = reg.Create("MZ2", "CA2", &fakeTelephony{})
	require.NoError(t, err)

	n := reg.BroadcastModelEvent([]byte(`{"type":"session.update","session":{"voice":"verse"}}`))
	assert.Equal(t, 1, n)
	assert.Len(t, model.ofType("session.update"), 2)
}

func TestRegistry_AttachObserverAndCloseAll(t *testing.T) {
	reg := NewRegistry(Deps{Clock: &fakeClock{}})
	_, err := reg.Create("MZ1", "CA1", &fakeTelephony{})
	require.NoError(t, err)

	assert.True(t, reg.AttachObserver("MZ1", &recordingObserver{}))
	assert.False(t, reg.AttachObserver("MZ2", &recordingObserver{}))

	reg.CloseAll(ReasonShutdown)
	assert.Zero(t, reg.Len())
}
