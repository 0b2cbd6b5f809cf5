package ninedoor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubTailReturnsSeededLines(t *testing.T) {
	s := NewStub()
	s.SetLines("/log/queen.log", []string{"boot ok", "pump running"})

	lines, err := s.Tail("/log/queen.log", 0, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"boot ok", "pump running"}, lines)
}

func TestStubTailHonorsOffset(t *testing.T) {
	s := NewStub()
	s.SetLines("/log/queen.log", []string{"boot ok", "pump running"})

	lines, err := s.Tail("/log/queen.log", uint64(len("boot ok")), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"pump running"}, lines)

	lines, err = s.Tail("/log/queen.log", uint64(len("boot ok")+len("pump running")), nil)
	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestStubEchoAppendsAndRecords(t *testing.T) {
	s := NewStub()
	require.NoError(t, s.Echo("/bus/out", "hello"))
	require.NoError(t, s.Echo("/bus/out", "world"))

	lines, err := s.Cat("/bus/out")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello", "world"}, lines)
	assert.Equal(t, []EchoRecord{{Path: "/bus/out", Payload: "hello"}, {Path: "/bus/out", Payload: "world"}}, s.Echoes())
}

func TestStubFailPathAffectsOnlyThatPath(t *testing.T) {
	s := NewStub()
	s.SetLines("/ok", []string{"fine"})
	s.FailPath("/bad", ErrDetached)

	_, err := s.Cat("/ok")
	require.NoError(t, err)

	_, err = s.Cat("/bad")
	require.ErrorIs(t, err, ErrDetached)
}

func TestStubFailAllOverridesEveryPath(t *testing.T) {
	s := NewStub()
	s.SetLines("/ok", []string{"fine"})
	s.FailAll(ErrDetached)

	_, err := s.Cat("/ok")
	require.ErrorIs(t, err, ErrDetached)
}

func TestStubSpawnAndKillRecordCalls(t *testing.T) {
	s := NewStub()
	require.NoError(t, s.Spawn(`{"image":"worker"}`, nil))
	require.NoError(t, s.Kill("worker-1", nil))

	assert.Equal(t, []string{`{"image":"worker"}`}, s.Spawned())
	assert.Equal(t, []string{"worker-1"}, s.Killed())
}

func TestWrapErrorNilPassesThrough(t *testing.T) {
	assert.Nil(t, WrapError("TAIL", nil))
}

func TestWrapErrorCarriesVerbAndSource(t *testing.T) {
	err := WrapError("TAIL", ErrDetached)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TAIL")
	assert.ErrorIs(t, err, ErrDetached)
}
