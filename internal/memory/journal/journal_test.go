package journal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	Value string `json:"value"`
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir, ShortTermFile)
	require.NoError(t, err)

	require.NoError(t, j.Write(fixture{Value: "hello"}))

	var out fixture
	ok, err := j.Read(&out)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "hello", out.Value)
}

func TestReadMissingFileReturnsNotOK(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir, PerceptualFile)
	require.NoError(t, err)

	var out fixture
	ok, err := j.Read(&out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearRemovesJournalFile(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir, PromotionQueueFile)
	require.NoError(t, err)

	require.NoError(t, j.Write(fixture{Value: "x"}))
	require.NoError(t, j.Clear())

	var out fixture
	ok, err := j.Read(&out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWriteOverwritesPreviousState(t *testing.T) {
	dir := t.TempDir()
	j, err := New(dir, ShortTermFile)
	require.NoError(t, err)

	require.NoError(t, j.Write(fixture{Value: "first"}))
	require.NoError(t, j.Write(fixture{Value: "second"}))

	var out fixture
	ok, err := j.Read(&out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", out.Value)
}
