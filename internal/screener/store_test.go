package screener

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/quantk/internal/rpc"
	"github.com/wonny/quantk/pkg/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(t.TempDir(), logger.NewNop())
}

func TestStoreRoundTripVerbatim(t *testing.T) {
	s := newTestStore(t)

	// conditions are persisted as raw DSL source, not the parsed form
	conditions := []string{"PER<10", "시총>1조", "  배당률 > 3%  "}
	_, err := s.Save("value_picks", conditions)
	require.NoError(t, err)

	loaded, err := s.Load("value_picks")
	require.NoError(t, err)
	assert.Equal(t, "value_picks", loaded.Name)
	assert.Equal(t, conditions, loaded.Conditions)
	assert.NotEmpty(t, loaded.Created)
}

func TestStoreOverwrite(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Save("mine", []string{"PER<10"})
	require.NoError(t, err)
	_, err = s.Save("mine", []string{"PBR<1"})
	require.NoError(t, err)

	loaded, err := s.Load("mine")
	require.NoError(t, err)
	assert.Equal(t, []string{"PBR<1"}, loaded.Conditions)
}

func TestStoreLoadUnknownName(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load("nope")
	var rpcErr *rpc.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpc.CodeScreenError, rpcErr.Code)
}

func TestStoreRejectsBadNames(t *testing.T) {
	s := newTestStore(t)

	for _, name := range []string{"", "../escape", "a/b", `a\b`} {
		_, err := s.Save(name, []string{"PER<10"})
		var rpcErr *rpc.Error
		require.ErrorAs(t, err, &rpcErr, "%q", name)
		assert.Equal(t, rpc.CodeScreenError, rpcErr.Code, "%q", name)
	}
}

func TestStoreList(t *testing.T) {
	s := newTestStore(t)

	names, err := s.List()
	require.NoError(t, err)
	assert.Empty(t, names)

	_, err = s.Save("beta", []string{"PER<10"})
	require.NoError(t, err)
	_, err = s.Save("alpha", []string{"PBR<1"})
	require.NoError(t, err)

	names, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, names)
}
