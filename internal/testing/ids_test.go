package testing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPairsWithFirst(t *testing.T) {
	pairs := PairsWithFirst([]int64{0, 1, 2, 3})
	require.Equal(t, [][2]int64{{0, 1}, {0, 2}, {0, 3}}, pairs)
	require.Nil(t, PairsWithFirst([]int64{1}))
}

func TestReverseIDs(t *testing.T) {
	ids := []int64{1, 2, 3}
	require.Equal(t, []int64{3, 2, 1}, ReverseIDs(ids))
	require.Equal(t, []int64{1, 2, 3}, ids)
}
