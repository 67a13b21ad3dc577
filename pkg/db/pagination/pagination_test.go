package pagination

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

type row struct{ id int }

func rows(n int) []*row {
	out := make([]*row, 0, n)
	for i := n; i > 0; i-- {
		out = append(out, &row{id: i})
	}
	return out
}

func TestTrimWithMore(t *testing.T) {
	data, info := Trim(rows(4), 3, func(r *row) string { return strconv.Itoa(r.id) })

	require.Len(t, data, 3)
	require.True(t, info.HasMore)

	cursor, err := DecodeCursor(info.NextCursor)
	require.NoError(t, err)
	require.Equal(t, "2", cursor.ID)
}

func TestTrimLastPage(t *testing.T) {
	data, info := Trim(rows(2), 3, func(r *row) string { return strconv.Itoa(r.id) })

	require.Len(t, data, 2)
	require.False(t, info.HasMore)
	require.Empty(t, info.NextCursor)
}

func TestDecodeCursorInvalid(t *testing.T) {
	_, err := DecodeCursor("%%%")
	require.Error(t, err)
}
