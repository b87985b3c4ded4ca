package termtable

import (
	"testing"

	"github.com/bitfunnel/bfcore/bitfunnelpb"
	"github.com/stretchr/testify/require"
)

func TestSystemRowsRegisteredAtConstruction(t *testing.T) {
	tt := New()
	tt.Seal()

	for _, hash := range []uint64{
		bitfunnelpb.SoftDeletedRowHash,
		bitfunnelpb.MatchAllRowHash,
		bitfunnelpb.MatchNoneRowHash,
	} {
		kind, _, length := tt.GetTermInfo(bitfunnelpb.Term{RawHash: hash})
		require.Equal(t, Explicit, kind)
		require.Equal(t, 1, length)
	}
}

func TestExplicitTermRoundTrip(t *testing.T) {
	tt := New()
	tt.OpenTerm()
	tt.AddRowId(bitfunnelpb.NewRowId(0, 10, false))
	tt.AddRowId(bitfunnelpb.NewRowId(1, 2, false))
	tt.CloseTerm(42)
	tt.Seal()

	kind, start, length := tt.GetTermInfo(bitfunnelpb.Term{RawHash: 42})
	require.Equal(t, Explicit, kind)
	require.Equal(t, 2, length)
	rows := tt.RowIds()[start : start+length]
	require.Equal(t, bitfunnelpb.NewRowId(0, 10, false), rows[0])
	require.Equal(t, bitfunnelpb.NewRowId(1, 2, false), rows[1])
}

func TestDuplicateCloseTermPanics(t *testing.T) {
	tt := New()
	tt.OpenTerm()
	tt.CloseTerm(42)

	require.Panics(t, func() {
		tt.OpenTerm()
		tt.CloseTerm(42)
	})
}

func TestGetTermInfoBeforeSealPanics(t *testing.T) {
	tt := New()
	require.Panics(t, func() {
		tt.GetTermInfo(bitfunnelpb.Term{RawHash: 1})
	})
}

func TestSetRowCountsAfterSealPanics(t *testing.T) {
	tt := New()
	tt.Seal()
	require.Panics(t, func() {
		tt.SetRowCounts(0, 1, 0)
	})
}

func TestFactRowIsPrivateAndStable(t *testing.T) {
	tt := New()
	hash, id := tt.AddFactRow(2)
	tt.Seal()

	kind, start, length := tt.GetTermInfo(bitfunnelpb.Term{RawHash: hash})
	require.Equal(t, Fact, kind)
	require.Equal(t, 1, length)
	require.Equal(t, id, tt.RowIds()[start])
	require.Equal(t, bitfunnelpb.Rank(2), id.Rank())
}

func TestAdhocTermResolvesToConfiguredPool(t *testing.T) {
	tt := New()
	tt.OpenAdhocTerm(1)
	tt.CloseAdhocTerm()
	tt.SetRowCounts(1, 0, 64)
	tt.Seal()

	kind, _, length := tt.GetTermInfo(bitfunnelpb.Term{RawHash: 9999})
	require.Equal(t, Adhoc, kind)
	require.Equal(t, 64, length)
}

func TestAdhocRowIsDeterministicAcrossCalls(t *testing.T) {
	tt := New()
	tt.OpenAdhocTerm(1)
	tt.CloseAdhocTerm()
	tt.SetRowCounts(1, 0, 64)
	tt.Seal()

	const hash = uint64(0xC0FFEE)
	for slot := 0; slot < 16; slot++ {
		first := tt.AdhocRow(hash, slot)
		second := tt.AdhocRow(hash, slot)
		require.Equal(t, first, second)
		require.True(t, first.IsAdhoc())
		require.Equal(t, bitfunnelpb.Rank(1), first.Rank())
	}
}

func TestAdhocRowVariesAcrossSlots(t *testing.T) {
	tt := New()
	tt.OpenAdhocTerm(0)
	tt.CloseAdhocTerm()
	tt.SetRowCounts(0, 0, 1024)
	tt.Seal()

	seen := map[bitfunnelpb.RowId]bool{}
	const hash = uint64(7)
	for slot := 0; slot < 32; slot++ {
		seen[tt.AdhocRow(hash, slot)] = true
	}
	require.Greater(t, len(seen), 1)
}

func TestOnlyOneAdhocPoolAllowed(t *testing.T) {
	tt := New()
	tt.OpenAdhocTerm(0)
	tt.CloseAdhocTerm()

	require.Panics(t, func() {
		tt.OpenAdhocTerm(1)
	})
}

func TestDisposedTermReportsZeroLength(t *testing.T) {
	tt := New()
	tt.OpenTerm()
	tt.AddRowId(bitfunnelpb.NewRowId(0, 5, false))
	tt.CloseTerm(77)
	tt.DisposeTerm(77)
	tt.Seal()

	kind, _, length := tt.GetTermInfo(bitfunnelpb.Term{RawHash: 77})
	require.Equal(t, Disposed, kind)
	require.Zero(t, length)
}

func TestUnknownHashWithNoAdhocPoolIsDisposed(t *testing.T) {
	tt := New()
	tt.Seal()

	kind, _, length := tt.GetTermInfo(bitfunnelpb.Term{RawHash: 0xDEAD})
	require.Equal(t, Disposed, kind)
	require.Zero(t, length)
}

func TestGetTotalRowCount(t *testing.T) {
	tt := New()
	tt.OpenTerm()
	tt.AddRowId(bitfunnelpb.NewRowId(0, 3, false))
	tt.CloseTerm(100)
	tt.AddFactRow(0)
	tt.OpenAdhocTerm(0)
	tt.CloseAdhocTerm()
	tt.SetRowCounts(0, 0, 8)
	tt.Seal()

	// 3 system rows (indices 0-2) + 1 explicit (index 3) + 1 fact
	// (index 4) + 8 adhoc rows (indices 5-12) = 13 total rows.
	require.Equal(t, bitfunnelpb.RowIndex(13), tt.GetTotalRowCount(0))
	require.Zero(t, tt.GetTotalRowCount(5))
}

func TestStableRowIdSequenceAcrossRepeatedGetTermInfo(t *testing.T) {
	tt := New()
	tt.OpenTerm()
	tt.AddRowId(bitfunnelpb.NewRowId(0, 1, false))
	tt.AddRowId(bitfunnelpb.NewRowId(0, 2, false))
	tt.CloseTerm(55)
	tt.Seal()

	term := bitfunnelpb.Term{RawHash: 55}
	kind0, start0, length0 := tt.GetTermInfo(term)
	for i := 0; i < 10; i++ {
		kind, start, length := tt.GetTermInfo(term)
		require.Equal(t, kind0, kind)
		require.Equal(t, start0, start)
		require.Equal(t, length0, length)
	}
}
