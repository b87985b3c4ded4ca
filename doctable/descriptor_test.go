package doctable

import (
	"bytes"
	"testing"

	"github.com/bitfunnel/bfcore/bitfunnelpb"
	"github.com/stretchr/testify/require"
)

func testSchema() Schema {
	return Schema{
		FixedBlobSizes:    []uint32{4, 2},
		VariableBlobCount: 2,
	}
}

func TestDocIdRoundTrip(t *testing.T) {
	schema := testSchema()
	const capacity = bitfunnelpb.DocIndex(16)
	d := NewDescriptor(schema, capacity, 0)
	buf := make([]byte, d.TableBytes())

	d.SetDocId(buf, 3, bitfunnelpb.DocId(0xdeadbeef))
	require.Equal(t, bitfunnelpb.DocId(0xdeadbeef), d.GetDocId(buf, 3))
	require.Equal(t, bitfunnelpb.DocId(0), d.GetDocId(buf, 4))
}

func TestFixedBlobZeroInitialized(t *testing.T) {
	schema := testSchema()
	const capacity = bitfunnelpb.DocIndex(4)
	d := NewDescriptor(schema, capacity, 0)
	buf := make([]byte, d.TableBytes())

	blob := d.GetFixedBlob(buf, 0, 0)
	require.Len(t, blob, 4)
	for _, b := range blob {
		require.Zero(t, b)
	}
	blob[0] = 0x42
	require.Equal(t, byte(0x42), d.GetFixedBlob(buf, 0, 0)[0])
}

func TestGetFixedBlobString(t *testing.T) {
	schema := testSchema()
	const capacity = bitfunnelpb.DocIndex(4)
	d := NewDescriptor(schema, capacity, 0)
	buf := make([]byte, d.TableBytes())

	copy(d.GetFixedBlob(buf, 2, 1), []byte("hi"))
	require.Equal(t, "hi", d.GetFixedBlobString(buf, 2, 1))
}

func TestVariableBlobAllocateAndFetch(t *testing.T) {
	schema := testSchema()
	const capacity = bitfunnelpb.DocIndex(4)
	d := NewDescriptor(schema, capacity, 0)
	buf := make([]byte, d.TableBytes())
	blobs := make([][]byte, d.VariableBlobSlots())

	require.Nil(t, d.GetVariableBlob(buf, blobs, 1, 0))
	allocated := d.AllocateVariableBlob(buf, blobs, 1, 0, 10)
	require.Len(t, allocated, 10)
	copy(allocated, []byte("0123456789"))

	got := d.GetVariableBlob(buf, blobs, 1, 0)
	require.Equal(t, []byte("0123456789"), got)

	require.Panics(t, func() { d.AllocateVariableBlob(buf, blobs, 1, 0, 5) })
}

func TestVariableBlobZeroSizeDistinguishedFromUnallocated(t *testing.T) {
	schema := testSchema()
	d := NewDescriptor(schema, 2, 0)
	buf := make([]byte, d.TableBytes())
	blobs := make([][]byte, d.VariableBlobSlots())

	require.Nil(t, d.GetVariableBlob(buf, blobs, 0, 1))
	d.AllocateVariableBlob(buf, blobs, 0, 1, 0)
	got := d.GetVariableBlob(buf, blobs, 0, 1)
	require.NotNil(t, got)
	require.Len(t, got, 0)
}

func TestCleanupReleasesAllBlobs(t *testing.T) {
	schema := testSchema()
	d := NewDescriptor(schema, 2, 0)
	buf := make([]byte, d.TableBytes())
	blobs := make([][]byte, d.VariableBlobSlots())
	d.AllocateVariableBlob(buf, blobs, 0, 0, 4)
	d.AllocateVariableBlob(buf, blobs, 1, 1, 4)

	d.Cleanup(blobs)
	for _, b := range blobs {
		require.Nil(t, b)
	}
}

func TestWriteLoadVariableBlobsRoundTrip(t *testing.T) {
	schema := testSchema()
	d := NewDescriptor(schema, 3, 0)
	buf := make([]byte, d.TableBytes())
	blobs := make([][]byte, d.VariableBlobSlots())

	copy(d.AllocateVariableBlob(buf, blobs, 0, 0, 3), []byte("abc"))
	copy(d.AllocateVariableBlob(buf, blobs, 2, 1, 2), []byte("xy"))

	var out bytes.Buffer
	require.NoError(t, d.WriteVariableBlobs(&out, buf, blobs))

	newBlobs := make([][]byte, d.VariableBlobSlots())
	require.NoError(t, d.LoadVariableBlobs(&out, buf, newBlobs))

	require.Equal(t, []byte("abc"), d.GetVariableBlob(buf, newBlobs, 0, 0))
	require.Equal(t, []byte("xy"), d.GetVariableBlob(buf, newBlobs, 2, 1))
}
