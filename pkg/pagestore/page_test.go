package pagestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reldb/pkg/primitives"
)

func TestPageSizeConstants(t *testing.T) {
	assert.Equal(t, PageSize, HeaderSize+PayloadSize)
}

func TestPageHeaderRoundTrip(t *testing.T) {
	p := NewPage(7, IndexPage)
	p.SetRecordCount(3)
	p.SetFreeOffset(120)
	p.SetPrev(5)
	p.SetNext(9)
	copy(p.Payload(), []byte("node bytes"))
	p.UpdateChecksum()

	decoded, err := UnmarshalPage(p.MarshalBinary())
	require.NoError(t, err)

	assert.Equal(t, primitives.PageID(7), decoded.ID())
	assert.Equal(t, IndexPage, decoded.Type())
	assert.Equal(t, uint16(3), decoded.RecordCount())
	assert.Equal(t, uint16(120), decoded.FreeOffset())
	assert.Equal(t, primitives.PageID(5), decoded.Prev())
	assert.Equal(t, primitives.PageID(9), decoded.Next())
	assert.Equal(t, p.Checksum(), decoded.Checksum())
	assert.True(t, decoded.VerifyChecksum())
	assert.Equal(t, p.Payload(), decoded.Payload())
}

func TestUnmarshalPageRejectsWrongSize(t *testing.T) {
	_, err := UnmarshalPage(make([]byte, PageSize-1))
	require.Error(t, err)
}

func TestChecksumDetectsPayloadMutation(t *testing.T) {
	p := NewPage(1, DataPage)
	copy(p.Payload(), []byte("original"))
	p.UpdateChecksum()
	require.True(t, p.VerifyChecksum())

	p.Payload()[0] ^= 0xFF
	assert.False(t, p.VerifyChecksum())
}

func TestResetClearsState(t *testing.T) {
	p := NewPage(3, IndexPage)
	p.SetRecordCount(9)
	p.SetNext(4)
	copy(p.Payload(), []byte("stale"))

	p.Reset(DataPage)

	assert.Equal(t, primitives.PageID(3), p.ID())
	assert.Equal(t, DataPage, p.Type())
	assert.Zero(t, p.RecordCount())
	assert.Equal(t, primitives.NoPage, p.Next())
	assert.Equal(t, make([]byte, PayloadSize), p.Payload())
}

func TestCloneIsIndependent(t *testing.T) {
	p := NewPage(2, DataPage)
	copy(p.Payload(), []byte("shared?"))

	dup := p.Clone()
	dup.Payload()[0] = 'X'

	assert.Equal(t, byte('s'), p.Payload()[0])
	assert.Equal(t, p.ID(), dup.ID())
}
