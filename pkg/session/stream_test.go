package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/media_control/pkg/sdpcodec"
)

func negotiatedSession(t *testing.T) *Session {
	t.Helper()
	a, err := NewAllocator(DefaultConfig(), nil)
	require.NoError(t, err)
	s, err := a.Allocate(context.Background())
	require.NoError(t, err)
	remote, err := sdpcodec.New(sdpcodec.DefaultConfig()).Parse(offer)
	require.NoError(t, err)
	require.NoError(t, s.Negotiate(remote))
	return s.(*Session)
}

func TestStreamPacketizesNegotiatedFormat(t *testing.T) {
	s := negotiatedSession(t)

	st, err := s.Stream(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "PCMA", st.Format().Name)
	assert.Equal(t, uint32(160), st.SamplesPerFrame())

	first := st.Packets(make([]byte, 160))
	second := st.Packets(make([]byte, 160))
	require.Len(t, first, 1)
	require.Len(t, second, 1)

	assert.Equal(t, uint8(8), first[0].PayloadType)
	assert.Equal(t, st.SSRC(), first[0].SSRC)
	assert.Len(t, first[0].Payload, 160)
	assert.Equal(t, first[0].SequenceNumber+1, second[0].SequenceNumber)
	assert.Equal(t, first[0].Timestamp+160, second[0].Timestamp)

	raw, err := first[0].Marshal()
	require.NoError(t, err)
	assert.Len(t, raw, 12+160)
}

func TestStreamRequiresNegotiation(t *testing.T) {
	a, err := NewAllocator(DefaultConfig(), nil)
	require.NoError(t, err)
	s, err := a.Allocate(context.Background())
	require.NoError(t, err)

	_, err = s.(*Session).Stream(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrNotNegotiated)

	_, err = s.(*Session).Stream(0)
	assert.Error(t, err)

	neg := negotiatedSession(t)
	require.NoError(t, neg.Close())
	_, err = neg.Stream(20 * time.Millisecond)
	assert.ErrorIs(t, err, ErrSessionClosed)
}
