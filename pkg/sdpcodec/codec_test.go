package sdpcodec

import (
	"strings"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/media_control/pkg/rtpconn"
)

const offer = "v=0\r\n" +
	"o=- 1234 1 IN IP4 192.0.2.10\r\n" +
	"s=call\r\n" +
	"c=IN IP4 192.0.2.10\r\n" +
	"t=0 0\r\n" +
	"m=audio 40000 RTP/AVP 8 0 101\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=rtpmap:101 telephone-event/8000\r\n" +
	"a=sendonly\r\n"

func TestParseOffer(t *testing.T) {
	c := New(DefaultConfig())
	desc, err := c.Parse(offer)
	require.NoError(t, err)

	addr, port, err := RemoteEndpoint(desc)
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.10", addr)
	assert.Equal(t, 40000, port)

	audio, err := AudioMedia(desc)
	require.NoError(t, err)
	assert.Equal(t, sdp.DirectionSendOnly, Direction(audio))

	formats, err := Formats(desc)
	require.NoError(t, err)
	require.Len(t, formats, 3)
	assert.Equal(t, "PCMA", formats[0].Name)
	assert.Equal(t, uint8(101), formats[2].PayloadType)
	assert.Equal(t, "telephone-event", formats[2].Name)
}

func TestParseRejectsInvalidDescriptions(t *testing.T) {
	c := New(DefaultConfig())

	_, err := c.Parse("not sdp")
	assert.Error(t, err)

	video := strings.Replace(offer, "m=audio", "m=video", 1)
	_, err = c.Parse(video)
	assert.ErrorIs(t, err, ErrNoAudio)
}

func TestGenerateAnswer(t *testing.T) {
	c := New(Config{SessionName: "gw"})
	remote, err := c.Parse(offer)
	require.NoError(t, err)

	local := rtpconn.SessionDescriptor{
		Address:  "198.51.100.1",
		Port:     20000,
		RTCPPort: 20001,
		Formats: []rtpconn.Format{
			{PayloadType: 8, Name: "PCMA", ClockRate: 8000, Channels: 1},
		},
		Mode: rtpconn.ModeRecvOnly,
	}
	raw, err := c.Generate(local, remote)
	require.NoError(t, err)

	answer, err := c.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "gw", string(answer.SessionName))

	addr, port, err := RemoteEndpoint(answer)
	require.NoError(t, err)
	assert.Equal(t, "198.51.100.1", addr)
	assert.Equal(t, 20000, port)

	audio, err := AudioMedia(answer)
	require.NoError(t, err)
	assert.Equal(t, []string{"8"}, audio.MediaName.Formats)
	assert.Equal(t, sdp.DirectionRecvOnly, Direction(audio))
	_, hasRTCP := audio.Attribute("rtcp")
	assert.False(t, hasRTCP, "смежный RTCP порт не указывается")
}

func TestGenerateIncrementsVersionAndAddsRTCP(t *testing.T) {
	c := New(DefaultConfig())
	local := rtpconn.SessionDescriptor{
		Address:  "198.51.100.1",
		Port:     20000,
		RTCPPort: 30001,
		Formats:  []rtpconn.Format{{PayloadType: 0, Name: "PCMU", ClockRate: 8000, Channels: 1}},
		Mode:     rtpconn.ModeSendRecv,
	}

	first, err := c.Generate(local, nil)
	require.NoError(t, err)
	second, err := c.Generate(local, nil)
	require.NoError(t, err)

	d1, d2 := &sdp.SessionDescription{}, &sdp.SessionDescription{}
	require.NoError(t, d1.UnmarshalString(first))
	require.NoError(t, d2.UnmarshalString(second))
	assert.Greater(t, d2.Origin.SessionVersion, d1.Origin.SessionVersion)

	rtcp, ok := d1.MediaDescriptions[0].Attribute("rtcp")
	assert.True(t, ok)
	assert.Equal(t, "30001", rtcp)
}

func TestGenerateRequiresFormats(t *testing.T) {
	c := New(DefaultConfig())
	_, err := c.Generate(rtpconn.SessionDescriptor{Address: "127.0.0.1", Port: 20000}, nil)
	assert.Error(t, err)
}
