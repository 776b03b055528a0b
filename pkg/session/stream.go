package session

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/arzzra/media_control/pkg/rtpconn"
)

// mtu размер полезной нагрузки пакета по умолчанию
const mtu = 1200

// ErrNotNegotiated форматы сессии еще не согласованы
var ErrNotNegotiated = errors.New("форматы сессии не согласованы")

// Stream исходящий RTP поток сессии. Упаковывает кадры согласованного
// аудио формата в RTP пакеты с общей SSRC, последовательными номерами
// и временными метками.
type Stream struct {
	format     rtpconn.Format
	ssrc       uint32
	samples    uint32
	packetizer rtp.Packetizer
}

// Stream создает исходящий поток для первого согласованного аудио формата.
// ptime длительность одного кадра.
func (s *Session) Stream(ptime time.Duration) (*Stream, error) {
	if ptime <= 0 {
		return nil, fmt.Errorf("некорректная длительность кадра: %s", ptime)
	}

	s.mu.Lock()
	closed := s.closed
	formats := append([]rtpconn.Format(nil), s.formats...)
	s.mu.Unlock()

	if closed {
		return nil, ErrSessionClosed
	}
	var format rtpconn.Format
	found := false
	for _, f := range formats {
		if f.Name != "telephone-event" {
			format, found = f, true
			break
		}
	}
	if !found {
		return nil, ErrNotNegotiated
	}

	payloader, err := payloaderFor(format)
	if err != nil {
		return nil, err
	}
	ssrc, err := generateSSRC()
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации SSRC: %w", err)
	}

	return &Stream{
		format:  format,
		ssrc:    ssrc,
		samples: uint32(time.Duration(format.ClockRate) * ptime / time.Second),
		packetizer: rtp.NewPacketizer(mtu, format.PayloadType, ssrc, payloader,
			rtp.NewRandomSequencer(), format.ClockRate),
	}, nil
}

// Packets упаковывает один кадр
func (st *Stream) Packets(frame []byte) []*rtp.Packet {
	return st.packetizer.Packetize(frame, st.samples)
}

// Format формат потока
func (st *Stream) Format() rtpconn.Format { return st.format }

// SSRC идентификатор источника
func (st *Stream) SSRC() uint32 { return st.ssrc }

// SamplesPerFrame приращение временной метки на кадр
func (st *Stream) SamplesPerFrame() uint32 { return st.samples }

func payloaderFor(f rtpconn.Format) (rtp.Payloader, error) {
	switch f.Name {
	case "PCMU", "PCMA":
		return &codecs.G711Payloader{}, nil
	case "G722":
		return &codecs.G722Payloader{}, nil
	default:
		return nil, fmt.Errorf("упаковка формата %s не поддерживается", f.Name)
	}
}

// generateSSRC случайный SSRC (RFC 3550 A.6)
func generateSSRC() (uint32, error) {
	var ssrc uint32
	if err := binary.Read(rand.Reader, binary.BigEndian, &ssrc); err != nil {
		return 0, err
	}
	return ssrc, nil
}
