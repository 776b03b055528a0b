// Package rfc4733 DTMF события в RTP (telephone-event, RFC 4733):
// упаковка тонов в пакеты и детектор, реализующий media.DtmfDetector.
package rfc4733

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtp"

	"github.com/arzzra/media_control/pkg/media"
)

// ClockRate частота telephone-event
const ClockRate = 8000

// ErrShortPayload полезная нагрузка короче 4 байт
var ErrShortPayload = errors.New("некорректный размер DTMF payload")

const tones = "0123456789*#ABCD"

// EventCode код события для тона
func EventCode(tone rune) (uint8, error) {
	if tone >= 'a' && tone <= 'd' {
		tone -= 'a' - 'A'
	}
	for i, t := range tones {
		if t == tone {
			return uint8(i), nil
		}
	}
	return 0, fmt.Errorf("недопустимый DTMF символ: %c", tone)
}

// Tone тон для кода события
func Tone(code uint8) (rune, bool) {
	if int(code) >= len(tones) {
		return 0, false
	}
	return rune(tones[code]), true
}

// Payload полезная нагрузка события
type Payload struct {
	Event    uint8
	End      bool
	Volume   uint8 // 0-63, -dBm0
	Duration uint16
}

// Marshal сериализует полезную нагрузку
func (p Payload) Marshal() []byte {
	data := make([]byte, 4)
	data[0] = p.Event
	if p.End {
		data[1] |= 0x80
	}
	data[1] |= p.Volume & 0x3F
	data[2] = byte(p.Duration >> 8)
	data[3] = byte(p.Duration)
	return data
}

// Unmarshal разбирает полезную нагрузку
func Unmarshal(data []byte) (Payload, error) {
	if len(data) < 4 {
		return Payload{}, fmt.Errorf("%w: %d", ErrShortPayload, len(data))
	}
	return Payload{
		Event:    data[0],
		End:      data[1]&0x80 != 0,
		Volume:   data[1] & 0x3F,
		Duration: uint16(data[2])<<8 | uint16(data[3]),
	}, nil
}

// Encoder упаковывает тоны в RTP пакеты
type Encoder struct {
	payloadType uint8
	ssrc        uint32
	seq         uint16
}

// NewEncoder создает упаковщик
func NewEncoder(payloadType uint8, ssrc uint32) *Encoder {
	return &Encoder{payloadType: payloadType, ssrc: ssrc}
}

// Packets пакеты одного тона: три начальных, первый с маркером, и три
// завершающих с флагом End. Все пакеты несут временную метку начала события.
func (e *Encoder) Packets(tone rune, duration time.Duration, volume uint8, timestamp uint32) ([]*rtp.Packet, error) {
	code, err := EventCode(tone)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, fmt.Errorf("длительность DTMF должна быть положительной")
	}
	if volume > 63 {
		volume = 63
	}

	payload := Payload{
		Event:    code,
		Volume:   volume,
		Duration: uint16(duration * ClockRate / time.Second),
	}
	packets := make([]*rtp.Packet, 0, 6)
	for i := 0; i < 6; i++ {
		payload.End = i >= 3
		packets = append(packets, &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == 0,
				PayloadType:    e.payloadType,
				SequenceNumber: e.seq,
				Timestamp:      timestamp,
				SSRC:           e.ssrc,
			},
			Payload: payload.Marshal(),
		})
		e.seq++
	}
	return packets, nil
}

// Detector детектор тонов по входящим RTP пакетам telephone-event.
// Тон фиксируется по первому пакету события, повторы и завершающие пакеты
// с той же временной меткой игнорируются. Пока детектор не запущен,
// тоны накапливаются и доставляются при следующем Detect.
type Detector struct {
	payloadType uint8

	mu        sync.Mutex
	listener  media.DtmfListener
	buffered  []rune
	seen      bool
	timestamp uint32
}

var _ media.DtmfDetector = (*Detector)(nil)

// NewDetector создает детектор для типа нагрузки telephone-event
func NewDetector(payloadType uint8) *Detector {
	return &Detector{payloadType: payloadType}
}

// Detect запускает доставку тонов, начиная с накопленных
func (d *Detector) Detect(listener media.DtmfListener) error {
	if listener == nil {
		return errors.New("не задан получатель DTMF")
	}
	d.mu.Lock()
	d.listener = listener
	pending := d.buffered
	d.buffered = nil
	d.mu.Unlock()

	for _, tone := range pending {
		listener.OnDtmfEvent(media.DtmfEvent{Tone: tone})
	}
	return nil
}

// Stop прекращает доставку тонов
func (d *Detector) Stop() {
	d.mu.Lock()
	d.listener = nil
	d.mu.Unlock()
}

// Flush сбрасывает накопленные тоны
func (d *Detector) Flush() {
	d.mu.Lock()
	d.buffered = nil
	d.mu.Unlock()
}

// HandlePacket обрабатывает пакет. Возвращает false для пакетов другого
// типа нагрузки.
func (d *Detector) HandlePacket(packet *rtp.Packet) (bool, error) {
	if packet.PayloadType != d.payloadType {
		return false, nil
	}
	payload, err := Unmarshal(packet.Payload)
	if err != nil {
		return true, err
	}
	tone, ok := Tone(payload.Event)
	if !ok {
		return true, fmt.Errorf("неизвестное DTMF событие: %d", payload.Event)
	}

	d.mu.Lock()
	fresh := !d.seen || d.timestamp != packet.Timestamp
	d.seen = true
	d.timestamp = packet.Timestamp
	listener := d.listener
	if fresh && listener == nil {
		d.buffered = append(d.buffered, tone)
	}
	d.mu.Unlock()

	if fresh && listener != nil {
		listener.OnDtmfEvent(media.DtmfEvent{Tone: tone})
	}
	return true, nil
}
