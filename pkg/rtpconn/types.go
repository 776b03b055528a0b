package rtpconn

import (
	"context"
	"fmt"
	"strings"

	"github.com/pion/sdp/v3"
)

// Mode режим MGCP соединения
type Mode int

const (
	ModeInactive Mode = iota // Неактивно
	ModeSendRecv             // Отправка и прием
	ModeSendOnly             // Только отправка
	ModeRecvOnly             // Только прием
	ModeConference           // Конференция (отправка и прием)
	ModeNetworkLoop          // Сетевая петля
	ModeNetworkTest          // Сетевой тест
)

var modeNames = [...]string{
	ModeInactive:    "inactive",
	ModeSendRecv:    "sendrecv",
	ModeSendOnly:    "sendonly",
	ModeRecvOnly:    "recvonly",
	ModeConference:  "confrnce",
	ModeNetworkLoop: "netwloop",
	ModeNetworkTest: "netwtest",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "unknown"
	}
	return modeNames[m]
}

// ParseMode разбирает режим соединения (регистр не важен)
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, name := range modeNames {
		if name == s {
			return Mode(m), nil
		}
	}
	return ModeInactive, fmt.Errorf("неизвестный режим соединения: %q", s)
}

// CanSend проверяет, может ли соединение отправлять медиа
func (m Mode) CanSend() bool {
	switch m {
	case ModeSendRecv, ModeSendOnly, ModeConference, ModeNetworkLoop, ModeNetworkTest:
		return true
	default:
		return false
	}
}

// CanReceive проверяет, может ли соединение принимать медиа
func (m Mode) CanReceive() bool {
	switch m {
	case ModeSendRecv, ModeRecvOnly, ModeConference, ModeNetworkLoop, ModeNetworkTest:
		return true
	default:
		return false
	}
}

// Direction атрибут направления SDP для режима
func (m Mode) Direction() sdp.Direction {
	switch {
	case m.CanSend() && m.CanReceive():
		return sdp.DirectionSendRecv
	case m.CanSend():
		return sdp.DirectionSendOnly
	case m.CanReceive():
		return sdp.DirectionRecvOnly
	default:
		return sdp.DirectionInactive
	}
}

// Format согласованный аудио формат
type Format struct {
	PayloadType uint8
	Name        string
	ClockRate   uint32
	Channels    uint16
}

// SessionDescriptor локальные параметры медиа сессии для генерации описания
type SessionDescriptor struct {
	Address  string
	Port     int
	RTCPPort int
	Formats  []Format
	Mode     Mode
}

// SessionAllocator выделяет медиа сессии. Повторы при нехватке ресурсов
// и откат частично выделенных ресурсов выполняет сам аллокатор.
type SessionAllocator interface {
	Allocate(ctx context.Context) (Session, error)
}

// Session выделенная медиа сессия. Принадлежит соединению до закрытия.
type Session interface {
	SetMode(mode Mode) error
	Negotiate(remote *sdp.SessionDescription) error
	Descriptor() SessionDescriptor
	Close() error
}

// DescriptionCodec разбор удаленного и генерация локального описания сессии
type DescriptionCodec interface {
	Parse(raw string) (*sdp.SessionDescription, error)
	Generate(local SessionDescriptor, remote *sdp.SessionDescription) (string, error)
}

// Listener получает итоговые состояния соединения: OPEN, CORRUPTED, CLOSED.
type Listener interface {
	OnConnectionState(conn *Connection, state string)
}
