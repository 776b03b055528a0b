package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/media_control/pkg/rtpconn"
	"github.com/arzzra/media_control/pkg/sdpcodec"
)

var (
	// ErrSessionClosed операция над закрытой сессией
	ErrSessionClosed = errors.New("сессия закрыта")
	// ErrNoCommonFormat у сторон нет общих форматов
	ErrNoCommonFormat = errors.New("нет общих аудио форматов")
)

// Config параметры аллокатора
type Config struct {
	LocalAddress string
	Ports        PortRange
	// PayloadTypes поддерживаемые типы нагрузки в порядке предпочтения
	PayloadTypes []uint8
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		LocalAddress: "127.0.0.1",
		Ports:        PortRange{Min: 10000, Max: 20000},
		PayloadTypes: []uint8{0, 8, 101},
	}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if net.ParseIP(c.LocalAddress) == nil {
		return fmt.Errorf("некорректный локальный адрес: %q", c.LocalAddress)
	}
	if err := c.Ports.Validate(); err != nil {
		return err
	}
	if len(c.PayloadTypes) == 0 {
		return fmt.Errorf("не задан ни один тип нагрузки")
	}
	return nil
}

// Allocator реализует rtpconn.SessionAllocator
type Allocator struct {
	config    Config
	ports     *PortManager
	supported map[uint8]struct{}
	logger    *slog.Logger
}

var _ rtpconn.SessionAllocator = (*Allocator)(nil)

// NewAllocator создает аллокатор
func NewAllocator(config Config, logger *slog.Logger) (*Allocator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	ports, err := NewPortManager(config.Ports)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	supported := make(map[uint8]struct{}, len(config.PayloadTypes))
	for _, pt := range config.PayloadTypes {
		supported[pt] = struct{}{}
	}
	return &Allocator{
		config:    config,
		ports:     ports,
		supported: supported,
		logger:    logger.With(slog.String("component", "session_allocator")),
	}, nil
}

// Allocate выделяет сессию с парой портов
func (a *Allocator) Allocate(ctx context.Context) (rtpconn.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rtpPort, rtcpPort, err := a.ports.AllocatePortPair()
	if err != nil {
		return nil, err
	}
	a.logger.Debug("выделена сессия", slog.Int("rtp_port", rtpPort), slog.Int("rtcp_port", rtcpPort))
	return &Session{
		allocator: a,
		rtpPort:   rtpPort,
		rtcpPort:  rtcpPort,
		mode:      rtpconn.ModeInactive,
	}, nil
}

// Ports менеджер портов аллокатора
func (a *Allocator) Ports() *PortManager { return a.ports }

// Session локальная медиа сессия
type Session struct {
	allocator *Allocator
	rtpPort   int
	rtcpPort  int

	mu         sync.Mutex
	mode       rtpconn.Mode
	formats    []rtpconn.Format
	remoteAddr string
	remotePort int
	closed     bool
}

var _ rtpconn.Session = (*Session)(nil)

// SetMode устанавливает режим сессии
func (s *Session) SetMode(mode rtpconn.Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if mode.String() == "unknown" {
		return fmt.Errorf("неподдерживаемый режим: %d", int(mode))
	}
	s.mode = mode
	return nil
}

// Negotiate выбирает общие форматы в порядке предпочтения удаленной стороны
// и запоминает удаленный адрес.
func (s *Session) Negotiate(remote *sdp.SessionDescription) error {
	if remote == nil {
		return fmt.Errorf("удаленное описание не задано")
	}
	offered, err := sdpcodec.Formats(remote)
	if err != nil {
		return err
	}
	addr, port, err := sdpcodec.RemoteEndpoint(remote)
	if err != nil {
		return err
	}

	var common []rtpconn.Format
	for _, f := range offered {
		if _, ok := s.allocator.supported[f.PayloadType]; ok {
			common = append(common, f)
		}
	}
	if !hasAudioFormat(common) {
		return ErrNoCommonFormat
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	s.formats = common
	s.remoteAddr = addr
	s.remotePort = port
	return nil
}

// hasAudioFormat true, если среди форматов есть хотя бы один кодек, а не только telephone-event
func hasAudioFormat(formats []rtpconn.Format) bool {
	for _, f := range formats {
		if f.Name != "telephone-event" {
			return true
		}
	}
	return false
}

// Descriptor локальные параметры для генерации описания
func (s *Session) Descriptor() rtpconn.SessionDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return rtpconn.SessionDescriptor{
		Address:  s.allocator.config.LocalAddress,
		Port:     s.rtpPort,
		RTCPPort: s.rtcpPort,
		Formats:  append([]rtpconn.Format(nil), s.formats...),
		Mode:     s.mode,
	}
}

// Remote адрес и порт удаленной стороны после согласования
func (s *Session) Remote() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteAddr, s.remotePort
}

// Close освобождает порты. Повторный вызов возвращает ErrSessionClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.closed = true
	s.mu.Unlock()

	s.allocator.logger.Debug("сессия закрыта", slog.Int("rtp_port", s.rtpPort))
	return s.allocator.ports.ReleasePortPair(s.rtpPort, s.rtcpPort)
}
