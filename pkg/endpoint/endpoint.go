// Package endpoint эндпоинт шлюза: центр уведомлений и RTP соединения эндпоинта.
package endpoint

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arzzra/media_control/pkg/machine"
	"github.com/arzzra/media_control/pkg/mgcp"
	"github.com/arzzra/media_control/pkg/notification"
	"github.com/arzzra/media_control/pkg/rtpconn"
)

// Config зависимости эндпоинта
type Config struct {
	ID        mgcp.EndpointID
	Allocator rtpconn.SessionAllocator
	Codec     rtpconn.DescriptionCodec
	// Executor выполняет шаги согласования соединений
	Executor machine.Executor
	Logger   *slog.Logger
	// ConnectionListener получает итоговые состояния соединений (метрики)
	ConnectionListener rtpconn.Listener
	MachineObservers   []machine.Observer
	SignalTimeout      time.Duration
}

// ConnectionResult результат создания соединения
type ConnectionResult struct {
	ConnectionID     string
	LocalDescription string
}

// Endpoint эндпоинт с центром уведомлений и соединениями
type Endpoint struct {
	id     mgcp.EndpointID
	config Config
	center *notification.Center
	logger *slog.Logger

	mu          sync.RWMutex
	connections map[string]*rtpconn.Connection
}

// New создает эндпоинт
func New(cfg Config) (*Endpoint, error) {
	if cfg.ID.LocalName == "" {
		return nil, errors.New("не задан идентификатор эндпоинта")
	}
	if cfg.Allocator == nil || cfg.Codec == nil {
		return nil, errors.New("не заданы аллокатор сессий или кодек описаний")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	logger := cfg.Logger.With(
		slog.String("component", "endpoint"),
		slog.String("endpoint", cfg.ID.String()))

	opts := []notification.Option{
		notification.WithLogger(cfg.Logger),
		notification.WithSignalTimeout(cfg.SignalTimeout),
	}
	for _, o := range cfg.MachineObservers {
		opts = append(opts, notification.WithMachineObserver(o))
	}

	return &Endpoint{
		id:          cfg.ID,
		config:      cfg,
		center:      notification.New(cfg.ID.String(), opts...),
		logger:      logger,
		connections: make(map[string]*rtpconn.Connection),
	}, nil
}

// ID идентификатор эндпоинта
func (e *Endpoint) ID() mgcp.EndpointID { return e.id }

// Center центр уведомлений эндпоинта
func (e *Endpoint) Center() *notification.Center { return e.center }

// Connection соединение по идентификатору
func (e *Endpoint) Connection(id string) (*rtpconn.Connection, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.connections[id]
	return c, ok
}

// Connections идентификаторы соединений в порядке сортировки
func (e *Endpoint) Connections() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]string, 0, len(e.connections))
	for id := range e.connections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CreateConnection создает соединение и начинает согласование.
// Соединение, не дошедшее до OPEN, закрывается и удаляется с эндпоинта.
func (e *Endpoint) CreateConnection(remote string, mode rtpconn.Mode, cb mgcp.Callback[ConnectionResult]) {
	cb = mgcp.Once(cb)
	id := uuid.NewString()

	conn, err := rtpconn.New(rtpconn.Config{
		ID:        id,
		Allocator: e.config.Allocator,
		Codec:     e.config.Codec,
		Executor:  e.config.Executor,
		Logger:    e.config.Logger.With(slog.String("endpoint", e.id.String())),
		Listener:  e,
		Observers: e.config.MachineObservers,
	})
	if err != nil {
		cb.Fail(err)
		return
	}

	e.mu.Lock()
	e.connections[id] = conn
	e.mu.Unlock()

	e.logger.Info("создание соединения", slog.String("connection", id), slog.String("mode", mode.String()))
	conn.Open(remote, mode, func(local string, err error) {
		if err != nil {
			conn.Close(nil)
			cb.Fail(err)
			return
		}
		cb.Succeed(ConnectionResult{ConnectionID: id, LocalDescription: local})
	})
}

// ModifyConnection меняет режим соединения
func (e *Endpoint) ModifyConnection(id string, mode rtpconn.Mode, cb mgcp.Callback[rtpconn.Mode]) {
	conn, ok := e.Connection(id)
	if !ok {
		cb.Fail(e.unknownConnection(id))
		return
	}
	conn.UpdateMode(mode, cb)
}

// DeleteConnection закрывает соединение
func (e *Endpoint) DeleteConnection(id string, cb mgcp.Callback[struct{}]) {
	conn, ok := e.Connection(id)
	if !ok {
		cb.Fail(e.unknownConnection(id))
		return
	}
	conn.Close(cb)
}

// RequestNotification передает запрос уведомления центру. Пустой RequestID
// заменяется сгенерированным.
func (e *Endpoint) RequestNotification(req notification.Request, cb mgcp.Callback[struct{}]) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	e.center.RequestNotification(req, cb)
}

// Observe регистрирует наблюдателя событий эндпоинта
func (e *Endpoint) Observe(o mgcp.EventObserver) { e.center.Observe(o) }

// Forget удаляет наблюдателя событий эндпоинта
func (e *Endpoint) Forget(o mgcp.EventObserver) { e.center.Forget(o) }

// Shutdown останавливает сигналы и закрывает все соединения.
// cb вызывается, когда все соединения закрыты.
func (e *Endpoint) Shutdown(cb mgcp.Callback[struct{}]) {
	cb = mgcp.Once(cb)
	e.center.Stop(nil)

	e.mu.RLock()
	conns := make([]*rtpconn.Connection, 0, len(e.connections))
	for _, c := range e.connections {
		conns = append(conns, c)
	}
	e.mu.RUnlock()

	if len(conns) == 0 {
		cb.Succeed(struct{}{})
		return
	}

	var (
		mu        sync.Mutex
		remaining = len(conns)
	)
	for _, c := range conns {
		c := c // per-iteration copy: module builds with go 1.21 loop semantics
		c.Close(func(_ struct{}, err error) {
			if err != nil {
				e.logger.Debug("соединение уже закрывается", slog.String("connection", c.ID()), slog.Any("error", err))
			}
			mu.Lock()
			remaining--
			done := remaining == 0
			mu.Unlock()
			if done {
				cb.Succeed(struct{}{})
			}
		})
	}
}

// OnConnectionState удаляет закрытые соединения и передает состояние дальше.
func (e *Endpoint) OnConnectionState(conn *rtpconn.Connection, state string) {
	if state == rtpconn.StateClosed {
		e.mu.Lock()
		delete(e.connections, conn.ID())
		e.mu.Unlock()
		e.logger.Info("соединение удалено", slog.String("connection", conn.ID()))
	}
	if e.config.ConnectionListener != nil {
		e.config.ConnectionListener.OnConnectionState(conn, state)
	}
}

func (e *Endpoint) unknownConnection(id string) error {
	return mgcp.WrapError(mgcp.CategoryState, mgcp.CodeIncorrectConnectionID, mgcp.ErrUnknownConnection,
		"endpoint %s connection %s", e.id, id)
}
