// Package rtpconn автомат жизненного цикла RTP соединения: согласование сессии
// (разбор удаленного описания, выделение сессии, режим, согласование, локальное описание),
// смена режима и закрытие.
//
// Каждый шаг согласования выполняется через machine.Executor, а результат
// возвращается в автомат событием. Повторов внутри автомата нет: любой отказ
// шага переводит соединение в CORRUPTED, откуда его можно только закрыть.
package rtpconn

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/media_control/pkg/machine"
	"github.com/arzzra/media_control/pkg/mgcp"
)

// Config зависимости соединения
type Config struct {
	ID        string
	Allocator SessionAllocator
	Codec     DescriptionCodec
	// Executor выполняет шаги согласования, по умолчанию machine.Async
	Executor machine.Executor
	Logger   *slog.Logger
	// Listener получает итоговые состояния, может быть nil
	Listener  Listener
	Observers []machine.Observer
}

// Connection RTP соединение эндпоинта
type Connection struct {
	id       string
	fsm      *machine.Machine[*connectionContext]
	listener Listener
	logger   *slog.Logger
}

type openRequest struct {
	remote   string
	mode     Mode
	callback mgcp.Callback[string]
}

type updateRequest struct {
	mode     Mode
	callback mgcp.Callback[Mode]
}

// connectionContext изменяется только хуками автомата. Поля, читаемые
// снаружи (mode, local, remote, failure), защищены mu.
type connectionContext struct {
	conn      *Connection
	allocator SessionAllocator
	codec     DescriptionCodec
	execute   machine.Executor

	remoteDesc  *sdp.SessionDescription
	session     Session
	pendingMode Mode

	openCallback   mgcp.Callback[string]
	updateCallback mgcp.Callback[Mode]
	closeCallbacks []mgcp.Callback[struct{}]

	mu      sync.RWMutex
	mode    Mode
	remote  string
	local   string
	failure error
}

// New создает соединение в состоянии IDLE
func New(cfg Config) (*Connection, error) {
	if cfg.Allocator == nil {
		return nil, errors.New("не задан аллокатор сессий")
	}
	if cfg.Codec == nil {
		return nil, errors.New("не задан кодек описаний сессии")
	}
	if cfg.Executor == nil {
		cfg.Executor = machine.Async
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Connection{
		id:       cfg.ID,
		listener: cfg.Listener,
		logger: cfg.Logger.With(
			slog.String("component", "rtp_connection"),
			slog.String("connection", cfg.ID)),
	}
	ctx := &connectionContext{
		conn:      c,
		allocator: cfg.Allocator,
		codec:     cfg.Codec,
		execute:   cfg.Executor,
	}

	opts := []machine.Option{machine.WithLogger(c.logger)}
	for _, o := range cfg.Observers {
		opts = append(opts, machine.WithObserver(o))
	}
	c.fsm = machine.New(definition(), ctx, opts...)
	c.fsm.Start()
	return c, nil
}

// ID идентификатор соединения
func (c *Connection) ID() string { return c.id }

// State текущее (листовое) состояние
func (c *Connection) State() string { return c.fsm.Current() }

// In true, если соединение в состоянии state или в его подсостоянии
func (c *Connection) In(state string) bool { return c.fsm.In(state) }

// Mode согласованный режим
func (c *Connection) Mode() Mode {
	ctx := c.fsm.Context()
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.mode
}

// LocalDescription сгенерированное локальное описание сессии
func (c *Connection) LocalDescription() string {
	ctx := c.fsm.Context()
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.local
}

// RemoteDescription удаленное описание сессии из запроса открытия
func (c *Connection) RemoteDescription() string {
	ctx := c.fsm.Context()
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.remote
}

// Err причина последнего отказа
func (c *Connection) Err() error {
	ctx := c.fsm.Context()
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.failure
}

// Open начинает согласование по удаленному описанию. В cb придет локальное описание.
// Допустимо только из IDLE.
func (c *Connection) Open(remote string, mode Mode, cb mgcp.Callback[string]) {
	cb = mgcp.Once(cb)
	c.fsm.Fire(machine.Event{
		Name:    EventOpen,
		Payload: openRequest{remote: remote, mode: mode, callback: cb},
		Reject:  func(err error) { cb.Fail(c.declined(err)) },
	})
}

// UpdateMode меняет режим открытого соединения. Допустимо только из OPEN.
func (c *Connection) UpdateMode(mode Mode, cb mgcp.Callback[Mode]) {
	cb = mgcp.Once(cb)
	c.fsm.Fire(machine.Event{
		Name:    EventUpdateMode,
		Payload: updateRequest{mode: mode, callback: cb},
		Reject:  func(err error) { cb.Fail(c.declined(err)) },
	})
}

// Close закрывает соединение из любого нефинального состояния.
// Отказ при закрытии сессии не мешает достичь CLOSED.
func (c *Connection) Close(cb mgcp.Callback[struct{}]) {
	cb = mgcp.Once(cb)
	c.fsm.Fire(machine.Event{
		Name:    EventClose,
		Payload: cb,
		Reject:  func(err error) { cb.Fail(c.declined(err)) },
	})
}

func (c *Connection) declined(err error) error {
	return mgcp.WrapError(mgcp.CategoryState, mgcp.CodeTransientError, err, "connection %s", c.id)
}

func (c *Connection) notify(state string) {
	if c.listener != nil {
		c.listener.OnConnectionState(c, state)
	}
}

func stepError(code int, step string, err error) error {
	return mgcp.WrapError(mgcp.CategoryNegotiation, code, err, "%s failed", step)
}

// run выполняет работу шага через Executor и возвращает результат событием.
func (ctx *connectionContext) run(m *machine.Machine[*connectionContext], task func() (string, any)) {
	ctx.execute(func() {
		event, payload := task()
		m.FireName(event, payload)
	})
}

func storeOpenRequest(m *machine.Machine[*connectionContext], tr machine.Transition) error {
	req := tr.Payload.(openRequest)
	ctx := m.Context()
	ctx.openCallback = req.callback
	ctx.pendingMode = req.mode
	ctx.mu.Lock()
	ctx.remote = req.remote
	ctx.mu.Unlock()
	return nil
}

func parseRemoteDescription(m *machine.Machine[*connectionContext], _ machine.Transition) error {
	ctx := m.Context()
	codec, raw := ctx.codec, ctx.remote
	ctx.run(m, func() (string, any) {
		desc, err := codec.Parse(raw)
		if err != nil {
			return EventParseRemoteDescriptionFailure, stepError(mgcp.CodeRemoteDescriptorError, "parse remote description", err)
		}
		return EventParsedRemoteDescription, desc
	})
	return nil
}

func storeRemoteDescription(m *machine.Machine[*connectionContext], tr machine.Transition) error {
	m.Context().remoteDesc = tr.Payload.(*sdp.SessionDescription)
	return nil
}

func allocateSession(m *machine.Machine[*connectionContext], _ machine.Transition) error {
	allocator := m.Context().allocator
	m.Context().run(m, func() (string, any) {
		session, err := allocator.Allocate(context.Background())
		if err != nil {
			return EventSessionAllocationFailure, stepError(mgcp.CodeInsufficientResources, "allocate session", err)
		}
		return EventSessionAllocated, session
	})
	return nil
}

func storeSession(m *machine.Machine[*connectionContext], tr machine.Transition) error {
	m.Context().session = tr.Payload.(Session)
	return nil
}

func setSessionMode(m *machine.Machine[*connectionContext], _ machine.Transition) error {
	ctx := m.Context()
	session, mode := ctx.session, ctx.pendingMode
	ctx.run(m, func() (string, any) {
		if err := session.SetMode(mode); err != nil {
			return EventSessionModeUpdateFailure, stepError(mgcp.CodeUnsupportedMode, "set session mode", err)
		}
		return EventSessionModeUpdated, mode
	})
	return nil
}

func storeMode(m *machine.Machine[*connectionContext], tr machine.Transition) error {
	ctx := m.Context()
	ctx.mu.Lock()
	ctx.mode = tr.Payload.(Mode)
	ctx.mu.Unlock()
	return nil
}

func negotiateSession(m *machine.Machine[*connectionContext], _ machine.Transition) error {
	ctx := m.Context()
	session, remote := ctx.session, ctx.remoteDesc
	ctx.run(m, func() (string, any) {
		if err := session.Negotiate(remote); err != nil {
			return EventSessionNegotiationFailure, stepError(mgcp.CodeCodecNegotiationFailure, "negotiate session", err)
		}
		return EventSessionNegotiated, nil
	})
	return nil
}

func generateLocalDescription(m *machine.Machine[*connectionContext], _ machine.Transition) error {
	ctx := m.Context()
	session, codec, remote := ctx.session, ctx.codec, ctx.remoteDesc
	ctx.run(m, func() (string, any) {
		local, err := codec.Generate(session.Descriptor(), remote)
		if err != nil {
			return EventGenerateLocalDescriptionFailure, stepError(mgcp.CodeInternalFailure, "generate local description", err)
		}
		return EventOpened, local
	})
	return nil
}

func storeLocalDescription(m *machine.Machine[*connectionContext], tr machine.Transition) error {
	ctx := m.Context()
	ctx.mu.Lock()
	ctx.local = tr.Payload.(string)
	ctx.mu.Unlock()
	return nil
}

func enterOpen(m *machine.Machine[*connectionContext], tr machine.Transition) error {
	ctx := m.Context()
	ctx.mu.RLock()
	local, mode := ctx.local, ctx.mode
	ctx.mu.RUnlock()

	if cb := ctx.openCallback; cb != nil {
		ctx.openCallback = nil
		cb.Succeed(local)
	}
	if cb := ctx.updateCallback; cb != nil {
		ctx.updateCallback = nil
		cb.Succeed(mode)
	}

	m.Logger().Info("соединение открыто", slog.String("mode", mode.String()), slog.String("event", tr.Event))
	ctx.conn.notify(StateOpen)
	return nil
}

func storeUpdateRequest(m *machine.Machine[*connectionContext], tr machine.Transition) error {
	req := tr.Payload.(updateRequest)
	ctx := m.Context()
	ctx.updateCallback = req.callback
	ctx.pendingMode = req.mode
	return nil
}

func updateSessionMode(m *machine.Machine[*connectionContext], _ machine.Transition) error {
	ctx := m.Context()
	session, mode := ctx.session, ctx.pendingMode
	ctx.run(m, func() (string, any) {
		if err := session.SetMode(mode); err != nil {
			return EventSessionModeUpdateFailure, stepError(mgcp.CodeUnsupportedMode, "update session mode", err)
		}
		return EventSessionModeUpdated, mode
	})
	return nil
}

// sessionModeUpdated перегенерирует локальное описание под новый режим.
func sessionModeUpdated(m *machine.Machine[*connectionContext], _ machine.Transition) error {
	ctx := m.Context()
	local, err := ctx.codec.Generate(ctx.session.Descriptor(), ctx.remoteDesc)
	if err != nil {
		return stepError(mgcp.CodeInternalFailure, "regenerate local description", err)
	}
	ctx.mu.Lock()
	ctx.local = local
	ctx.mu.Unlock()
	m.FireName(EventModeUpdated, nil)
	return nil
}

func storeFailure(m *machine.Machine[*connectionContext], tr machine.Transition) error {
	err, _ := tr.Payload.(error)
	if err == nil {
		err = errors.New(tr.Event)
	}
	ctx := m.Context()
	ctx.mu.Lock()
	ctx.failure = err
	ctx.mu.Unlock()
	return nil
}

func enterCorrupted(m *machine.Machine[*connectionContext], tr machine.Transition) error {
	ctx := m.Context()
	err := ctx.conn.Err()

	if cb := ctx.openCallback; cb != nil {
		ctx.openCallback = nil
		cb.Fail(err)
	}
	if cb := ctx.updateCallback; cb != nil {
		ctx.updateCallback = nil
		cb.Fail(err)
	}

	m.Logger().Warn("соединение повреждено",
		slog.String("from", tr.From),
		slog.String("event", tr.Event),
		slog.Any("error", err))
	ctx.conn.notify(StateCorrupted)
	return nil
}

func storeCloseCallback(m *machine.Machine[*connectionContext], tr machine.Transition) error {
	if cb, ok := tr.Payload.(mgcp.Callback[struct{}]); ok && cb != nil {
		ctx := m.Context()
		ctx.closeCallbacks = append(ctx.closeCallbacks, cb)
	}
	return nil
}

// enterClosing отменяет незавершенные открытие и смену режима.
func enterClosing(m *machine.Machine[*connectionContext], _ machine.Transition) error {
	ctx := m.Context()
	if cb := ctx.openCallback; cb != nil {
		ctx.openCallback = nil
		cb.Fail(mgcp.ErrClosed)
	}
	if cb := ctx.updateCallback; cb != nil {
		ctx.updateCallback = nil
		cb.Fail(mgcp.ErrClosed)
	}
	return nil
}

func closeSession(m *machine.Machine[*connectionContext], _ machine.Transition) error {
	ctx := m.Context()
	session := ctx.session
	if session == nil {
		m.FireName(EventSessionClosed, nil)
		return nil
	}
	ctx.run(m, func() (string, any) {
		if err := session.Close(); err != nil {
			return EventSessionCloseFailure, err
		}
		return EventSessionClosed, nil
	})
	return nil
}

func releaseSession(m *machine.Machine[*connectionContext], tr machine.Transition) error {
	ctx := m.Context()
	ctx.session = nil
	if err, ok := tr.Payload.(error); ok && err != nil {
		m.Logger().Warn("ошибка закрытия сессии", slog.Any("error", err))
	}
	return nil
}

func enterClosed(m *machine.Machine[*connectionContext], _ machine.Transition) error {
	ctx := m.Context()
	callbacks := ctx.closeCallbacks
	ctx.closeCallbacks = nil
	for _, cb := range callbacks {
		cb.Succeed(struct{}{})
	}
	m.Logger().Info("соединение закрыто")
	ctx.conn.notify(StateClosed)
	return nil
}

// closeLateSession закрывает сессию, выделенную после того, как соединение
// ушло из ALLOCATING_SESSION (например, закрыто во время выделения).
func closeLateSession(m *machine.Machine[*connectionContext], state string, ev machine.Event) {
	if ev.Name != EventSessionAllocated {
		return
	}
	session, ok := ev.Payload.(Session)
	if !ok || session == nil {
		return
	}
	m.Logger().Info("закрытие сессии, выделенной после смены состояния", slog.String("state", state))
	if err := session.Close(); err != nil {
		m.Logger().Warn("ошибка закрытия сессии", slog.Any("error", err))
	}
}
