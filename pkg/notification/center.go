// Package notification центр уведомлений эндпоинта: планирование сигналов
// запроса уведомления и рассылка протокольных событий наблюдателям.
//
// Brief сигналы выполняются строго по одному в порядке очереди, таймаут-сигналы
// запускаются сразу и работают параллельно. Все изменения состояния происходят
// в действиях автомата IDLE <-> ACTIVE.
package notification

import (
	"log/slog"
	"time"

	"github.com/arzzra/media_control/pkg/machine"
	"github.com/arzzra/media_control/pkg/mgcp"
	"github.com/arzzra/media_control/pkg/observer"
	"github.com/arzzra/media_control/pkg/signal"
)

// Request запрос уведомления
type Request struct {
	RequestID      string
	TimeoutSignals []signal.TimeoutSignal
	BriefSignals   []signal.BriefSignal
}

// Option настройка центра уведомлений
type Option func(*options)

type options struct {
	logger        *slog.Logger
	observers     []machine.Observer
	signalTimeout time.Duration
}

// WithLogger задает логгер
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMachineObserver подключает наблюдателя автомата (метрики)
func WithMachineObserver(obs machine.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithSignalTimeout ограничивает время выполнения таймаут-сигналов.
// По истечении сигналу передается Timeout. Ноль отключает таймер.
func WithSignalTimeout(d time.Duration) Option {
	return func(o *options) { o.signalTimeout = d }
}

// Center центр уведомлений одного эндпоинта
type Center struct {
	endpoint  string
	observers *observer.Registry
	fsm       *machine.Machine[*centerContext]
	logger    *slog.Logger
}

// New создает центр уведомлений в состоянии IDLE
func New(endpoint string, opts ...Option) *Center {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Center{
		endpoint: endpoint,
		logger: o.logger.With(
			slog.String("component", "notification_center"),
			slog.String("endpoint", endpoint)),
	}
	c.observers = observer.New(c.logger)

	ctx := &centerContext{
		center:  c,
		timeout: o.signalTimeout,
		timers:  make(map[signal.TimeoutSignal]*time.Timer),
	}
	mopts := []machine.Option{machine.WithLogger(c.logger)}
	for _, obs := range o.observers {
		mopts = append(mopts, machine.WithObserver(obs))
	}
	c.fsm = machine.New(definition(), ctx, mopts...)
	c.fsm.Start()
	return c
}

// Endpoint идентификатор эндпоинта
func (c *Center) Endpoint() string { return c.endpoint }

// State текущее состояние
func (c *Center) State() string { return c.fsm.Current() }

// RequestID идентификатор последнего принятого запроса
func (c *Center) RequestID() string { return c.fsm.Context().RequestID() }

// ActiveBriefSignal выполняющийся brief сигнал или nil
func (c *Center) ActiveBriefSignal() signal.BriefSignal {
	ctx := c.fsm.Context()
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return ctx.active
}

// PendingBriefSignals копия очереди brief сигналов
func (c *Center) PendingBriefSignals() []signal.BriefSignal {
	ctx := c.fsm.Context()
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return append([]signal.BriefSignal(nil), ctx.pending...)
}

// RunningTimeoutSignals копия множества выполняющихся таймаут-сигналов
func (c *Center) RunningTimeoutSignals() []signal.TimeoutSignal {
	ctx := c.fsm.Context()
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()
	return append([]signal.TimeoutSignal(nil), ctx.running...)
}

// RequestNotification принимает запрос. Допустимо только из IDLE, иначе cb получает ErrIllegalState.
func (c *Center) RequestNotification(req Request, cb mgcp.Callback[struct{}]) {
	cb = mgcp.Once(cb)
	c.fsm.Fire(machine.Event{
		Name:    EventNotificationRequest,
		Payload: requestPayload{request: req, callback: cb},
		Reject: func(err error) {
			cb.Fail(mgcp.WrapError(mgcp.CategoryState, mgcp.CodeTransientError, err,
				"endpoint %s request %s", c.endpoint, req.RequestID))
		},
	})
}

// Stop отменяет таймаут-сигналы и очищает очередь brief сигналов.
func (c *Center) Stop(cb mgcp.Callback[struct{}]) {
	cb = mgcp.Once(cb)
	c.fsm.Fire(machine.Event{
		Name:    EventStop,
		Payload: cb,
		Reject:  func(err error) { cb.Fail(err) },
	})
}

// Observe регистрирует наблюдателя событий. Повторная регистрация ничего не делает.
func (c *Center) Observe(o mgcp.EventObserver) { c.observers.Observe(o) }

// Forget удаляет наблюдателя событий.
func (c *Center) Forget(o mgcp.EventObserver) { c.observers.Forget(o) }

// Notify синхронно доставляет событие всем наблюдателям.
// Паника наблюдателя уходит вызывающему.
func (c *Center) Notify(originator any, event mgcp.Event) {
	c.observers.Notify(originator, event)
}

func (c *Center) briefCallback(s signal.BriefSignal) mgcp.Callback[mgcp.Event] {
	return mgcp.Once(func(ev mgcp.Event, err error) {
		c.fsm.FireName(EventBriefSignalExecuted, signalResult{signal: s, event: ev, err: err})
	})
}

func (c *Center) timeoutCallback(s signal.TimeoutSignal) mgcp.Callback[mgcp.Event] {
	return mgcp.Once(func(ev mgcp.Event, err error) {
		c.fsm.FireName(EventTimeoutSignalExecuted, signalResult{signal: s, event: ev, err: err})
	})
}

func (c *Center) cancelCallback(s signal.TimeoutSignal) mgcp.Callback[mgcp.Event] {
	return func(ev mgcp.Event, err error) {
		c.logger.Debug("таймаут-сигнал отменен",
			slog.String("signal", signalName(s)),
			slog.String("outcome", ev.String()),
			slog.Any("error", err))
	}
}

// broadcast рассылает итоговое событие сигнала. Для отказа рассылается событие
// из mgcp.EventError, если оно есть.
func (c *Center) broadcast(res signalResult) {
	ev := res.event
	if res.err != nil {
		failure, ok := mgcp.FailureEvent(res.err)
		c.logger.Warn("сигнал завершился ошибкой",
			slog.String("signal", signalName(res.signal)),
			slog.Any("error", res.err))
		if !ok {
			return
		}
		ev = failure
	}
	if ev.IsZero() {
		return
	}
	c.logger.Debug("событие сигнала",
		slog.String("signal", signalName(res.signal)),
		slog.String("event", ev.String()))
	c.Notify(res.signal, ev)
}
