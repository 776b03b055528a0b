package notification

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/arzzra/media_control/pkg/machine"
	"github.com/arzzra/media_control/pkg/mgcp"
	"github.com/arzzra/media_control/pkg/signal"
)

// Состояния центра уведомлений
const (
	StateIdle   = "IDLE"
	StateActive = "ACTIVE"
)

// События центра уведомлений
const (
	EventNotificationRequest   = "NOTIFICATION_REQUEST"
	EventBriefSignalExecuted   = "BRIEF_SIGNAL_EXECUTED"
	EventTimeoutSignalExecuted = "TIMEOUT_SIGNAL_EXECUTED"
	EventAllSignalsExecuted    = "ALL_SIGNALS_EXECUTED"
	EventStop                  = "STOP"
	EventFailure               = "FAILURE"
)

var definition = sync.OnceValue(func() *machine.Definition[*centerContext] {
	return machine.NewBuilder[*centerContext]("notification_center", StateIdle).
		Transition(EventNotificationRequest, StateActive, StateIdle).
		Transition(EventAllSignalsExecuted, StateIdle, StateActive).
		Transition(EventStop, StateIdle, StateActive).
		Internal(EventStop, StateIdle).
		Internal(EventBriefSignalExecuted, StateIdle, StateActive).
		Internal(EventTimeoutSignalExecuted, StateIdle, StateActive).
		Transition(EventFailure, StateIdle, StateActive).
		Internal(EventFailure, StateIdle).
		OnEvent(EventNotificationRequest, executePendingSignals).
		OnEvent(EventBriefSignalExecuted, briefSignalExecuted).
		OnEvent(EventTimeoutSignalExecuted, timeoutSignalExecuted).
		OnEvent(EventStop, stopSignals).
		OnEvent(EventFailure, recoverFromFailure).
		OnEnter(StateIdle, func(m *machine.Machine[*centerContext], tr machine.Transition) error {
			m.Logger().Debug("запрос уведомления завершен",
				slog.String("request_id", m.Context().RequestID()),
				slog.String("event", tr.Event))
			return nil
		}).
		OnFailure(EventFailure).
		Build()
})

type requestPayload struct {
	request  Request
	callback mgcp.Callback[struct{}]
}

type signalResult struct {
	signal signal.Signal
	event  mgcp.Event
	err    error
}

// centerContext изменяется только действиями автомата. Поля под mu читаются снаружи.
type centerContext struct {
	center  *Center
	timeout time.Duration

	requestCallback mgcp.Callback[struct{}]
	timers          map[signal.TimeoutSignal]*time.Timer

	mu             sync.RWMutex
	requestID      string
	active         signal.BriefSignal
	activeStarted  bool
	pending        []signal.BriefSignal
	timeoutSignals []signal.TimeoutSignal
	running        []signal.TimeoutSignal
}

func (c *centerContext) RequestID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.requestID
}

func (c *centerContext) idle() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active == nil && len(c.pending) == 0 && len(c.running) == 0
}

func (c *centerContext) addTimeoutSignal(s signal.TimeoutSignal) {
	for _, known := range c.timeoutSignals {
		if known == s {
			return
		}
	}
	c.timeoutSignals = append(c.timeoutSignals, s)
}

// removeRunning удаляет сигнал из выполняющихся, false если его там не было.
func (c *centerContext) removeRunning(s signal.Signal) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, r := range c.running {
		if signal.Signal(r) == s {
			c.running = append(c.running[:i:i], c.running[i+1:]...)
			return true
		}
	}
	return false
}

// executePendingSignals запускает сигналы запроса: все таймаут-сигналы запроса
// безусловно, а из очереди brief сигналов только голову и только если
// активного brief сигнала нет.
func executePendingSignals(m *machine.Machine[*centerContext], tr machine.Transition) error {
	ctx := m.Context()
	req := tr.Payload.(requestPayload)
	ctx.requestCallback = req.callback

	timeoutSignals := uniqueTimeoutSignals(req.request.TimeoutSignals)

	ctx.mu.Lock()
	ctx.requestID = req.request.RequestID
	for _, s := range timeoutSignals {
		ctx.addTimeoutSignal(s)
	}
	ctx.pending = append(ctx.pending, req.request.BriefSignals...)
	ctx.running = append(ctx.running, timeoutSignals...)
	ctx.mu.Unlock()

	m.Logger().Info("запрос уведомления",
		slog.String("request_id", req.request.RequestID),
		slog.Int("timeout_signals", len(timeoutSignals)),
		slog.Int("brief_signals", len(req.request.BriefSignals)))

	for _, s := range timeoutSignals {
		ctx.executeTimeoutSignal(s)
	}
	ctx.executeNextBriefSignal()

	if cb := ctx.requestCallback; cb != nil {
		ctx.requestCallback = nil
		cb.Succeed(struct{}{})
	}
	if ctx.idle() {
		m.FireName(EventAllSignalsExecuted, nil)
	}
	return nil
}

func (c *centerContext) executeTimeoutSignal(s signal.TimeoutSignal) {
	if c.timeout > 0 {
		if t, ok := c.timers[s]; ok {
			t.Stop()
		}
		c.timers[s] = time.AfterFunc(c.timeout, func() {
			s.Timeout(c.center.timeoutCallback(s))
		})
	}
	s.Execute(c.center.timeoutCallback(s))
}

// uniqueTimeoutSignals убирает повторы сигнала внутри одного запроса.
func uniqueTimeoutSignals(signals []signal.TimeoutSignal) []signal.TimeoutSignal {
	unique := make([]signal.TimeoutSignal, 0, len(signals))
	for _, s := range signals {
		if !slices.Contains(unique, s) {
			unique = append(unique, s)
		}
	}
	return unique
}

// executeNextBriefSignal делает голову очереди активным сигналом, если слот свободен.
func (c *centerContext) executeNextBriefSignal() {
	c.mu.Lock()
	if c.active != nil || len(c.pending) == 0 {
		c.mu.Unlock()
		return
	}
	next := c.pending[0]
	c.pending[0] = nil
	c.pending = c.pending[1:]
	c.active = next
	c.activeStarted = false
	c.mu.Unlock()

	c.center.logger.Debug("запуск brief сигнала", slog.String("signal", signalName(next)))
	next.Execute(c.center.briefCallback(next))

	c.mu.Lock()
	if c.active == next {
		c.activeStarted = true
	}
	c.mu.Unlock()
}

func briefSignalExecuted(m *machine.Machine[*centerContext], tr machine.Transition) error {
	ctx := m.Context()
	res := tr.Payload.(signalResult)

	ctx.mu.Lock()
	if ctx.active == nil || res.signal != ctx.active {
		ctx.mu.Unlock()
		m.Logger().Debug("результат неактивного brief сигнала проигнорирован",
			slog.String("signal", signalName(res.signal)))
		return nil
	}
	ctx.active = nil
	ctx.activeStarted = false
	ctx.mu.Unlock()

	ctx.center.broadcast(res)
	ctx.executeNextBriefSignal()

	if tr.To == StateActive && ctx.idle() {
		m.FireName(EventAllSignalsExecuted, nil)
	}
	return nil
}

func timeoutSignalExecuted(m *machine.Machine[*centerContext], tr machine.Transition) error {
	ctx := m.Context()
	res := tr.Payload.(signalResult)

	if !ctx.removeRunning(res.signal) {
		m.Logger().Debug("результат невыполняемого таймаут-сигнала проигнорирован",
			slog.String("signal", signalName(res.signal)))
		return nil
	}
	if ts, ok := res.signal.(signal.TimeoutSignal); ok {
		if t, found := ctx.timers[ts]; found {
			t.Stop()
			delete(ctx.timers, ts)
		}
	}

	ctx.center.broadcast(res)

	if tr.To == StateActive && ctx.idle() {
		m.FireName(EventAllSignalsExecuted, nil)
	}
	return nil
}

// cancelRunning отменяет выполняющиеся таймаут-сигналы и очищает очередь brief сигналов.
// Активный brief сигнал дорабатывает сам.
func (c *centerContext) cancelRunning() {
	c.mu.Lock()
	running := c.running
	c.running = nil
	dropped := len(c.pending)
	c.pending = nil
	c.mu.Unlock()

	for _, t := range c.timers {
		t.Stop()
	}
	clear(c.timers)

	if dropped > 0 {
		c.center.logger.Debug("очередь brief сигналов очищена", slog.Int("dropped", dropped))
	}
	for _, s := range running {
		s.Cancel(c.center.cancelCallback(s))
	}
}

func stopSignals(m *machine.Machine[*centerContext], tr machine.Transition) error {
	ctx := m.Context()
	ctx.cancelRunning()
	if cb, ok := tr.Payload.(mgcp.Callback[struct{}]); ok {
		cb.Succeed(struct{}{})
	}
	return nil
}

// recoverFromFailure отменяет текущий запрос после исключения в переходе.
// Как и при STOP, запущенный brief сигнал остается активным до своего
// результата. Слот освобождается, только если исключение выбросил сам
// Execute этого сигнала. Идентификатор запроса сохраняется для корреляции.
func recoverFromFailure(m *machine.Machine[*centerContext], tr machine.Transition) error {
	ctx := m.Context()
	err, _ := tr.Payload.(error)

	m.Logger().Error("ошибка обработки запроса уведомления, запрос отменен",
		slog.String("request_id", ctx.RequestID()),
		slog.Any("error", err))

	ctx.cancelRunning()
	ctx.mu.Lock()
	if ctx.active != nil && !ctx.activeStarted {
		ctx.active = nil
	}
	ctx.mu.Unlock()

	if cb := ctx.requestCallback; cb != nil {
		ctx.requestCallback = nil
		cb.Fail(mgcp.WrapError(mgcp.CategoryTransition, mgcp.CodeInternalFailure, err,
			"notification request %s", ctx.RequestID()))
	}
	return nil
}

func signalName(s signal.Signal) string {
	if s == nil {
		return ""
	}
	return s.Package() + "/" + s.Symbol()
}
