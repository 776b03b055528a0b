package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/looplab/fsm"
)

// ErrIllegalState операция не допускается в текущем состоянии автомата.
var ErrIllegalState = errors.New("illegal state")

// ErrTransitionFailed исключение при выполнении хука перехода.
var ErrTransitionFailed = errors.New("transition failed")

// Event событие, подаваемое в автомат.
type Event struct {
	Name    string
	Payload any
	// Reject вызывается, если событие отклонено (ErrIllegalState).
	Reject func(error)
}

// Transition описание выполняемого перехода.
type Transition struct {
	From    string
	To      string
	Event   string
	Payload any
}

// Internal true, если событие обработано без смены состояния.
func (t Transition) Internal() bool { return t.From == t.To }

// Observer получает уведомления о работе автомата (метрики, тесты).
type Observer interface {
	Transitioned(machine string, tr Transition)
	Declined(machine, state, event string)
	Failed(machine string, tr Transition, err error)
}

// Option настройка экземпляра автомата.
type Option func(*options)

type options struct {
	logger    *slog.Logger
	observers []Observer
}

// WithLogger задает логгер экземпляра.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver добавляет наблюдателя. nil игнорируется.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}

// Machine экземпляр автомата со своим контекстом C.
//
// Все переходы одного экземпляра выполняются последовательно: Fire кладет событие
// в очередь, и очередь разбирает та горутина, которая застала ее пустой.
type Machine[C any] struct {
	def       *Definition[C]
	fsm       *fsm.FSM
	ctx       C
	logger    *slog.Logger
	observers []Observer

	mu       sync.Mutex
	queue    []Event
	draining bool

	started    atomic.Bool
	terminated atomic.Bool
}

// New создает экземпляр автомата в начальном состоянии. События обрабатываются после Start.
func New[C any](def *Definition[C], ctx C, opts ...Option) *Machine[C] {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Machine[C]{
		def:       def,
		fsm:       fsm.NewFSM(def.Initial(), def.events, nil),
		ctx:       ctx,
		logger:    o.logger.With(slog.String("machine", def.Name())),
		observers: o.observers,
	}
}

// Start разрешает обработку событий. Возвращает true только для первого вызова.
func (m *Machine[C]) Start() bool {
	return m.started.CompareAndSwap(false, true)
}

// IsStarted сообщает, запущен ли автомат.
func (m *Machine[C]) IsStarted() bool { return m.started.Load() }

// IsTerminated сообщает, достигнуто ли финальное состояние.
func (m *Machine[C]) IsTerminated() bool { return m.terminated.Load() }

// Current текущее (листовое) состояние.
func (m *Machine[C]) Current() string { return m.fsm.Current() }

// In true, если текущее состояние равно state или входит в группу state.
func (m *Machine[C]) In(state string) bool {
	current := m.fsm.Current()
	return current == state || m.def.Parent(current) == state
}

// Context контекст экземпляра. Изменять его допустимо только из хуков.
func (m *Machine[C]) Context() C { return m.ctx }

// Definition описание автомата.
func (m *Machine[C]) Definition() *Definition[C] { return m.def }

// Logger логгер экземпляра.
func (m *Machine[C]) Logger() *slog.Logger { return m.logger }

// Fire ставит событие в очередь экземпляра. Если очередь никто не разбирает,
// она разбирается в вызывающей горутине до опустошения.
func (m *Machine[C]) Fire(ev Event) {
	m.mu.Lock()
	m.queue = append(m.queue, ev)
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	m.mu.Unlock()

	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.draining = false
			m.mu.Unlock()
			return
		}
		next := m.queue[0]
		m.queue[0] = Event{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.process(next)
	}
}

// FireName сокращение для Fire(Event{Name: name, Payload: payload}).
func (m *Machine[C]) FireName(name string, payload any) {
	m.Fire(Event{Name: name, Payload: payload})
}

func (m *Machine[C]) process(ev Event) {
	from := m.fsm.Current()

	if !m.started.Load() || m.terminated.Load() {
		m.decline(from, ev)
		return
	}

	err := m.fsm.Event(context.Background(), ev.Name)
	if err != nil {
		var noTransition fsm.NoTransitionError
		var invalid fsm.InvalidEventError
		var unknown fsm.UnknownEventError
		switch {
		case errors.As(err, &noTransition):
			// внутренний переход
		case errors.As(err, &invalid), errors.As(err, &unknown):
			m.decline(from, ev)
			return
		default:
			tr := Transition{From: from, To: from, Event: ev.Name, Payload: ev.Payload}
			m.fail(tr, err)
			return
		}
	}

	tr := Transition{From: from, To: m.fsm.Current(), Event: ev.Name, Payload: ev.Payload}
	if m.def.IsFinal(tr.To) {
		m.terminated.Store(true)
	}

	if err := m.run(tr); err != nil {
		m.fail(tr, err)
		return
	}

	for _, o := range m.observers {
		o.Transitioned(m.def.Name(), tr)
	}
}

// run выполняет хуки перехода в порядке: exit листа, exit покидаемой группы,
// действие события, enter группы, enter листа.
func (m *Machine[C]) run(tr Transition) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	fromGroup, toGroup := m.def.Parent(tr.From), m.def.Parent(tr.To)

	if !tr.Internal() {
		if err = m.call(m.def.exit[tr.From], tr); err != nil {
			return err
		}
		if fromGroup != "" && fromGroup != toGroup {
			if err = m.call(m.def.exit[fromGroup], tr); err != nil {
				return err
			}
		}
	}

	action, ok := m.def.actions[actionKey{state: tr.From, event: tr.Event}]
	if !ok {
		action = m.def.actions[actionKey{event: tr.Event}]
	}
	if err = m.call(action, tr); err != nil {
		return err
	}

	if !tr.Internal() {
		if toGroup != "" && toGroup != fromGroup {
			if err = m.call(m.def.enter[toGroup], tr); err != nil {
				return err
			}
		}
		if err = m.call(m.def.enter[tr.To], tr); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine[C]) call(hook Hook[C], tr Transition) error {
	if hook == nil {
		return nil
	}
	return hook(m, tr)
}

func (m *Machine[C]) decline(state string, ev Event) {
	m.logger.Debug("событие отклонено",
		slog.String("state", state),
		slog.String("event", ev.Name))

	for _, o := range m.observers {
		o.Declined(m.def.Name(), state, ev.Name)
	}
	if m.def.declined != nil {
		m.def.declined(m, state, ev)
	}
	if ev.Reject != nil {
		ev.Reject(fmt.Errorf("%w: operation %s not allowed on state %s", ErrIllegalState, ev.Name, state))
	}
}

// fail обрабатывает исключение перехода: ошибка логируется, а событие отказа
// (если задано) ставится в очередь с причиной в Payload.
func (m *Machine[C]) fail(tr Transition, cause error) {
	err := fmt.Errorf("%w: %s -> %s on %s: %w", ErrTransitionFailed, tr.From, tr.To, tr.Event, cause)

	m.logger.Error("исключение при выполнении перехода",
		slog.String("from", tr.From),
		slog.String("to", tr.To),
		slog.String("event", tr.Event),
		slog.String("error", cause.Error()))

	for _, o := range m.observers {
		o.Failed(m.def.Name(), tr, err)
	}

	if m.def.failure == "" || tr.Event == m.def.failure {
		return
	}

	m.mu.Lock()
	m.queue = append(m.queue, Event{Name: m.def.failure, Payload: err})
	m.mu.Unlock()
}
