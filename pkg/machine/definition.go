// Package machine реализует табличные конечные автоматы для сигнального уровня шлюза.
//
// Таблица переходов (состояние × событие → состояние) хранится в github.com/looplab/fsm,
// а побочные эффекты (entry/exit хуки, действия событий) выполняет собственный
// драйвер: каждый экземпляр Machine обрабатывает свою очередь событий строго
// последовательно. События, порожденные из хуков, ставятся в очередь и никогда
// не обрабатываются реентерабельно.
//
// Definition строится один раз и после Build() неизменяем, поэтому его можно
// разделять между любым количеством экземпляров.
package machine

import (
	"fmt"

	"github.com/looplab/fsm"
)

// Hook побочный эффект перехода. Ошибка или panic в хуке считаются
// исключением перехода (см. Builder.OnFailure).
type Hook[C any] func(m *Machine[C], tr Transition) error

// DeclinedHook вызывается, когда событие отклонено в текущем состоянии.
type DeclinedHook[C any] func(m *Machine[C], state string, ev Event)

type actionKey struct {
	state string
	event string
}

// Definition неизменяемое описание автомата.
type Definition[C any] struct {
	name     string
	initial  string
	events   fsm.Events
	groups   map[string][]string
	parents  map[string]string
	finals   map[string]bool
	enter    map[string]Hook[C]
	exit     map[string]Hook[C]
	actions  map[actionKey]Hook[C]
	failure  string
	declined DeclinedHook[C]
}

// Name имя автомата (используется в логах и метриках).
func (d *Definition[C]) Name() string { return d.name }

// Initial начальное состояние.
func (d *Definition[C]) Initial() string { return d.initial }

// IsFinal сообщает, является ли состояние финальным.
func (d *Definition[C]) IsFinal(state string) bool { return d.finals[state] }

// Parent возвращает составное состояние, в которое входит state, либо "".
func (d *Definition[C]) Parent(state string) string { return d.parents[state] }

type pendingAction[C any] struct {
	event  string
	hook   Hook[C]
	states []string
}

// Builder собирает Definition. Не потокобезопасен, используется только при инициализации.
type Builder[C any] struct {
	def      *Definition[C]
	internal []fsm.EventDesc
	actions  []pendingAction[C]
	built    bool
}

// NewBuilder создает построитель автомата с именем name и начальным состоянием initial.
func NewBuilder[C any](name, initial string) *Builder[C] {
	return &Builder[C]{
		def: &Definition[C]{
			name:    name,
			initial: initial,
			groups:  make(map[string][]string),
			parents: make(map[string]string),
			finals:  make(map[string]bool),
			enter:   make(map[string]Hook[C]),
			exit:    make(map[string]Hook[C]),
			actions: make(map[actionKey]Hook[C]),
		},
	}
}

// Group объявляет составное состояние. Имя группы можно использовать
// как источник перехода и как ключ entry/exit хуков.
func (b *Builder[C]) Group(name string, states ...string) *Builder[C] {
	b.def.groups[name] = append([]string(nil), states...)
	for _, s := range states {
		b.def.parents[s] = name
	}
	return b
}

// Transition добавляет переход по событию event из src в dst.
// Если src совпадает с dst, переход внутренний: выполняется только действие события.
func (b *Builder[C]) Transition(event, dst string, src ...string) *Builder[C] {
	b.def.events = append(b.def.events, fsm.EventDesc{Name: event, Src: src, Dst: dst})
	return b
}

// Internal объявляет внутренний переход: событие обрабатывается без смены состояния.
func (b *Builder[C]) Internal(event string, states ...string) *Builder[C] {
	b.internal = append(b.internal, fsm.EventDesc{Name: event, Src: states})
	return b
}

// Final помечает состояния как финальные.
func (b *Builder[C]) Final(states ...string) *Builder[C] {
	for _, s := range states {
		b.def.finals[s] = true
	}
	return b
}

// OnEnter регистрирует хук входа в состояние или группу.
func (b *Builder[C]) OnEnter(state string, hook Hook[C]) *Builder[C] {
	b.def.enter[state] = hook
	return b
}

// OnExit регистрирует хук выхода из состояния или группы.
func (b *Builder[C]) OnExit(state string, hook Hook[C]) *Builder[C] {
	b.def.exit[state] = hook
	return b
}

// OnEvent регистрирует действие события. Без states действие выполняется в любом состоянии,
// иначе только когда событие пришло в одном из указанных состояний (группы раскрываются).
func (b *Builder[C]) OnEvent(event string, hook Hook[C], states ...string) *Builder[C] {
	b.actions = append(b.actions, pendingAction[C]{event: event, hook: hook, states: states})
	return b
}

// OnFailure задает событие, которое ставится в очередь после исключения в переходе.
func (b *Builder[C]) OnFailure(event string) *Builder[C] {
	b.def.failure = event
	return b
}

// OnDeclined регистрирует обработчик отклоненных событий.
func (b *Builder[C]) OnDeclined(hook DeclinedHook[C]) *Builder[C] {
	b.def.declined = hook
	return b
}

// Build раскрывает группы в источниках переходов и возвращает неизменяемое описание.
func (b *Builder[C]) Build() *Definition[C] {
	if b.built {
		panic(fmt.Sprintf("machine %s: Build called twice", b.def.name))
	}
	b.built = true

	events := make(fsm.Events, 0, len(b.def.events))
	for _, e := range b.def.events {
		var src []string
		for _, s := range e.Src {
			src = append(src, b.expand(s)...)
		}
		events = append(events, fsm.EventDesc{Name: e.Name, Src: src, Dst: b.entryLeaf(e.Dst)})
	}
	for _, e := range b.internal {
		for _, s := range e.Src {
			for _, leaf := range b.expand(s) {
				events = append(events, fsm.EventDesc{Name: e.Name, Src: []string{leaf}, Dst: leaf})
			}
		}
	}
	b.def.events = events

	for _, a := range b.actions {
		if len(a.states) == 0 {
			b.def.actions[actionKey{event: a.event}] = a.hook
			continue
		}
		for _, s := range a.states {
			for _, leaf := range b.expand(s) {
				b.def.actions[actionKey{state: leaf, event: a.event}] = a.hook
			}
		}
	}
	return b.def
}

// expand раскрывает имя группы в список подсостояний.
func (b *Builder[C]) expand(state string) []string {
	if states, ok := b.def.groups[state]; ok {
		return states
	}
	return []string{state}
}

// entryLeaf переход в группу означает вход в ее первое подсостояние.
func (b *Builder[C]) entryLeaf(state string) string {
	if states, ok := b.def.groups[state]; ok && len(states) > 0 {
		return states[0]
	}
	return state
}
