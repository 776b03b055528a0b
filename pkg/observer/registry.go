// Package observer реестр наблюдателей протокольных событий.
package observer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/arzzra/media_control/pkg/mgcp"
)

// Registry множество наблюдателей с регистрацией по идентичности.
// Рассылка синхронная, в порядке регистрации. Паника наблюдателя
// не изолируется и уходит вызывающему Notify.
type Registry struct {
	mu        sync.RWMutex
	observers []mgcp.EventObserver
	logger    *slog.Logger
}

// New создает пустой реестр. nil logger заменяется на slog.Default().
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Observe добавляет наблюдателя. Повторная регистрация ничего не делает.
// Возвращает true, если наблюдатель добавлен.
func (r *Registry) Observe(o mgcp.EventObserver) bool {
	if o == nil {
		return false
	}
	r.mu.Lock()
	for _, existing := range r.observers {
		if existing == o {
			r.mu.Unlock()
			return false
		}
	}
	r.observers = append(r.observers, o)
	count := len(r.observers)
	r.mu.Unlock()

	r.logger.Debug("зарегистрирован наблюдатель",
		slog.String("observer", fmt.Sprintf("%p", o)),
		slog.Int("count", count))
	return true
}

// Forget удаляет наблюдателя. Возвращает true, если он был зарегистрирован.
func (r *Registry) Forget(o mgcp.EventObserver) bool {
	r.mu.Lock()
	idx := -1
	for i, existing := range r.observers {
		if existing == o {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return false
	}
	r.observers = append(r.observers[:idx:idx], r.observers[idx+1:]...)
	count := len(r.observers)
	r.mu.Unlock()

	r.logger.Debug("удален наблюдатель",
		slog.String("observer", fmt.Sprintf("%p", o)),
		slog.Int("count", count))
	return true
}

// Notify доставляет событие всем зарегистрированным наблюдателям.
// Рассылка идет по снимку списка, поэтому наблюдатель может вызвать Forget из OnEvent.
func (r *Registry) Notify(originator any, event mgcp.Event) {
	for _, o := range r.Snapshot() {
		o.OnEvent(originator, event)
	}
}

// Len количество наблюдателей.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.observers)
}

// Snapshot копия списка наблюдателей в порядке регистрации.
func (r *Registry) Snapshot() []mgcp.EventObserver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mgcp.EventObserver, len(r.observers))
	copy(out, r.observers)
	return out
}
