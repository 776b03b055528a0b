package endpoint

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/arzzra/media_control/pkg/dispatch"
	"github.com/arzzra/media_control/pkg/machine"
)

var (
	// ErrUnknownEndpoint эндпоинт не зарегистрирован
	ErrUnknownEndpoint = errors.New("unknown endpoint")
	// ErrDuplicateEndpoint эндпоинт с таким идентификатором уже зарегистрирован
	ErrDuplicateEndpoint = errors.New("endpoint already registered")
)

// Registry эндпоинты шлюза. Работа над одним эндпоинтом выполняется
// последовательно в секции диспетчера, разные эндпоинты параллельно.
type Registry struct {
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger

	mu        sync.RWMutex
	endpoints map[string]*Endpoint
}

// NewRegistry создает реестр поверх диспетчера
func NewRegistry(d *dispatch.Dispatcher, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		dispatcher: d,
		logger:     logger.With(slog.String("component", "endpoint_registry")),
		endpoints:  make(map[string]*Endpoint),
	}
}

// Register добавляет эндпоинт
func (r *Registry) Register(e *Endpoint) error {
	key := e.ID().String()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.endpoints[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateEndpoint, key)
	}
	r.endpoints[key] = e
	r.logger.Info("эндпоинт зарегистрирован", slog.String("endpoint", key))
	return nil
}

// Get эндпоинт по идентификатору
func (r *Registry) Get(id string) (*Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.endpoints[id]
	return e, ok
}

// Remove удаляет эндпоинт из реестра
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.endpoints[id]; !ok {
		return false
	}
	delete(r.endpoints, id)
	r.logger.Info("эндпоинт удален", slog.String("endpoint", id))
	return true
}

// IDs идентификаторы зарегистрированных эндпоинтов
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.endpoints))
	for id := range r.endpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Submit выполняет fn над эндпоинтом в его секции диспетчера
func (r *Registry) Submit(id string, fn func(*Endpoint)) error {
	e, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEndpoint, id)
	}
	return r.dispatcher.Submit(id, func() { fn(e) })
}

// Executor исполнитель шагов согласования в секции эндпоинта id.
// Если очередь секции переполнена, шаг выполняется в отдельной горутине.
func (r *Registry) Executor(id string) machine.Executor {
	return func(task func()) {
		if err := r.dispatcher.Submit(id, task); err != nil {
			r.logger.Warn("шаг выполняется вне секции",
				slog.String("endpoint", id),
				slog.Any("error", err))
			go task()
		}
	}
}
