// Package mgcp содержит значения протокольного уровня: идентификаторы эндпоинтов,
// события пакетов, наблюдателей событий, колбэки асинхронных операций и ошибки.
package mgcp

import (
	"fmt"
	"sort"
	"strings"
)

// EndpointID идентификатор эндпоинта вида local-name@domain.
type EndpointID struct {
	LocalName string
	Domain    string
}

// ParseEndpointID разбирает строку local-name@domain.
func ParseEndpointID(s string) (EndpointID, error) {
	at := strings.LastIndex(s, "@")
	if at <= 0 || at == len(s)-1 {
		return EndpointID{}, fmt.Errorf("некорректный идентификатор эндпоинта: %q", s)
	}
	return EndpointID{LocalName: s[:at], Domain: s[at+1:]}, nil
}

func (id EndpointID) String() string {
	return id.LocalName + "@" + id.Domain
}

// Event событие пакета (например AU/oc) с параметрами.
type Event struct {
	Package    string
	Symbol     string
	Parameters map[string]string
}

// NewEvent создает событие без параметров.
func NewEvent(pkg, symbol string) Event {
	return Event{Package: pkg, Symbol: symbol}
}

// With возвращает копию события с добавленным параметром.
func (e Event) With(key, value string) Event {
	params := make(map[string]string, len(e.Parameters)+1)
	for k, v := range e.Parameters {
		params[k] = v
	}
	params[key] = value
	e.Parameters = params
	return e
}

// Parameter возвращает значение параметра события.
func (e Event) Parameter(key string) (string, bool) {
	v, ok := e.Parameters[key]
	return v, ok
}

// IsZero true для пустого события (сигнал завершился без события).
func (e Event) IsZero() bool {
	return e.Package == "" && e.Symbol == ""
}

// String форматирует событие как PKG/sym(k1=v1 k2=v2), ключи упорядочены.
func (e Event) String() string {
	var b strings.Builder
	b.WriteString(e.Package)
	b.WriteByte('/')
	b.WriteString(e.Symbol)
	if len(e.Parameters) == 0 {
		return b.String()
	}

	keys := make([]string, 0, len(e.Parameters))
	for k := range e.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteByte('(')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(e.Parameters[k])
	}
	b.WriteByte(')')
	return b.String()
}

// EventObserver получает протокольные события. Реализации регистрируются
// по идентичности, поэтому должны быть сравнимыми (как правило, указателями).
type EventObserver interface {
	OnEvent(originator any, event Event)
}
