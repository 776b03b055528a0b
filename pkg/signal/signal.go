// Package signal описывает контракт исполняемых сигналов эндпоинта.
//
// BriefSignal короткий сигнал: на эндпоинте одновременно выполняется не больше одного.
// TimeoutSignal длительный сигнал, ограниченный таймером: выполняется параллельно с другими.
package signal

import (
	"sort"

	"github.com/arzzra/media_control/pkg/mgcp"
)

// Signal общая часть всех сигналов.
type Signal interface {
	RequestID() string
	Package() string
	Symbol() string
	Parameters() map[string]string
	Parameter(name string) (string, bool)
	IsParameterSupported(name string) bool
}

// BriefSignal сигнал, выполняемый строго по очереди с другими brief сигналами.
type BriefSignal interface {
	Signal
	// Execute запускает сигнал. Повторные вызовы ничего не делают.
	Execute(cb mgcp.Callback[mgcp.Event])
}

// TimeoutSignal сигнал, выполняемый параллельно и прерываемый по таймеру.
type TimeoutSignal interface {
	Signal
	// Execute запускает сигнал ровно один раз.
	Execute(cb mgcp.Callback[mgcp.Event])
	// Timeout завершает сигнал по истечении времени. Действует только на запущенный сигнал.
	Timeout(cb mgcp.Callback[mgcp.Event])
	// Cancel завершает сигнал по запросу. Действует только на запущенный сигнал.
	Cancel(cb mgcp.Callback[mgcp.Event])
}

// Base хранит идентификацию и параметры сигнала. Встраивается в конкретные сигналы.
type Base struct {
	requestID  string
	pkg        string
	symbol     string
	parameters map[string]string
	supported  func(string) bool
}

// NewBase проверяет параметры по белому списку supported и возвращает Base.
// Неподдерживаемые параметры отклоняются ошибкой mgcp.Error с категорией PARAMETER.
func NewBase(requestID, pkg, symbol string, parameters map[string]string, supported func(string) bool) (Base, error) {
	params := make(map[string]string, len(parameters))
	var rejected []string
	for name, value := range parameters {
		if !supported(name) {
			rejected = append(rejected, name)
			continue
		}
		params[name] = value
	}
	if len(rejected) > 0 {
		sort.Strings(rejected)
		return Base{}, mgcp.WrapError(mgcp.CategoryParameter, mgcp.CodeEventSignalParameterError,
			mgcp.ErrUnsupportedParameter, "signal %s/%s does not support parameters %v", pkg, symbol, rejected)
	}
	return Base{
		requestID:  requestID,
		pkg:        pkg,
		symbol:     symbol,
		parameters: params,
		supported:  supported,
	}, nil
}

// RequestID идентификатор запроса, создавшего сигнал.
func (b *Base) RequestID() string { return b.requestID }

// Package пакет событий сигнала, например AU.
func (b *Base) Package() string { return b.pkg }

// Symbol имя сигнала в пакете.
func (b *Base) Symbol() string { return b.symbol }

// Parameters копия параметров сигнала.
func (b *Base) Parameters() map[string]string {
	out := make(map[string]string, len(b.parameters))
	for k, v := range b.parameters {
		out[k] = v
	}
	return out
}

// Parameter значение параметра и признак его наличия.
func (b *Base) Parameter(name string) (string, bool) {
	v, ok := b.parameters[name]
	return v, ok
}

// IsParameterSupported сообщает, принимает ли сигнал параметр name.
func (b *Base) IsParameterSupported(name string) bool {
	return b.supported != nil && b.supported(name)
}

// String формат PKG/sym для логов.
func (b *Base) String() string {
	return b.pkg + "/" + b.symbol
}
