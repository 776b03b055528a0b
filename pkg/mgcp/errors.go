package mgcp

import (
	"errors"
	"fmt"

	"github.com/arzzra/media_control/pkg/machine"
)

// ErrorCategory категория ошибки сигнального уровня
type ErrorCategory string

const (
	CategoryNegotiation ErrorCategory = "NEGOTIATION" // Шаг согласования RTP соединения
	CategoryState       ErrorCategory = "STATE"       // Операция в недопустимом состоянии
	CategoryTransition  ErrorCategory = "TRANSITION"  // Исключение внутри перехода
	CategoryParameter   ErrorCategory = "PARAMETER"   // Неподдерживаемый или некорректный параметр
	CategoryResource    ErrorCategory = "RESOURCE"    // Отказ медиа ресурса
)

// Коды возврата MGCP, используемые шлюзом
const (
	CodeTransientError             = 400
	CodeInsufficientResources      = 502
	CodeUnsatisfiableDescriptor    = 506
	CodeRemoteDescriptorError      = 509
	CodeProtocolError              = 510
	CodeUnsupportedMode            = 517
	CodeInternalFailure            = 529
	CodeCodecNegotiationFailure    = 534
	CodeEventSignalParameterError  = 538
	CodeIncorrectConnectionID      = 515
	CodeUnknownOrUnsupportedSignal = 522
)

var (
	// ErrIllegalState операция отклонена автоматом в текущем состоянии
	ErrIllegalState = machine.ErrIllegalState
	// ErrTransitionFailed исключение внутри перехода автомата
	ErrTransitionFailed = machine.ErrTransitionFailed
	// ErrUnsupportedParameter параметр не входит в белый список сигнала
	ErrUnsupportedParameter = errors.New("unsupported parameter")
	// ErrClosed операция прервана закрытием соединения
	ErrClosed = errors.New("closed")
	// ErrUnknownConnection соединение не найдено на эндпоинте
	ErrUnknownConnection = errors.New("unknown connection")
)

// Error ошибка с кодом возврата и категорией
type Error struct {
	Code     int           `json:"code"`
	Category ErrorCategory `json:"category"`
	Message  string        `json:"message"`
	Cause    error         `json:"-"`
}

// NewError создает ошибку без причины
func NewError(category ErrorCategory, code int, format string, args ...any) *Error {
	return &Error{Code: code, Category: category, Message: fmt.Sprintf(format, args...)}
}

// WrapError создает ошибку с исходной причиной
func WrapError(category ErrorCategory, code int, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Category: category, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%d] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%d] %s", e.Category, e.Code, e.Message)
}

// Unwrap возвращает исходную ошибку
func (e *Error) Unwrap() error {
	return e.Cause
}

// CodeOf возвращает код возврата из цепочки ошибок, либо fallback.
func CodeOf(err error, fallback int) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return fallback
}

// EventError сигнал завершился событием отказа (например AU/of).
// Event доставляется наблюдателям так же, как событие успешного завершения.
type EventError struct {
	Event Event
	Cause error
}

func (e *EventError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("signal failed with %s: %v", e.Event, e.Cause)
	}
	return fmt.Sprintf("signal failed with %s", e.Event)
}

func (e *EventError) Unwrap() error {
	return e.Cause
}

// FailureEvent извлекает событие отказа из цепочки ошибок.
func FailureEvent(err error) (Event, bool) {
	var e *EventError
	if errors.As(err, &e) {
		return e.Event, true
	}
	return Event{}, false
}
