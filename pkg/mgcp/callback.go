package mgcp

import "sync"

// Callback результат асинхронной операции: вызывается ровно один раз,
// либо с результатом (err == nil), либо с причиной отказа. Поток вызова не определен.
type Callback[T any] func(result T, err error)

// Succeed вызывает колбэк с результатом. nil колбэк допустим.
func (c Callback[T]) Succeed(result T) {
	if c != nil {
		c(result, nil)
	}
}

// Fail вызывает колбэк с ошибкой. nil колбэк допустим.
func (c Callback[T]) Fail(err error) {
	if c != nil {
		var zero T
		c(zero, err)
	}
}

// Once оборачивает колбэк так, что повторные вызовы игнорируются.
func Once[T any](cb Callback[T]) Callback[T] {
	if cb == nil {
		return nil
	}
	var once sync.Once
	return func(result T, err error) {
		once.Do(func() { cb(result, err) })
	}
}
