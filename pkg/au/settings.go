package au

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/arzzra/media_control/pkg/mgcp"
)

// TimerUnit единица таймеров пакета AU (prt, pst, rlt, iv, du)
const TimerUnit = 100 * time.Millisecond

// Settings значения по умолчанию для параметров, не заданных в запросе
type Settings struct {
	Attempts             int
	PreSpeechTimer       time.Duration
	PostSpeechTimer      time.Duration
	RecordingLengthTimer time.Duration
}

// DefaultSettings возвращает значения по умолчанию
func DefaultSettings() Settings {
	return Settings{
		Attempts:             1,
		PreSpeechTimer:       3 * time.Second,
		PostSpeechTimer:      2 * time.Second,
		RecordingLengthTimer: 30 * time.Second,
	}
}

// Validate проверяет значения
func (s Settings) Validate() error {
	if s.Attempts < 1 {
		return fmt.Errorf("attempts должен быть >= 1, получено %d", s.Attempts)
	}
	if s.PreSpeechTimer < 0 || s.PostSpeechTimer < 0 || s.RecordingLengthTimer < 0 {
		return fmt.Errorf("таймеры не могут быть отрицательными")
	}
	return nil
}

// parameters разбор строковых параметров сигнала.
// Первая ошибка сохраняется и возвращается из err().
type parameters struct {
	values map[string]string
	first  error
}

func (p *parameters) fail(param Parameter, value string, cause error) {
	if p.first == nil {
		p.first = mgcp.WrapError(mgcp.CategoryParameter, mgcp.CodeEventSignalParameterError, cause,
			"invalid value %q for parameter %s", value, param)
	}
}

func (p *parameters) err() error { return p.first }

// segments список сегментов через запятую, пробелы обрезаются.
func (p *parameters) segments(param Parameter) []string {
	raw, ok := p.values[param.Symbol()]
	if !ok {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (p *parameters) integer(param Parameter, def int) int {
	raw, ok := p.values[param.Symbol()]
	if !ok {
		return def
	}
	v, err := strconv.Atoi(strings.TrimPrefix(strings.TrimSpace(raw), "+"))
	if err != nil {
		p.fail(param, raw, err)
		return def
	}
	return v
}

func (p *parameters) positive(param Parameter, def int) int {
	v := p.integer(param, def)
	if v < 1 {
		p.fail(param, p.values[param.Symbol()], fmt.Errorf("must be positive"))
		return def
	}
	return v
}

func (p *parameters) boolean(param Parameter) bool {
	raw, ok := p.values[param.Symbol()]
	if !ok {
		return false
	}
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		p.fail(param, raw, err)
	}
	return v
}

// timer значение в единицах TimerUnit.
func (p *parameters) timer(param Parameter, def time.Duration) time.Duration {
	raw, ok := p.values[param.Symbol()]
	if !ok {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v < 0 {
		if err == nil {
			err = fmt.Errorf("must not be negative")
		}
		p.fail(param, raw, err)
		return def
	}
	return time.Duration(v) * TimerUnit
}

// key символ клавиши DTMF, 0 если не задан.
func (p *parameters) key(param Parameter) rune {
	raw, ok := p.values[param.Symbol()]
	if !ok {
		return 0
	}
	raw = strings.TrimSpace(raw)
	r, size := utf8.DecodeRuneInString(raw)
	if size == 0 || size != len(raw) || !isDtmfTone(r) {
		p.fail(param, raw, fmt.Errorf("not a single DTMF key"))
		return 0
	}
	return r
}

func isDtmfTone(r rune) bool {
	switch {
	case r >= '0' && r <= '9', r >= 'A' && r <= 'D', r == '*', r == '#':
		return true
	default:
		return false
	}
}
