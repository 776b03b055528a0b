// Package media контракты медиа ресурсов (плеер, рекордер, детектор DTMF),
// которыми управляют сигналы. Обработка звука находится за этими интерфейсами.
//
// Ресурсы асинхронны: методы запускают работу и сразу возвращают управление,
// о завершении сообщают события, которые приходят слушателю из произвольной горутины.
package media

import "time"

// PlayerEventType тип события плеера
type PlayerEventType int

const (
	PlayerStopped PlayerEventType = iota // Трек доигран или остановлен
	PlayerFailed                         // Ошибка воспроизведения
)

func (t PlayerEventType) String() string {
	switch t {
	case PlayerStopped:
		return "stopped"
	case PlayerFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PlayerEvent событие плеера
type PlayerEvent struct {
	Type PlayerEventType
	URI  string
	Err  error
}

// PlayerListener получает события плеера
type PlayerListener interface {
	OnPlayerEvent(event PlayerEvent)
}

// PlaybackOptions параметры воспроизведения
type PlaybackOptions struct {
	Speed  int // Изменение скорости в процентах, 0 без изменений
	Volume int // Изменение громкости в дБ, 0 без изменений
}

// Player воспроизводит аудио ресурс по URI
type Player interface {
	Play(uri string, opts PlaybackOptions, listener PlayerListener) error
	Stop()
}

// RecorderEventType тип события рекордера
type RecorderEventType int

const (
	RecorderSpeechDetected RecorderEventType = iota // Обнаружена речь
	RecorderStopped                                 // Запись завершена, причина в Qualifier
	RecorderFailed                                  // Ошибка записи
)

func (t RecorderEventType) String() string {
	switch t {
	case RecorderSpeechDetected:
		return "speech_detected"
	case RecorderStopped:
		return "stopped"
	case RecorderFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StopQualifier причина остановки записи
type StopQualifier int

const (
	StopNormal      StopQualifier = iota // Завершена по таймеру тишины после речи или по запросу
	StopNoSpeech                         // Речь не началась до истечения pre-speech таймера
	StopMaxDuration                      // Превышена максимальная длительность записи
)

func (q StopQualifier) String() string {
	switch q {
	case StopNormal:
		return "normal"
	case StopNoSpeech:
		return "no_speech"
	case StopMaxDuration:
		return "max_duration"
	default:
		return "unknown"
	}
}

// RecorderEvent событие рекордера
type RecorderEvent struct {
	Type      RecorderEventType
	Qualifier StopQualifier
	Err       error
}

// RecorderListener получает события рекордера
type RecorderListener interface {
	OnRecorderEvent(event RecorderEvent)
}

// RecordOptions таймеры записи. Нулевое значение означает отсутствие ограничения.
type RecordOptions struct {
	PreSpeechTimer  time.Duration
	PostSpeechTimer time.Duration
	MaxDuration     time.Duration
}

// Recorder записывает входящий поток
type Recorder interface {
	Record(opts RecordOptions, listener RecorderListener) error
	Stop()
}

// DtmfEvent обнаруженный DTMF тон (0-9, *, #, A-D)
type DtmfEvent struct {
	Tone rune
}

// DtmfListener получает обнаруженные тоны
type DtmfListener interface {
	OnDtmfEvent(event DtmfEvent)
}

// DtmfDetector детектор DTMF тонов
type DtmfDetector interface {
	Detect(listener DtmfListener) error
	Stop()
	// Flush очищает буфер накопленных, но не доставленных тонов
	Flush()
}
