package au

import (
	"errors"
	"log/slog"

	"github.com/arzzra/media_control/pkg/machine"
	"github.com/arzzra/media_control/pkg/media"
	"github.com/arzzra/media_control/pkg/mgcp"
	"github.com/arzzra/media_control/pkg/observer"
	"github.com/arzzra/media_control/pkg/signal"
)

// PlayRecordSymbol символ сигнала play/record
const PlayRecordSymbol = "pr"

var playRecordParameters = whitelist(
	InitialPrompt,
	Reprompt,
	NoSpeechReprompt,
	FailureAnnouncement,
	SuccessAnnouncement,
	NonInterruptiblePlay,
	Speed,
	Volume,
	ClearDigitBuffer,
	PreSpeechTimer,
	PostSpeechTimer,
	TotalRecordingLengthTimer,
	RestartKey,
	ReinputKey,
	ReturnKey,
	PositionKey,
	StopKey,
	EndInputKey,
	NumberOfAttempts,
)

// Resources медиа ресурсы эндпоинта, которыми управляет сигнал
type Resources struct {
	Player   media.Player
	Recorder media.Recorder
	Detector media.DtmfDetector
}

// Option настройка сигнала
type Option func(*options)

type options struct {
	settings    Settings
	logger      *slog.Logger
	machineOpts []machine.Option
}

// WithSettings задает значения по умолчанию для параметров
func WithSettings(s Settings) Option {
	return func(o *options) { o.settings = s }
}

// WithLogger задает логгер сигнала
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMachineObserver подключает наблюдателя вложенного автомата (метрики)
func WithMachineObserver(obs machine.Observer) Option {
	return func(o *options) { o.machineOpts = append(o.machineOpts, machine.WithObserver(obs)) }
}

func buildOptions(opts []Option) options {
	o := options{settings: DefaultSettings(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// PlayRecord сигнал AU/pr: проигрывает подсказку, записывает ответ и следит за DTMF.
//
// Плеер, рекордер и детектор сообщают о событиях своим слушателям; каждый слушатель
// переводит событие в событие вложенного автомата, поэтому все реакции на ресурсы
// обрабатываются последовательно одним экземпляром автомата.
type PlayRecord struct {
	signal.Base

	resources Resources
	observers *observer.Registry
	fsm       *machine.Machine[*playRecordContext]
	logger    *slog.Logger
}

var _ signal.TimeoutSignal = (*PlayRecord)(nil)

// NewPlayRecord создает сигнал. Неподдерживаемые или некорректные параметры
// отклоняются ошибкой с категорией PARAMETER.
func NewPlayRecord(requestID string, params map[string]string, res Resources, opts ...Option) (*PlayRecord, error) {
	if res.Player == nil || res.Recorder == nil || res.Detector == nil {
		return nil, errors.New("play/record требует плеер, рекордер и детектор DTMF")
	}

	base, err := signal.NewBase(requestID, PackageName, PlayRecordSymbol, params, playRecordParameters)
	if err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	if err := o.settings.Validate(); err != nil {
		return nil, err
	}

	ctx, err := newPlayRecordContext(params, o.settings)
	if err != nil {
		return nil, err
	}

	logger := o.logger.With(
		slog.String("component", "au.pr"),
		slog.String("request_id", requestID))

	s := &PlayRecord{
		Base:      base,
		resources: res,
		observers: observer.New(logger),
		logger:    logger,
	}
	ctx.signal = s

	machineOpts := append([]machine.Option{machine.WithLogger(logger)}, o.machineOpts...)
	s.fsm = machine.New(playRecordDefinition(), ctx, machineOpts...)

	ctx.playerListener = prPlayerListener{m: s.fsm}
	ctx.recorderListener = prRecorderListener{m: s.fsm}
	ctx.detectorListener = prDetectorListener{m: s.fsm}
	return s, nil
}

// Observe подписывает наблюдателя на итоговое событие сигнала.
func (s *PlayRecord) Observe(o mgcp.EventObserver) bool { return s.observers.Observe(o) }

// Forget отписывает наблюдателя.
func (s *PlayRecord) Forget(o mgcp.EventObserver) bool { return s.observers.Forget(o) }

// Execute запускает сигнал. Итоговое событие придет в cb ровно один раз.
// Повторные вызовы ничего не делают.
func (s *PlayRecord) Execute(cb mgcp.Callback[mgcp.Event]) {
	if !s.fsm.Start() {
		return
	}
	cb = mgcp.Once(cb)
	s.fsm.Fire(machine.Event{Name: prStart, Payload: cb, Reject: cb.Fail})
}

// Cancel прерывает выполняющийся сигнал. Итог придет в cb вместо колбэка Execute.
// До запуска и после завершения ничего не делает.
func (s *PlayRecord) Cancel(cb mgcp.Callback[mgcp.Event]) {
	s.terminate(cb)
}

// Timeout то же, что Cancel, но инициировано истечением времени.
func (s *PlayRecord) Timeout(cb mgcp.Callback[mgcp.Event]) {
	s.terminate(cb)
}

func (s *PlayRecord) terminate(cb mgcp.Callback[mgcp.Event]) {
	if !s.fsm.IsStarted() || s.fsm.IsTerminated() {
		return
	}
	s.fsm.Fire(machine.Event{Name: prCancel, Payload: mgcp.Once(cb)})
}

// State текущее состояние вложенного автомата
func (s *PlayRecord) State() string { return s.fsm.Current() }

// Done true после достижения финального состояния
func (s *PlayRecord) Done() bool { return s.fsm.IsTerminated() }

type prPlayerListener struct {
	m *machine.Machine[*playRecordContext]
}

func (l prPlayerListener) OnPlayerEvent(ev media.PlayerEvent) {
	switch ev.Type {
	case media.PlayerStopped:
		l.m.FireName(prNextTrack, nil)
	case media.PlayerFailed:
		err := ev.Err
		if err == nil {
			err = errors.New("player failed")
		}
		l.m.FireName(prFail, mgcp.WrapError(mgcp.CategoryResource, mgcp.CodeInternalFailure, err, "playback of %q failed", ev.URI))
	}
}

type prRecorderListener struct {
	m *machine.Machine[*playRecordContext]
}

func (l prRecorderListener) OnRecorderEvent(ev media.RecorderEvent) {
	switch ev.Type {
	case media.RecorderSpeechDetected:
		l.m.FireName(prSpeech, nil)
	case media.RecorderStopped:
		switch ev.Qualifier {
		case media.StopNoSpeech:
			l.m.FireName(prNoSpeech, nil)
		case media.StopMaxDuration:
			l.m.FireName(prMaxDuration, nil)
		default:
			l.m.FireName(prEndRecord, nil)
		}
	case media.RecorderFailed:
		err := ev.Err
		if err == nil {
			err = errors.New("recorder failed")
		}
		l.m.FireName(prFail, mgcp.WrapError(mgcp.CategoryResource, mgcp.CodeInternalFailure, err, "recording failed"))
	}
}

type prDetectorListener struct {
	m *machine.Machine[*playRecordContext]
}

func (l prDetectorListener) OnDtmfEvent(ev media.DtmfEvent) {
	l.m.FireName(prDtmf, ev.Tone)
}
