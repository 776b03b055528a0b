package au

import (
	"errors"
	"log/slog"
	"strconv"
	"sync"

	"github.com/arzzra/media_control/pkg/machine"
	"github.com/arzzra/media_control/pkg/media"
	"github.com/arzzra/media_control/pkg/mgcp"
)

// Состояния автомата play/record
const (
	stReady          = "ready"
	stCollecting     = "collecting" // группа: prompting, recording (детектор DTMF активен)
	stPrompting      = "prompting"
	stRecording      = "recording"
	stPlayingSuccess = "playing_success"
	stPlayingFailure = "playing_failure"
	stSucceeded      = "succeeded"
	stFailed         = "failed"
	stCanceled       = "canceled"
)

// События автомата play/record
const (
	prStart       = "start"
	prNextTrack   = "next_track"
	prPromptEnd   = "prompt_end"
	prDtmf        = "dtmf_tone"
	prRestart     = "restart"
	prReinput     = "reinput"
	prSpeech      = "speech_detected"
	prEndInput    = "end_input"
	prEndRecord   = "end_record"
	prNoSpeech    = "no_speech"
	prMaxDuration = "max_duration_exceeded"
	prReprompt    = "reprompt"
	prExhausted   = "exhausted"
	prAnnounced   = "announced"
	prFail        = "fail"
	prCancel      = "cancel"
)

type prHook = machine.Hook[*playRecordContext]

var playRecordDefinition = sync.OnceValue(func() *machine.Definition[*playRecordContext] {
	running := []string{stReady, stPrompting, stRecording, stPlayingSuccess, stPlayingFailure}

	return machine.NewBuilder[*playRecordContext]("au.pr", stReady).
		Group(stCollecting, stPrompting, stRecording).
		Transition(prStart, stPrompting, stReady).
		Internal(prNextTrack, stPrompting, stPlayingSuccess, stPlayingFailure).
		Transition(prPromptEnd, stRecording, stPrompting).
		Internal(prDtmf, stCollecting).
		Internal(prRestart, stPrompting).
		Transition(prRestart, stPrompting, stRecording).
		Transition(prReinput, stRecording, stPrompting).
		Internal(prReinput, stRecording).
		Internal(prSpeech, stRecording).
		Transition(prEndInput, stPlayingSuccess, stRecording).
		Transition(prEndRecord, stPlayingSuccess, stRecording).
		Internal(prNoSpeech, stRecording).
		Internal(prMaxDuration, stRecording).
		Transition(prReprompt, stPrompting, stRecording).
		Transition(prExhausted, stPlayingFailure, stRecording).
		Transition(prAnnounced, stSucceeded, stPlayingSuccess).
		Transition(prAnnounced, stFailed, stPlayingFailure).
		Transition(prFail, stFailed, running...).
		Transition(prCancel, stCanceled, running...).
		Final(stSucceeded, stFailed, stCanceled).
		OnEnter(stCollecting, startDetection).
		OnExit(stCollecting, stopDetection).
		OnEnter(stPrompting, startPrompt).
		OnExit(stPrompting, stopPlayer).
		OnEnter(stRecording, startRecording).
		OnExit(stRecording, stopRecording).
		OnEnter(stPlayingSuccess, announce(func(c *playRecordContext) []string { return c.successAnnouncement })).
		OnExit(stPlayingSuccess, stopPlayer).
		OnEnter(stPlayingFailure, announce(func(c *playRecordContext) []string { return c.failureAnnouncement })).
		OnExit(stPlayingFailure, stopPlayer).
		OnEnter(stSucceeded, completeSucceeded).
		OnEnter(stFailed, completeFailed).
		OnEnter(stCanceled, completeCanceled).
		OnEvent(prStart, storeExecuteCallback).
		OnEvent(prNextTrack, nextTrack).
		OnEvent(prDtmf, classifyTone).
		OnEvent(prRestart, replayInitialPrompt, stPrompting).
		OnEvent(prRestart, selectInitialPrompt, stRecording).
		OnEvent(prReinput, restartRecording, stRecording).
		OnEvent(prSpeech, markSpeech).
		OnEvent(prNoSpeech, consumeAttempt).
		OnEvent(prMaxDuration, consumeAttempt).
		OnEvent(prFail, storeFailure).
		OnEvent(prCancel, storeCancelCallback).
		OnFailure(prFail).
		Build()
})

// playRecordContext контекст выполнения сигнала. Изменяется только хуками автомата.
type playRecordContext struct {
	signal *PlayRecord

	initialPrompt       []string
	reprompt            []string
	noSpeechReprompt    []string
	successAnnouncement []string
	failureAnnouncement []string
	nonInterruptible    bool
	clearDigitBuffer    bool
	playback            media.PlaybackOptions
	record              media.RecordOptions
	restartKey          rune
	reinputKey          rune
	returnKey           rune
	positionKey         rune
	stopKey             rune
	endInputKey         rune
	attempts            int

	playerListener   media.PlayerListener
	recorderListener media.RecorderListener
	detectorListener media.DtmfListener

	callback       mgcp.Callback[mgcp.Event]
	nextPrompt     []string
	playlist       []string
	track          int
	attempt        int
	tones          []rune
	speechDetected bool
	returnCode     ReturnCode
	failure        error
}

func newPlayRecordContext(values map[string]string, settings Settings) (*playRecordContext, error) {
	p := &parameters{values: values}
	c := &playRecordContext{
		initialPrompt:       p.segments(InitialPrompt),
		reprompt:            p.segments(Reprompt),
		noSpeechReprompt:    p.segments(NoSpeechReprompt),
		successAnnouncement: p.segments(SuccessAnnouncement),
		failureAnnouncement: p.segments(FailureAnnouncement),
		nonInterruptible:    p.boolean(NonInterruptiblePlay),
		clearDigitBuffer:    p.boolean(ClearDigitBuffer),
		playback: media.PlaybackOptions{
			Speed:  p.integer(Speed, 0),
			Volume: p.integer(Volume, 0),
		},
		record: media.RecordOptions{
			PreSpeechTimer:  p.timer(PreSpeechTimer, settings.PreSpeechTimer),
			PostSpeechTimer: p.timer(PostSpeechTimer, settings.PostSpeechTimer),
			MaxDuration:     p.timer(TotalRecordingLengthTimer, settings.RecordingLengthTimer),
		},
		restartKey:  p.key(RestartKey),
		reinputKey:  p.key(ReinputKey),
		returnKey:   p.key(ReturnKey),
		positionKey: p.key(PositionKey),
		stopKey:     p.key(StopKey),
		endInputKey: p.key(EndInputKey),
		attempts:    p.positive(NumberOfAttempts, settings.Attempts),
		attempt:     1,
	}
	if err := p.err(); err != nil {
		return nil, err
	}
	return c, nil
}

// play запускает список сегментов с начала. Пустой список сразу завершается событием onEmpty.
func (c *playRecordContext) play(m *machine.Machine[*playRecordContext], playlist []string, onEmpty string) error {
	c.playlist = playlist
	c.track = 0
	if len(playlist) == 0 {
		m.FireName(onEmpty, nil)
		return nil
	}
	return c.signal.resources.Player.Play(playlist[0], c.playback, c.playerListener)
}

// complete доставляет итоговое событие наблюдателям и колбэку.
func (c *playRecordContext) complete(ev mgcp.Event, err error) {
	cb := c.callback
	c.callback = nil
	// колбэк разрешается даже при панике наблюдателя
	defer func() {
		if err != nil {
			cb.Fail(err)
		} else {
			cb.Succeed(ev)
		}
	}()

	c.signal.logger.Info("сигнал завершен", slog.String("event", ev.String()))
	c.signal.observers.Notify(c.signal, ev)
}

func (c *playRecordContext) outcome(rc ReturnCode) mgcp.Event {
	return OperationComplete(rc).
		With(EventAttempts, strconv.Itoa(c.attempt)).
		With(EventVoiceInterrupt, strconv.FormatBool(c.speechDetected))
}

func storeExecuteCallback(m *machine.Machine[*playRecordContext], tr machine.Transition) error {
	c := m.Context()
	c.callback, _ = tr.Payload.(mgcp.Callback[mgcp.Event])
	c.nextPrompt = c.initialPrompt
	return nil
}

func storeCancelCallback(m *machine.Machine[*playRecordContext], tr machine.Transition) error {
	if cb, ok := tr.Payload.(mgcp.Callback[mgcp.Event]); ok && cb != nil {
		m.Context().callback = cb
	}
	return nil
}

func startDetection(m *machine.Machine[*playRecordContext], _ machine.Transition) error {
	c := m.Context()
	detector := c.signal.resources.Detector
	if c.clearDigitBuffer {
		detector.Flush()
	}
	return detector.Detect(c.detectorListener)
}

func stopDetection(m *machine.Machine[*playRecordContext], _ machine.Transition) error {
	m.Context().signal.resources.Detector.Stop()
	return nil
}

func startPrompt(m *machine.Machine[*playRecordContext], _ machine.Transition) error {
	c := m.Context()
	prompt := c.nextPrompt
	c.nextPrompt = nil
	return c.play(m, prompt, prPromptEnd)
}

func stopPlayer(m *machine.Machine[*playRecordContext], _ machine.Transition) error {
	m.Context().signal.resources.Player.Stop()
	return nil
}

func startRecording(m *machine.Machine[*playRecordContext], _ machine.Transition) error {
	c := m.Context()
	return c.signal.resources.Recorder.Record(c.record, c.recorderListener)
}

func stopRecording(m *machine.Machine[*playRecordContext], _ machine.Transition) error {
	m.Context().signal.resources.Recorder.Stop()
	return nil
}

func announce(playlist func(*playRecordContext) []string) prHook {
	return func(m *machine.Machine[*playRecordContext], _ machine.Transition) error {
		c := m.Context()
		return c.play(m, playlist(c), prAnnounced)
	}
}

func nextTrack(m *machine.Machine[*playRecordContext], tr machine.Transition) error {
	c := m.Context()
	c.track++
	if c.track < len(c.playlist) {
		return c.signal.resources.Player.Play(c.playlist[c.track], c.playback, c.playerListener)
	}
	if tr.From == stPrompting {
		m.FireName(prPromptEnd, nil)
	} else {
		m.FireName(prAnnounced, nil)
	}
	return nil
}

// classifyTone разбирает нажатую клавишу: управляющие клавиши порождают
// соответствующее событие, прочие тоны прерывают подсказку.
func classifyTone(m *machine.Machine[*playRecordContext], tr machine.Transition) error {
	c := m.Context()
	tone, _ := tr.Payload.(rune)
	prompting := tr.From == stPrompting

	if tone == 0 || prompting && c.nonInterruptible {
		return nil
	}
	c.tones = append(c.tones, tone)

	switch tone {
	case c.restartKey:
		m.FireName(prRestart, nil)
	case c.reinputKey:
		m.FireName(prReinput, nil)
	case c.returnKey, c.endInputKey, c.stopKey:
		if prompting {
			m.FireName(prPromptEnd, nil)
		} else {
			m.FireName(prEndInput, nil)
		}
	case c.positionKey:
		// позиционирование внутри подсказки не поддерживается
	default:
		if prompting {
			m.FireName(prPromptEnd, nil)
		}
	}
	return nil
}

func replayInitialPrompt(m *machine.Machine[*playRecordContext], _ machine.Transition) error {
	c := m.Context()
	c.tones = nil
	c.signal.resources.Player.Stop()
	return c.play(m, c.initialPrompt, prPromptEnd)
}

func selectInitialPrompt(m *machine.Machine[*playRecordContext], _ machine.Transition) error {
	c := m.Context()
	c.tones = nil
	c.nextPrompt = c.initialPrompt
	return nil
}

func restartRecording(m *machine.Machine[*playRecordContext], _ machine.Transition) error {
	c := m.Context()
	c.speechDetected = false
	recorder := c.signal.resources.Recorder
	recorder.Stop()
	return recorder.Record(c.record, c.recorderListener)
}

func markSpeech(m *machine.Machine[*playRecordContext], _ machine.Transition) error {
	m.Context().speechDetected = true
	return nil
}

// consumeAttempt расходует попытку после тишины или слишком длинной записи.
func consumeAttempt(m *machine.Machine[*playRecordContext], tr machine.Transition) error {
	c := m.Context()
	noSpeech := tr.Event == prNoSpeech

	if c.attempt < c.attempts {
		c.attempt++
		switch {
		case noSpeech && len(c.noSpeechReprompt) > 0:
			c.nextPrompt = c.noSpeechReprompt
		case len(c.reprompt) > 0:
			c.nextPrompt = c.reprompt
		default:
			c.nextPrompt = c.initialPrompt
		}
		m.FireName(prReprompt, nil)
		return nil
	}

	if noSpeech {
		c.returnCode = ReturnNoSpeech
	} else {
		c.returnCode = ReturnSpokeTooLong
	}
	m.FireName(prExhausted, nil)
	return nil
}

func storeFailure(m *machine.Machine[*playRecordContext], tr machine.Transition) error {
	c := m.Context()
	if err, ok := tr.Payload.(error); ok && err != nil {
		c.failure = err
	} else {
		c.failure = errors.New("play/record failed")
	}
	return nil
}

func completeSucceeded(m *machine.Machine[*playRecordContext], _ machine.Transition) error {
	c := m.Context()
	c.complete(c.outcome(ReturnSuccess), nil)
	return nil
}

func completeFailed(m *machine.Machine[*playRecordContext], _ machine.Transition) error {
	c := m.Context()
	if c.failure != nil {
		ev := OperationFailed(ReturnUnspecifiedFailure)
		c.complete(ev, &mgcp.EventError{Event: ev, Cause: c.failure})
		return nil
	}
	c.complete(c.outcome(c.returnCode), nil)
	return nil
}

func completeCanceled(m *machine.Machine[*playRecordContext], _ machine.Transition) error {
	c := m.Context()
	rc := ReturnNoSpeech
	if c.speechDetected {
		rc = ReturnSuccess
	}
	c.complete(c.outcome(rc), nil)
	return nil
}
