package au

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/media_control/pkg/media"
	"github.com/arzzra/media_control/pkg/media/sim"
	"github.com/arzzra/media_control/pkg/mgcp"
)

type fixture struct {
	player   *sim.Player
	recorder *sim.Recorder
	detector *sim.Detector
}

func newFixture() *fixture {
	return &fixture{player: &sim.Player{}, recorder: &sim.Recorder{}, detector: &sim.Detector{}}
}

func (f *fixture) resources() Resources {
	return Resources{Player: f.player, Recorder: f.recorder, Detector: f.detector}
}

type outcome struct {
	calls int
	event mgcp.Event
	err   error
}

func (o *outcome) callback() mgcp.Callback[mgcp.Event] {
	return func(ev mgcp.Event, err error) {
		o.calls++
		o.event = ev
		o.err = err
	}
}

type eventSink struct {
	events []mgcp.Event
}

func (s *eventSink) OnEvent(_ any, ev mgcp.Event) { s.events = append(s.events, ev) }

func newPlayRecord(t *testing.T, f *fixture, params map[string]string) *PlayRecord {
	t.Helper()
	pr, err := NewPlayRecord("req-1", params, f.resources())
	require.NoError(t, err)
	return pr
}

func param(t *testing.T, ev mgcp.Event, key string) string {
	t.Helper()
	v, ok := ev.Parameter(key)
	require.True(t, ok, "нет параметра %s в %s", key, ev)
	return v
}

func TestPlayRecordHappyPath(t *testing.T) {
	f := newFixture()
	pr := newPlayRecord(t, f, map[string]string{
		"ip": "welcome.wav, beep.wav",
		"sa": "thanks.wav",
		"sp": "10",
		"vl": "-3",
		"cb": "true",
	})
	sink := &eventSink{}
	pr.Observe(sink)

	res := &outcome{}
	pr.Execute(res.callback())

	assert.Equal(t, stPrompting, pr.State())
	assert.Equal(t, []string{"welcome.wav"}, f.player.Played())
	assert.Equal(t, media.PlaybackOptions{Speed: 10, Volume: -3}, f.player.Options()[0])
	assert.True(t, f.detector.Active())
	_, _, flushes := f.detector.Counters()
	assert.Equal(t, 1, flushes)

	require.NoError(t, f.player.Finish())
	assert.Equal(t, []string{"welcome.wav", "beep.wav"}, f.player.Played())

	require.NoError(t, f.player.Finish())
	assert.Equal(t, stRecording, pr.State())
	assert.True(t, f.recorder.Recording())
	assert.True(t, f.detector.Active(), "детектор активен на все время сбора ввода")

	require.NoError(t, f.recorder.DetectSpeech())
	assert.Equal(t, stRecording, pr.State())

	require.NoError(t, f.recorder.StopWith(media.StopNormal))
	assert.Equal(t, stPlayingSuccess, pr.State())
	assert.False(t, f.detector.Active())
	assert.Equal(t, "thanks.wav", f.player.Playing())

	require.NoError(t, f.player.Finish())
	assert.Equal(t, stSucceeded, pr.State())
	assert.True(t, pr.Done())

	require.Equal(t, 1, res.calls)
	require.NoError(t, res.err)
	assert.Equal(t, "oc", res.event.Symbol)
	assert.Equal(t, "100", param(t, res.event, "rc"))
	assert.Equal(t, "1", param(t, res.event, "na"))
	assert.Equal(t, "true", param(t, res.event, "vi"))
	assert.Equal(t, []mgcp.Event{res.event}, sink.events)
}

func TestPlayRecordRecorderTimers(t *testing.T) {
	f := newFixture()
	pr := newPlayRecord(t, f, map[string]string{"prt": "50", "pst": "20", "rlt": "600"})

	pr.Execute(nil)
	assert.Equal(t, stRecording, pr.State(), "без подсказки запись начинается сразу")

	require.Len(t, f.recorder.Records(), 1)
	assert.Equal(t, media.RecordOptions{
		PreSpeechTimer:  5 * time.Second,
		PostSpeechTimer: 2 * time.Second,
		MaxDuration:     time.Minute,
	}, f.recorder.Records()[0])
}

func TestPlayRecordBargeIn(t *testing.T) {
	f := newFixture()
	pr := newPlayRecord(t, f, map[string]string{"ip": "long.wav"})
	pr.Execute(nil)

	require.NoError(t, f.detector.Press("5"))

	assert.Equal(t, stRecording, pr.State())
	assert.Equal(t, 1, f.player.Stops())
	assert.Equal(t, "", f.player.Playing())
}

func TestPlayRecordNonInterruptiblePrompt(t *testing.T) {
	f := newFixture()
	pr := newPlayRecord(t, f, map[string]string{"ip": "legal.wav", "ni": "true", "stk": "#"})
	pr.Execute(nil)

	require.NoError(t, f.detector.Press("5#"))
	assert.Equal(t, stPrompting, pr.State())

	require.NoError(t, f.player.Finish())
	assert.Equal(t, stRecording, pr.State())
}

func TestPlayRecordEndInputKeyFinishesRecording(t *testing.T) {
	f := newFixture()
	pr := newPlayRecord(t, f, map[string]string{"eik": "#"})
	res := &outcome{}
	pr.Execute(res.callback())

	require.NoError(t, f.detector.Press("12#"))

	assert.Equal(t, stSucceeded, pr.State())
	assert.False(t, f.recorder.Recording())
	require.Equal(t, 1, res.calls)
	assert.Equal(t, "100", param(t, res.event, "rc"))
}

func TestPlayRecordReinputKeyRestartsRecording(t *testing.T) {
	f := newFixture()
	pr := newPlayRecord(t, f, map[string]string{"rik": "*"})
	pr.Execute(nil)

	require.NoError(t, f.recorder.DetectSpeech())
	require.NoError(t, f.detector.Press("*"))

	assert.Equal(t, stRecording, pr.State())
	assert.Len(t, f.recorder.Records(), 2)
	assert.True(t, f.recorder.Recording())
}

func TestPlayRecordRestartKeyReplaysInitialPrompt(t *testing.T) {
	f := newFixture()
	pr := newPlayRecord(t, f, map[string]string{"ip": "menu.wav", "rsk": "0"})
	pr.Execute(nil)

	require.NoError(t, f.player.Finish())
	require.Equal(t, stRecording, pr.State())

	require.NoError(t, f.detector.Press("0"))
	assert.Equal(t, stPrompting, pr.State())
	assert.Equal(t, []string{"menu.wav", "menu.wav"}, f.player.Played())
	assert.False(t, f.recorder.Recording())
}

func TestPlayRecordNoSpeechExhaustsAttempts(t *testing.T) {
	f := newFixture()
	pr := newPlayRecord(t, f, map[string]string{
		"ip": "ask.wav",
		"ns": "louder.wav",
		"fa": "sorry.wav",
		"na": "2",
	})
	res := &outcome{}
	pr.Execute(res.callback())

	require.NoError(t, f.player.Finish())
	require.NoError(t, f.recorder.StopWith(media.StopNoSpeech))
	assert.Equal(t, stPrompting, pr.State())
	assert.Equal(t, "louder.wav", f.player.Playing())

	require.NoError(t, f.player.Finish())
	require.NoError(t, f.recorder.StopWith(media.StopNoSpeech))
	assert.Equal(t, stPlayingFailure, pr.State())
	assert.Equal(t, "sorry.wav", f.player.Playing())

	require.NoError(t, f.player.Finish())
	assert.Equal(t, stFailed, pr.State())

	require.Equal(t, 1, res.calls)
	require.NoError(t, res.err)
	assert.Equal(t, "oc", res.event.Symbol)
	assert.Equal(t, "327", param(t, res.event, "rc"))
	assert.Equal(t, "2", param(t, res.event, "na"))
}

func TestPlayRecordMaxDurationUsesReprompt(t *testing.T) {
	f := newFixture()
	pr := newPlayRecord(t, f, map[string]string{"ip": "ask.wav", "rp": "shorter.wav", "na": "2"})
	res := &outcome{}
	pr.Execute(res.callback())

	require.NoError(t, f.player.Finish())
	require.NoError(t, f.recorder.StopWith(media.StopMaxDuration))
	assert.Equal(t, "shorter.wav", f.player.Playing())

	require.NoError(t, f.player.Finish())
	require.NoError(t, f.recorder.StopWith(media.StopMaxDuration))

	assert.Equal(t, stFailed, pr.State())
	assert.Equal(t, "328", param(t, res.event, "rc"))
}

func TestPlayRecordPlayerFailure(t *testing.T) {
	f := newFixture()
	pr := newPlayRecord(t, f, map[string]string{"ip": "missing.wav"})
	sink := &eventSink{}
	pr.Observe(sink)
	res := &outcome{}
	pr.Execute(res.callback())

	require.NoError(t, f.player.Fail(errors.New("file not found")))

	assert.Equal(t, stFailed, pr.State())
	assert.False(t, f.detector.Active())
	require.Equal(t, 1, res.calls)
	require.Error(t, res.err)

	ev, ok := mgcp.FailureEvent(res.err)
	require.True(t, ok)
	assert.Equal(t, "of", ev.Symbol)
	assert.Equal(t, "300", param(t, ev, "rc"))
	assert.Contains(t, res.err.Error(), "file not found")
	assert.Equal(t, []mgcp.Event{ev}, sink.events)
}

func TestPlayRecordPlayErrorBecomesFailure(t *testing.T) {
	f := newFixture()
	f.player.FailNextPlay(errors.New("no such resource"))
	pr := newPlayRecord(t, f, map[string]string{"ip": "x.wav"})
	res := &outcome{}
	pr.Execute(res.callback())

	assert.Equal(t, stFailed, pr.State())
	require.Equal(t, 1, res.calls)
	assert.ErrorIs(t, res.err, mgcp.ErrTransitionFailed)
}

func TestPlayRecordCancel(t *testing.T) {
	f := newFixture()
	pr := newPlayRecord(t, f, map[string]string{"ip": "ask.wav"})
	execRes, cancelRes := &outcome{}, &outcome{}

	pr.Cancel(cancelRes.callback())
	assert.Equal(t, 0, cancelRes.calls, "до запуска отмена ничего не делает")

	pr.Execute(execRes.callback())
	require.NoError(t, f.player.Finish())

	pr.Cancel(cancelRes.callback())

	assert.Equal(t, stCanceled, pr.State())
	assert.False(t, f.recorder.Recording())
	assert.False(t, f.detector.Active())
	assert.Equal(t, 0, execRes.calls, "итог получает колбэк отмены")
	require.Equal(t, 1, cancelRes.calls)
	assert.Equal(t, "327", param(t, cancelRes.event, "rc"))

	late := &outcome{}
	pr.Timeout(late.callback())
	assert.Equal(t, 0, late.calls, "после завершения отмена игнорируется")
}

func TestPlayRecordTimeoutAfterSpeech(t *testing.T) {
	f := newFixture()
	pr := newPlayRecord(t, f, nil)
	res := &outcome{}
	pr.Execute(nil)
	require.NoError(t, f.recorder.DetectSpeech())

	pr.Timeout(res.callback())

	require.Equal(t, 1, res.calls)
	assert.Equal(t, "100", param(t, res.event, "rc"))
	assert.Equal(t, "true", param(t, res.event, "vi"))
}

func TestPlayRecordExecuteOnlyOnce(t *testing.T) {
	f := newFixture()
	pr := newPlayRecord(t, f, map[string]string{"ip": "a.wav"})

	first, second := &outcome{}, &outcome{}
	pr.Execute(first.callback())
	pr.Execute(second.callback())

	assert.Equal(t, []string{"a.wav"}, f.player.Played())
	detects, _, _ := f.detector.Counters()
	assert.Equal(t, 1, detects)
	assert.Equal(t, 0, second.calls)
}

func TestPlayRecordLateResourceEventsIgnored(t *testing.T) {
	f := newFixture()
	pr := newPlayRecord(t, f, nil)
	res := &outcome{}
	pr.Execute(res.callback())
	require.NoError(t, f.recorder.StopWith(media.StopNormal))
	require.Equal(t, stSucceeded, pr.State())

	var listener prRecorderListener
	listener.m = pr.fsm
	listener.OnRecorderEvent(media.RecorderEvent{Type: media.RecorderFailed})

	assert.Equal(t, stSucceeded, pr.State())
	assert.Equal(t, 1, res.calls)
}

func TestPlayRecordParameterWhitelist(t *testing.T) {
	supported := []string{
		"ip", "rp", "ns", "fa", "sa", "ni", "sp", "vl", "cb", "prt", "pst", "rlt",
		"rsk", "rik", "rtk", "psk", "stk", "eik", "na",
	}
	for _, symbol := range supported {
		assert.True(t, playRecordParameters(symbol), symbol)
	}
	for _, symbol := range []string{"an", "it", "iv", "du", "nd", "mx", "mn", "dp", "fdt", "idt", "edt", "sik", "iek", "zz"} {
		assert.False(t, playRecordParameters(symbol), symbol)
	}

	f := newFixture()
	_, err := NewPlayRecord("1", map[string]string{"mx": "4"}, f.resources())
	assert.ErrorIs(t, err, mgcp.ErrUnsupportedParameter)
}

func TestPlayRecordInvalidParameterValues(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]string
	}{
		{"attempts", map[string]string{"na": "0"}},
		{"speed", map[string]string{"sp": "fast"}},
		{"timer", map[string]string{"prt": "-5"}},
		{"key", map[string]string{"eik": "##"}},
		{"flag", map[string]string{"ni": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			_, err := NewPlayRecord("1", tt.params, f.resources())
			require.Error(t, err)
			var mgcpErr *mgcp.Error
			require.ErrorAs(t, err, &mgcpErr)
			assert.Equal(t, mgcp.CategoryParameter, mgcpErr.Category)
		})
	}
}

func TestPlayRecordRequiresResources(t *testing.T) {
	_, err := NewPlayRecord("1", nil, Resources{Player: &sim.Player{}})
	assert.Error(t, err)
}
