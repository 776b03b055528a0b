// Package sim управляемые реализации медиа ресурсов без обработки звука.
// События порождаются вручную (тесты) или по таймеру (демо режим).
package sim

import (
	"errors"
	"sync"
	"time"

	"github.com/arzzra/media_control/pkg/media"
)

// ErrNotActive ресурс не запущен.
var ErrNotActive = errors.New("resource not active")

// Player плеер, доигрывающий трек по команде Finish или через Delay.
type Player struct {
	// Delay если больше нуля, трек завершается сам через это время.
	Delay time.Duration

	mu       sync.Mutex
	listener media.PlayerListener
	current  string
	played   []string
	options  []media.PlaybackOptions
	stops    int
	timer    *time.Timer
	playErr  error
}

// FailNextPlay заставляет следующий Play вернуть ошибку.
func (p *Player) FailNextPlay(err error) {
	p.mu.Lock()
	p.playErr = err
	p.mu.Unlock()
}

func (p *Player) Play(uri string, opts media.PlaybackOptions, listener media.PlayerListener) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.playErr; err != nil {
		p.playErr = nil
		return err
	}
	p.listener = listener
	p.current = uri
	p.played = append(p.played, uri)
	p.options = append(p.options, opts)
	if p.Delay > 0 {
		p.timer = time.AfterFunc(p.Delay, func() { p.Finish() })
	}
	return nil
}

func (p *Player) Stop() {
	p.mu.Lock()
	p.stops++
	p.current = ""
	p.listener = nil
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
}

// Finish завершает текущий трек событием PlayerStopped.
func (p *Player) Finish() error {
	return p.emit(media.PlayerEvent{Type: media.PlayerStopped})
}

// Fail завершает текущий трек событием PlayerFailed.
func (p *Player) Fail(err error) error {
	return p.emit(media.PlayerEvent{Type: media.PlayerFailed, Err: err})
}

func (p *Player) emit(ev media.PlayerEvent) error {
	p.mu.Lock()
	listener := p.listener
	ev.URI = p.current
	p.listener = nil
	p.current = ""
	p.timer = nil
	p.mu.Unlock()

	if listener == nil {
		return ErrNotActive
	}
	listener.OnPlayerEvent(ev)
	return nil
}

// Played список запущенных URI в порядке запуска.
func (p *Player) Played() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.played...)
}

// Options параметры воспроизведения каждого запуска.
func (p *Player) Options() []media.PlaybackOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]media.PlaybackOptions(nil), p.options...)
}

// Playing URI текущего трека или "".
func (p *Player) Playing() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Stops количество вызовов Stop.
func (p *Player) Stops() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

// Recorder рекордер, события которого задаются вручную или сценарием Script.
type Recorder struct {
	// Script если не пуст, события выдаются по одному через ScriptDelay после каждого Record.
	Script      []media.RecorderEvent
	ScriptDelay time.Duration

	mu       sync.Mutex
	listener media.RecorderListener
	records  []media.RecordOptions
	stops    int
	timer    *time.Timer
}

func (r *Recorder) Record(opts media.RecordOptions, listener media.RecorderListener) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = listener
	r.records = append(r.records, opts)
	if len(r.Script) > 0 {
		script := append([]media.RecorderEvent(nil), r.Script...)
		r.timer = time.AfterFunc(r.ScriptDelay, func() { r.play(script) })
	}
	return nil
}

func (r *Recorder) play(script []media.RecorderEvent) {
	for _, ev := range script {
		if r.emit(ev) != nil {
			return
		}
	}
}

func (r *Recorder) Stop() {
	r.mu.Lock()
	r.stops++
	r.listener = nil
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()
}

// DetectSpeech сообщает об обнаружении речи. Запись продолжается.
func (r *Recorder) DetectSpeech() error {
	return r.emit(media.RecorderEvent{Type: media.RecorderSpeechDetected})
}

// StopWith завершает запись с указанной причиной.
func (r *Recorder) StopWith(q media.StopQualifier) error {
	return r.emit(media.RecorderEvent{Type: media.RecorderStopped, Qualifier: q})
}

// Fail завершает запись ошибкой.
func (r *Recorder) Fail(err error) error {
	return r.emit(media.RecorderEvent{Type: media.RecorderFailed, Err: err})
}

func (r *Recorder) emit(ev media.RecorderEvent) error {
	r.mu.Lock()
	listener := r.listener
	if ev.Type != media.RecorderSpeechDetected {
		r.listener = nil
	}
	r.mu.Unlock()

	if listener == nil {
		return ErrNotActive
	}
	listener.OnRecorderEvent(ev)
	return nil
}

// Recording true, пока запись запущена.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listener != nil
}

// Records параметры каждого запуска записи.
func (r *Recorder) Records() []media.RecordOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]media.RecordOptions(nil), r.records...)
}

// Stops количество вызовов Stop.
func (r *Recorder) Stops() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

// Detector детектор DTMF, тоны которого подаются через Press.
type Detector struct {
	// Tones если не пусто, тоны нажимаются по одному через ToneDelay после Detect.
	Tones     string
	ToneDelay time.Duration

	mu       sync.Mutex
	listener media.DtmfListener
	detects  int
	stops    int
	flushes  int
	timer    *time.Timer
}

func (d *Detector) Detect(listener media.DtmfListener) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listener = listener
	d.detects++
	if d.Tones != "" && d.timer == nil {
		tones := d.Tones
		d.timer = time.AfterFunc(d.ToneDelay, func() {
			for _, tone := range tones {
				if d.Press(string(tone)) != nil {
					return
				}
			}
		})
	}
	return nil
}

func (d *Detector) Stop() {
	d.mu.Lock()
	d.stops++
	d.listener = nil
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()
}

func (d *Detector) Flush() {
	d.mu.Lock()
	d.flushes++
	d.mu.Unlock()
}

// Press доставляет тоны слушателю по одному.
func (d *Detector) Press(tones string) error {
	for _, tone := range tones {
		d.mu.Lock()
		listener := d.listener
		d.mu.Unlock()
		if listener == nil {
			return ErrNotActive
		}
		listener.OnDtmfEvent(media.DtmfEvent{Tone: tone})
	}
	return nil
}

// Active true, пока детектор запущен.
func (d *Detector) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.listener != nil
}

// Counters количество вызовов Detect, Stop и Flush.
func (d *Detector) Counters() (detects, stops, flushes int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.detects, d.stops, d.flushes
}
