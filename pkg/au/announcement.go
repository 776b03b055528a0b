package au

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arzzra/media_control/pkg/machine"
	"github.com/arzzra/media_control/pkg/media"
	"github.com/arzzra/media_control/pkg/mgcp"
	"github.com/arzzra/media_control/pkg/observer"
	"github.com/arzzra/media_control/pkg/signal"
)

// PlayAnnouncementSymbol символ сигнала воспроизведения объявления
const PlayAnnouncementSymbol = "pa"

var playAnnouncementParameters = whitelist(
	Announcement,
	Iterations,
	Interval,
	Duration,
	Speed,
	Volume,
)

// Состояния и события автомата объявления
const (
	paIdle      = "idle"
	paPlaying   = "playing"
	paCompleted = "completed"
	paFailed    = "failed"

	paStart     = "start"
	paNextTrack = "next_track"
	paReplay    = "replay"
	paDone      = "done"
	paFail      = "fail"
)

// unlimitedIterations значение it, при котором объявление повторяется до истечения du
const unlimitedIterations = -1

// PlayAnnouncement сигнал AU/pa: проигрывает сегменты объявления it раз
// с паузой iv, но не дольше du. Brief сигнал, очередность обеспечивает центр уведомлений.
type PlayAnnouncement struct {
	signal.Base

	player    media.Player
	observers *observer.Registry
	fsm       *machine.Machine[*announcementContext]
	logger    *slog.Logger
}

var _ signal.BriefSignal = (*PlayAnnouncement)(nil)

type announcementContext struct {
	signal   *PlayAnnouncement
	listener media.PlayerListener

	segments   []string
	iterations int
	interval   time.Duration
	duration   time.Duration
	playback   media.PlaybackOptions

	callback  mgcp.Callback[mgcp.Event]
	track     int
	iteration int
	timers    []*time.Timer
	failure   error
}

var announcementDefinition = sync.OnceValue(func() *machine.Definition[*announcementContext] {
	return machine.NewBuilder[*announcementContext]("au.pa", paIdle).
		Transition(paStart, paPlaying, paIdle).
		Internal(paNextTrack, paPlaying).
		Internal(paReplay, paPlaying).
		Transition(paDone, paCompleted, paPlaying).
		Transition(paFail, paFailed, paIdle, paPlaying).
		Final(paCompleted, paFailed).
		OnEvent(paStart, func(m *machine.Machine[*announcementContext], tr machine.Transition) error {
			m.Context().callback, _ = tr.Payload.(mgcp.Callback[mgcp.Event])
			return nil
		}).
		OnEnter(paPlaying, startAnnouncement).
		OnExit(paPlaying, stopAnnouncement).
		OnEvent(paNextTrack, nextAnnouncementTrack).
		OnEvent(paReplay, func(m *machine.Machine[*announcementContext], _ machine.Transition) error {
			return m.Context().playFrom(0)
		}).
		OnEvent(paFail, func(m *machine.Machine[*announcementContext], tr machine.Transition) error {
			c := m.Context()
			if err, ok := tr.Payload.(error); ok && err != nil {
				c.failure = err
			} else {
				c.failure = errors.New("announcement failed")
			}
			return nil
		}).
		OnEnter(paCompleted, func(m *machine.Machine[*announcementContext], _ machine.Transition) error {
			m.Context().complete(OperationComplete(ReturnSuccess), nil)
			return nil
		}).
		OnEnter(paFailed, func(m *machine.Machine[*announcementContext], _ machine.Transition) error {
			c := m.Context()
			ev := OperationFailed(ReturnUnspecifiedFailure)
			c.complete(ev, &mgcp.EventError{Event: ev, Cause: c.failure})
			return nil
		}).
		OnFailure(paFail).
		Build()
})

// NewPlayAnnouncement создает сигнал объявления.
func NewPlayAnnouncement(requestID string, params map[string]string, player media.Player, opts ...Option) (*PlayAnnouncement, error) {
	if player == nil {
		return nil, errors.New("объявление требует плеер")
	}
	base, err := signal.NewBase(requestID, PackageName, PlayAnnouncementSymbol, params, playAnnouncementParameters)
	if err != nil {
		return nil, err
	}

	p := &parameters{values: params}
	ctx := &announcementContext{
		segments:   p.segments(Announcement),
		iterations: p.integer(Iterations, 1),
		interval:   p.timer(Interval, 0),
		duration:   p.timer(Duration, 0),
		playback: media.PlaybackOptions{
			Speed:  p.integer(Speed, 0),
			Volume: p.integer(Volume, 0),
		},
	}
	if ctx.iterations == 0 || ctx.iterations < unlimitedIterations {
		p.fail(Iterations, params[Iterations.Symbol()], errors.New("must be positive or -1"))
	}
	if ctx.iterations == unlimitedIterations && ctx.duration == 0 {
		p.fail(Iterations, params[Iterations.Symbol()], errors.New("unlimited iterations require du"))
	}
	if err := p.err(); err != nil {
		return nil, err
	}

	o := buildOptions(opts)
	logger := o.logger.With(
		slog.String("component", "au.pa"),
		slog.String("request_id", requestID))

	s := &PlayAnnouncement{
		Base:      base,
		player:    player,
		observers: observer.New(logger),
		logger:    logger,
	}
	ctx.signal = s
	machineOpts := append([]machine.Option{machine.WithLogger(logger)}, o.machineOpts...)
	s.fsm = machine.New(announcementDefinition(), ctx, machineOpts...)
	ctx.listener = paPlayerListener{m: s.fsm}
	return s, nil
}

// Observe подписывает наблюдателя на итоговое событие сигнала.
func (s *PlayAnnouncement) Observe(o mgcp.EventObserver) bool { return s.observers.Observe(o) }

// Forget отписывает наблюдателя.
func (s *PlayAnnouncement) Forget(o mgcp.EventObserver) bool { return s.observers.Forget(o) }

// Execute запускает объявление. Повторные вызовы ничего не делают.
func (s *PlayAnnouncement) Execute(cb mgcp.Callback[mgcp.Event]) {
	if !s.fsm.Start() {
		return
	}
	cb = mgcp.Once(cb)
	s.fsm.Fire(machine.Event{Name: paStart, Payload: cb, Reject: cb.Fail})
}

// State текущее состояние автомата
func (s *PlayAnnouncement) State() string { return s.fsm.Current() }

// Done true после завершения объявления
func (s *PlayAnnouncement) Done() bool { return s.fsm.IsTerminated() }

func startAnnouncement(m *machine.Machine[*announcementContext], _ machine.Transition) error {
	c := m.Context()
	if c.duration > 0 {
		c.timers = append(c.timers, time.AfterFunc(c.duration, func() { m.FireName(paDone, nil) }))
	}
	return c.playFrom(0)
}

func stopAnnouncement(m *machine.Machine[*announcementContext], _ machine.Transition) error {
	c := m.Context()
	for _, t := range c.timers {
		t.Stop()
	}
	c.timers = nil
	c.signal.player.Stop()
	return nil
}

func nextAnnouncementTrack(m *machine.Machine[*announcementContext], _ machine.Transition) error {
	c := m.Context()
	if c.track+1 < len(c.segments) {
		return c.playFrom(c.track + 1)
	}

	c.iteration++
	if c.iterations != unlimitedIterations && c.iteration >= c.iterations {
		m.FireName(paDone, nil)
		return nil
	}
	if c.interval > 0 {
		c.timers = append(c.timers, time.AfterFunc(c.interval, func() { m.FireName(paReplay, nil) }))
		return nil
	}
	return c.playFrom(0)
}

// playFrom запускает сегмент track. Пустое объявление сразу завершается.
func (c *announcementContext) playFrom(track int) error {
	c.track = track
	if len(c.segments) == 0 {
		c.signal.fsm.FireName(paDone, nil)
		return nil
	}
	return c.signal.player.Play(c.segments[track], c.playback, c.listener)
}

func (c *announcementContext) complete(ev mgcp.Event, err error) {
	cb := c.callback
	c.callback = nil
	defer func() {
		if err != nil {
			cb.Fail(err)
		} else {
			cb.Succeed(ev)
		}
	}()

	c.signal.logger.Info("объявление завершено", slog.String("event", ev.String()))
	c.signal.observers.Notify(c.signal, ev)
}

type paPlayerListener struct {
	m *machine.Machine[*announcementContext]
}

func (l paPlayerListener) OnPlayerEvent(ev media.PlayerEvent) {
	switch ev.Type {
	case media.PlayerStopped:
		l.m.FireName(paNextTrack, nil)
	case media.PlayerFailed:
		err := ev.Err
		if err == nil {
			err = errors.New("player failed")
		}
		l.m.FireName(paFail, mgcp.WrapError(mgcp.CategoryResource, mgcp.CodeInternalFailure, err, "playback of %q failed", ev.URI))
	}
}
