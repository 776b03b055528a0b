package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/arzzra/media_control/pkg/au"
	"github.com/arzzra/media_control/pkg/config"
	"github.com/arzzra/media_control/pkg/dispatch"
	"github.com/arzzra/media_control/pkg/endpoint"
	"github.com/arzzra/media_control/pkg/logging"
	"github.com/arzzra/media_control/pkg/machine"
	"github.com/arzzra/media_control/pkg/media"
	"github.com/arzzra/media_control/pkg/media/sim"
	"github.com/arzzra/media_control/pkg/metrics"
	"github.com/arzzra/media_control/pkg/mgcp"
	"github.com/arzzra/media_control/pkg/notification"
	"github.com/arzzra/media_control/pkg/rtpconn"
	"github.com/arzzra/media_control/pkg/sdpcodec"
	"github.com/arzzra/media_control/pkg/session"
	"github.com/arzzra/media_control/pkg/signal"
)

const demoOffer = "v=0\r\n" +
	"o=- 3344 1 IN IP4 192.0.2.20\r\n" +
	"s=caller\r\n" +
	"c=IN IP4 192.0.2.20\r\n" +
	"t=0 0\r\n" +
	"m=audio 49170 RTP/AVP 0 8 101\r\n" +
	"a=rtpmap:0 PCMU/8000\r\n" +
	"a=rtpmap:8 PCMA/8000\r\n" +
	"a=rtpmap:101 telephone-event/8000\r\n" +
	"a=fmtp:101 0-15\r\n" +
	"a=sendrecv\r\n"

type demoOptions struct {
	endpoint  string
	remoteSDP string
	mode      string
	delay     time.Duration
	linger    time.Duration
}

var demo demoOptions

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Прогнать сценарий эндпоинта на симулированных медиа ресурсах",
	Long: `demo создает эндпоинт, открывает RTP соединение по SDP предложению,
выполняет запрос уведомления с объявлением (AU/pa) и play/record (AU/pr),
меняет режим соединения и закрывает его. Метрики доступны по HTTP,
если они включены в конфигурации.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configFile)
		if err != nil {
			return err
		}
		logger, closer, err := logging.Init(cfg.Log)
		if err != nil {
			return err
		}
		defer closer.Close()

		ctx, stop := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runDemo(ctx, cfg, demo, logger, cmd.OutOrStdout())
	},
}

func init() {
	demoCmd.Flags().StringVar(&demo.endpoint, "endpoint", "ivr/1", "локальное имя эндпоинта")
	demoCmd.Flags().StringVar(&demo.remoteSDP, "remote-sdp", "", "файл с SDP предложением удаленной стороны")
	demoCmd.Flags().StringVar(&demo.mode, "mode", "sendrecv", "режим создаваемого соединения")
	demoCmd.Flags().DurationVar(&demo.delay, "delay", 500*time.Millisecond, "длительность симулированных треков и записи")
	demoCmd.Flags().DurationVar(&demo.linger, "linger", 0, "сколько держать HTTP метрики после сценария")
}

type outcome[T any] struct {
	value T
	err   error
}

func deliver[T any](ch chan<- outcome[T]) mgcp.Callback[T] {
	return func(v T, err error) {
		select {
		case ch <- outcome[T]{value: v, err: err}:
		default:
		}
	}
}

func await[T any](ctx context.Context, ch <-chan outcome[T]) (T, error) {
	select {
	case o := <-ch:
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// eventWaiter передает события эндпоинта в канал
type eventWaiter struct {
	events chan mgcp.Event
}

func (w *eventWaiter) OnEvent(_ any, ev mgcp.Event) {
	select {
	case w.events <- ev:
	default:
	}
}

func (w *eventWaiter) next(ctx context.Context) (mgcp.Event, error) {
	select {
	case ev := <-w.events:
		return ev, nil
	case <-ctx.Done():
		return mgcp.Event{}, ctx.Err()
	}
}

func runDemo(ctx context.Context, cfg *config.Config, opts demoOptions, logger *slog.Logger, out io.Writer) error {
	offer := demoOffer
	if opts.remoteSDP != "" {
		data, err := os.ReadFile(opts.remoteSDP)
		if err != nil {
			return fmt.Errorf("чтение SDP: %w", err)
		}
		offer = string(data)
	}
	mode := rtpconn.ModeSendRecv
	if opts.mode != "" {
		m, err := rtpconn.ParseMode(opts.mode)
		if err != nil {
			return err
		}
		mode = m
	}

	reg := prometheus.NewRegistry()
	collector := metrics.New(cfg.Metrics.Namespace, reg)
	if cfg.Metrics.Enabled {
		srv := serveMetrics(cfg.Metrics, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	d, err := dispatch.New(cfg.Dispatch, logger)
	if err != nil {
		return err
	}
	defer d.Close()

	sessCfg, err := cfg.Session()
	if err != nil {
		return err
	}
	allocator, err := session.NewAllocator(sessCfg, logger)
	if err != nil {
		return err
	}

	registry := endpoint.NewRegistry(d, logger)
	id := mgcp.EndpointID{LocalName: opts.endpoint, Domain: "mediagw"}
	ep, err := endpoint.New(endpoint.Config{
		ID:                 id,
		Allocator:          allocator,
		Codec:              sdpcodec.New(cfg.Codec()),
		Executor:           registry.Executor(id.String()),
		Logger:             logger,
		ConnectionListener: collector,
		MachineObservers:   []machine.Observer{collector},
		SignalTimeout:      cfg.Signals.Timeout,
	})
	if err != nil {
		return err
	}
	if err := registry.Register(ep); err != nil {
		return err
	}
	defer registry.Remove(id.String())

	waiter := &eventWaiter{events: make(chan mgcp.Event, 8)}
	ep.Observe(waiter)
	ep.Observe(collector)

	created := make(chan outcome[endpoint.ConnectionResult], 1)
	if err := registry.Submit(id.String(), func(e *endpoint.Endpoint) {
		e.CreateConnection(offer, mode, deliver(created))
	}); err != nil {
		return err
	}
	conn, err := await(ctx, created)
	if err != nil {
		return fmt.Errorf("создание соединения: %w", err)
	}
	fmt.Fprintf(out, "соединение %s открыто\n%s", conn.ConnectionID, conn.LocalDescription)

	announcement, prompt, err := demoSignals(cfg, opts.delay, logger, collector)
	if err != nil {
		return err
	}
	accepted := make(chan outcome[struct{}], 1)
	ep.RequestNotification(notification.Request{
		RequestID:      "demo",
		TimeoutSignals: []signal.TimeoutSignal{prompt},
		BriefSignals:   []signal.BriefSignal{announcement},
	}, deliver(accepted))
	if _, err := await(ctx, accepted); err != nil {
		return fmt.Errorf("запрос уведомления: %w", err)
	}
	for i := 0; i < 2; i++ {
		ev, err := waiter.next(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "событие %s\n", ev)
	}

	modified := make(chan outcome[rtpconn.Mode], 1)
	ep.ModifyConnection(conn.ConnectionID, rtpconn.ModeRecvOnly, deliver(modified))
	updated, err := await(ctx, modified)
	if err != nil {
		return fmt.Errorf("изменение режима: %w", err)
	}
	fmt.Fprintf(out, "режим соединения %s\n", updated)

	closed := make(chan outcome[struct{}], 1)
	ep.Shutdown(deliver(closed))
	if _, err := await(ctx, closed); err != nil {
		return err
	}
	stats := d.Stats()
	fmt.Fprintf(out, "эндпоинт остановлен, задач выполнено %d, портов занято %d\n",
		stats.Processed, allocator.Ports().InUse())

	if cfg.Metrics.Enabled && opts.linger > 0 {
		logger.Info("метрики доступны", slog.String("listen", cfg.Metrics.Listen), slog.Duration("linger", opts.linger))
		select {
		case <-time.After(opts.linger):
		case <-ctx.Done():
		}
	}
	return nil
}

func demoSignals(cfg *config.Config, delay time.Duration, logger *slog.Logger, obs machine.Observer) (*au.PlayAnnouncement, *au.PlayRecord, error) {
	signalOpts := []au.Option{
		au.WithSettings(cfg.Settings()),
		au.WithLogger(logger),
		au.WithMachineObserver(obs),
	}

	announcement, err := au.NewPlayAnnouncement("demo",
		map[string]string{"an": "welcome.wav,menu.wav"},
		&sim.Player{Delay: delay}, signalOpts...)
	if err != nil {
		return nil, nil, err
	}

	resources := au.Resources{
		Player: &sim.Player{Delay: delay},
		Recorder: &sim.Recorder{
			Script: []media.RecorderEvent{
				{Type: media.RecorderSpeechDetected},
				{Type: media.RecorderStopped, Qualifier: media.StopNormal},
			},
			ScriptDelay: delay,
		},
		Detector: &sim.Detector{},
	}
	prompt, err := au.NewPlayRecord("demo",
		map[string]string{"ip": "prompt.wav", "sa": "thanks.wav"},
		resources, signalOpts...)
	if err != nil {
		return nil, nil, err
	}
	return announcement, prompt, nil
}

func serveMetrics(cfg metrics.Config, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("сервер метрик остановлен", slog.Any("error", err))
		}
	}()
	logger.Info("сервер метрик запущен", slog.String("listen", cfg.Listen), slog.String("path", cfg.Path))
	return srv
}
