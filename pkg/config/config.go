// Package config загрузка конфигурации шлюза из файла и переменных окружения.
//
// Переменные окружения имеют префикс MEDIAGW_, точка в ключе заменяется
// подчеркиванием: MEDIAGW_RTP_MIN_PORT, MEDIAGW_LOG_LEVEL.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arzzra/media_control/pkg/au"
	"github.com/arzzra/media_control/pkg/dispatch"
	"github.com/arzzra/media_control/pkg/logging"
	"github.com/arzzra/media_control/pkg/metrics"
	"github.com/arzzra/media_control/pkg/sdpcodec"
	"github.com/arzzra/media_control/pkg/session"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "MEDIAGW"

// Config конфигурация шлюза
type Config struct {
	Log      logging.Config  `mapstructure:"log"`
	Metrics  metrics.Config  `mapstructure:"metrics"`
	Dispatch dispatch.Config `mapstructure:"dispatch"`
	RTP      RTPConfig       `mapstructure:"rtp"`
	Signals  SignalsConfig   `mapstructure:"signals"`
}

// RTPConfig параметры медиа сессий и SDP
type RTPConfig struct {
	LocalAddress string `mapstructure:"local_address"`
	MinPort      int    `mapstructure:"min_port"`
	MaxPort      int    `mapstructure:"max_port"`
	PayloadTypes []int  `mapstructure:"payload_types"`
	SessionName  string `mapstructure:"session_name"`
}

// SignalsConfig значения по умолчанию для сигналов пакета AU
type SignalsConfig struct {
	DefaultAttempts      int           `mapstructure:"default_attempts"`
	PreSpeechTimer       time.Duration `mapstructure:"pre_speech_timer"`
	PostSpeechTimer      time.Duration `mapstructure:"post_speech_timer"`
	RecordingLengthTimer time.Duration `mapstructure:"recording_length_timer"`
	// Timeout ограничение на выполнение timeout сигнала, 0 без ограничения
	Timeout time.Duration `mapstructure:"timeout"`
}

// Default конфигурация по умолчанию
func Default() Config {
	sess := session.DefaultConfig()
	pts := make([]int, len(sess.PayloadTypes))
	for i, pt := range sess.PayloadTypes {
		pts[i] = int(pt)
	}
	sig := au.DefaultSettings()

	return Config{
		Log:      logging.DefaultConfig(),
		Metrics:  metrics.DefaultConfig(),
		Dispatch: dispatch.DefaultConfig(),
		RTP: RTPConfig{
			LocalAddress: sess.LocalAddress,
			MinPort:      sess.Ports.Min,
			MaxPort:      sess.Ports.Max,
			PayloadTypes: pts,
			SessionName:  sdpcodec.DefaultConfig().SessionName,
		},
		Signals: SignalsConfig{
			DefaultAttempts:      sig.Attempts,
			PreSpeechTimer:       sig.PreSpeechTimer,
			PostSpeechTimer:      sig.PostSpeechTimer,
			RecordingLengthTimer: sig.RecordingLengthTimer,
		},
	}
}

// Load читает конфигурацию. Пустой path означает только значения по
// умолчанию и переменные окружения.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("ошибка чтения конфигурации %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("некорректная конфигурация: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file.enabled", d.Log.File.Enabled)
	v.SetDefault("log.file.path", d.Log.File.Path)
	v.SetDefault("log.file.max_size_mb", d.Log.File.MaxSizeMB)
	v.SetDefault("log.file.max_backups", d.Log.File.MaxBackups)
	v.SetDefault("log.file.max_age_days", d.Log.File.MaxAgeDays)
	v.SetDefault("log.file.compress", d.Log.File.Compress)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
	v.SetDefault("metrics.path", d.Metrics.Path)
	v.SetDefault("metrics.namespace", d.Metrics.Namespace)

	v.SetDefault("dispatch.partitions", d.Dispatch.Partitions)
	v.SetDefault("dispatch.queue_size", d.Dispatch.QueueSize)

	v.SetDefault("rtp.local_address", d.RTP.LocalAddress)
	v.SetDefault("rtp.min_port", d.RTP.MinPort)
	v.SetDefault("rtp.max_port", d.RTP.MaxPort)
	v.SetDefault("rtp.payload_types", d.RTP.PayloadTypes)
	v.SetDefault("rtp.session_name", d.RTP.SessionName)

	v.SetDefault("signals.default_attempts", d.Signals.DefaultAttempts)
	v.SetDefault("signals.pre_speech_timer", d.Signals.PreSpeechTimer)
	v.SetDefault("signals.post_speech_timer", d.Signals.PostSpeechTimer)
	v.SetDefault("signals.recording_length_timer", d.Signals.RecordingLengthTimer)
	v.SetDefault("signals.timeout", d.Signals.Timeout)
}

// Validate проверяет все секции
func (c Config) Validate() error {
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if c.Metrics.Enabled {
		if c.Metrics.Listen == "" {
			return fmt.Errorf("metrics: не задан listen")
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics: path должен начинаться с /: %q", c.Metrics.Path)
		}
	}
	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	if _, err := c.Session(); err != nil {
		return fmt.Errorf("rtp: %w", err)
	}
	if err := c.Settings().Validate(); err != nil {
		return fmt.Errorf("signals: %w", err)
	}
	if c.Signals.Timeout < 0 {
		return fmt.Errorf("signals: timeout не может быть отрицательным")
	}
	return nil
}

// Session конфигурация аллокатора сессий
func (c Config) Session() (session.Config, error) {
	pts := make([]uint8, 0, len(c.RTP.PayloadTypes))
	for _, pt := range c.RTP.PayloadTypes {
		if pt < 0 || pt > 127 {
			return session.Config{}, fmt.Errorf("некорректный тип нагрузки: %d", pt)
		}
		pts = append(pts, uint8(pt))
	}
	cfg := session.Config{
		LocalAddress: c.RTP.LocalAddress,
		Ports:        session.PortRange{Min: c.RTP.MinPort, Max: c.RTP.MaxPort},
		PayloadTypes: pts,
	}
	return cfg, cfg.Validate()
}

// Codec конфигурация SDP кодека
func (c Config) Codec() sdpcodec.Config {
	cfg := sdpcodec.DefaultConfig()
	if c.RTP.SessionName != "" {
		cfg.SessionName = c.RTP.SessionName
	}
	return cfg
}

// Settings значения по умолчанию сигналов AU
func (c Config) Settings() au.Settings {
	return au.Settings{
		Attempts:             c.Signals.DefaultAttempts,
		PreSpeechTimer:       c.Signals.PreSpeechTimer,
		PostSpeechTimer:      c.Signals.PostSpeechTimer,
		RecordingLengthTimer: c.Signals.RecordingLengthTimer,
	}
}
