// Package config handles configuration loading using viper.
package config

import (
	"errors"
	"fmt"
	"math/bits"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"firestige.xyz/canstandin/internal/can"
	"firestige.xyz/canstandin/internal/pacing"
	"firestige.xyz/canstandin/internal/payload"
)

// RootKey is the top-level YAML key; env vars use the CANSTANDIN_ prefix
// through the key replacer (e.g. CANSTANDIN_SENDER_RATE).
const RootKey = "canstandin"

// ErrConfiguration marks invalid option combinations. It is reported before
// any transport is opened.
var ErrConfiguration = errors.New("configuration error")

// Config represents the top-level configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Sender   SenderConfig   `mapstructure:"sender" yaml:"sender"`
	Receiver ReceiverConfig `mapstructure:"receiver" yaml:"receiver"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format string           `mapstructure:"format" yaml:"format"` // json / text
	File   FileOutputConfig `mapstructure:"file" yaml:"file"`
	Report ReportConfig     `mapstructure:"report" yaml:"report"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ReportConfig configures the statistics report lines.
// Pattern understands %time, %level, %field and %msg.
type ReportConfig struct {
	Pattern string           `mapstructure:"pattern" yaml:"pattern"`
	Time    string           `mapstructure:"time" yaml:"time"`
	File    FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Sender ───

// SenderConfig configures the traffic generator.
type SenderConfig struct {
	Interface     string        `mapstructure:"iface" yaml:"iface"`
	ID            uint32        `mapstructure:"id" yaml:"id"`
	Extended      bool          `mapstructure:"extended" yaml:"extended"`
	FD            bool          `mapstructure:"fd" yaml:"fd"`
	QualityTest   bool          `mapstructure:"quality_test" yaml:"quality_test"`
	TestID        uint8         `mapstructure:"test_id" yaml:"test_id"`
	Len           *int          `mapstructure:"len" yaml:"len,omitempty"`
	Data          string        `mapstructure:"data" yaml:"data,omitempty"`
	Fill          uint8         `mapstructure:"fill" yaml:"fill"`
	Counter       bool          `mapstructure:"counter" yaml:"counter"`
	Count         uint64        `mapstructure:"count" yaml:"count"`
	Loop          uint64        `mapstructure:"loop" yaml:"loop"`
	Rate          uint64        `mapstructure:"rate" yaml:"rate"`
	DelayMS       *float64      `mapstructure:"delay_ms" yaml:"delay_ms,omitempty"`
	Duration      time.Duration `mapstructure:"duration" yaml:"duration"`
	StatsInterval time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`
	Quiet         bool          `mapstructure:"quiet" yaml:"quiet"`
	TxBuf         int           `mapstructure:"tx_buf" yaml:"tx_buf"`
	RxBuf         int           `mapstructure:"rx_buf" yaml:"rx_buf"`
	NoLoopback    bool          `mapstructure:"no_loopback" yaml:"no_loopback"`
	RecvOwn       bool          `mapstructure:"recv_own" yaml:"recv_own"`
}

// Variant returns the frame layout selected by FD.
func (s *SenderConfig) Variant() can.Variant { return can.VariantFor(s.FD) }

// TotalLimit returns count*loop, or count when loop is 1.
func (s *SenderConfig) TotalLimit() (uint64, error) {
	if s.Loop <= 1 {
		return s.Count, nil
	}
	if s.Count == 0 {
		return 0, fmt.Errorf("%w: loop requires count", ErrConfiguration)
	}
	hi, lo := bits.Mul64(s.Count, s.Loop)
	if hi != 0 {
		return 0, fmt.Errorf("%w: count * loop overflows", ErrConfiguration)
	}
	return lo, nil
}

// Interval returns the per-frame pacing interval.
func (s *SenderConfig) Interval() (time.Duration, error) {
	d, err := pacing.Interval(s.Rate, s.DelayMS)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return d, nil
}

// Payload returns the static payload: eight zero bytes for the quality
// test, otherwise the data/len/fill combination.
func (s *SenderConfig) Payload() ([]byte, error) {
	if s.QualityTest {
		return make([]byte, 8), nil
	}
	p, err := payload.Build(s.Variant().Capacity(), s.Len, s.Data, s.Fill)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return p, nil
}

// Validate checks option combinations.
func (s *SenderConfig) Validate() error {
	if s.Interface == "" {
		return fmt.Errorf("%w: iface is required", ErrConfiguration)
	}
	if s.ID > can.EFFMask {
		return fmt.Errorf("%w: %w: 0x%X", ErrConfiguration, can.ErrIDOutOfRange, s.ID)
	}
	if s.Loop == 0 {
		return fmt.Errorf("%w: loop must be >= 1", ErrConfiguration)
	}
	if _, err := s.Interval(); err != nil {
		return err
	}
	if s.QualityTest {
		switch {
		case s.Len != nil:
			return fmt.Errorf("%w: len is not allowed with quality_test", ErrConfiguration)
		case s.Data != "":
			return fmt.Errorf("%w: data is not allowed with quality_test", ErrConfiguration)
		case s.Counter:
			return fmt.Errorf("%w: counter is not allowed with quality_test", ErrConfiguration)
		}
	}
	p, err := s.Payload()
	if err != nil {
		return err
	}
	if s.Counter && len(p) < 4 {
		return fmt.Errorf("%w: counter requires len >= 4", ErrConfiguration)
	}
	if _, err := s.TotalLimit(); err != nil {
		return err
	}
	return nil
}

// ─── Receiver ───

// ReceiverConfig configures the traffic analyzer.
type ReceiverConfig struct {
	Interface     string        `mapstructure:"iface" yaml:"iface"`
	ID            *uint32       `mapstructure:"id" yaml:"id,omitempty"`
	Mask          *uint32       `mapstructure:"mask" yaml:"mask,omitempty"`
	Extended      bool          `mapstructure:"extended" yaml:"extended"`
	FD            bool          `mapstructure:"fd" yaml:"fd"`
	QualityTest   bool          `mapstructure:"quality_test" yaml:"quality_test"`
	TestID        *uint8        `mapstructure:"test_id" yaml:"test_id,omitempty"`
	KernelFilter  bool          `mapstructure:"kernel_filter" yaml:"kernel_filter"`
	Count         uint64        `mapstructure:"count" yaml:"count"`
	Duration      time.Duration `mapstructure:"duration" yaml:"duration"`
	StatsInterval time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`
	IdleExit      time.Duration `mapstructure:"idle_exit" yaml:"idle_exit"`
	Quiet         bool          `mapstructure:"quiet" yaml:"quiet"`
	Dump          bool          `mapstructure:"dump" yaml:"dump"`
	CheckCounter  bool          `mapstructure:"check_counter" yaml:"check_counter"`
	RxBuf         int           `mapstructure:"rx_buf" yaml:"rx_buf"`
	TxBuf         int           `mapstructure:"tx_buf" yaml:"tx_buf"`
}

// Variant returns the frame layout selected by FD.
func (r *ReceiverConfig) Variant() can.Variant { return can.VariantFor(r.FD) }

// Filter returns the ingress filter, or nil when no id is configured.
func (r *ReceiverConfig) Filter() (*can.Filter, error) {
	f, err := can.BuildFilter(r.ID, r.Mask, r.Extended)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return f, nil
}

// Validate checks option combinations.
func (r *ReceiverConfig) Validate() error {
	if r.Interface == "" {
		return fmt.Errorf("%w: iface is required", ErrConfiguration)
	}
	if _, err := r.Filter(); err != nil {
		return err
	}
	if r.QualityTest && r.CheckCounter {
		return fmt.Errorf("%w: check_counter is not allowed with quality_test", ErrConfiguration)
	}
	if r.KernelFilter && !r.QualityTest {
		return fmt.Errorf("%w: kernel_filter requires quality_test", ErrConfiguration)
	}
	return nil
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `canstandin: ...`.
type configRoot struct {
	Canstandin Config `mapstructure:"canstandin"`
}

// optionalKeys have no default; they are bound to the environment
// explicitly so AutomaticEnv can see them.
var optionalKeys = []string{
	"sender.len",
	"sender.data",
	"sender.delay_ms",
	"sender.duration",
	"receiver.id",
	"receiver.mask",
	"receiver.test_id",
	"receiver.duration",
}

// Load loads configuration from an optional file, the environment and
// overrides, in increasing precedence. Override keys are relative to the
// root key (e.g. "sender.rate").
func Load(path string, overrides map[string]any) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `canstandin.` key prefix maps to `CANSTANDIN_` in env vars via the
	// key replacer (e.g. key "canstandin.log.level" → env "CANSTANDIN_LOG_LEVEL").
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range optionalKeys {
		if err := v.BindEnv(RootKey + "." + key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	setDefaults(v)

	for key, value := range overrides {
		v.Set(RootKey+"."+key, value)
	}

	var root configRoot
	if err := v.Unmarshal(&root, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Canstandin

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "canstandin." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	d := func(key string, value any) { v.SetDefault(RootKey+"."+key, value) }

	// Log defaults
	d("log.level", "info")
	d("log.format", "text")
	d("log.file.enabled", false)
	d("log.file.path", "/var/log/canstandin/canstandin.log")
	d("log.file.rotation.max_size_mb", 100)
	d("log.file.rotation.max_age_days", 30)
	d("log.file.rotation.max_backups", 5)
	d("log.file.rotation.compress", true)
	d("log.report.pattern", "%msg\n")
	d("log.report.time", "2006-01-02 15:04:05.000")
	d("log.report.file.enabled", false)

	// Metrics defaults
	d("metrics.enabled", false)
	d("metrics.listen", ":9464")
	d("metrics.path", "/metrics")

	// Sender defaults
	d("sender.iface", "can0")
	d("sender.id", 0x123)
	d("sender.extended", false)
	d("sender.fd", false)
	d("sender.quality_test", false)
	d("sender.test_id", 1)
	d("sender.fill", 0xAA)
	d("sender.counter", false)
	d("sender.count", 0)
	d("sender.loop", 1)
	d("sender.rate", 0)
	d("sender.stats_interval", time.Second)
	d("sender.quiet", false)
	d("sender.tx_buf", 4194304)
	d("sender.rx_buf", 1048576)
	d("sender.no_loopback", false)
	d("sender.recv_own", false)

	// Receiver defaults
	d("receiver.iface", "can0")
	d("receiver.extended", false)
	d("receiver.fd", false)
	d("receiver.quality_test", false)
	d("receiver.kernel_filter", false)
	d("receiver.count", 0)
	d("receiver.stats_interval", time.Second)
	d("receiver.idle_exit", time.Second)
	d("receiver.quiet", false)
	d("receiver.dump", false)
	d("receiver.check_counter", false)
	d("receiver.rx_buf", 16777216)
	d("receiver.tx_buf", 1048576)
}

// decodeHook accepts Go duration strings or bare numbers of seconds for
// durations. Integers accept 0x prefixes through weak decoding.
func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		uintRangeHookFunc(),
		secondsToDurationHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
	)
}

// uintRangeHookFunc rejects numbers that do not fit a narrow unsigned field.
// Without it a YAML `id: 0x100000123` would be truncated to 0x123. Strings
// are left to the decoder, which already range-checks them.
func uintRangeHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		switch t.Kind() {
		case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		default:
			return data, nil
		}
		limit := uint64(1)<<t.Bits() - 1
		v := reflect.ValueOf(data)
		switch v.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if n := v.Int(); n < 0 || uint64(n) > limit {
				return nil, fmt.Errorf("value %d out of range for %s", n, t)
			}
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if n := v.Uint(); n > limit {
				return nil, fmt.Errorf("value %d out of range for %s", n, t)
			}
		case reflect.Float32, reflect.Float64:
			if n := v.Float(); n < 0 || n > float64(limit) {
				return nil, fmt.Errorf("value %v out of range for %s", n, t)
			}
		}
		return data, nil
	}
}

func secondsToDurationHookFunc() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case uint64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case string:
			if secs, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return time.Duration(secs * float64(time.Second)), nil
			}
		}
		return data, nil
	}
}

// ValidateAndApplyDefaults validates the ambient configuration.
// Sender and receiver sections are validated by the command that runs them.
func (cfg *Config) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics.enabled=true")
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	return nil
}
