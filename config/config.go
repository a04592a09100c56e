package config

import (
	"os"

	"github.com/Clouded-Sabre/tuntcp/lib"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type DeviceConfig struct {
	Name    string `yaml:"name"`    // TUN interface name
	Address string `yaml:"address"` // local address in CIDR notation, e.g. 192.168.0.1/24
	MTU     int    `yaml:"mtu"`
}

type ConnectionConfig struct {
	WindowSize     uint16 `yaml:"window"`
	TTL            uint8  `yaml:"ttl"`
	BufferCapacity int    `yaml:"buffer_capacity"`
	SendResets     bool   `yaml:"send_resets"`
	TraceSize      int64  `yaml:"trace_size"`
	ISS            string `yaml:"iss"` // rfc6528, random or zero
}

// Config mirrors config.yaml.
type Config struct {
	Device               DeviceConfig     `yaml:"device"`
	LogLevel             string           `yaml:"log_level"`
	Debug                bool             `yaml:"debug"`
	Capture              string           `yaml:"capture"` // pcap file path, empty disables capturing
	PayloadPoolSize      int              `yaml:"payload_pool_size"`
	PoolDebug            bool             `yaml:"pool_debug"`
	ProcessTimeThreshold int              `yaml:"process_time_threshold"` // ms
	TimeWait             int              `yaml:"time_wait_ms"`
	ReapInterval         int              `yaml:"reap_interval_ms"`
	Connection           ConnectionConfig `yaml:"connection"`
}

// Default returns the configuration used for every field config.yaml omits.
func Default() *Config {
	dc := lib.DefaultDispatcherConfig()
	return &Config{
		Device: DeviceConfig{
			Name:    "tun0",
			Address: "192.168.0.1/24",
			MTU:     lib.MTU,
		},
		LogLevel:             "info",
		PayloadPoolSize:      dc.PayloadPoolSize,
		ProcessTimeThreshold: dc.ProcessTimeThreshold,
		TimeWait:             dc.TimeWait,
		ReapInterval:         dc.ReapInterval,
		Connection: ConnectionConfig{
			WindowSize:     lib.DefaultWindowSize,
			TTL:            lib.DefaultTTL,
			BufferCapacity: lib.MTU,
			TraceSize:      lib.DefaultTraceSize,
			ISS:            "rfc6528",
		},
	}
}

// ReadConfig reads the YAML file at path on top of the defaults.
func ReadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if config.Device.MTU <= 0 || config.Device.MTU > lib.MTU {
		return nil, errors.Errorf("device mtu %d not in (0, %d]", config.Device.MTU, lib.MTU)
	}
	if bc := config.Connection.BufferCapacity; bc < lib.MinFrameLength || bc > lib.MTU {
		return nil, errors.Wrapf(lib.ErrBufferCapacity, "connection buffer_capacity %d not in [%d, %d]", bc, lib.MinFrameLength, lib.MTU)
	}
	return config, nil
}

// LoadConfig reads the YAML file at path and returns the dispatcher and
// connection configurations it describes.
func LoadConfig(path string) (*lib.DispatcherConfig, *lib.ConnectionConfig, error) {
	config, err := ReadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	return config.Lib()
}

// Lib converts config into library configurations. Loggers are left nil for
// the caller to set.
func (config *Config) Lib() (*lib.DispatcherConfig, *lib.ConnectionConfig, error) {
	iss, err := issGenerator(config.Connection.ISS)
	if err != nil {
		return nil, nil, err
	}
	connConfig := &lib.ConnectionConfig{
		WindowSize:     config.Connection.WindowSize,
		TTL:            config.Connection.TTL,
		BufferCapacity: config.Connection.BufferCapacity,
		SendResets:     config.Connection.SendResets,
		TraceSize:      config.Connection.TraceSize,
		ISS:            iss,
	}
	dispatcherConfig := &lib.DispatcherConfig{
		PayloadPoolSize:      config.PayloadPoolSize,
		PoolDebug:            config.PoolDebug,
		ProcessTimeThreshold: config.ProcessTimeThreshold,
		TimeWait:             config.TimeWait,
		ReapInterval:         config.ReapInterval,
		ConnConfig:           connConfig,
	}
	return dispatcherConfig, connConfig, nil
}

func issGenerator(name string) (lib.ISSGenerator, error) {
	switch name {
	case "", "rfc6528":
		return lib.NewRFC6528Generator()
	case "random":
		return lib.RandomISS, nil
	case "zero":
		return lib.ZeroISS, nil
	}
	return nil, errors.Errorf("unknown iss generator %q", name)
}

// NewLogger builds the process logger. debug selects the development encoder.
func (config *Config) NewLogger() (*zap.Logger, error) {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(config.LogLevel)); err != nil {
		return nil, errors.Wrapf(err, "log level %q", config.LogLevel)
	}
	zc := zap.NewProductionConfig()
	if config.Debug {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
