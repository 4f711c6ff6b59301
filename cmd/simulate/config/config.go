package config

import (
	"fmt"
	"os"
	"time"

	"Dot11/pkg/capture"
	"Dot11/pkg/layers"
	"Dot11/pkg/medium"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Medium struct {
		SlotTime       time.Duration `yaml:"slot_time"`
		SIFSTime       time.Duration `yaml:"sifs_time"`
		CWMin          int           `yaml:"cw_min"`
		CWMax          int           `yaml:"cw_max"`
		RetryLimit     int           `yaml:"retry_limit"`
		MaxFrameLength int           `yaml:"max_frame_length"`
		ByteTime       time.Duration `yaml:"byte_time"`
		LossRate       float64       `yaml:"loss_rate"`
	} `yaml:"medium"`

	Link struct {
		QueueCapacity        int           `yaml:"queue_capacity"`
		OutgoingLimit        int           `yaml:"outgoing_limit"`
		IncomingLimit        int           `yaml:"incoming_limit"`
		AckTimeout           time.Duration `yaml:"ack_timeout"`
		PollInterval         time.Duration `yaml:"poll_interval"`
		DebugLevel           int           `yaml:"debug_level"`
		SlotSelection        int           `yaml:"slot_selection"`
		BeaconInterval       int           `yaml:"beacon_interval"`
		BeaconSendLatency    time.Duration `yaml:"beacon_send_latency"`
		BeaconReceiveLatency time.Duration `yaml:"beacon_receive_latency"`
	} `yaml:"link"`

	Stations []uint16  `yaml:"stations"`
	Traffic  []Traffic `yaml:"traffic"`

	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"log"`

	Capture string `yaml:"capture"`
}

// Traffic is a message one station sends to another Count times.
type Traffic struct {
	From     uint16        `yaml:"from"`
	To       uint16        `yaml:"to"`
	Message  string        `yaml:"message"`
	Count    int           `yaml:"count"`
	Interval time.Duration `yaml:"interval"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, err
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return &config, nil
}

func (c *Config) validate() error {
	known := make(map[uint16]bool, len(c.Stations))
	for _, s := range c.Stations {
		if layers.MACAddress(s).IsBroadcast() {
			return fmt.Errorf("station address %d is the broadcast address", s)
		}
		if known[s] {
			return fmt.Errorf("duplicate station %d", s)
		}
		known[s] = true
	}
	for _, t := range c.Traffic {
		if !known[t.From] {
			return fmt.Errorf("traffic from unknown station %d", t.From)
		}
	}
	return nil
}

// Constants fills unset medium parameters from medium.DefaultConstants.
func (c *Config) Constants() medium.Constants {
	constants := medium.DefaultConstants
	if c.Medium.SlotTime > 0 {
		constants.SlotTime = c.Medium.SlotTime
	}
	if c.Medium.SIFSTime > 0 {
		constants.SIFSTime = c.Medium.SIFSTime
	}
	if c.Medium.CWMin > 0 {
		constants.CWMin = c.Medium.CWMin
	}
	if c.Medium.CWMax > 0 {
		constants.CWMax = c.Medium.CWMax
	}
	if c.Medium.RetryLimit > 0 {
		constants.RetryLimit = c.Medium.RetryLimit
	}
	if c.Medium.MaxFrameLength > 0 {
		constants.MaxFrameLength = c.Medium.MaxFrameLength
	}
	return constants
}

func CreateNetwork(config *Config) *medium.Network {
	return &medium.Network{
		Constants: config.Constants(),
		ByteTime:  config.Medium.ByteTime,
		LossRate:  config.Medium.LossRate,
	}
}

func CreateLinkLayer(config *Config, address uint16, m medium.Medium, logger *zap.SugaredLogger) *layers.LinkLayer {
	link := layers.NewLinkLayer(layers.MACAddress(address), m, layers.Config{
		QueueCapacity:        config.Link.QueueCapacity,
		OutgoingLimit:        config.Link.OutgoingLimit,
		IncomingLimit:        config.Link.IncomingLimit,
		AckTimeout:           config.Link.AckTimeout,
		PollInterval:         config.Link.PollInterval,
		DebugLevel:           config.Link.DebugLevel,
		SlotSelection:        config.Link.SlotSelection,
		BeaconInterval:       config.Link.BeaconInterval,
		BeaconSendLatency:    config.Link.BeaconSendLatency,
		BeaconReceiveLatency: config.Link.BeaconReceiveLatency,
	})
	link.SetLogger(logger)
	return link
}

// CreateLogger logs to stdout and, if a file is configured, to a rotating JSON log.
func CreateLogger(config *Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zap.DebugLevel)
	if config.Log.Level != "" {
		var err error
		if level, err = zap.ParseAtomicLevel(config.Log.Level); err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
	}

	console := zap.NewDevelopmentEncoderConfig()
	console.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(console), zapcore.Lock(os.Stdout), level),
	}

	if config.Log.File != "" {
		writer := &lumberjack.Logger{
			Filename:   config.Log.File,
			MaxSize:    config.Log.MaxSize,    // megabytes
			MaxBackups: config.Log.MaxBackups, // number of backups
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(writer), level))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

// CreateCapture returns nil when no capture file is configured.
func CreateCapture(config *Config) (*capture.Writer, error) {
	if config.Capture == "" {
		return nil, nil
	}
	return capture.Create(config.Capture)
}
