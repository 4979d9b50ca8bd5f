/* usbhub - host-side USB device management core
 *
 * Configuration
 */

package usbhub

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

const (
	// DefaultProtocolEndpoint is the bulk endpoint number the protocol
	// demultiplexer listens on when a caller does not override it.
	DefaultProtocolEndpoint = 5

	// DefaultReadTimeout bounds a single protocol read.
	DefaultReadTimeout = time.Second

	// DefaultControlTimeout bounds a single vendor control transfer.
	DefaultControlTimeout = 5 * time.Second

	// DefaultRetryBudget is how many times a stalled control transfer
	// is retried before the task fails.
	DefaultRetryBudget = 3

	// DefaultUpdateServerHost/Port match the original firmware update
	// server's defaults.
	DefaultUpdateServerHost = "localhost"
	DefaultUpdateServerPort = 3853
)

// Config carries the parameters a Supervisor needs. VendorID and
// ProductID are required; everything else has a workable default.
//
// Per spec, VID/PID are never hard-coded by the core -- the caller
// always supplies them, as NewConfig's arguments. The protocol endpoint
// has a default (DefaultProtocolEndpoint) that an Option overrides.
type Config struct {
	VendorID  uint16
	ProductID uint16

	ProtocolEndpoint int
	ReadTimeout      time.Duration
	ControlTimeout   time.Duration
	RetryBudget      int

	UpdateServerEnable bool
	UpdateServerHost   string
	UpdateServerPort   int

	LogLevel LogLevel
}

// Option configures a Config returned by NewConfig.
type Option func(*Config)

// NewConfig builds a Config for the given VID/PID with defaults for
// everything else, then applies opts in order.
func NewConfig(vendorID, productID uint16, opts ...Option) *Config {
	cfg := &Config{
		VendorID:           vendorID,
		ProductID:          productID,
		ProtocolEndpoint:   DefaultProtocolEndpoint,
		ReadTimeout:        DefaultReadTimeout,
		ControlTimeout:     DefaultControlTimeout,
		RetryBudget:        DefaultRetryBudget,
		UpdateServerEnable: true,
		UpdateServerHost:   DefaultUpdateServerHost,
		UpdateServerPort:   DefaultUpdateServerPort,
		LogLevel:           LogError | LogInfo,
	}

	for _, opt := range opts {
		opt(cfg)
	}

	return cfg
}

// WithProtocolEndpoint overrides the protocol bulk endpoint number.
func WithProtocolEndpoint(ep int) Option {
	return func(c *Config) { c.ProtocolEndpoint = ep }
}

// WithReadTimeout overrides the protocol read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) { c.ReadTimeout = d }
}

// WithRetryBudget overrides the control-transfer retry budget.
func WithRetryBudget(n int) Option {
	return func(c *Config) { c.RetryBudget = n }
}

// WithUpdateServer overrides the update server's host/port, or disables
// it entirely when enable is false.
func WithUpdateServer(enable bool, host string, port int) Option {
	return func(c *Config) {
		c.UpdateServerEnable = enable
		c.UpdateServerHost = host
		c.UpdateServerPort = port
	}
}

// WithLogLevel overrides the default log level mask.
func WithLogLevel(level LogLevel) Option {
	return func(c *Config) { c.LogLevel = level }
}

// LoadConfigFile reads an overlay of Config fields from an INI file with
// [usb], [server] and [logging] sections, applying any key present on
// top of base. Unknown sections/keys are ignored, matching the teacher's
// forgiving conf.go dispatch.
func LoadConfigFile(path string, base *Config) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %s", err)
	}

	cfg := *base

	if sec := file.Section("usb"); sec != nil {
		if key := sec.Key("protocol_endpoint"); key.String() != "" {
			if v, err := key.Int(); err == nil {
				cfg.ProtocolEndpoint = v
			}
		}
		if key := sec.Key("read_timeout_ms"); key.String() != "" {
			if v, err := key.Int(); err == nil {
				cfg.ReadTimeout = time.Duration(v) * time.Millisecond
			}
		}
		if key := sec.Key("retry_budget"); key.String() != "" {
			if v, err := key.Int(); err == nil {
				cfg.RetryBudget = v
			}
		}
	}

	if sec := file.Section("server"); sec != nil {
		if key := sec.Key("enable"); key.String() != "" {
			if v, err := key.Bool(); err == nil {
				cfg.UpdateServerEnable = v
			}
		}
		if key := sec.Key("host"); key.String() != "" {
			cfg.UpdateServerHost = key.String()
		}
		if key := sec.Key("port"); key.String() != "" {
			if v, err := key.Int(); err == nil {
				cfg.UpdateServerPort = v
			}
		}
	}

	if sec := file.Section("logging"); sec != nil {
		if key := sec.Key("level"); key.String() != "" {
			cfg.LogLevel = parseLogLevel(key.String())
		}
	}

	return &cfg, nil
}

// parseLogLevel accepts a comma-separated list of error|info|debug|trace.
func parseLogLevel(s string) LogLevel {
	var level LogLevel

	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			switch s[start:i] {
			case "error":
				level |= LogError
			case "info":
				level |= LogInfo
			case "debug":
				level |= LogDebug
			case "trace":
				level |= LogTraceUSB
			}
			start = i + 1
		}
	}

	return level
}
