package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Validate ensures the configuration contains usable values.
func (c *Config) Validate() error {
	if err := c.validateRedis(); err != nil {
		return err
	}
	if err := c.validateAutomator(); err != nil {
		return err
	}
	if c.Gateway.StartLeadPackets < 0 {
		return errors.New("gateway.start_lead_packets must be non-negative")
	}
	if c.Gateway.TimeoutSeconds <= 0 {
		return errors.New("gateway.timeout must be positive")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return c.validateTracing()
}

func (c *Config) validateRedis() error {
	if c.Redis.Endpoint == "" {
		return errors.New("redis.endpoint is required")
	}
	if _, _, err := net.SplitHostPort(c.Redis.Endpoint); err != nil {
		return fmt.Errorf("redis.endpoint must be host:port: %w", err)
	}
	if c.Redis.DB < 0 {
		return errors.New("redis.db must be non-negative")
	}
	return nil
}

func (c *Config) validateAutomator() error {
	a := c.Automator
	if a.AntennaKey == "" {
		return errors.New("automator.antenna_key is required")
	}
	if len(a.Instances) == 0 {
		return errors.New("automator.instances must list at least one instance")
	}
	for _, inst := range a.Instances {
		if strings.Contains(inst, "://") || strings.HasSuffix(inst, "/status") {
			return fmt.Errorf("automator.instances: %q is not a bare instance name", inst)
		}
	}
	if a.DAQDomain == "" {
		return errors.New("automator.daq_domain is required")
	}
	if strings.Contains(a.DAQDomain, "://") {
		return fmt.Errorf("automator.daq_domain %q must not contain a scheme separator", a.DAQDomain)
	}
	if a.DurationSeconds <= 0 {
		return errors.New("automator.duration must be positive")
	}
	if a.NotifyEvent == "" {
		return errors.New("automator.notify_event is required")
	}
	if a.LockPath == "" {
		return errors.New("automator.lock_path is required")
	}
	return nil
}

func (c *Config) validateTracing() error {
	if !c.Tracing.Enabled {
		return nil
	}
	switch c.Tracing.Exporter {
	case "stdout", "otlp", "otlpgrpc":
	default:
		return fmt.Errorf("tracing.exporter: unsupported value %q", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return errors.New("tracing.sample_ratio must be within [0, 1]")
	}
	return nil
}
