package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	c.Redis.Endpoint = strings.TrimSpace(c.Redis.Endpoint)

	c.Automator.AntennaKey = strings.TrimSpace(c.Automator.AntennaKey)
	c.Automator.DAQDomain = strings.TrimSpace(c.Automator.DAQDomain)
	c.Automator.NotifyEvent = strings.ToLower(strings.TrimSpace(c.Automator.NotifyEvent))

	instances := make([]string, 0, len(c.Automator.Instances))
	seen := make(map[string]struct{}, len(c.Automator.Instances))
	for _, inst := range c.Automator.Instances {
		inst = strings.TrimSpace(inst)
		if inst == "" {
			continue
		}
		if _, dup := seen[inst]; dup {
			continue
		}
		seen[inst] = struct{}{}
		instances = append(instances, inst)
	}
	c.Automator.Instances = instances

	lockPath, err := expandPath(c.Automator.LockPath)
	if err != nil {
		return fmt.Errorf("lock_path: %w", err)
	}
	c.Automator.LockPath = lockPath

	historyPath, err := expandPath(c.History.Path)
	if err != nil {
		return fmt.Errorf("history.path: %w", err)
	}
	c.History.Path = historyPath

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Tracing.Exporter = strings.ToLower(strings.TrimSpace(c.Tracing.Exporter))
	c.Tracing.Namespace = strings.TrimSpace(c.Tracing.Namespace)
	return nil
}
