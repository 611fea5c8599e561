package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(orDefault(c.Paths.DataDir, defaultDataDir)); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.WorkspaceDir, err = expandPath(orDefault(c.Paths.WorkspaceDir, defaultWorkspaceDir)); err != nil {
		return fmt.Errorf("paths.workspace_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(orDefault(c.Paths.LogDir, defaultLogDir)); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.SocketPath, err = expandPath(orDefault(c.Paths.SocketPath, defaultSocketPath)); err != nil {
		return fmt.Errorf("paths.socket_path: %w", err)
	}

	if c.Workflow.WorkerCount <= 0 {
		c.Workflow.WorkerCount = defaultWorkerCount
	}
	if c.Workflow.QueueDepth <= 0 {
		c.Workflow.QueueDepth = defaultQueueDepth
	}
	c.Workflow.DefaultMode = strings.ToLower(strings.TrimSpace(c.Workflow.DefaultMode))
	if c.Workflow.DefaultMode == "" {
		c.Workflow.DefaultMode = defaultMode
	}
	if c.Workflow.StepTimeoutSeconds <= 0 {
		c.Workflow.StepTimeoutSeconds = defaultStepTimeout
	}

	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}

	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyTimeout
	}

	if len(c.OCR.Languages) == 0 {
		c.OCR.Languages = []string{"eng"}
	}

	for i := range c.Remotes {
		c.Remotes[i].Name = strings.TrimSpace(c.Remotes[i].Name)
		c.Remotes[i].Network = strings.ToLower(strings.TrimSpace(c.Remotes[i].Network))
		if c.Remotes[i].Network == "" {
			c.Remotes[i].Network = "unix"
		}
		c.Remotes[i].Address = strings.TrimSpace(c.Remotes[i].Address)
	}
	return nil
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}
