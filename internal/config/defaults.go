package config

const (
	defaultDataDir       = "~/.local/share/folio"
	defaultWorkspaceDir  = "~/.local/share/folio/workspaces"
	defaultLogDir        = "~/.local/share/folio/logs"
	defaultSocketPath    = "~/.local/share/folio/folio.sock"
	defaultWorkerCount   = 4
	defaultQueueDepth    = 64
	defaultMode          = "sequential"
	defaultStepTimeout   = 900
	defaultLogFormat     = "console"
	defaultLogLevel      = "info"
	defaultNotifyTimeout = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:      defaultDataDir,
			WorkspaceDir: defaultWorkspaceDir,
			LogDir:       defaultLogDir,
			SocketPath:   defaultSocketPath,
		},
		Workflow: Workflow{
			WorkerCount:        defaultWorkerCount,
			QueueDepth:         defaultQueueDepth,
			DefaultMode:        defaultMode,
			StepTimeoutSeconds: defaultStepTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			JobCompleted:   true,
			JobFailed:      true,
		},
		OCR: OCR{
			Languages: []string{"eng"},
		},
	}
}
