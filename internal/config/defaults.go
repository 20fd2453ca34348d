package config

const (
	defaultSourceDir  = "~/.local/share/morph/source"
	defaultOutputDir  = "~/.local/share/morph/output"
	defaultTempDir    = "~/.local/share/morph/tmp"
	defaultLogDir     = "~/.local/share/morph/logs"
	defaultAPIBind    = "127.0.0.1:7915"
	defaultSocketPath = "~/.local/share/morph/morphd.sock"

	defaultSpaceMaxTotalGiB     = 100
	defaultSpaceReservedGiB     = 5
	defaultSpaceRefreshInterval = 30

	defaultConverterCommand    = "ffmpeg"
	defaultConverterTimeout    = 21600
	defaultConverterConcurrent = 1
	defaultConverterMaxRetries = 2

	defaultStreamPingInterval         = 30
	defaultStreamPongTimeout          = 75
	defaultStreamSendBuffer           = 64
	defaultStreamReconnectInterval    = 1
	defaultStreamReconnectMaxInterval = 30
	defaultStreamReconnectMaxAttempts = 10

	defaultNotifyRequestTimeout = 10

	defaultWorkflowPollInterval       = 5
	defaultWorkflowErrorRetryInterval = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			SourceDir:  defaultSourceDir,
			OutputDir:  defaultOutputDir,
			TempDir:    defaultTempDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
			SocketPath: defaultSocketPath,
		},
		Space: Space{
			Enabled:         true,
			MaxTotalGiB:     defaultSpaceMaxTotalGiB,
			ReservedGiB:     defaultSpaceReservedGiB,
			RefreshInterval: defaultSpaceRefreshInterval,
		},
		Converter: Converter{
			Command:       defaultConverterCommand,
			TimeoutSecs:   defaultConverterTimeout,
			MaxConcurrent: defaultConverterConcurrent,
			MaxRetries:    defaultConverterMaxRetries,
		},
		Stream: Stream{
			PingInterval:         defaultStreamPingInterval,
			PongTimeout:          defaultStreamPongTimeout,
			SendBuffer:           defaultStreamSendBuffer,
			ReconnectInterval:    defaultStreamReconnectInterval,
			ReconnectMaxInterval: defaultStreamReconnectMaxInterval,
			ReconnectMaxAttempts: defaultStreamReconnectMaxAttempts,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Completion:     true,
			Errors:         true,
			Space:          true,
		},
		Workflow: Workflow{
			PollInterval:       defaultWorkflowPollInterval,
			ErrorRetryInterval: defaultWorkflowErrorRetryInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
