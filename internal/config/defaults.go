package config

const (
	defaultConfigPath       = "~/.config/commensal-automator/config.toml"
	defaultRedisEndpoint    = "127.0.0.1:6379"
	defaultAntennaKey       = "META_flagant"
	defaultDAQDomain        = "hashpipe"
	defaultDurationSeconds  = 300
	defaultNotifyEvent      = "hset"
	defaultLockPath         = "/tmp/commensal-automator.lock"
	defaultMetaHash         = "META"
	defaultSourceField      = "src"
	defaultStartLeadPackets = 1 << 20
	defaultGatewayTimeout   = 5
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
	defaultMetricsAddr      = ":9090"
	defaultTracingExporter  = "stdout"
	defaultTracingService   = "commensal-automator"
	defaultTracingNamespace = "cosmic"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Redis: Redis{
			Endpoint: defaultRedisEndpoint,
		},
		Automator: Automator{
			AntennaKey:      defaultAntennaKey,
			DAQDomain:       defaultDAQDomain,
			DurationSeconds: defaultDurationSeconds,
			NotifyEvent:     defaultNotifyEvent,
			LockPath:        defaultLockPath,
		},
		Gateway: Gateway{
			MetaHash:         defaultMetaHash,
			SourceField:      defaultSourceField,
			StartLeadPackets: defaultStartLeadPackets,
			TimeoutSeconds:   defaultGatewayTimeout,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		Metrics: Metrics{
			Addr: defaultMetricsAddr,
		},
		Tracing: Tracing{
			ServiceName: defaultTracingService,
			Namespace:   defaultTracingNamespace,
			Exporter:    defaultTracingExporter,
			SampleRatio: 1.0,
		},
	}
}
