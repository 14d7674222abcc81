package config

type AppConfig struct {
	APIPort     string   `env:"PORT,required" envDefault:"12222"`
	APIKeys     []string `env:"API_KEY,required" envSeparator:","`
	RabbitMQURL string   `env:"RABBITMQ_URL"`
	// PublicURL is where the API is reachable; OAuth2 redirects land below it.
	PublicURL string `env:"PUBLIC_URL" envDefault:"http://localhost:12222"`
}

type DatabaseConfig struct {
	Host            string `env:"EXCHANGESTACK_POSTGRES_HOST,required"`
	Port            string `env:"EXCHANGESTACK_POSTGRES_PORT,required"`
	User            string `env:"EXCHANGESTACK_POSTGRES_USER,required"`
	DBName          string `env:"EXCHANGESTACK_POSTGRES_DB_NAME,required"`
	Password        string `env:"EXCHANGESTACK_POSTGRES_PASSWORD,required"`
	MaxConn         int    `env:"EXCHANGESTACK_POSTGRES_DB_MAX_CONN" envDefault:"25"`
	MaxIdleConn     int    `env:"EXCHANGESTACK_POSTGRES_DB_MAX_IDLE_CONN" envDefault:"10"`
	ConnMaxLifetime int    `env:"EXCHANGESTACK_POSTGRES_DB_CONN_MAX_LIFETIME" envDefault:"60"`
	LogLevel        string `env:"EXCHANGESTACK_POSTGRES_LOG_LEVEL" envDefault:"WARN"`
	SSLMode         string `env:"EXCHANGESTACK_POSTGRES_SSL_MODE" envDefault:"require"`
}

type ExchangeConfig struct {
	// RequestTimeout bounds ordinary calls in seconds. Notification streams
	// are not bound by it.
	RequestTimeout int `env:"EXCHANGE_REQUEST_TIMEOUT" envDefault:"60"`
	// StreamTimeoutMinutes is the EWS GetStreamingEvents connection timeout.
	StreamTimeoutMinutes int `env:"EXCHANGE_STREAM_TIMEOUT_MINUTES" envDefault:"29"`
	// MinReconnectBackoff spaces notification stream openings, in seconds.
	MinReconnectBackoff int `env:"EXCHANGE_MIN_RECONNECT_BACKOFF" envDefault:"5"`
	// OWAPacing delays OWA notification handling, in milliseconds.
	OWAPacing     int    `env:"EXCHANGE_OWA_PACING_MS" envDefault:"100"`
	ServerVersion string `env:"EXCHANGE_SERVER_VERSION" envDefault:"Exchange2013"`
	// SyncFolders are the special-use folders synced once an account logs in.
	SyncFolders []string `env:"EXCHANGE_SYNC_FOLDERS" envSeparator:"," envDefault:"inbox,sent"`
	// ResyncConcurrency bounds how many accounts resync at once.
	ResyncConcurrency int `env:"EXCHANGE_RESYNC_CONCURRENCY" envDefault:"5"`
}
