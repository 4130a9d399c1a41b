/*
Package config loads Pacfleet server configuration from environment
variables via viper.

Keys use the documented dotted form; in the environment the PACFLEET_ prefix
is added and dots become underscores:

	database.kind                        PACFLEET_DATABASE_KIND
	database.url                         PACFLEET_DATABASE_URL
	database.pool_min_size / _max_size   PACFLEET_DATABASE_POOL_MIN_SIZE ...
	server.host / server.port            PACFLEET_SERVER_HOST ...
	security.auth_token_signing_secret   PACFLEET_SECURITY_AUTH_TOKEN_SIGNING_SECRET
	security.token_ttl_hours             PACFLEET_SECURITY_TOKEN_TTL_HOURS
	security.admin_tokens                PACFLEET_SECURITY_ADMIN_TOKENS (comma separated)
	heartbeat.offline_threshold_seconds  PACFLEET_HEARTBEAT_OFFLINE_THRESHOLD_SECONDS
	shutdown.graceful_timeout_seconds    PACFLEET_SHUTDOWN_GRACEFUL_TIMEOUT_SECONDS
	snapshots.retain_per_endpoint        PACFLEET_SNAPSHOTS_RETAIN_PER_ENDPOINT
	cors.allowed_origins                 PACFLEET_CORS_ALLOWED_ORIGINS (comma separated)
	logging.level / logging.structured   PACFLEET_LOGGING_LEVEL ...

Load applies defaults, parses durations from the *_hours / *_seconds keys
and validates engine selection before the process touches the database.
*/
package config
