package config

// GenerateDefaultConfigYAML returns a commented starter config written on
// first run when no config file exists.
func GenerateDefaultConfigYAML() []byte {
	return []byte(`# chatmock configuration.
# Every value here can be omitted; defaults are shown.

# Listen address and port for the API server.
host: 127.0.0.1
port: 8000

# Directory holding auth.json and local state.
# Default: $CHATMOCK_HOME, then $XDG_CONFIG_HOME/chatmock, then ~/.chatmock.
#auth-dir: ~/.chatmock

# Debug-level logging and verbose request/stream tracing.
debug: false
verbose: false

# Mirror logs into rotated files under <auth-dir>/logs.
logging-to-file: false

# Keys clients must present in the Authorization header.
# Empty disables client authentication.
#api-keys:
#  - your-local-key

# Proxy for outbound upstream requests, e.g. socks5://127.0.0.1:1080.
#proxy-url: ""

# Default reasoning configuration applied to upstream calls.
# effort: minimal|low|medium|high, summary: auto|concise|detailed|none,
# compat: legacy|o3|think-tags|current.
reasoning-effort: medium
reasoning-summary: auto
reasoning-compat: think-tags

# List each effort level as its own model id in /v1/models.
expose-reasoning-models: false

# Inject a web_search tool into Responses API calls without tools.
default-web-search: false

# Serve the /v1/responses surface.
enable-responses-api: true

# Forward client instructions verbatim instead of the managed base prompt.
no-base-instructions: false

# Use the API key captured during login as the bearer when present.
prefer-api-key: false

# Retries for upstream calls that fail before any bytes are streamed.
request-retry: 0
max-retry-interval: 30

# Seconds without upstream bytes before a stream is declared dead.
#stream-idle-timeout: 300

# Throttle upstream calls when rate-limit headers report high usage.
pace-upstream: false

# Local retention for aggregated responses (store / previous_response_id).
response-store:
  max-entries: 200
  max-thread-items: 40
  # Mirror into SQLite so stored responses survive restarts:
  #dsn: sqlite://~/.chatmock/responses.db

# Managed instruction cache.
prompts:
  ttl-hours: 24
  accept-any: false

# Usage statistics persistence. Empty DSN disables it.
usage:
  #dsn: sqlite://~/.chatmock/usage.db
  flush-interval: 60s
  batch-size: 100
  retention-days: 30

# Optional S3-compatible backup of auth.json and usage_limits.json.
#remote-store:
#  endpoint: minio.internal:9000
#  access-key: ""
#  secret-key: ""
#  bucket: chatmock
#  prefix: default
#  use-ssl: false
#  sync-interval: 5m
`)
}
