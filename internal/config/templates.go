package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# brokerdash configuration
# Secrets may also come from the environment or a .env file:
#   BROKERDASH_JWT_SECRET, VAULT_PASSPHRASE, SMARTAPI_API_KEY, KITE_API_KEY,
#   KITE_API_SECRET, SURREALDB_PASSWORD, BROKER_PROVIDER, STORAGE_BACKEND, LOG_LEVEL

[server]
host = "127.0.0.1"
port = 8080
# Relaxes secret length checks. Never enable in production.
dev_mode = false
# HS256 signing secret for session tokens (at least 32 characters)
jwt_secret = ""
token_expiry = "24h"
allowed_origins = ["http://localhost:8080"]
request_timeout = "60s"

[broker]
# Broker provider: "smartapi", "kite" or "paper"
provider = "paper"
api_key = ""
api_secret = ""
# Leave empty for the provider default
base_url = ""
# Requests per second
rate_limit = 10
timeout = "30s"
# Retries apply to transport failures only; broker rejections are never retried
max_retries = 3
circuit_failure_threshold = 5
circuit_timeout = "30s"
# SmartAPI client identity headers
local_ip = "127.0.0.1"
public_ip = "127.0.0.1"
mac_address = "00:00:00:00:00:00"
# Starting cash for the paper broker
paper_cash = 100000.0

[storage]
# Storage backend: "sqlite" or "surrealdb"
backend = "sqlite"
# path = "~/.config/brokerdash/data/brokerdash.db"

[storage.surrealdb]
address = "ws://localhost:8000/rpc"
namespace = "brokerdash"
database = "brokerdash"
username = "root"
password = ""

[sync]
# Holdings priced per batch during a refresh
price_batch_size = 20
# Pause between batches
price_batch_delay = "1s"
# Gainers and losers shown in the summary
movers_limit = 5
# Cron spec for background price refreshes, e.g. "*/15 * * * *". Empty disables.
refresh_schedule = ""
# Skip scheduled refreshes while the NSE is closed
market_hours_only = true

[logging]
# debug, info, warn, error
level = "info"
console = true
file = true
max_size = 100
max_backups = 7
max_age = 30

[security]
# Encrypts broker access tokens at rest
vault_passphrase = ""
# Append-only audit trail of logins, broker links and orders
audit_enabled = true
`

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := ConfigPath(configDir)
	// Restricted permissions, the file may hold secrets
	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}

// ConfigPath returns where the config file lives for configDir.
func ConfigPath(configDir string) string {
	return filepath.Join(configDir, "config.toml")
}
