package config

// BridgeConfig is the root configuration for the cmd/bridge service: the two
// watchers, the ledger/cache stores, the exchange rebalancer and the
// notification dispatcher all read their settings from one of these nested
// blocks.
type BridgeConfig struct {
	Database struct {
		Host            string `toml:"host" env:"BRIDGE_DB_HOST"`
		Port            string `toml:"port" env:"BRIDGE_DB_PORT" env-default:"5432"`
		User            string `toml:"user" env:"BRIDGE_DB_USER"`
		Password        string `toml:"password" env:"BRIDGE_DB_PASSWORD"`
		DB              string `toml:"db" env:"BRIDGE_DB_NAME"`
		SslMode         string `toml:"ssl_mode" env:"BRIDGE_DB_SSL_MODE" env-default:"disable"`
		MaxConns        int    `toml:"max_conns" env:"BRIDGE_DB_MAX_CONNS" env-default:"25"`
		MinConns        int    `toml:"min_conns" env:"BRIDGE_DB_MIN_CONNS" env-default:"5"`
		MaxConnLifetime int    `toml:"max_conn_lifetime" env:"BRIDGE_DB_MAX_CONN_LIFETIME" env-default:"5"`
		MaxConnIdleTime int    `toml:"max_conn_idle_time" env:"BRIDGE_DB_MAX_CONN_IDLE_TIME" env-default:"1"`
	} `toml:"database"`

	Redis struct {
		Host     string `toml:"host" env:"BRIDGE_REDIS_HOST"`
		Port     string `toml:"port" env:"BRIDGE_REDIS_PORT" env-default:"6379"`
		Password string `toml:"password" env:"BRIDGE_REDIS_PASSWORD"`
		DB       int    `toml:"db" env:"BRIDGE_REDIS_DB" env-default:"0"`
	} `toml:"redis"`

	Hive struct {
		RPCNodes           []string `toml:"rpc_nodes" env:"BRIDGE_HIVE_RPC_NODES" env-separator:","`
		Accounts           []string `toml:"accounts" env:"BRIDGE_HIVE_ACCOUNTS" env-separator:","`
		TrackedCustomIDs   []string `toml:"tracked_custom_ids" env:"BRIDGE_HIVE_CUSTOM_IDS" env-separator:","`
		WatchedWitness     string   `toml:"watched_witness" env:"BRIDGE_HIVE_WATCHED_WITNESS"`
		StartBlockHeight   int64    `toml:"start_block_height" env:"BRIDGE_HIVE_START_HEIGHT" env-default:"0"`
		CatchUpLagSeconds  int64    `toml:"catch_up_lag_seconds" env:"BRIDGE_HIVE_CATCHUP_LAG" env-default:"7200"`
		CatchUpBatchBlocks int      `toml:"catch_up_batch_blocks" env:"BRIDGE_HIVE_CATCHUP_BATCH" env-default:"100"`
		TreasuryAccount    string   `toml:"treasury_account" env:"BRIDGE_HIVE_TREASURY_ACCOUNT"`
	} `toml:"hive"`

	LND struct {
		GRPCHost              string `toml:"grpc_host" env:"BRIDGE_LND_GRPC_HOST"`
		GRPCPort              string `toml:"grpc_port" env:"BRIDGE_LND_GRPC_PORT" env-default:"10009"`
		TLSCertPath           string `toml:"tls_cert_path" env:"BRIDGE_LND_TLS_CERT_PATH"`
		MacaroonPath          string `toml:"macaroon_path" env:"BRIDGE_LND_MACAROON_PATH"`
		Network               string `toml:"network" env:"BRIDGE_LND_NETWORK" env-default:"mainnet"`
		PaymentTimeoutSeconds int    `toml:"payment_timeout_seconds" env:"BRIDGE_LND_PAYMENT_TIMEOUT" env-default:"30"`
		MaxPaymentFeeSats     int64  `toml:"max_payment_fee_sats" env:"BRIDGE_LND_MAX_FEE_SATS" env-default:"100"`
	} `toml:"lnd"`

	Exchange struct {
		Provider           string `toml:"provider" env:"BRIDGE_EXCHANGE_PROVIDER" env-default:"coinbase"`
		BaseAsset          string `toml:"base_asset" env:"BRIDGE_EXCHANGE_BASE_ASSET" env-default:"HIVE"`
		QuoteAsset         string `toml:"quote_asset" env:"BRIDGE_EXCHANGE_QUOTE_ASSET" env-default:"BTC"`
		APIKey             string `toml:"api_key" env:"BRIDGE_EXCHANGE_API_KEY"`
		APISecret          string `toml:"api_secret" env:"BRIDGE_EXCHANGE_API_SECRET"`
		ColdStorageAddress string `toml:"cold_storage_address" env:"BRIDGE_EXCHANGE_COLD_STORAGE_ADDRESS"`
	} `toml:"exchange"`

	Notify struct {
		Bots             []string `toml:"bots" env:"BRIDGE_NOTIFY_BOTS" env-separator:","`
		SilencedSources  []string `toml:"silenced_sources" env:"BRIDGE_NOTIFY_SILENCED" env-separator:","`
		RateLimitCount   int      `toml:"rate_limit_count" env:"BRIDGE_NOTIFY_RATE_LIMIT_COUNT" env-default:"5"`
		RateLimitWindow  int      `toml:"rate_limit_window_seconds" env:"BRIDGE_NOTIFY_RATE_LIMIT_WINDOW" env-default:"60"`
	} `toml:"notify"`

	Policy struct {
		BlobPath string `toml:"blob_path" env:"BRIDGE_POLICY_BLOB_PATH"`
	} `toml:"policy"`

	Dev struct {
		Enabled       bool     `toml:"enabled" env:"BRIDGE_DEV_MODE" env-default:"false"`
		AllowList     []string `toml:"allow_list" env:"BRIDGE_DEV_ALLOW_LIST" env-separator:","`
		MessagePrefix string   `toml:"message_prefix" env:"BRIDGE_DEV_MESSAGE_PREFIX" env-default:"v4vapp_dev"`
	} `toml:"dev"`

	LiveMessagePrefix string `toml:"live_message_prefix" env:"BRIDGE_LIVE_MESSAGE_PREFIX" env-default:"v4vapp"`
}

// MessagePrefix returns the dev or production on-chain message-id prefix.
func (c *BridgeConfig) MessagePrefix() string {
	if c.Dev.Enabled {
		return c.Dev.MessagePrefix
	}
	return c.LiveMessagePrefix
}

// StoreTimeout returns the document-store operation timeout, extended in dev mode.
func (c *BridgeConfig) StoreTimeout() int {
	if c.Dev.Enabled {
		return 600
	}
	return 10
}
