package config

// ChannelsConfig contains per-channel configuration.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Webhook  WebhookConfig  `json:"webhook"`
}

type TelegramConfig struct {
	Enabled       bool                `json:"enabled"`
	Token         string              `json:"-"` // from env FAMLEDGER_TELEGRAM_TOKEN only
	AllowFrom     FlexibleStringSlice `json:"allow_from,omitempty"`
	RateLimitRPM  int                 `json:"rate_limit_rpm,omitempty"`  // per-sender messages per minute, 0 disables
	MediaMaxBytes int64               `json:"media_max_bytes,omitempty"` // max media download size (default 20MB)

	// Speech-to-text proxy for voice notes. Empty URL disables voice.
	STTProxyURL       string `json:"stt_proxy_url,omitempty"`
	STTAPIKey         string `json:"-"` // from env FAMLEDGER_STT_API_KEY only
	STTTimeoutSeconds int    `json:"stt_timeout_seconds,omitempty"`
}

// WebhookConfig enables the synchronous HTTP channel on the gateway listener.
type WebhookConfig struct {
	Enabled bool `json:"enabled"`
}
