// Package config loads zulipctl settings from a TOML file and the environment.
//
// # Resolution Order
//
//  1. Defaults (90s timeout, info logging, no rate limit)
//  2. The TOML file at the given path, or ~/.config/zulipctl/config.toml
//  3. ZULIP_URI, ZULIP_USERNAME, ZULIP_API_KEY and ZULIP_PASSWORD
//
// A missing file is not an error.
//
// # TOML Format
//
//	site = "https://chat.example.com"
//	email = "weather-bot@chat.example.com"
//	api_key = "..."
//	timeout = "90s"
//	log_level = "debug"
//
//	[rate_limit]
//	requests_per_minute = 120
//	burst = 5
package config
