// Package config handles configuration loading for coven-chat.
//
// Configuration is loaded from a YAML file with environment variable
// expansion. The package provides validation and sensible defaults for
// every section listed below.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	 jwt_secret: "${COVEN_CHAT_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agents:
//	 reply_deadline: "20s"
//
// # Configuration Sections
//
//	server: http_addr
//	database: sqlite path, or ":memory:" for tests
//	auth: jwt_secret, token_ttl
//	agents: max_output_tokens, history_window, reply_deadline
//	nlu: strategy (rule|model), model_name, confidence_floor, deadline
//	scheduling: working_days, working_hour_start/end, slot_duration,
//	 auto_commit_default, commit_deadline
//	uploads: max_size_bytes, allowed_mime_types, credential_ttl
//	handover: on-call hours, out-of-hours policy
//	channels: per-provider webhook secrets and send endpoints
//	logging: level, format
package config
