// Package config loads the bridge configuration.
//
// The configuration lives in a directory handed over by the host. LoadDir
// reads rtcbridge.json from it and falls back to rtcbridge.yaml. The raw
// document is validated against an embedded JSON schema, duration strings
// such as "1s" are converted, and the result is merged over Default(), so a
// file only needs the keys it changes.
//
// A directory without either file is not an error. The returned config has
// both bridges disabled, and the host keeps running without them.
//
// # Environment Overrides
//
// Variables with the RTCBRIDGE prefix are applied after the file:
//
//	RTCBRIDGE_NATS_URL          nats.url
//	RTCBRIDGE_NATS_USERNAME     nats.username
//	RTCBRIDGE_NATS_PASSWORD     nats.password
//	RTCBRIDGE_NATS_TOKEN        nats.token
//	RTCBRIDGE_EVENTS            events.events (none, all or a category list)
//	RTCBRIDGE_EVENTS_ENABLED    events.enabled
//	RTCBRIDGE_EVENTS_ADDRESS    events.address
//	RTCBRIDGE_API_ENABLED       transport.enabled
//	RTCBRIDGE_API_ADDRESS       transport.address
//	RTCBRIDGE_ADMIN_ENABLED     transport.admin_enabled
//	RTCBRIDGE_ADMIN_ADDRESS     transport.admin_address
//	RTCBRIDGE_METRICS_ENABLED   metrics.enabled
//
// # Example
//
//	{
//	  "nats": {"url": "nats://127.0.0.1:4222"},
//	  "events": {"enabled": true, "events": "sessions,core"},
//	  "transport": {"enabled": true, "admin_enabled": true, "reply_timeout": "10s"}
//	}
package config
