// Package rtcbridge connects a real-time communications gateway to NATS.
//
// The gateway host loads the bridge, which then does two jobs over one
// shared NATS connection:
//
//   - Event publishing: every event the host fires is filtered by category,
//     queued without blocking the host, and published as one JSON document on
//     a broadcast subject by a single worker, in the order it was fired.
//   - Request transport: a public and an optional admin subject accept JSON
//     requests. Each endpoint serves one request at a time; the host replies
//     through SendMessage and the reply goes back to the requester's inbox.
//
// # Architecture
//
//	┌──────────────────────────────────────┐
//	│            gateway host              │
//	└──────────────────────────────────────┘
//	    │ OnHostEvent        ▲ IncomingRequest
//	    ▼                    │ SendMessage
//	┌──────────────────────────────────────┐
//	│  bridge.Controller                   │  Init / Shutdown / QueryStatus
//	│   ├─ eventbridge.Publisher           │  queue + worker → rtc.events
//	│   └─ transport.Bridge                │  rtc.api, rtc.admin workers
//	└──────────────────────────────────────┘
//	    │ natsclient.Client (one connection)
//	    ▼
//	          NATS
//
// # Packages
//
//   - bridge: lifecycle controller the host drives
//   - eventbridge: event filter, queue and publish worker
//   - transport: request/reply endpoints and host sessions
//   - event: documents, categories, masks and the JSON codec
//   - natsclient: NATS connection, non-blocking publish and responders
//   - config: rtcbridge.json/rtcbridge.yaml loading and validation
//   - health, metric, errors, component: ambient infrastructure
//   - pkg/buffer, pkg/retry: queue and startup backoff
//
// The cmd/rtcbridge binary runs the bridge with a small in-process gateway
// for local testing:
//
//	./bin/rtcbridge --config-dir ./configs --log-format=text
package rtcbridge
