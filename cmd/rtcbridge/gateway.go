package main

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/c360/rtcbridge/config"
	"github.com/c360/rtcbridge/event"
	"github.com/c360/rtcbridge/transport"
)

// Gateway error codes returned to requesters
const (
	codeUnauthorized   = 403
	codeUnknownRequest = 453
	codeMissingElement = 456
	codeNoSuchSession  = 458
)

// bridgeAPI is the part of bridge.Controller the gateway calls back into
type bridgeAPI interface {
	Config() *config.Config
	OnHostEvent(doc event.Document, category event.Category)
	SendMessage(session *transport.Session, admin bool, doc event.Document) error
	QueryStatus(request event.Document) event.Document
	SessionCreated(session *transport.Session, sessionID uint64)
	SessionOver(session *transport.Session, sessionID uint64, timeout, claimed bool)
}

// gateway is a minimal host: it keeps a session table, answers a handful of
// requests and fires the matching events, enough to run the bridge end to
// end without a media server.
type gateway struct {
	logger *slog.Logger
	bridge bridgeAPI

	mu       sync.Mutex
	sessions map[uint64]time.Time
}

func newGateway(logger *slog.Logger) *gateway {
	return &gateway{
		logger:   logger,
		sessions: make(map[uint64]time.Time),
	}
}

func (g *gateway) tag() string {
	if cfg := g.bridge.Config(); cfg != nil && cfg.Transport.ProtocolTag != "" {
		return cfg.Transport.ProtocolTag
	}
	return "janus"
}

// IncomingRequest handles one request and replies before returning
func (g *gateway) IncomingRequest(session *transport.Session, admin bool, doc event.Document) {
	tag := g.tag()
	request, _ := doc[tag].(string)
	reply := g.handle(session, admin, tag, request, doc)
	if tx, ok := doc["transaction"]; ok {
		reply["transaction"] = tx
	}

	if err := g.bridge.SendMessage(session, admin, reply); err != nil {
		g.logger.Warn("Failed to send reply", "request", request, "session", session.ID, "error", err)
	}
}

func (g *gateway) handle(session *transport.Session, admin bool, tag, request string, doc event.Document) event.Document {
	switch request {
	case "info":
		return event.Document{
			tag:       "server_info",
			"name":    appName,
			"version": Version,
		}
	case "ping":
		return event.Document{tag: "pong"}
	case "create":
		id := g.createSession(session)
		return event.Document{tag: "success", "data": event.Document{"id": id}}
	case "destroy":
		id, ok := sessionID(doc)
		if !ok {
			return errorReply(tag, codeMissingElement, "Missing mandatory element (session_id)")
		}
		if !g.destroySession(session, id) {
			return errorReply(tag, codeNoSuchSession, "No such session")
		}
		return event.Document{tag: "success", "session_id": id}
	case "list_sessions", "status":
		if !admin {
			return errorReply(tag, codeUnauthorized, "Unauthorized request (wrong or missing secret/token)")
		}
		if request == "status" {
			return event.Document{tag: "success", "status": g.bridge.QueryStatus(doc)}
		}
		return event.Document{tag: "success", "sessions": g.sessionIDs()}
	default:
		return errorReply(tag, codeUnknownRequest, "Unknown request '"+request+"'")
	}
}

func (g *gateway) createSession(session *transport.Session) uint64 {
	g.mu.Lock()
	var id uint64
	for id == 0 || g.hasSession(id) {
		id = rand.Uint64N(1 << 53)
	}
	g.sessions[id] = time.Now()
	g.mu.Unlock()

	g.bridge.SessionCreated(session, id)
	g.bridge.OnHostEvent(event.Document{
		"type":       int(event.Session),
		"session_id": id,
		"timestamp":  time.Now().UnixMicro(),
		"event": event.Document{
			"name": "created",
			"transport": event.Document{
				"transport": appName,
				"id":        session.ID,
			},
		},
	}, event.Session)
	return id
}

// hasSession must be called with mu held
func (g *gateway) hasSession(id uint64) bool {
	_, ok := g.sessions[id]
	return ok
}

func (g *gateway) destroySession(session *transport.Session, id uint64) bool {
	g.mu.Lock()
	_, ok := g.sessions[id]
	delete(g.sessions, id)
	g.mu.Unlock()
	if !ok {
		return false
	}

	g.bridge.SessionOver(session, id, false, false)
	g.bridge.OnHostEvent(event.Document{
		"type":       int(event.Session),
		"session_id": id,
		"timestamp":  time.Now().UnixMicro(),
		"event":      event.Document{"name": "destroyed"},
	}, event.Session)
	return true
}

func (g *gateway) sessionIDs() []uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]uint64, 0, len(g.sessions))
	for id := range g.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// notifyStatus fires a core event such as "started" or "shutdown"
func (g *gateway) notifyStatus(status string) {
	g.bridge.OnHostEvent(event.Document{
		"type":      int(event.Core),
		"timestamp": time.Now().UnixMicro(),
		"event": event.Document{
			"status": status,
			"info":   event.Document{"name": appName, "version": Version},
		},
	}, event.Core)
}

func sessionID(doc event.Document) (uint64, bool) {
	n, ok := doc["session_id"].(json.Number)
	if !ok {
		return 0, false
	}
	id, err := n.Int64()
	if err != nil || id <= 0 {
		return 0, false
	}
	return uint64(id), true
}

func errorReply(tag string, code int, reason string) event.Document {
	return event.Document{
		tag:     "error",
		"error": event.Document{"code": code, "reason": reason},
	}
}
