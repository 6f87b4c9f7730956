package bridge

import (
	"github.com/c360/rtcbridge/component"
	"github.com/c360/rtcbridge/event"
	"github.com/c360/rtcbridge/transport"
)

// QueryStatus answers a status request from the host. The request document
// is not inspected. It returns nil while the controller is stopping.
func (c *Controller) QueryStatus(_ event.Document) event.Document {
	state := c.lifecycle.State()
	if state == component.StateStopping {
		return nil
	}

	status := event.Document{
		"name":           c.info.Name,
		"version":        c.info.Version,
		"version_string": c.info.VersionString,
		"author":         c.info.Author,
		"description":    c.info.Description,
		"package":        c.info.Package,
		"state":          state.String(),
	}

	cfg := c.cfg.Load()
	if cfg == nil {
		status["events"] = event.Document{"enabled": false}
		status["janus_api"] = event.Document{"enabled": false}
		status["admin_api"] = event.Document{"enabled": false}
		return status
	}

	events := event.Document{"enabled": false}
	if pub := c.publisher.Load(); pub != nil {
		pcfg := pub.Config()
		events = event.Document{
			"enabled":     true,
			"address":     pcfg.Subject,
			"events_mask": uint32(pcfg.Mask),
			"events":      pcfg.Mask.String(),
		}
	}
	status["events"] = events

	requests := c.requests.Load()
	status["janus_api"] = endpointStatus(requests, transport.Public)
	status["admin_api"] = endpointStatus(requests, transport.Admin)
	status["nats"] = event.Document{"url": cfg.NATS.URL}
	status["health"] = c.Health().Document()
	return status
}

func endpointStatus(requests *transport.Bridge, role transport.Role) event.Document {
	if requests == nil || requests.Address(role) == "" {
		return event.Document{"enabled": false}
	}
	return event.Document{
		"enabled": true,
		"address": requests.Address(role),
	}
}
