// Package event defines the records the host fires at the bridge and the
// category mask that decides which of them are republished.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360/rtcbridge/errors"
)

// Document is a structured JSON object exchanged with the host.
type Document = map[string]any

// Category identifies the gateway subsystem that fired an event. Values are
// single bits so they can be tested against a Mask.
type Category uint32

// Categories, with the bit values the gateway uses on the wire.
const (
	Session   Category = 1 << 0
	Handle    Category = 1 << 1
	Jsep      Category = 1 << 2
	WebRTC    Category = 1 << 3
	Media     Category = 1 << 4
	Plugin    Category = 1 << 5
	Transport Category = 1 << 6
	Core      Category = 1 << 7
)

// categoryNames lists categories in bit order with their configuration names.
var categoryNames = []struct {
	category Category
	name     string
}{
	{Session, "sessions"},
	{Handle, "handles"},
	{Jsep, "jsep"},
	{WebRTC, "webrtc"},
	{Media, "media"},
	{Plugin, "plugins"},
	{Transport, "transports"},
	{Core, "core"},
}

// String returns the configuration name of a single category.
func (c Category) String() string {
	for _, cn := range categoryNames {
		if cn.category == c {
			return cn.name
		}
	}
	return fmt.Sprintf("category(%d)", uint32(c))
}

// Mask is a set of categories.
type Mask uint32

const (
	MaskNone Mask = 0
	MaskAll  Mask = 0xFFFFFFFF
)

// Allows reports whether events of category c pass the mask.
func (m Mask) Allows(c Category) bool {
	return uint32(m)&uint32(c) != 0
}

// Names returns the names of the known categories in the mask, in bit order.
func (m Mask) Names() []string {
	names := make([]string, 0, len(categoryNames))
	for _, cn := range categoryNames {
		if m.Allows(cn.category) {
			names = append(names, cn.name)
		}
	}
	return names
}

// String renders the mask the way it is written in configuration.
func (m Mask) String() string {
	switch m {
	case MaskNone:
		return "none"
	case MaskAll:
		return "all"
	}
	return strings.Join(m.Names(), ",")
}

// ParseMask parses the events setting: "none", "all", or a comma separated
// list of category names. Matching is case-insensitive. Unknown names are
// logged at warning level and skipped. An empty value names no category and
// selects nothing; an absent setting is defaulted to "all" by the config.
func ParseMask(value string, logger *slog.Logger) Mask {
	if logger == nil {
		logger = slog.Default()
	}

	value = strings.TrimSpace(value)
	switch {
	case strings.EqualFold(value, "none"):
		return MaskNone
	case strings.EqualFold(value, "all"):
		return MaskAll
	}

	mask := MaskNone
	for _, token := range strings.Split(value, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		c, ok := lookupCategory(token)
		if !ok {
			logger.Warn("Unknown event type, ignoring", "type", token)
			continue
		}
		mask |= Mask(c)
	}
	return mask
}

func lookupCategory(name string) (Category, bool) {
	for _, cn := range categoryNames {
		if strings.EqualFold(cn.name, name) {
			return cn.category, true
		}
	}
	return 0, false
}

// Record is one event fired by the host. The queue owns it from enqueue until
// it has been published or dropped.
type Record struct {
	Payload  Document
	Category Category
}

// Encode serializes v as a single line of compact JSON without HTML escaping.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, errors.WrapInvalid(err, "event", "Encode", "marshal document")
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Decode parses data as a JSON object. Arrays, scalars and trailing data are
// rejected.
func Decode(data []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"event", "Decode", "parse document")
	}
	if doc == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: not an object", errors.ErrParsingFailed),
			"event", "Decode", "parse document")
	}
	if dec.More() {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: trailing data", errors.ErrParsingFailed),
			"event", "Decode", "parse document")
	}
	return doc, nil
}
