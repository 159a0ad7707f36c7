package validate

import (
	"fmt"
	"regexp"
)

// capabilityIDRe matches capability ids: lowercase alphanumeric segments
// joined by '.', '_' or '-' (e.g. "llm.chat", "tool.web-search"). Dots are
// allowed, unlike ServiceName, since capability ids are commonly
// namespaced by dotted category (llm.chat, sensor.camera).
var capabilityIDRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9._-]{0,125}[a-z0-9])?$`)

// CapabilityID checks that a capability id is safe for use as a store
// document id and a protocol-adjacent identifier.
func CapabilityID(id string) error {
	if id == "" {
		return fmt.Errorf("capability id cannot be empty")
	}
	if !capabilityIDRe.MatchString(id) {
		return fmt.Errorf("invalid capability id %q: must be lowercase alphanumeric segments joined by '.', '_' or '-'", id)
	}
	return nil
}
