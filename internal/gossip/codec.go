package gossip

import (
	"encoding/json"
	"fmt"
)

// FieldsFromAnnouncement renders an Announcement as the map[string]any a
// store.Document's Fields expects. A JSON round trip is the simplest
// correct way to get there since Announcement's own wire shape already
// is the document shape; no store document in this collection is large
// or hot enough to justify a hand-written field-by-field encoder.
func FieldsFromAnnouncement(a Announcement) (map[string]any, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("gossip: encode announcement: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("gossip: decode announcement fields: %w", err)
	}
	return fields, nil
}

// AnnouncementFromFields is the inverse of FieldsFromAnnouncement, used
// to decode an incoming _capabilities document before handing it to
// Table.Ingest.
func AnnouncementFromFields(fields map[string]any) (Announcement, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return Announcement{}, fmt.Errorf("gossip: encode fields: %w", err)
	}
	var a Announcement
	if err := json.Unmarshal(raw, &a); err != nil {
		return Announcement{}, fmt.Errorf("gossip: decode announcement: %w", err)
	}
	return a, nil
}
