package chatadapter

import "time"

// DefaultModel is the upstream model used when the client asks for none or
// for one outside the allow-list.
const DefaultModel = "claude-sonnet-4.5"

// Model is an entry of the allow-list.
type Model struct {
	// ID is what clients send and see in /v1/models.
	ID string
	// UpstreamID is the vendor model id; empty means the configured default.
	UpstreamID  string
	DisplayName string
	OwnedBy     string
	Created     time.Time
}

// Models is the fixed allow-list, in listing order.
var Models = []Model{
	{
		ID:          "claude-sonnet-4.5",
		UpstreamID:  "claude-sonnet-4.5",
		DisplayName: "Claude Sonnet 4.5",
		OwnedBy:     "anthropic",
		Created:     time.Date(2025, 9, 29, 0, 0, 0, 0, time.UTC),
	},
	{
		ID:          "claude-sonnet-4",
		UpstreamID:  "claude-sonnet-4",
		DisplayName: "Claude Sonnet 4",
		OwnedBy:     "anthropic",
		Created:     time.Date(2025, 5, 23, 0, 0, 0, 0, time.UTC),
	},
	{
		ID:          "amazon-q",
		DisplayName: "Amazon Q (default model)",
		OwnedBy:     "amazon",
		Created:     time.Date(2025, 9, 29, 0, 0, 0, 0, time.UTC),
	},
}

// ResolveModel maps a client model name to the upstream model id. Unknown or
// empty names resolve to fallback.
func ResolveModel(name, fallback string) string {
	if fallback == "" {
		fallback = DefaultModel
	}
	for _, m := range Models {
		if m.ID == name && m.UpstreamID != "" {
			return m.UpstreamID
		}
	}
	return fallback
}
