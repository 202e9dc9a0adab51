package proxy

import (
	"net/http"
	"time"

	"github.com/leanb525/aq2api/internal/chatadapter"
)

// modelEntry carries both the OpenAI (object, created, owned_by) and
// Anthropic (type, display_name, created_at) model fields.
type modelEntry struct {
	ID          string    `json:"id"`
	Object      string    `json:"object"`
	Type        string    `json:"type"`
	DisplayName string    `json:"display_name"`
	Created     int64     `json:"created"`
	CreatedAt   time.Time `json:"created_at"`
	OwnedBy     string    `json:"owned_by"`
}

type modelList struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}

// modelsHandler serves the allow-list in chatadapter.Models.
func modelsHandler() http.HandlerFunc {
	list := modelList{Object: "list", Data: make([]modelEntry, 0, len(chatadapter.Models))}
	for _, m := range chatadapter.Models {
		list.Data = append(list.Data, modelEntry{
			ID:          m.ID,
			Object:      "model",
			Type:        "model",
			DisplayName: m.DisplayName,
			Created:     m.Created.Unix(),
			CreatedAt:   m.Created,
			OwnedBy:     m.OwnedBy,
		})
	}

	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), w, list, http.StatusOK)
	}
}
