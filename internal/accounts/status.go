package accounts

import (
	"time"

	"github.com/clipcast/clipcast/backend/account-service/internal/platform"
)

// Status is one platform's binding record as last confirmed by the backend.
// It is replaced wholesale on every successful fetch, never field-merged.
type Status struct {
	Platform         platform.Platform `json:"platform"`
	Connected        bool              `json:"connected"`
	ExternalID       string            `json:"externalId,omitempty"`
	ExternalUsername string            `json:"externalUsername,omitempty"`
	AvatarURL        string            `json:"avatarUrl,omitempty"`
	ConnectedAt      time.Time         `json:"connectedAt,omitempty"`
}

func parseConnectedAt(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
