package models

import "time"

type CheckpointStatus string

const (
	CheckpointInProgress CheckpointStatus = "in_progress"
	CheckpointPaused     CheckpointStatus = "paused"
	CheckpointCompleted  CheckpointStatus = "completed"
	CheckpointFailed     CheckpointStatus = "failed"
)

// SyncCheckpoint is the durable marker of progress through a multi-page
// partner sync.
type SyncCheckpoint struct {
	ID               string           `json:"id"`
	Integration      string           `json:"integration"`
	SyncType         string           `json:"syncType"`
	TotalRecords     *int             `json:"totalRecords,omitempty"`
	ProcessedRecords int              `json:"processedRecords"`
	FailedRecords    int              `json:"failedRecords"`
	LastProcessedID  *string          `json:"lastProcessedId,omitempty"`
	Status           CheckpointStatus `json:"status"`
	ErrorMessage     *string          `json:"errorMessage,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// ExternalIntegrationCredential is the encrypted-at-rest credential row.
// Never serialized to an API response; token ciphertexts stay inside the
// vault.
type ExternalIntegrationCredential struct {
	Provider        string    `json:"provider"`
	AccessTokenEnc  []byte    `json:"-"`
	RefreshTokenEnc []byte    `json:"-"`
	ExpiresAt       time.Time `json:"expiresAt"`
	Scope           *string   `json:"scope,omitempty"`
	RequiresReauth  bool      `json:"requiresReauth"`
	UpdatedAt       time.Time `json:"updatedAt"`
}
