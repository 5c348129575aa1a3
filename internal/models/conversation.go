package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ConversationTurn is one entry of a chat session log
type ConversationTurn struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	Groundings []Citation `json:"groundings,omitempty"`
	Audio      []byte     `json:"audio,omitempty"`
	Failed     bool       `json:"failed,omitempty"`
}

type UploadStatus string

const (
	UploadPending UploadStatus = "pending"
	UploadSuccess UploadStatus = "success"
	UploadError   UploadStatus = "error"
)

// UploadJob tracks a single queued file
type UploadJob struct {
	Name        string       `json:"name"`
	Status      UploadStatus `json:"status"`
	Error       string       `json:"error,omitempty"`
	Chunks      int          `json:"chunks,omitempty"`
	ProcessedAt time.Time    `json:"processed_at,omitempty"`
}

// UploadState is the lifecycle of an upload batch
type UploadState string

const (
	StateNormal    UploadState = "normal"
	StateUploading UploadState = "uploading"
	StateCompleted UploadState = "completed"
	StatePartial   UploadState = "partial"
	StateFailed    UploadState = "failed"
)
