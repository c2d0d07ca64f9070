// Package protocol defines the daemon API request/response types.
package protocol

import "github.com/caamer20/Telegram-Drive/internal/models"

// ErrorResponse is returned on API errors. Kind is the taxonomy name of the
// failure; RetryAfter is set for rate-limited calls.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       int    `json:"code"`
	Kind       string `json:"kind,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// ConnectRequest is the body for POST /api/v1/connect.
type ConnectRequest struct {
	AppID int `json:"app_id"`
}

// ConnectionResponse is returned by the connection endpoints.
type ConnectionResponse struct {
	Status string `json:"status"` // alive, reconnected, unavailable
	AppID  int    `json:"app_id,omitempty"`
}

// CodeRequest is the body for POST /api/v1/auth/code.
type CodeRequest struct {
	Phone   string `json:"phone"`
	AppID   int    `json:"app_id"`
	AppHash string `json:"app_hash"`
}

// SignInRequest is the body for POST /api/v1/auth/sign-in.
type SignInRequest struct {
	Code string `json:"code"`
}

// PasswordRequest is the body for POST /api/v1/auth/password.
type PasswordRequest struct {
	Password string `json:"password"`
}

// FileListResponse is returned by GET /api/v1/files.
type FileListResponse struct {
	Files []models.File `json:"files"`
}

// UploadRequest is the body for POST /api/v1/files. Path is a file on the
// daemon's machine.
type UploadRequest struct {
	Path     string `json:"path"`
	FolderID *int64 `json:"folder_id"`
}

// DownloadRequest is the body for POST /api/v1/files/{id}/download.
type DownloadRequest struct {
	SavePath string `json:"save_path"`
	FolderID *int64 `json:"folder_id"`
}

// MoveRequest is the body for POST /api/v1/files/move.
type MoveRequest struct {
	MessageIDs []int  `json:"message_ids"`
	SourceID   *int64 `json:"source_folder_id"`
	TargetID   *int64 `json:"target_folder_id"`
}

// FolderRequest is the body for POST /api/v1/folders.
type FolderRequest struct {
	Name string `json:"name"`
}

// FolderListResponse is returned by GET /api/v1/folders.
type FolderListResponse struct {
	Folders []models.Folder `json:"folders"`
}

// MessageResponse carries a plain result string (paths, data URIs, status
// messages).
type MessageResponse struct {
	Result string `json:"result"`
}

// BandwidthResponse is returned by GET /api/v1/bandwidth.
type BandwidthResponse struct {
	Date      string `json:"date"`
	UpBytes   int64  `json:"up_bytes"`
	DownBytes int64  `json:"down_bytes"`
	Limit     int64  `json:"limit"`
}

// NetworkResponse is returned by GET /api/v1/network.
type NetworkResponse struct {
	Available bool `json:"available"`
}

// LogRequest is the body for POST /api/v1/log.
type LogRequest struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Session bool   `json:"session"`
}
