// Package models contains the data types shared by the daemon and its clients.
package models

// Folder is a drive folder. Folders are flat, so ParentID is always nil.
type Folder struct {
	ID       int64  `json:"id"`
	ParentID *int64 `json:"parent_id"`
	Name     string `json:"name"`
}

// File is a media message projected as a drive file.
type File struct {
	ID        int     `json:"id"`
	FolderID  *int64  `json:"folder_id"`
	Name      string  `json:"name"`
	Size      int64   `json:"size"`
	MimeType  *string `json:"mime_type"`
	FileExt   *string `json:"file_ext"`
	CreatedAt string  `json:"created_at"`
	IconType  string  `json:"icon_type"`
}

// Next steps reported by the sign-in flow.
const (
	StepDashboard = "dashboard"
	StepPassword  = "password"
)

// AuthResult reports the outcome of a sign-in step.
type AuthResult struct {
	Success  bool   `json:"success"`
	NextStep string `json:"next_step,omitempty"`
	Hint     string `json:"hint,omitempty"`
	Error    string `json:"error,omitempty"`
}
