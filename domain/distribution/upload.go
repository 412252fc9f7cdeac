package distribution

import (
	"path/filepath"
	"strings"
)

// UploadRequest contains the parameters needed to upload a file to Google Drive
type UploadRequest struct {
	LocalPath string // Full path to the local file
	FileName  string // Target filename in Google Drive
	FolderID  string // Target folder ID in Google Drive
	MimeType  string // MIME type of the file
}

// UploadResult contains the result of a successful upload
type UploadResult struct {
	FileID       string // Google Drive file ID
	FileName     string // Name of the uploaded file
	ShareableURL string // URL for sharing the file
	Size         int64  // Size of the uploaded file in bytes
}

// MIME type constants for extraction artifacts
const (
	MimeTypeJPEG   = "image/jpeg"
	MimeTypeMP3    = "audio/mpeg"
	MimeTypeWAV    = "audio/wav"
	MimeTypeFolder = "application/vnd.google-apps.folder"
	MimeTypeBinary = "application/octet-stream"
)

// MimeTypeFor picks the upload MIME type from the file extension
func MimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return MimeTypeJPEG
	case ".mp3":
		return MimeTypeMP3
	case ".wav":
		return MimeTypeWAV
	}
	return MimeTypeBinary
}
