//go:build manual

package drive

import (
	"context"
	"os"
	"testing"
)

// TestRealDriveConnectivity lists the configured output folder
// Run with: VIDEXTRACT_DRIVE_FOLDER=<id> go test -tags=manual -v ./infrastructure/drive/... -run TestRealDriveConnectivity
func TestRealDriveConnectivity(t *testing.T) {
	credentialsPath := "../../credentials.json"
	folderID := os.Getenv("VIDEXTRACT_DRIVE_FOLDER")

	if _, err := os.Stat(credentialsPath); os.IsNotExist(err) {
		t.Skip("credentials.json not found - skipping real Drive test")
	}
	if folderID == "" {
		t.Skip("VIDEXTRACT_DRIVE_FOLDER not set - skipping real Drive test")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, credentialsPath)
	if err != nil {
		t.Fatalf("Failed to create Drive client: %v", err)
	}

	quota, err := client.GetStorageQuota(ctx)
	if err != nil {
		t.Fatalf("Failed to read quota: %v", err)
	}
	t.Logf("quota: %d used of %d", quota.UsedBytes, quota.TotalBytes)

	files, err := client.ListFiles(ctx, folderID)
	if err != nil {
		t.Fatalf("Failed to list files: %v", err)
	}
	for _, f := range files {
		t.Logf("  - %s (%s, %.2f MB)", f.Name, f.MimeType, float64(f.Size)/1024/1024)
	}
}
