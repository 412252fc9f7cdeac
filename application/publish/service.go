package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"vidextract/domain/distribution"
	"vidextract/domain/extraction"
)

var (
	// ErrNothingToPublish is returned for a directory without artifacts
	ErrNothingToPublish = errors.New("no artifacts to publish")

	// ErrInsufficientQuota is returned when Drive cannot hold the artifacts
	ErrInsufficientQuota = errors.New("insufficient drive quota")

	// ErrNotPublishable is returned for results other than Success
	ErrNotPublishable = errors.New("only successful extractions can be published")
)

// Service uploads extraction artifacts to Google Drive
type Service struct {
	driveClient distribution.DriveClient
	parentID    string
	output      io.Writer
}

// NewService creates a publish service that creates folders under parentID
func NewService(client distribution.DriveClient, parentID string, output io.Writer) *Service {
	if output == nil {
		output = io.Discard
	}
	return &Service{
		driveClient: client,
		parentID:    parentID,
		output:      output,
	}
}

// Result lists what was uploaded
type Result struct {
	FolderID   string
	FolderName string
	Files      []distribution.UploadResult
	TotalBytes int64
}

type artifact struct {
	path string
	name string
	size int64
}

// PublishResult uploads the output directory of a successful extraction
func (s *Service) PublishResult(ctx context.Context, r extraction.Result, folderName string) (*Result, error) {
	success, ok := r.(extraction.Success)
	if !ok {
		return nil, fmt.Errorf("%w: got %s", ErrNotPublishable, extraction.Describe(r))
	}
	return s.Publish(ctx, success.OutputDirectory, folderName)
}

// Publish uploads every regular file of dir into a Drive folder named
// folderName (the directory name when empty). Files with the same name
// already in the folder are replaced.
func (s *Service) Publish(ctx context.Context, dir, folderName string) (*Result, error) {
	files, total, err := collectArtifacts(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNothingToPublish, dir)
	}
	if folderName == "" {
		folderName = filepath.Base(dir)
	}

	quota, err := s.driveClient.GetStorageQuota(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check drive quota: %w", err)
	}
	if !quota.HasSpaceFor(total) {
		return nil, fmt.Errorf("%w: need %d bytes, %d available", ErrInsufficientQuota, total, quota.AvailableBytes)
	}

	folderID, err := s.driveClient.EnsureFolder(ctx, s.parentID, folderName)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare folder %s: %w", folderName, err)
	}

	result := &Result{FolderID: folderID, FolderName: folderName}
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		fmt.Fprintf(s.output, "[%d/%d] Uploading %s...\n", i+1, len(files), f.name)

		uploaded, err := s.upload(ctx, folderID, f)
		if err != nil {
			return result, err
		}
		result.Files = append(result.Files, *uploaded)
		result.TotalBytes += f.size
	}
	return result, nil
}

func (s *Service) upload(ctx context.Context, folderID string, f artifact) (*distribution.UploadResult, error) {
	existing, err := s.driveClient.FindFileByName(ctx, folderID, f.name)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing file: %w", err)
	}
	if existing != nil {
		fmt.Fprintf(s.output, "      Replacing existing %s (%.1f KB)\n", existing.Name, float64(existing.Size)/1024)
		if err := s.driveClient.DeletePermanently(ctx, existing.ID); err != nil {
			return nil, fmt.Errorf("failed to delete existing file %s: %w", existing.Name, err)
		}
	}

	result, err := s.driveClient.UploadAndShare(ctx, distribution.UploadRequest{
		LocalPath: f.path,
		FileName:  f.name,
		FolderID:  folderID,
		MimeType:  distribution.MimeTypeFor(f.name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload and share %s: %w", f.name, err)
	}
	return result, nil
}

// collectArtifacts lists the regular, non-hidden files of dir by name
func collectArtifacts(dir string) ([]artifact, int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var (
		files []artifact
		total int64
	)
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
		}
		files = append(files, artifact{
			path: filepath.Join(dir, e.Name()),
			name: e.Name(),
			size: info.Size(),
		})
		total += info.Size()
	}
	sort.Slice(files, func(i, j int) bool { return files[i].name < files[j].name })
	return files, total, nil
}
