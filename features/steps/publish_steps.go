//go:build integration

package steps

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vidextract/application/publish"
	"vidextract/cmd"
	"vidextract/domain/distribution"
	"vidextract/domain/extraction"
	"vidextract/domain/jobs"
	"vidextract/infrastructure/config"
	"vidextract/infrastructure/jobstore"

	"github.com/cucumber/godog"
)

// fakeDrive is an in-memory Drive with a fixed quota
type fakeDrive struct {
	quota   distribution.StorageInfo
	folders map[string]string
	files   map[string]distribution.FileInfo // keyed by folder id + "/" + name
	deleted []string
	nextID  int
}

func newFakeDrive() *fakeDrive {
	return &fakeDrive{
		folders: make(map[string]string),
		files:   make(map[string]distribution.FileInfo),
	}
}

func (d *fakeDrive) ListFiles(ctx context.Context, folderID string) ([]distribution.FileInfo, error) {
	var out []distribution.FileInfo
	for key, f := range d.files {
		if strings.HasPrefix(key, folderID+"/") {
			out = append(out, f)
		}
	}
	return out, nil
}

func (d *fakeDrive) FindFileByName(ctx context.Context, folderID, name string) (*distribution.FileInfo, error) {
	if f, ok := d.files[folderID+"/"+name]; ok {
		return &f, nil
	}
	return nil, nil
}

func (d *fakeDrive) EnsureFolder(ctx context.Context, parentID, name string) (string, error) {
	key := parentID + "/" + name
	if id, ok := d.folders[key]; ok {
		return id, nil
	}
	id := "folder-" + name
	d.folders[key] = id
	return id, nil
}

func (d *fakeDrive) GetStorageQuota(ctx context.Context) (*distribution.StorageInfo, error) {
	q := d.quota
	return &q, nil
}

func (d *fakeDrive) UploadAndShare(ctx context.Context, req distribution.UploadRequest) (*distribution.UploadResult, error) {
	info, err := os.Stat(req.LocalPath)
	if err != nil {
		return nil, err
	}
	d.nextID++
	id := fmt.Sprintf("file-%d", d.nextID)
	d.files[req.FolderID+"/"+req.FileName] = distribution.FileInfo{
		ID: id, Name: req.FileName, MimeType: req.MimeType, Size: info.Size(),
	}
	return &distribution.UploadResult{
		FileID:       id,
		FileName:     req.FileName,
		ShareableURL: "https://drive.google.com/file/d/" + id + "/view",
		Size:         info.Size(),
	}, nil
}

func (d *fakeDrive) DeletePermanently(ctx context.Context, fileID string) error {
	for key, f := range d.files {
		if f.ID == fileID {
			delete(d.files, key)
		}
	}
	d.deleted = append(d.deleted, fileID)
	return nil
}

type publishContext struct {
	tempDir string
	cfg     *config.Config
	drive   *fakeDrive
	jobID   string
	output  *bytes.Buffer
	result  *publish.Result
	err     error
}

var SharedPublishContext = &publishContext{}

func InitializePublishScenario(ctx *godog.ScenarioContext) {
	testCtx := SharedPublishContext

	ctx.Before(func(c context.Context, sc *godog.Scenario) (context.Context, error) {
		tempDir, err := os.MkdirTemp("", "publish-test-*")
		if err != nil {
			return c, err
		}
		testCtx.tempDir = tempDir
		testCtx.cfg = testConfig(tempDir)
		testCtx.cfg.Google.OutputFolderID = "root-folder"
		testCtx.drive = newFakeDrive()
		testCtx.drive.quota = distribution.StorageInfo{TotalBytes: 1 << 30, AvailableBytes: 1 << 30}
		testCtx.jobID = ""
		testCtx.output = &bytes.Buffer{}
		testCtx.result = nil
		testCtx.err = nil
		return c, nil
	})

	ctx.After(func(c context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if testCtx.tempDir != "" {
			os.RemoveAll(testCtx.tempDir)
		}
		return c, nil
	})

	ctx.Step(`^an extraction "([^"]*)" with (\d+) frames$`, testCtx.anExtractionWithFrames)
	ctx.Step(`^the Drive folder "([^"]*)" already holds "([^"]*)"$`, testCtx.theDriveFolderAlreadyHolds)
	ctx.Step(`^the Drive account has (\d+) bytes free of (\d+)$`, testCtx.theDriveAccountHasBytesFree)
	ctx.Step(`^a "([^"]*)" job produced the extraction "([^"]*)"$`, testCtx.aJobProducedTheExtraction)
	ctx.Step(`^I publish the directory "([^"]*)"$`, testCtx.iPublishTheDirectory)
	ctx.Step(`^I publish the job$`, testCtx.iPublishTheJob)
	ctx.Step(`^(\d+) files? should be published to the Drive folder "([^"]*)"$`, testCtx.filesShouldBePublishedTo)
	ctx.Step(`^(\d+) old Drive files? should have been deleted$`, testCtx.oldDriveFilesShouldHaveBeenDeleted)
	ctx.Step(`^the publish should fail with "([^"]*)"$`, testCtx.thePublishShouldFailWith)
	ctx.Step(`^the publish output should contain "([^"]*)"$`, testCtx.thePublishOutputShouldContain)
}

func (p *publishContext) extractionDir(rel string) string {
	return filepath.Join(p.cfg.Paths.OutputDir, filepath.FromSlash(rel))
}

func (p *publishContext) anExtractionWithFrames(rel string, n int) error {
	dir := p.extractionDir(rel)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if err := os.WriteFile(filepath.Join(dir, extraction.FrameFileName(i)), []byte("jpeg data"), 0644); err != nil {
			return err
		}
	}
	return nil
}

func (p *publishContext) theDriveFolderAlreadyHolds(folder, name string) error {
	id, _ := p.drive.EnsureFolder(context.Background(), p.cfg.Google.OutputFolderID, folder)
	p.drive.nextID++
	p.drive.files[id+"/"+name] = distribution.FileInfo{ID: fmt.Sprintf("old-%d", p.drive.nextID), Name: name}
	return nil
}

func (p *publishContext) theDriveAccountHasBytesFree(free, total int) error {
	p.drive.quota = distribution.StorageInfo{TotalBytes: int64(total), AvailableBytes: int64(free)}
	return nil
}

func (p *publishContext) aJobProducedTheExtraction(state, rel string) error {
	store, err := jobstore.Open(p.cfg.Paths.JobsDir)
	if err != nil {
		return err
	}
	dir := p.extractionDir(rel)

	var result extraction.Result = extraction.Success{OutputDirectory: dir, TotalCount: 2}
	if state != string(jobs.StateSucceeded) {
		result = extraction.TaskError(1, "exit code 1")
	}
	encoded, err := extraction.EncodeResult(result)
	if err != nil {
		return err
	}

	p.jobID = "job-" + state
	return store.Create(context.Background(), &jobs.Record{
		ID:      p.jobID,
		Key:     "frames:" + dir,
		State:   jobs.State(state),
		Request: jobs.Request{Kind: extraction.KindFrames, OutputDir: filepath.Dir(dir)},
		Result:  &encoded,
	})
}

func (p *publishContext) iPublishTheDirectory(rel string) error {
	p.output.Reset()
	input := cmd.PublishInput{Dir: p.extractionDir(rel)}
	p.result, p.err = cmd.RunPublishWithDependencies(context.Background(), p.cfg, p.drive, input, p.output)
	return nil
}

func (p *publishContext) iPublishTheJob() error {
	p.output.Reset()
	input := cmd.PublishInput{JobID: p.jobID}
	p.result, p.err = cmd.RunPublishWithDependencies(context.Background(), p.cfg, p.drive, input, p.output)
	return nil
}

func (p *publishContext) filesShouldBePublishedTo(n int, folder string) error {
	if p.err != nil {
		return fmt.Errorf("publish failed: %v", p.err)
	}
	if p.result.FolderName != folder {
		return fmt.Errorf("expected folder %q, got %q", folder, p.result.FolderName)
	}
	if len(p.result.Files) != n {
		return fmt.Errorf("expected %d published files, got %d", n, len(p.result.Files))
	}
	files, _ := p.drive.ListFiles(context.Background(), p.result.FolderID)
	if len(files) != n {
		return fmt.Errorf("expected %d files in Drive folder, got %d", n, len(files))
	}
	return nil
}

func (p *publishContext) oldDriveFilesShouldHaveBeenDeleted(n int) error {
	if len(p.drive.deleted) != n {
		return fmt.Errorf("expected %d deletions, got %v", n, p.drive.deleted)
	}
	return nil
}

func (p *publishContext) thePublishShouldFailWith(msg string) error {
	if p.err == nil {
		return fmt.Errorf("expected error containing %q, got none", msg)
	}
	if !strings.Contains(p.err.Error(), msg) {
		return fmt.Errorf("expected error containing %q, got %q", msg, p.err.Error())
	}
	return nil
}

func (p *publishContext) thePublishOutputShouldContain(text string) error {
	if !strings.Contains(p.output.String(), text) {
		return fmt.Errorf("expected output to contain %q, got:\n%s", text, p.output.String())
	}
	return nil
}
