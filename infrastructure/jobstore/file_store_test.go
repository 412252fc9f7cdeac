package jobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"vidextract/domain/extraction"
	"vidextract/domain/jobs"
)

func newRecord(id string, created time.Time) *jobs.Record {
	return &jobs.Record{
		ID:    id,
		Key:   "a.mp4",
		State: jobs.StateEnqueued,
		Request: jobs.Request{
			Kind:       extraction.KindAudio,
			SourcePath: "/videos/a.mp4",
			OutputDir:  "/out",
			Config:     extraction.FromTimestamps([]int64{0, 1500}),
			Source: extraction.SourceDescriptor{
				DurationMs: 3000,
				FrameRate:  25,
				Streams:    []extraction.Stream{{Index: 1, Type: extraction.StreamAudio, Codec: "aac"}},
			},
		},
		MaxRetries: 3,
		CreatedAt:  created,
	}
}

func openStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "jobs"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func TestFileStore_Create(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := s.Create(ctx, newRecord("job-1", created)); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := s.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created at %v, want %v", got.CreatedAt, created)
	}
	if got.Request.Kind != extraction.KindAudio || got.Request.Source.DurationMs != 3000 {
		t.Errorf("request not preserved: %+v", got.Request)
	}
	if len(got.Request.Config.CustomTimestamps) != 2 || got.Request.Config.CustomTimestamps[1] != 1500 {
		t.Errorf("config not preserved: %+v", got.Request.Config)
	}
	if len(got.Request.Source.Streams) != 1 || got.Request.Source.Streams[0].Codec != "aac" {
		t.Errorf("streams not preserved: %+v", got.Request.Source.Streams)
	}
}

func TestFileStore_Create_Duplicate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, newRecord("job-1", time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, newRecord("job-1", time.Now())); !errors.Is(err, jobs.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestFileStore_Get_Missing(t *testing.T) {
	s := openStore(t)
	for _, id := range []string{"missing", "../escape", ".lock", ""} {
		if _, err := s.Get(context.Background(), id); !errors.Is(err, jobs.ErrNotFound) {
			t.Errorf("Get(%q): expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestFileStore_Update(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, newRecord("job-1", time.Now())); err != nil {
		t.Fatal(err)
	}

	delay := 20 * time.Second
	updated, err := s.Update(ctx, "job-1", func(r *jobs.Record) error {
		if err := r.Transition(jobs.StateRunning); err != nil {
			return err
		}
		r.Attempts = 1
		r.Progress = &extraction.Progress{Current: 2, Total: 4, Percentage: 0.5, TimestampMs: 1500}
		r.History = append(r.History, jobs.Attempt{Number: 1, StartedAt: time.Now(), RetryDelay: delay})
		return nil
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("expected version 2, got %d", updated.Version)
	}

	got, _ := s.Get(ctx, "job-1")
	if got.State != jobs.StateRunning || got.Attempts != 1 {
		t.Errorf("update not persisted: %+v", got)
	}
	if got.Progress == nil || got.Progress.Percentage != 0.5 {
		t.Errorf("progress not persisted: %+v", got.Progress)
	}
	if len(got.History) != 1 || got.History[0].RetryDelay != delay {
		t.Errorf("history not persisted: %+v", got.History)
	}
}

func TestFileStore_Update_Error(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, newRecord("job-1", time.Now())); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	_, err := s.Update(ctx, "job-1", func(r *jobs.Record) error {
		r.State = jobs.StateFailed
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	got, _ := s.Get(ctx, "job-1")
	if got.State != jobs.StateEnqueued || got.Version != 1 {
		t.Errorf("record changed after failed update: %+v", got)
	}
}

func TestFileStore_Update_Result(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, newRecord("job-1", time.Now())); err != nil {
		t.Fatal(err)
	}

	want := extraction.InsufficientStorage{RequiredBytes: 500 << 20, AvailableBytes: 10 << 20}
	_, err := s.Update(ctx, "job-1", func(r *jobs.Record) error {
		enc, err := extraction.EncodeResult(want)
		if err != nil {
			return err
		}
		r.Result = &enc
		r.State = jobs.StateFailed
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, _ := s.Get(ctx, "job-1")
	res, err := got.DecodedResult()
	if err != nil {
		t.Fatalf("DecodedResult failed: %v", err)
	}
	if res != want {
		t.Errorf("got %#v, want %#v", res, want)
	}
}

func TestFileStore_List(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"c", "a", "b"} {
		if err := s.Create(ctx, newRecord(id, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}
	// stray files are ignored
	if err := os.WriteFile(filepath.Join(s.Dir(), "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	list, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	var ids []string
	for _, r := range list {
		ids = append(ids, r.ID)
	}
	if len(ids) != 3 || ids[0] != "c" || ids[1] != "a" || ids[2] != "b" {
		t.Errorf("unexpected order %v", ids)
	}
}

func TestFileStore_SharedDirectory(t *testing.T) {
	dir := t.TempDir()
	worker, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	cli, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := worker.Create(ctx, newRecord("job-1", time.Now())); err != nil {
		t.Fatal(err)
	}
	if _, err := cli.Update(ctx, "job-1", func(r *jobs.Record) error {
		r.CancelRequested = true
		return nil
	}); err != nil {
		t.Fatal(err)
	}

	got, err := worker.Get(ctx, "job-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.CancelRequested {
		t.Error("worker did not see cancel written through another store")
	}
}

func TestFileStore_Update_Concurrent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	if err := s.Create(ctx, newRecord("job-1", time.Now())); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Update(ctx, "job-1", func(r *jobs.Record) error {
				r.Attempts++
				return nil
			})
		}()
	}
	wg.Wait()

	got, _ := s.Get(ctx, "job-1")
	if got.Attempts != 20 || got.Version != 21 {
		t.Errorf("lost updates: attempts %d version %d", got.Attempts, got.Version)
	}
}

func TestFileStore_Purge(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	clock := now.Add(-48 * time.Hour)
	s, err := Open(t.TempDir(), WithClock(func() time.Time { return clock }))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	for _, id := range []string{"old-done", "old-active"} {
		if err := s.Create(ctx, newRecord(id, clock)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := s.Update(ctx, "old-done", func(r *jobs.Record) error {
		return r.Transition(jobs.StateCancelled)
	}); err != nil {
		t.Fatal(err)
	}

	clock = now
	if err := s.Create(ctx, newRecord("new", now)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Update(ctx, "new", func(r *jobs.Record) error {
		return r.Transition(jobs.StateCancelled)
	}); err != nil {
		t.Fatal(err)
	}

	removed, err := s.Purge(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	if _, err := s.Get(ctx, "old-done"); !errors.Is(err, jobs.ErrNotFound) {
		t.Errorf("old terminal record should be gone, got %v", err)
	}
	if _, err := s.Get(ctx, "old-active"); err != nil {
		t.Errorf("active record must survive purge: %v", err)
	}
}

func TestFileStore_ReplaceActive_AcrossStores(t *testing.T) {
	dir := t.TempDir()
	var stores []*FileStore
	for i := 0; i < 2; i++ {
		s, err := Open(dir)
		if err != nil {
			t.Fatal(err)
		}
		stores = append(stores, s)
	}
	ctx := context.Background()
	cancel := func(r *jobs.Record) error {
		return r.Transition(jobs.StateCancelled)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec := newRecord("job-"+string(rune('a'+i)), time.Now())
			if _, err := stores[i%2].ReplaceActive(ctx, rec, cancel); err != nil {
				t.Errorf("ReplaceActive failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	records, err := stores[0].List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	active := 0
	for _, r := range records {
		if r.State.IsActive() {
			active++
		} else if r.Version != 2 {
			t.Errorf("replaced record %s has version %d", r.ID, r.Version)
		}
	}
	if len(records) != 10 || active != 1 {
		t.Errorf("got %d records with %d active, want 10 with 1 active", len(records), active)
	}
}

func TestFileStore_ReplaceActive(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	other := newRecord("other", time.Now())
	other.Key = "b.mp4"
	if err := s.Create(ctx, other); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, newRecord("old", time.Now())); err != nil {
		t.Fatal(err)
	}

	replaced, err := s.ReplaceActive(ctx, newRecord("new", time.Now()), func(r *jobs.Record) error {
		return r.Transition(jobs.StateCancelled)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(replaced) != 1 || replaced[0] != "old" {
		t.Errorf("replaced = %v", replaced)
	}
	if got, _ := s.Get(ctx, "other"); got.State != jobs.StateEnqueued {
		t.Errorf("record with another key changed: %s", got.State)
	}

	if _, err := s.ReplaceActive(ctx, newRecord("new", time.Now()), func(*jobs.Record) error { return nil }); !errors.Is(err, jobs.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}
