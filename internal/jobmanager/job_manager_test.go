package jobmanager

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ChuLiYu/bulk-translator/pkg/types"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

// newTestJob creates a queued bulk job
func newTestJob(id string, project string) types.Job {
	return types.Job{
		ID:   types.JobID(id),
		Type: types.JobTypeBulkTranslation,
		Params: types.Params{
			ProjectID:     project,
			FilePaths:     []string{"a.json", "b.json"},
			TargetLocales: []string{"es-ES", "fr-FR"},
			Priority:      types.PriorityNormal,
		},
		CreatedAt: time.Now(),
		Progress:  types.Progress{Total: 400, CurrentPhase: types.PhaseInitializing},
	}
}

// assertNoError asserts no error occurred
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// assertError asserts a specific error occurred
func assertError(t *testing.T, err error, want error) {
	t.Helper()
	if err == nil {
		t.Errorf("expected error %v, got nil", want)
		return
	}
	if !errors.Is(err, want) {
		t.Errorf("expected error %v, got %v", want, err)
	}
}

// assertJobStatus asserts job status
func assertJobStatus(t *testing.T, jm *JobManager, jobID types.JobID, want types.JobStatus) {
	t.Helper()
	job, err := jm.Get(jobID)
	if err != nil {
		t.Errorf("job %s not found", jobID)
		return
	}
	if job.Status() != want {
		t.Errorf("job %s status: got %s, want %s", jobID, job.Status(), want)
	}
}

func markStarted(job *types.Job) error {
	now := time.Now()
	job.StartedAt = &now
	return nil
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestNewJobManager(t *testing.T) {
	jm := NewJobManager()

	if jm.jobs == nil {
		t.Error("jobs map not initialized")
	}
	if jm.order == nil {
		t.Error("order slice not initialized")
	}

	stats := jm.Stats()
	for _, key := range []string{"queued", "processing", "completed", "failed", "cancelled", "total"} {
		if stats[key] != 0 {
			t.Errorf("stats[%s]: got %d, want 0", key, stats[key])
		}
	}
}

func TestCreate(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*JobManager)
		job     types.Job
		wantErr error
	}{
		{
			name:    "Normal single job",
			setup:   func(jm *JobManager) {},
			job:     newTestJob("job-001", "p1"),
			wantErr: nil,
		},
		{
			name:    "Multiple jobs",
			setup:   func(jm *JobManager) { jm.Create(newTestJob("job-001", "p1")) },
			job:     newTestJob("job-002", "p1"),
			wantErr: nil,
		},
		{
			name:    "Duplicate ID error",
			setup:   func(jm *JobManager) { jm.Create(newTestJob("job-001", "p1")) },
			job:     newTestJob("job-001", "p2"),
			wantErr: ErrDuplicateJob,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jm := NewJobManager()
			tt.setup(jm)

			err := jm.Create(tt.job)

			if tt.wantErr != nil {
				assertError(t, err, tt.wantErr)
				return
			}
			assertNoError(t, err)
			assertJobStatus(t, jm, tt.job.ID, types.StatusQueued)
		})
	}
}

func TestCreateStoresCopy(t *testing.T) {
	jm := NewJobManager()
	job := newTestJob("job-001", "p1")
	assertNoError(t, jm.Create(job))

	job.Params.FilePaths[0] = "mutated.json"

	stored, err := jm.Get("job-001")
	assertNoError(t, err)
	if stored.Params.FilePaths[0] != "a.json" {
		t.Errorf("stored job shares caller slice: got %s", stored.Params.FilePaths[0])
	}
}

func TestGet(t *testing.T) {
	jm := NewJobManager()

	_, err := jm.Get("missing")
	assertError(t, err, ErrJobNotFound)

	assertNoError(t, jm.Create(newTestJob("job-001", "p1")))
	got, err := jm.Get("job-001")
	assertNoError(t, err)
	if got.ID != "job-001" {
		t.Errorf("got job ID %s, want job-001", got.ID)
	}

	// mutating the copy must not leak into the store
	got.SubJobs = append(got.SubJobs, types.SubJob{Locale: "de-DE"})
	again, _ := jm.Get("job-001")
	if len(again.SubJobs) != 0 {
		t.Errorf("copy mutation leaked: %d sub-jobs", len(again.SubJobs))
	}
}

func TestUpdate(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*JobManager)
		jobID   types.JobID
		fn      func(*types.Job) error
		wantErr error
		want    types.JobStatus
	}{
		{
			name:    "Job does not exist error",
			setup:   func(jm *JobManager) {},
			jobID:   "job-001",
			fn:      markStarted,
			wantErr: ErrJobNotFound,
		},
		{
			name:  "Start processing",
			setup: func(jm *JobManager) { jm.Create(newTestJob("job-001", "p1")) },
			jobID: "job-001",
			fn:    markStarted,
			want:  types.StatusProcessing,
		},
		{
			name: "Cancel processing job",
			setup: func(jm *JobManager) {
				jm.Create(newTestJob("job-001", "p1"))
				jm.Update("job-001", markStarted)
			},
			jobID: "job-001",
			fn: func(job *types.Job) error {
				job.Outcome = types.Cancelled{At: time.Now()}
				return nil
			},
			want: types.StatusCancelled,
		},
		{
			name:  "Error from fn is returned",
			setup: func(jm *JobManager) { jm.Create(newTestJob("job-001", "p1")) },
			jobID: "job-001",
			fn: func(job *types.Job) error {
				return errTest
			},
			wantErr: errTest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jm := NewJobManager()
			tt.setup(jm)

			err := jm.Update(tt.jobID, tt.fn)

			if tt.wantErr != nil {
				assertError(t, err, tt.wantErr)
				return
			}
			assertNoError(t, err)
			assertJobStatus(t, jm, tt.jobID, tt.want)
		})
	}
}

var errTest = errors.New("test error")

func TestList(t *testing.T) {
	jm := NewJobManager()
	jm.Create(newTestJob("job-001", "p1"))
	jm.Create(newTestJob("job-002", "p2"))
	jm.Create(newTestJob("job-003", "p1"))
	jm.Update("job-002", markStarted)
	jm.Update("job-003", func(job *types.Job) error {
		job.Outcome = types.Failed{At: time.Now(), Error: "boom"}
		return nil
	})

	tests := []struct {
		name   string
		filter Filter
		want   []types.JobID
	}{
		{name: "No filter keeps creation order", filter: Filter{}, want: []types.JobID{"job-001", "job-002", "job-003"}},
		{name: "By project", filter: Filter{ProjectID: "p1"}, want: []types.JobID{"job-001", "job-003"}},
		{name: "By status", filter: Filter{Status: types.StatusProcessing}, want: []types.JobID{"job-002"}},
		{name: "By type", filter: Filter{Type: types.JobTypeBulkTranslation}, want: []types.JobID{"job-001", "job-002", "job-003"}},
		{name: "Unknown type", filter: Filter{Type: "other"}, want: []types.JobID{}},
		{name: "Combined", filter: Filter{ProjectID: "p1", Status: types.StatusFailed}, want: []types.JobID{"job-003"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := jm.List(tt.filter)
			if len(got) != len(tt.want) {
				t.Fatalf("count: got %d, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("position %d: got %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestStats(t *testing.T) {
	jm := NewJobManager()
	jm.Create(newTestJob("job-001", "p1"))
	jm.Create(newTestJob("job-002", "p1"))
	jm.Create(newTestJob("job-003", "p1"))
	jm.Create(newTestJob("job-004", "p1"))
	jm.Update("job-002", markStarted)
	jm.Update("job-003", func(job *types.Job) error {
		job.Outcome = types.Completed{At: time.Now()}
		return nil
	})
	jm.Update("job-004", func(job *types.Job) error {
		job.Outcome = types.Cancelled{At: time.Now()}
		return nil
	})

	stats := jm.Stats()
	want := map[string]int{"queued": 1, "processing": 1, "completed": 1, "failed": 0, "cancelled": 1, "total": 4}
	for key, value := range want {
		if stats[key] != value {
			t.Errorf("stats[%s]: got %d, want %d", key, stats[key], value)
		}
	}
	if jm.Len() != 4 {
		t.Errorf("Len: got %d, want 4", jm.Len())
	}
}

// ============================================================================
// Concurrent tests
// ============================================================================

func TestConcurrentCreate(t *testing.T) {
	jm := NewJobManager()

	const numGoroutines = 10
	const jobsPerGoroutine = 100

	var wg sync.WaitGroup
	errs := make(chan error, numGoroutines*jobsPerGoroutine)

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(goroutineID int) {
			defer wg.Done()
			for j := 0; j < jobsPerGoroutine; j++ {
				id := fmt.Sprintf("job-%d-%d", goroutineID, j)
				if err := jm.Create(newTestJob(id, "p1")); err != nil {
					errs <- err
				}
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent create error: %v", err)
	}
	if got := jm.Stats()["queued"]; got != numGoroutines*jobsPerGoroutine {
		t.Errorf("expected %d queued jobs, got %d", numGoroutines*jobsPerGoroutine, got)
	}
}

// Concurrent writers on one job must not lose updates.
func TestConcurrentUpdateSameJob(t *testing.T) {
	jm := NewJobManager()
	jm.Create(newTestJob("job-001", "p1"))

	const writers = 20
	const perWriter = 50

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				jm.Update("job-001", func(job *types.Job) error {
					job.Progress.Completed++
					return nil
				})
				jm.Get("job-001")
			}
		}()
	}
	wg.Wait()

	job, _ := jm.Get("job-001")
	if job.Progress.Completed != writers*perWriter {
		t.Errorf("lost updates: got %d, want %d", job.Progress.Completed, writers*perWriter)
	}
}

// ============================================================================
// Performance tests (Benchmarks)
// ============================================================================

func BenchmarkCreate(b *testing.B) {
	jm := NewJobManager()
	job := newTestJob("benchmark-job", "p1")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		job.ID = types.JobID(fmt.Sprintf("job-%d", i))
		jm.Create(job)
	}
}

func BenchmarkUpdate(b *testing.B) {
	jm := NewJobManager()
	jm.Create(newTestJob("job-001", "p1"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		jm.Update("job-001", func(job *types.Job) error {
			job.Progress.Completed = i
			return nil
		})
	}
}

func BenchmarkList(b *testing.B) {
	jm := NewJobManager()
	for i := 0; i < 1000; i++ {
		jm.Create(newTestJob(fmt.Sprintf("job-%d", i), "p1"))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		jm.List(Filter{ProjectID: "p1"})
	}
}
