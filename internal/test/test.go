package test

import (
	"context"
	"net/url"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"

	"podcast-assembler/internal/db"
)

// MockTaskEnqueuer is a mock implementation of tasks.TaskEnqueuer for testing.
type MockTaskEnqueuer struct {
	mu            sync.Mutex
	EnqueuedTasks []*asynq.Task
	Err           error
}

func (m *MockTaskEnqueuer) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	m.EnqueuedTasks = append(m.EnqueuedTasks, task)
	return &asynq.TaskInfo{ID: "test-task-id", Queue: "default"}, nil
}

// Tasks returns a copy of the enqueued tasks.
func (m *MockTaskEnqueuer) Tasks() []*asynq.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*asynq.Task(nil), m.EnqueuedTasks...)
}

// NewMockDB returns a Store backed by sqlmock. The connection is closed when
// the test finishes.
func NewMockDB(t *testing.T) (*db.Store, sqlmock.Sqlmock) {
	mockDb, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	sqlxDB := sqlx.NewDb(mockDb, "sqlmock")
	t.Cleanup(func() {
		mockDb.Close()
	})

	return db.NewStore(sqlxDB), mock
}

// NewFileBucket opens a file-backed bucket in a temp dir with HMAC URL
// signing rooted at https://media.example.com/signed.
func NewFileBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	base, err := url.Parse(SignedBaseURL)
	if err != nil {
		t.Fatal(err)
	}
	bucket, err := fileblob.OpenBucket(t.TempDir(), &fileblob.Options{
		URLSigner: fileblob.NewURLSignerHMAC(base, []byte("test-secret")),
	})
	if err != nil {
		t.Fatalf("open file bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

// SignedBaseURL prefixes URLs signed by buckets from NewFileBucket.
const SignedBaseURL = "https://media.example.com/signed"
