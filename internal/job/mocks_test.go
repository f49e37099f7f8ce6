package job

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/maauso/dreamreel-api/internal/media"
	"github.com/maauso/dreamreel-api/internal/sora"
)

// mockProvider implements Provider for testing.
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Submit(ctx context.Context, prompt string) (sora.SubmitResult, error) {
	args := m.Called(ctx, prompt)
	return args.Get(0).(sora.SubmitResult), args.Error(1)
}

func (m *mockProvider) GetStatus(ctx context.Context, jobID string) (sora.StatusResult, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(sora.StatusResult), args.Error(1)
}

func (m *mockProvider) Download(ctx context.Context, jobID string) ([]byte, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// mockStore implements ArtifactStore for testing.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Put(ctx context.Context, jobID string, data []byte, contentType string) (string, error) {
	args := m.Called(ctx, jobID, data, contentType)
	return args.String(0), args.Error(1)
}

func (m *mockStore) Exists(ctx context.Context, jobID string) bool {
	args := m.Called(ctx, jobID)
	return args.Bool(0)
}

func (m *mockStore) URL(jobID string) string {
	args := m.Called(jobID)
	return args.String(0)
}

// mockTranscoder implements media.Transcoder for testing.
type mockTranscoder struct {
	mock.Mock
}

func (m *mockTranscoder) Compress(ctx context.Context, raw []byte, profile media.Profile) ([]byte, media.Stats, error) {
	args := m.Called(ctx, raw, profile)
	if args.Get(0) == nil {
		return nil, media.Stats{}, args.Error(2)
	}
	return args.Get(0).([]byte), args.Get(1).(media.Stats), args.Error(2)
}

func (m *mockTranscoder) Poster(ctx context.Context, video []byte, width int) ([]byte, error) {
	args := m.Called(ctx, video, width)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// recordingScheduler implements Scheduler and remembers what was queued.
type recordingScheduler struct {
	mu   sync.Mutex
	ids  []string
	fail error
}

func (s *recordingScheduler) Enqueue(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.ids = append(s.ids, jobID)
	return nil
}

func (s *recordingScheduler) queued() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

// processorFunc adapts a function to Completer. Process and Recache share it.
type processorFunc func(ctx context.Context, jobID string) (string, error)

func (f processorFunc) Process(ctx context.Context, jobID string) (string, error) {
	return f(ctx, jobID)
}

func (f processorFunc) Recache(ctx context.Context, jobID string) (string, error) {
	return f(ctx, jobID)
}
