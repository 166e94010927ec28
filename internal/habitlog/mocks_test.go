package habitlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hitoshi/fitjourney/internal/media"
	"github.com/hitoshi/fitjourney/internal/model"
	"github.com/hitoshi/fitjourney/internal/storage"
)

// mockRepo はActivityLogRepositoryのモック。
type mockRepo struct {
	mu           sync.Mutex
	inserted     []*model.ActivityLog
	insertFn     func(ctx context.Context, log *model.ActivityLog) (string, error)
	findByIDFn   func(ctx context.Context, id string) (*model.ActivityLog, error)
	listByUserFn func(ctx context.Context, userID string, cursor model.LogCursor, limit int) ([]*model.ActivityLog, error)
}

func (m *mockRepo) Insert(ctx context.Context, log *model.ActivityLog) (string, error) {
	m.mu.Lock()
	m.inserted = append(m.inserted, log)
	n := len(m.inserted)
	m.mu.Unlock()
	if m.insertFn != nil {
		return m.insertFn(ctx, log)
	}
	log.ID = fmt.Sprintf("log-%d", n)
	log.CreatedAt = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	return log.ID, nil
}

func (m *mockRepo) FindByID(ctx context.Context, id string) (*model.ActivityLog, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockRepo) ListByUser(ctx context.Context, userID string, cursor model.LogCursor, limit int) ([]*model.ActivityLog, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, userID, cursor, limit)
	}
	return nil, nil
}

func (m *mockRepo) MarkVerified(ctx context.Context, id, verifierID string) (*model.ActivityLog, bool, error) {
	return nil, false, fmt.Errorf("not implemented")
}

func (m *mockRepo) ReferencedPhotoURLs(ctx context.Context, urls []string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (m *mockRepo) insertCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inserted)
}

// mockProcessor はPhotoProcessorのモック。
type mockProcessor struct {
	mu          sync.Mutex
	calls       int
	constraints []media.Constraints
	err         error
}

func (m *mockProcessor) record(c media.Constraints) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.constraints = append(m.constraints, c)
	return m.err
}

func (m *mockProcessor) Process(ctx context.Context, ref string, c media.Constraints) (*media.Payload, error) {
	if err := m.record(c); err != nil {
		return nil, err
	}
	return &media.Payload{Data: []byte("jpeg:" + ref), ContentType: media.ContentTypeJPEG, Width: 1200, Height: 900}, nil
}

func (m *mockProcessor) ProcessBytes(ctx context.Context, data []byte, c media.Constraints) (*media.Payload, error) {
	if err := m.record(c); err != nil {
		return nil, err
	}
	return &media.Payload{Data: append([]byte("jpeg:"), data...), ContentType: media.ContentTypeJPEG}, nil
}

func (m *mockProcessor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockGateway はstorage.Gatewayのモック。
type mockGateway struct {
	mu        sync.Mutex
	ensured   []string
	uploaded  []string
	meta      []storage.ObjectMetadata
	ensureErr error
	uploadErr error
	publicErr error
}

func (m *mockGateway) EnsureContainer(ctx context.Context, name string, policy storage.ContainerPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensured = append(m.ensured, name)
	return m.ensureErr
}

func (m *mockGateway) Upload(ctx context.Context, container, key string, data []byte, meta storage.ObjectMetadata) (*model.StoredMedia, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.uploadErr != nil {
		return nil, m.uploadErr
	}
	m.uploaded = append(m.uploaded, key)
	m.meta = append(m.meta, meta)
	return &model.StoredMedia{Container: container, Key: key, Size: len(data), ContentType: meta.ContentType}, nil
}

func (m *mockGateway) ResolvePublicAddress(ctx context.Context, container, key string) (string, error) {
	if m.publicErr != nil {
		return "", m.publicErr
	}
	return "https://project.supabase.co/storage/v1/object/public/" + container + "/" + key, nil
}

func (m *mockGateway) ListObjects(ctx context.Context, container, prefix string) ([]storage.Object, error) {
	return nil, nil
}

func (m *mockGateway) DeleteObjects(ctx context.Context, container string, keys []string) error {
	return nil
}

func (m *mockGateway) uploadCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploaded)
}
