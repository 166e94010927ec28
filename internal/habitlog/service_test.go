package habitlog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/fitjourney/internal/media"
	"github.com/hitoshi/fitjourney/internal/model"
)

var testUser = model.Identity{ID: "6f1c2a7e-0000-4000-8000-000000000001", Email: "a@x.com"}

func newTestService(repo *mockRepo, proc *mockProcessor, gw *mockGateway) *Service {
	svc := NewService(repo, proc, gw, nil, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{})
	svc.now = func() time.Time { return time.UnixMilli(1760868000123) }
	return svc
}

// TestLogActivity_ExerciseScenario はa@x.comの運動記録が作成されることをテストする。
func TestLogActivity_ExerciseScenario(t *testing.T) {
	repo, proc, gw := &mockRepo{}, &mockProcessor{}, &mockGateway{}
	svc := newTestService(repo, proc, gw)

	id, err := svc.LogActivity(context.Background(), Request{
		User:      testUser,
		HabitType: "exercise",
		Note:      "ran 5km",
		PhotoRef:  "/tmp/run.jpg",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "log-1" {
		t.Errorf("id = %q, want log-1", id)
	}

	if len(gw.ensured) != 1 || gw.ensured[0] != DefaultContainer {
		t.Errorf("ensured containers = %v", gw.ensured)
	}
	wantKey := "a_exercise_1760868000123.jpg"
	if len(gw.uploaded) != 1 || gw.uploaded[0] != wantKey {
		t.Fatalf("uploaded keys = %v, want [%s]", gw.uploaded, wantKey)
	}
	if gw.meta[0].ContentType != "image/jpeg" || gw.meta[0].CacheControl != 3600 {
		t.Errorf("upload metadata = %+v", gw.meta[0])
	}
	if len(proc.constraints) != 1 || proc.constraints[0] != media.VerificationPhoto {
		t.Errorf("constraints = %v, want VerificationPhoto", proc.constraints)
	}

	log := repo.inserted[0]
	if log.UserID != testUser.ID || log.UserEmail != "a@x.com" {
		t.Errorf("owner = %s/%s", log.UserID, log.UserEmail)
	}
	if log.HabitType != model.HabitExercise || log.Note != "ran 5km" {
		t.Errorf("unexpected log: %+v", log)
	}
	if log.PhotoURL != "https://project.supabase.co/storage/v1/object/public/habit_photos/"+wantKey {
		t.Errorf("PhotoURL = %q", log.PhotoURL)
	}
	if log.Verified || log.VerifiedBy != nil || log.VerifiedAt != nil {
		t.Errorf("new log must be unverified: %+v", log)
	}
}

// TestLogActivity_ValidationBeforeIO は入力不備の場合に一切のI/Oが行われないことをテストする。
func TestLogActivity_ValidationBeforeIO(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantErr error
	}{
		{"empty habit type", Request{User: testUser, PhotoRef: "/tmp/a.jpg"}, model.ErrValidation},
		{"unknown habit type", Request{User: testUser, HabitType: "jogging", PhotoRef: "/tmp/a.jpg"}, model.ErrValidation},
		{"missing photo", Request{User: testUser, HabitType: "sleep"}, model.ErrValidation},
		{"note too long", Request{User: testUser, HabitType: "sleep", PhotoRef: "/tmp/a.jpg", Note: strings.Repeat("あ", 201)}, model.ErrValidation},
		{"not signed in", Request{HabitType: "sleep", PhotoRef: "/tmp/a.jpg"}, model.ErrAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, proc, gw := &mockRepo{}, &mockProcessor{}, &mockGateway{}
			svc := newTestService(repo, proc, gw)

			_, err := svc.LogActivity(context.Background(), tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			var stageErr *model.StageError
			if !errors.As(err, &stageErr) || stageErr.Stage != model.StageValidate {
				t.Errorf("expected validate stage error, got %v", err)
			}
			if proc.callCount() != 0 || len(gw.ensured) != 0 || gw.uploadCount() != 0 || repo.insertCount() != 0 {
				t.Errorf("no I/O expected: process=%d ensure=%d upload=%d insert=%d",
					proc.callCount(), len(gw.ensured), gw.uploadCount(), repo.insertCount())
			}
		})
	}
}

// TestLogActivity_NoteLimitCountsCharacters はメモの上限が文字数で判定されることをテストする。
func TestLogActivity_NoteLimitCountsCharacters(t *testing.T) {
	repo, proc, gw := &mockRepo{}, &mockProcessor{}, &mockGateway{}
	svc := newTestService(repo, proc, gw)

	note := strings.Repeat("朝", 200)
	if _, err := svc.LogActivity(context.Background(), Request{User: testUser, HabitType: "breakfast", PhotoRef: "/tmp/a.jpg", Note: note}); err != nil {
		t.Fatalf("200 characters must be accepted: %v", err)
	}
	if repo.inserted[0].Note != note {
		t.Error("note was altered")
	}
}

// TestLogActivity_NoteIsSanitized はメモからマークアップが除去されることをテストする。
func TestLogActivity_NoteIsSanitized(t *testing.T) {
	repo, proc, gw := &mockRepo{}, &mockProcessor{}, &mockGateway{}
	svc := newTestService(repo, proc, gw)

	// タグを含めると201文字を超えるが、除去後は200文字以内
	note := "<b>" + strings.Repeat("x", 198) + "</b>"
	_, err := svc.LogActivity(context.Background(), Request{User: testUser, HabitType: "lunch", PhotoRef: "/tmp/a.jpg", Note: note})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := repo.inserted[0].Note; got != strings.Repeat("x", 198) {
		t.Errorf("note = %q", got)
	}
}

// TestLogActivity_UploadedPhotoBytes はアップロード済みデータがProcessBytesで処理されることをテストする。
func TestLogActivity_UploadedPhotoBytes(t *testing.T) {
	repo, proc, gw := &mockRepo{}, &mockProcessor{}, &mockGateway{}
	svc := newTestService(repo, proc, gw)

	_, err := svc.LogActivity(context.Background(), Request{User: testUser, HabitType: "no_smoking", Photo: []byte("raw")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.insertCount() != 1 {
		t.Errorf("insert count = %d, want 1", repo.insertCount())
	}
}

// TestLogActivity_MediaFailure は写真処理の失敗がprocess段階として返ることをテストする。
func TestLogActivity_MediaFailure(t *testing.T) {
	repo, gw := &mockRepo{}, &mockGateway{}
	proc := &mockProcessor{err: fmt.Errorf("%w: failed to decode image", model.ErrMedia)}
	svc := newTestService(repo, proc, gw)

	_, err := svc.LogActivity(context.Background(), Request{User: testUser, HabitType: "sleep", PhotoRef: "/tmp/a.txt"})
	var stageErr *model.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != model.StageProcessPhoto {
		t.Fatalf("expected process stage error, got %v", err)
	}
	if !errors.Is(err, model.ErrMedia) {
		t.Errorf("error should wrap ErrMedia: %v", err)
	}
	if gw.uploadCount() != 0 || repo.insertCount() != 0 {
		t.Error("nothing must be uploaded or saved after a media failure")
	}
}

// TestLogActivity_NoInsertAfterUploadFailure はアップロード失敗時に記録が作成されないことをテストする。
func TestLogActivity_NoInsertAfterUploadFailure(t *testing.T) {
	repo, proc := &mockRepo{}, &mockProcessor{}
	gw := &mockGateway{uploadErr: fmt.Errorf("%w: status 500: disk quota exceeded", model.ErrStorage)}
	svc := newTestService(repo, proc, gw)

	_, err := svc.LogActivity(context.Background(), Request{User: testUser, HabitType: "exercise", PhotoRef: "/tmp/a.jpg"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.HasPrefix(err.Error(), "failed to upload photo: ") {
		t.Errorf("message = %q", err.Error())
	}
	if !strings.Contains(err.Error(), "disk quota exceeded") {
		t.Errorf("message should carry the storage reason: %q", err.Error())
	}
	if !errors.Is(err, model.ErrStorage) {
		t.Errorf("error should wrap ErrStorage: %v", err)
	}
	if repo.insertCount() != 0 {
		t.Errorf("insert count = %d, want 0", repo.insertCount())
	}
}

// TestLogActivity_EnsureContainerAndPublicURLFailures はコンテナ作成・URL解決の失敗がupload段階になることをテストする。
func TestLogActivity_EnsureContainerAndPublicURLFailures(t *testing.T) {
	for name, gw := range map[string]*mockGateway{
		"ensure": {ensureErr: fmt.Errorf("%w: forbidden", model.ErrStorage)},
		"public": {publicErr: fmt.Errorf("%w: container habit_photos is not public", model.ErrStorage)},
	} {
		t.Run(name, func(t *testing.T) {
			repo := &mockRepo{}
			svc := newTestService(repo, &mockProcessor{}, gw)

			_, err := svc.LogActivity(context.Background(), Request{User: testUser, HabitType: "sleep", PhotoRef: "/tmp/a.jpg"})
			var stageErr *model.StageError
			if !errors.As(err, &stageErr) || stageErr.Stage != model.StageUploadPhoto {
				t.Fatalf("expected upload stage error, got %v", err)
			}
			if repo.insertCount() != 0 {
				t.Error("no record expected")
			}
		})
	}
}

// TestLogActivity_SaveFailure は保存失敗がsave段階として返り、写真は削除されないことをテストする。
func TestLogActivity_SaveFailure(t *testing.T) {
	proc, gw := &mockProcessor{}, &mockGateway{}
	repo := &mockRepo{insertFn: func(ctx context.Context, log *model.ActivityLog) (string, error) {
		return "", fmt.Errorf("failed to insert habit log: connection refused")
	}}
	svc := newTestService(repo, proc, gw)

	_, err := svc.LogActivity(context.Background(), Request{User: testUser, HabitType: "sleep", PhotoRef: "/tmp/a.jpg"})
	if err == nil || !strings.HasPrefix(err.Error(), "failed to save log: ") {
		t.Fatalf("error = %v, want save-log failure", err)
	}
	if model.ToAPIError(err).Code != model.ErrCodeSaveFailed {
		t.Errorf("API code = %s", model.ToAPIError(err).Code)
	}
	if gw.uploadCount() != 1 {
		t.Errorf("upload count = %d, want 1", gw.uploadCount())
	}
}

// TestLogActivity_ConcurrentCallsAreIndependent は同時に実行した記録が互いに影響しないことをテストする。
func TestLogActivity_ConcurrentCallsAreIndependent(t *testing.T) {
	repo, proc, gw := &mockRepo{}, &mockProcessor{}, &mockGateway{}
	svc := newTestService(repo, proc, gw)

	types := []string{"sleep", "breakfast", "lunch", "exercise", "no_smoking", "no_drinking"}
	var wg sync.WaitGroup
	errs := make(chan error, len(types))
	for _, ht := range types {
		wg.Add(1)
		go func(ht string) {
			defer wg.Done()
			_, err := svc.LogActivity(context.Background(), Request{User: testUser, HabitType: ht, PhotoRef: "/tmp/" + ht + ".jpg"})
			errs <- err
		}(ht)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if repo.insertCount() != len(types) || gw.uploadCount() != len(types) {
		t.Errorf("inserts=%d uploads=%d, want %d", repo.insertCount(), gw.uploadCount(), len(types))
	}
}
