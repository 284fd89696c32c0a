package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/formvault-api/internal/legacy"
	"github.com/stanstork/formvault-api/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockMigrationService struct {
	mock.Mock
}

func (m *mockMigrationService) Trigger(ctx context.Context, batchSize int) (*models.MigrationProgress, error) {
	args := m.Called(ctx, batchSize)
	res, _ := args.Get(0).(*models.MigrationProgress)
	return res, args.Error(1)
}

func (m *mockMigrationService) Progress(ctx context.Context) (*models.MigrationProgress, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*models.MigrationProgress)
	return res, args.Error(1)
}

func migrationRouter(svc MigrationService) *mux.Router {
	h := NewMigrationHandler(svc, zerolog.Nop())
	r := mux.NewRouter()
	r.HandleFunc("/migrations/legacy", h.Trigger).Methods(http.MethodPost)
	r.HandleFunc("/migrations/legacy", h.Progress).Methods(http.MethodGet)
	return r
}

func TestTriggerMigration(t *testing.T) {
	svc := new(mockMigrationService)
	svc.On("Trigger", mock.Anything, 500).Return(&models.MigrationProgress{Status: models.MigrationStatusRunning, Total: 40}, nil).Once()
	svc.On("Trigger", mock.Anything, 0).Return(nil, legacy.ErrMigrationRunning).Once()
	router := migrationRouter(svc)

	rec := serve(router, http.MethodPost, "/migrations/legacy", `{"batch_size":500}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"running"`)

	assert.Equal(t, http.StatusConflict, serve(router, http.MethodPost, "/migrations/legacy", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/migrations/legacy", "{").Code)
	svc.AssertExpectations(t)
}

func TestMigrationProgress(t *testing.T) {
	svc := new(mockMigrationService)
	svc.On("Progress", mock.Anything).Return(nil, legacy.ErrMigrationNotStarted).Once()
	svc.On("Progress", mock.Anything).Return(&models.MigrationProgress{
		Status:          models.MigrationStatusComplete,
		Total:           10,
		Scanned:         10,
		Migrated:        9,
		Skipped:         1,
		ProgressPercent: 100,
		Complete:        true,
	}, nil).Once()
	router := migrationRouter(svc)

	assert.Equal(t, http.StatusNotFound, serve(router, http.MethodGet, "/migrations/legacy", "").Code)

	rec := serve(router, http.MethodGet, "/migrations/legacy", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"complete","last_id":0,"total":10,"scanned":10,"migrated":9,"skipped":1,"progress_percent":100,"complete":true}`, rec.Body.String())
}
