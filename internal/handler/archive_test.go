package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medres/whatsapp-gateway/internal/model"
	"github.com/medres/whatsapp-gateway/internal/wa"
)

type mockArchiveRepo struct {
	mock.Mock
}

func (m *mockArchiveRepo) Insert(ctx context.Context, msg model.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *mockArchiveRepo) FindByOrganizationID(ctx context.Context, organizationID string, limit, offset int) ([]model.Message, error) {
	args := m.Called(ctx, organizationID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Message), args.Error(1)
}

func (m *mockArchiveRepo) CountByOrganizationID(ctx context.Context, organizationID string) (int, error) {
	args := m.Called(ctx, organizationID)
	return args.Int(0), args.Error(1)
}

func (m *mockArchiveRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func newArchiveRouter(repo *mockArchiveRepo) http.Handler {
	registry := wa.NewRegistry(func(identity wa.ClientIdentity) (wa.Session, error) {
		return nil, errors.New("no session in this test")
	}, wa.Options{})
	return NewGatewayHandler(registry, repo, nil).Routes()
}

func TestGetArchivedMessages(t *testing.T) {
	t.Run("returns page with total", func(t *testing.T) {
		repo := new(mockArchiveRepo)
		repo.On("FindByOrganizationID", mock.Anything, "org1", 50, 0).
			Return([]model.Message{
				{ID: "m1", Body: "oi", TimestampMs: 1700000000000, OrganizationID: "org1"},
			}, nil)
		repo.On("CountByOrganizationID", mock.Anything, "org1").Return(42, nil)

		req := httptest.NewRequest(http.MethodGet, "/org1/archive", nil)
		rec := httptest.NewRecorder()
		newArchiveRouter(repo).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, float64(1), body["count"])
		assert.Equal(t, float64(42), body["total"])
		repo.AssertExpectations(t)
	})

	t.Run("passes limit and offset through", func(t *testing.T) {
		repo := new(mockArchiveRepo)
		repo.On("FindByOrganizationID", mock.Anything, "org1", 10, 20).
			Return([]model.Message{}, nil)
		repo.On("CountByOrganizationID", mock.Anything, "org1").Return(0, nil)

		req := httptest.NewRequest(http.MethodGet, "/org1/archive?limit=10&offset=20", nil)
		rec := httptest.NewRecorder()
		newArchiveRouter(repo).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		repo.AssertExpectations(t)
	})

	t.Run("rejects bad offsets", func(t *testing.T) {
		repo := new(mockArchiveRepo)

		for _, offset := range []string{"-1", "abc", "1.5"} {
			req := httptest.NewRequest(http.MethodGet, "/org1/archive?offset="+offset, nil)
			rec := httptest.NewRecorder()
			newArchiveRouter(repo).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code, "offset=%s", offset)
		}
		repo.AssertNotCalled(t, "FindByOrganizationID")
	})

	t.Run("valid offset reaches the repository", func(t *testing.T) {
		repo := new(mockArchiveRepo)
		repo.On("FindByOrganizationID", mock.Anything, "org1", 50, 5).
			Return([]model.Message{}, nil)
		repo.On("CountByOrganizationID", mock.Anything, "org1").Return(0, nil)

		req := httptest.NewRequest(http.MethodGet, "/org1/archive?offset=5", nil)
		rec := httptest.NewRecorder()
		newArchiveRouter(repo).ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		repo.AssertExpectations(t)
	})

	t.Run("query failure maps to database error", func(t *testing.T) {
		repo := new(mockArchiveRepo)
		repo.On("FindByOrganizationID", mock.Anything, "org1", 50, 0).
			Return(nil, errors.New("conn refused"))

		req := httptest.NewRequest(http.MethodGet, "/org1/archive", nil)
		rec := httptest.NewRecorder()
		newArchiveRouter(repo).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
