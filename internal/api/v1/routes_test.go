package v1_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	v1 "github.com/stacklok/statesync/internal/api/v1"
	"github.com/stacklok/statesync/internal/service"
	"github.com/stacklok/statesync/internal/service/mocks"
	"github.com/stacklok/statesync/pkg/persist"
	"github.com/stacklok/statesync/pkg/statetree"
	"github.com/stacklok/statesync/pkg/status"
)

func TestRoutes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		method         string
		path           string
		body           string
		setupMock      func(m *mocks.MockSyncService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "status",
			method: http.MethodGet,
			path:   "/status",
			setupMock: func(m *mocks.MockSyncService) {
				m.EXPECT().Status(gomock.Any()).Return(status.Status{IsUpdateQueued: true, PendingUpdateCount: 2})
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"isUpdateQueued":true,"isFlushing":false,"pendingUpdateCount":2}`,
		},
		{
			name:   "list slices",
			method: http.MethodGet,
			path:   "/slices",
			setupMock: func(m *mocks.MockSyncService) {
				m.EXPECT().ListSlices(gomock.Any()).Return(statetree.Collection{"settings": {"themeName": "dark"}})
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"settings":{"themeName":"dark"}}`,
		},
		{
			name:   "get slice",
			method: http.MethodGet,
			path:   "/slices/settings",
			setupMock: func(m *mocks.MockSyncService) {
				m.EXPECT().GetSlice(gomock.Any(), "settings").Return(statetree.Slice{"themeName": "dark"}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"themeName":"dark"}`,
		},
		{
			name:   "get unknown slice",
			method: http.MethodGet,
			path:   "/slices/nope",
			setupMock: func(m *mocks.MockSyncService) {
				m.EXPECT().GetSlice(gomock.Any(), "nope").Return(nil, fmt.Errorf("%w: nope", service.ErrSliceNotFound))
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"error":"slice not found: nope"}`,
		},
		{
			name:   "patch slice",
			method: http.MethodPatch,
			path:   "/slices/settings",
			body:   `{"fontSize": 14, "legacy": null}`,
			setupMock: func(m *mocks.MockSyncService) {
				m.EXPECT().
					PatchSlice(gomock.Any(), "settings", statetree.Slice{"fontSize": float64(14), "legacy": nil}).
					Return(statetree.Slice{"themeName": "dark", "fontSize": 14}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"themeName":"dark","fontSize":14}`,
		},
		{
			name:           "patch with array body",
			method:         http.MethodPatch,
			path:           "/slices/settings",
			body:           `[1, 2]`,
			setupMock:      func(*mocks.MockSyncService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "patch with empty object",
			method:         http.MethodPatch,
			path:           "/slices/settings",
			body:           `{}`,
			setupMock:      func(*mocks.MockSyncService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"request body must set at least one field"}`,
		},
		{
			name:           "whitespace key",
			method:         http.MethodGet,
			path:           "/slices/a%20b",
			setupMock:      func(*mocks.MockSyncService) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"key cannot contain whitespace"}`,
		},
		{
			name:   "flush",
			method: http.MethodPost,
			path:   "/flush",
			setupMock: func(m *mocks.MockSyncService) {
				m.EXPECT().Flush(gomock.Any()).Return(nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"status":"flushed"}`,
		},
		{
			name:   "flush on stopped engine",
			method: http.MethodPost,
			path:   "/flush",
			setupMock: func(m *mocks.MockSyncService) {
				m.EXPECT().Flush(gomock.Any()).Return(persist.ErrEngineClosed)
			},
			expectedStatus: http.StatusServiceUnavailable,
		},
		{
			name:   "rehydrate defaults to persisting",
			method: http.MethodPost,
			path:   "/rehydrate",
			setupMock: func(m *mocks.MockSyncService) {
				m.EXPECT().Rehydrate(gomock.Any(), false).Return(nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"status":"rehydrated"}`,
		},
		{
			name:   "manual rehydrate",
			method: http.MethodPost,
			path:   "/rehydrate?manual=true",
			setupMock: func(m *mocks.MockSyncService) {
				m.EXPECT().Rehydrate(gomock.Any(), true).Return(nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "invalid manual flag",
			method:         http.MethodPost,
			path:           "/rehydrate?manual=maybe",
			setupMock:      func(*mocks.MockSyncService) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:   "purge",
			method: http.MethodPost,
			path:   "/purge",
			setupMock: func(m *mocks.MockSyncService) {
				m.EXPECT().Purge(gomock.Any()).Return(nil)
			},
			expectedStatus: http.StatusAccepted,
			expectedBody:   `{"status":"purged"}`,
		},
		{
			name:   "unexpected error is hidden",
			method: http.MethodPost,
			path:   "/purge",
			setupMock: func(m *mocks.MockSyncService) {
				m.EXPECT().Purge(gomock.Any()).Return(errors.New("disk on fire"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"error":"internal server error"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctrl := gomock.NewController(t)
			t.Cleanup(ctrl.Finish)

			mockSvc := mocks.NewMockSyncService(ctrl)
			tt.setupMock(mockSvc)
			router := v1.Router(mockSvc)

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			if tt.expectedBody != "" {
				assert.JSONEq(t, tt.expectedBody, rr.Body.String())
			}
		})
	}
}

func TestRoutes_FlushTimeout(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)
	t.Cleanup(ctrl.Finish)

	mockSvc := mocks.NewMockSyncService(ctrl)
	mockSvc.EXPECT().Flush(gomock.Any()).DoAndReturn(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	router := v1.Router(mockSvc, v1.WithFlushTimeout(20*time.Millisecond))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/flush", nil))

	require.Equal(t, http.StatusGatewayTimeout, rr.Code)
	assert.JSONEq(t, `{"error":"timed out waiting for the sync engine"}`, rr.Body.String())
}
