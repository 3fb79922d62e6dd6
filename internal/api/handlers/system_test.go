package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/logging"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/version"
)

func TestSystemHandler_Health(t *testing.T) {
	t.Run("returns healthy status when database is connected", func(t *testing.T) {
		f := newHandlerFixture(t)
		handler := NewSystemHandler(f.svc.System, logging.Nop())

		w := httptest.NewRecorder()
		handler.Health(w, httptest.NewRequest(http.MethodGet, "/api/system/health", nil))

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[healthResponse](t, w)
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "connected", resp.Database)
		assert.Empty(t, resp.Error)
	})

	t.Run("returns 503 when database is disconnected", func(t *testing.T) {
		f := newHandlerFixture(t)
		handler := NewSystemHandler(f.svc.System, logging.Nop())
		f.db.Close()

		w := httptest.NewRecorder()
		handler.Health(w, httptest.NewRequest(http.MethodGet, "/api/system/health", nil))

		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		resp := decode[healthResponse](t, w)
		assert.Equal(t, "unhealthy", resp.Status)
		assert.NotEmpty(t, resp.Error)
	})
}

func TestSystemHandler_Version(t *testing.T) {
	t.Run("returns version information successfully", func(t *testing.T) {
		f := newHandlerFixture(t)
		handler := NewSystemHandler(f.svc.System, logging.Nop())

		w := httptest.NewRecorder()
		handler.Version(w, httptest.NewRequest(http.MethodGet, "/api/system/version", nil))

		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		info := decode[model.VersionInfo](t, w)
		assert.Equal(t, version.Version, info.AppVersion)
		assert.Equal(t, info.LatestMigration, info.DbVersion)
		assert.False(t, info.MigrationNeeded)
	})

	t.Run("returns 500 when database is disconnected", func(t *testing.T) {
		f := newHandlerFixture(t)
		handler := NewSystemHandler(f.svc.System, logging.Nop())
		f.db.Close()

		w := httptest.NewRecorder()
		handler.Version(w, httptest.NewRequest(http.MethodGet, "/api/system/version", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
