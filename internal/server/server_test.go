package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowmerge/internal/config"
	"flowmerge/internal/model"
)

func TestNewServer_WiresRoutes(t *testing.T) {
	for _, driver := range []string{"sqlite3", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			cfg := config.DefaultConfig()
			cfg.Data.DataDir = t.TempDir()
			cfg.Data.DBDriver = driver

			srv, err := NewServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
			require.NoError(t, err)
			t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

			name, err := srv.GetStore().GetDefaultTemplate(context.Background())
			require.NoError(t, err)
			assert.Equal(t, model.DefaultTemplateName, name)

			w := httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/ping", nil))
			assert.Equal(t, http.StatusOK, w.Code)

			w = httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/api/templates", nil))
			assert.Equal(t, http.StatusNoContent, w.Code)
			assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

			w = httptest.NewRecorder()
			srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
			assert.Equal(t, http.StatusNotFound, w.Code)
		})
	}
}

func TestNewServer_UnknownDriver(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Data.DataDir = t.TempDir()
	cfg.Data.DBDriver = "postgres"
	_, err := NewServer(cfg, nil)
	assert.Error(t, err)
}
