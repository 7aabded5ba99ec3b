package cors

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func perform(t *testing.T, allowed []string, method, origin string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(New(allowed))
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(method, "/ping", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCORSListedOriginEchoedWithCredentials(t *testing.T) {
	rec := perform(t, []string{"https://portal.example.edu/"}, http.MethodGet, "https://portal.example.edu")
	require.Equal(t, "https://portal.example.edu", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSUnlistedOriginNotEchoed(t *testing.T) {
	rec := perform(t, []string{"https://portal.example.edu"}, http.MethodGet, "https://evil.example.com")
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSWildcardWithoutCredentials(t *testing.T) {
	rec := perform(t, nil, http.MethodGet, "https://anywhere.example.com")
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	rec := perform(t, nil, http.MethodOptions, "https://anywhere.example.com")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "DELETE")
}
