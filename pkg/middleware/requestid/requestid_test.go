package requestid

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func perform(t *testing.T, incoming string) (*httptest.ResponseRecorder, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware())
	var seen string
	router.GET("/ping", func(c *gin.Context) {
		seen = Value(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if incoming != "" {
		req.Header.Set("X-Request-ID", incoming)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec, seen
}

func TestMiddlewareReusesWellFormedID(t *testing.T) {
	rec, seen := perform(t, "client-supplied_01")
	require.Equal(t, "client-supplied_01", rec.Header().Get("X-Request-ID"))
	require.Equal(t, "client-supplied_01", seen)
}

func TestMiddlewareReplacesSuspectID(t *testing.T) {
	rec, seen := perform(t, "bad id\nwith newline")
	generated := rec.Header().Get("X-Request-ID")
	require.NotEmpty(t, generated)
	require.NotEqual(t, "bad id\nwith newline", generated)
	require.Equal(t, generated, seen)
}

func TestMiddlewareGeneratesWhenMissing(t *testing.T) {
	rec, seen := perform(t, "")
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.Equal(t, rec.Header().Get("X-Request-ID"), seen)
}
