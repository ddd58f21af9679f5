package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(sessions.Sessions("test", cookie.NewStore([]byte("secret"))))
	r.Use(ClientTokenMiddleware())
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(clientTokenKey))
	})
	return r
}

func TestClientTokenMiddleware(t *testing.T) {
	r := tokenRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	require.Equal(t, http.StatusOK, w.Code)
	token := w.Body.String()
	require.NotEmpty(t, token)

	var ct *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == clientTokenCookie {
			ct = c
		}
	}
	require.NotNil(t, ct)
	assert.Equal(t, token, ct.Value)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: clientTokenCookie, Value: "known"})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "known", w.Body.String())
}

func TestClientTokenFromSession(t *testing.T) {
	r := tokenRouter()

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: clientTokenCookie, Value: "kept"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var session *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == "test" {
			session = c
		}
	}
	require.NotNil(t, session)

	req = httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(session)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "kept", w.Body.String())
}
