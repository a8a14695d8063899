package middleware

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-integrity/internal/response"
	"github.com/stemsi/exstem-integrity/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeValidator maps raw tokens to claims.
type fakeValidator map[string]*service.Claims

func (f fakeValidator) ValidateToken(token string) (*service.Claims, error) {
	if c, ok := f[token]; ok {
		return c, nil
	}
	return nil, errors.New("invalid token")
}

var tokens = fakeValidator{
	"student":    {TokenType: service.TokenTypeStudent, UserID: 7},
	"instructor": {TokenType: service.TokenTypeInstructor, UserID: 1, Permissions: []string{service.PermissionAssignmentsMonitor}},
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) response.ErrCode {
	t.Helper()
	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	if body.Error == nil {
		return ""
	}
	return body.Error.Code
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func okHandler(c *gin.Context) {
	claims := GetClaims(c)
	c.JSON(http.StatusOK, gin.H{"user_id": claims.UserID})
}
