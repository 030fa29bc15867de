package response

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuccessEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Set("request_id", "req-1")

	Success(c, http.StatusCreated, gin.H{"id": "u1"}, "created", map[string]any{"email_queued": true})

	assert.Equal(t, http.StatusCreated, w.Code)
	var env map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, true, env["success"])
	assert.Equal(t, "created", env["message"])
	assert.Equal(t, "req-1", env["request_id"])
	assert.NotContains(t, env, "error")
}

func TestErrorEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error[any](c, http.StatusConflict, "user already exists with this email", map[string]string{"email": "taken"})

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.True(t, c.IsAborted())
	var env map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, false, env["success"])
	assert.NotContains(t, env, "data")
}
