package validation

import (
	"bytes"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type samplePayload struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,pwd"`
	Plan     string `json:"plan" binding:"omitempty,oneof=Basic Pro"`
}

func bindErr(t *testing.T, body string) error {
	t.Helper()
	gin.SetMode(gin.TestMode)
	Init()

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("POST", "/", bytes.NewBufferString(body))
	c.Request.Header.Set("Content-Type", "application/json")

	var p samplePayload
	return c.ShouldBindJSON(&p)
}

func TestToDetails_FieldErrors(t *testing.T) {
	err := bindErr(t, `{"name":"","email":"nope","password":"short","plan":"Gold"}`)
	require.Error(t, err)

	details := ToDetails(err)
	assert.Equal(t, "is required", details["name"])
	assert.Equal(t, "must be a valid email", details["email"])
	assert.Contains(t, details["password"], "at least 8")
	assert.Contains(t, details["plan"], "Basic")
}

func TestToDetails_UsesJSONFieldNames(t *testing.T) {
	err := bindErr(t, `{}`)
	require.Error(t, err)

	details := ToDetails(err)
	for field := range details {
		assert.Equal(t, field, string(bytes.ToLower([]byte(field))), "field names must come from json tags")
	}
	assert.Contains(t, details, "password")
}

func TestToDetails_MalformedJSON(t *testing.T) {
	for _, body := range []string{`{"name":`, `{"name"`, ``, `not json`} {
		err := bindErr(t, body)
		require.Error(t, err, "body: %q", body)
		assert.Equal(t, map[string]string{"payload": "invalid json"}, ToDetails(err), "body: %q", body)
	}
}

func TestToDetails_Nil(t *testing.T) {
	assert.Nil(t, ToDetails(nil))
}
