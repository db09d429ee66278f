package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

func adminRouter(secret string) *gin.Engine {
	r := gin.New()
	r.Use(RequestLogger())
	r.GET("/admin", AdminAuth(secret, "zeroxmods"), func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("admin_subject"))
	})
	return r
}

func get(r http.Handler, path, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminAuth(t *testing.T) {
	r := adminRouter("s3cret")
	exp := jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}

	good, err := IssueAdminToken("s3cret", "zeroxmods", "ops@zeroxmods", exp)
	require.NoError(t, err)
	w := get(r, "/admin", good)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ops@zeroxmods", w.Body.String())
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	assert.Equal(t, http.StatusUnauthorized, get(r, "/admin", "").Code)

	forged, err := IssueAdminToken("other", "zeroxmods", "x", exp)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/admin", forged).Code)

	wrongIssuer, err := IssueAdminToken("s3cret", "someone-else", "x", exp)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/admin", wrongIssuer).Code)

	expired, err := IssueAdminToken("s3cret", "zeroxmods", "x",
		jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))})
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, get(r, "/admin", expired).Code)

	buyer := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: "buyer", RegisteredClaims: jwt.RegisteredClaims{Issuer: "zeroxmods"}})
	buyerTok, err := buyer.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, get(r, "/admin", buyerTok).Code)
}

func TestAdminAuth_DisabledWithoutSecret(t *testing.T) {
	tok, err := IssueAdminToken("", "zeroxmods", "x", jwt.RegisteredClaims{})
	if err != nil {
		tok = "anything"
	}
	assert.Equal(t, http.StatusUnauthorized, get(adminRouter(""), "/admin", tok).Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	now := time.Unix(1_700_000_000, 0)
	rl.now = func() time.Time { return now }

	r := gin.New()
	r.Use(rl.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := []int{}
	for i := 0; i < 3; i++ {
		codes = append(codes, get(r, "/", "").Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, get(r, "/", "").Code)

	now = now.Add(time.Hour)
	assert.Equal(t, 1, rl.Sweep())
}
