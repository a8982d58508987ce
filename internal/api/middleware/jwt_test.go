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

func signed(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func newAuthRouter(cfg JWTConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTAuth(cfg), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"id":    c.GetString(CtxUserID),
			"email": c.GetString(CtxUserEmail),
		})
	})
	return r
}

func TestJWTAuth(t *testing.T) {
	cfg := JWTConfig{Secret: "s3cret", Issuer: "fibre-auth", Audience: "fibre-app"}
	exp := time.Now().Add(time.Hour).Unix()

	good := jwt.MapClaims{"sub": "eng-1", "email": "e@example.com", "iss": "fibre-auth", "aud": "fibre-app", "exp": exp}
	expired := jwt.MapClaims{"sub": "eng-1", "iss": "fibre-auth", "aud": "fibre-app", "exp": time.Now().Add(-time.Hour).Unix()}
	wrongIssuer := jwt.MapClaims{"sub": "eng-1", "iss": "someone-else", "aud": "fibre-app", "exp": exp}
	noSubject := jwt.MapClaims{"iss": "fibre-auth", "aud": "fibre-app", "exp": exp}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "valid", header: "Bearer " + signed(t, "s3cret", good), want: http.StatusOK},
		{name: "missing", header: "", want: http.StatusUnauthorized},
		{name: "not bearer", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + signed(t, "other", good), want: http.StatusUnauthorized},
		{name: "expired", header: "Bearer " + signed(t, "s3cret", expired), want: http.StatusUnauthorized},
		{name: "wrong issuer", header: "Bearer " + signed(t, "s3cret", wrongIssuer), want: http.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + signed(t, "s3cret", noSubject), want: http.StatusUnauthorized},
	}

	r := newAuthRouter(cfg)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			if tc.want == http.StatusOK {
				assert.JSONEq(t, `{"id":"eng-1","email":"e@example.com"}`, rec.Body.String())
			}
		})
	}
}

func TestJWTAuthQueryTokenOnlyForUpgrade(t *testing.T) {
	r := newAuthRouter(JWTConfig{Secret: "s3cret"})
	tok := signed(t, "s3cret", jwt.MapClaims{"sub": "eng-1", "exp": time.Now().Add(time.Hour).Unix()})

	req := httptest.NewRequest(http.MethodGet, "/me?access_token="+tok, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/me?access_token="+tok, nil)
	req.Header.Set("Upgrade", "websocket")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestJWTAuthWithoutSecret(t *testing.T) {
	r := newAuthRouter(JWTConfig{})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
