package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func newRouter(cfg Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/whoami", Middleware(cfg), func(c *gin.Context) {
		id, _ := ClientID(c.Request.Context())
		c.String(http.StatusOK, id)
	})
	return router
}

func doRequest(router http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestMiddlewareDisabledWithoutSecret(t *testing.T) {
	if Middleware(Config{Secret: "  "}) != nil {
		t.Fatal("expected nil middleware when secret is blank")
	}
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	cfg := Config{Secret: "secret", Audience: "hijab-blur"}
	token := signToken(t, "secret", jwt.RegisteredClaims{
		Subject:   "client-1",
		Audience:  jwt.ClaimStrings{"hijab-blur"},
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})

	w := doRequest(newRouter(cfg), "Bearer "+token)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "client-1" {
		t.Fatalf("expected subject in context, got %q", w.Body.String())
	}
}

func TestMiddlewareRejects(t *testing.T) {
	cfg := Config{Secret: "secret", Audience: "hijab-blur"}
	valid := jwt.RegisteredClaims{Subject: "client-1", Audience: jwt.ClaimStrings{"hijab-blur"}}

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	otherAudience := valid
	otherAudience.Audience = jwt.ClaimStrings{"someone-else"}
	noSubject := valid
	noSubject.Subject = ""

	cases := []struct {
		name    string
		header  string
		message string
	}{
		{"missing header", "", "authorization header required"},
		{"wrong scheme", "Basic abc", "invalid authorization header"},
		{"empty token", "Bearer  ", "token missing"},
		{"wrong secret", "Bearer " + signToken(t, "other", valid), "invalid token"},
		{"expired", "Bearer " + signToken(t, "secret", expired), "invalid token"},
		{"audience", "Bearer " + signToken(t, "secret", otherAudience), "invalid audience"},
		{"subject", "Bearer " + signToken(t, "secret", noSubject), "missing subject"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(newRouter(cfg), tc.header)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", w.Code)
			}
			expected := `{"error":"` + tc.message + `"}`
			if w.Body.String() != expected {
				t.Fatalf("expected body %s, got %s", expected, w.Body.String())
			}
		})
	}
}
