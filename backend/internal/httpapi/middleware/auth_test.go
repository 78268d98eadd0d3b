package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, secret string, typ string, ttl time.Duration) string {
	t.Helper()
	claims := &Claims{
		UserID:   42,
		Username: "ada",
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func newRouter(v Verifier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(v))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": c.GetUint64("userId"), "username": c.GetString("username")})
	})
	return r
}

func do(r http.Handler, path, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware_JWT(t *testing.T) {
	r := newRouter(NewJWTVerifier("s3cret"))

	if w := do(r, "/me", "Bearer "+sign(t, "s3cret", "access", time.Minute)); w.Code != http.StatusOK {
		t.Fatalf("valid header token: status %d body %s", w.Code, w.Body)
	}
	if w := do(r, "/me?token="+sign(t, "s3cret", "access", time.Minute), ""); w.Code != http.StatusOK {
		t.Fatalf("valid query token: status %d", w.Code)
	}
	if w := do(r, "/me", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status %d", w.Code)
	}
	if w := do(r, "/me", "Bearer "+sign(t, "other", "access", time.Minute)); w.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature: status %d", w.Code)
	}
	if w := do(r, "/me", "Bearer "+sign(t, "s3cret", "access", -time.Minute)); w.Code != http.StatusUnauthorized {
		t.Fatalf("expired token: status %d", w.Code)
	}
	if w := do(r, "/me", "Bearer "+sign(t, "s3cret", "refresh", time.Minute)); w.Code != http.StatusUnauthorized {
		t.Fatalf("refresh token: status %d", w.Code)
	}
}

func TestAuthMiddleware_Remote(t *testing.T) {
	auth := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/auth/verify" {
			http.NotFound(w, r)
			return
		}
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"userId":7,"username":"bob","type":"access"}`))
		case "Bearer broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"token expired"}`))
		}
	}))
	defer auth.Close()

	r := newRouter(NewRemoteVerifier(auth.URL + "/"))
	w := do(r, "/me", "bearer good")
	if w.Code != http.StatusOK || w.Body.String() != `{"userId":7,"username":"bob"}` {
		t.Fatalf("good token: status %d body %s", w.Code, w.Body)
	}
	if w := do(r, "/me", "Bearer nope"); w.Code != http.StatusUnauthorized {
		t.Fatalf("rejected token: status %d", w.Code)
	}
	if w := do(r, "/me", "Bearer broken"); w.Code != http.StatusBadGateway {
		t.Fatalf("upstream failure: status %d", w.Code)
	}
}
