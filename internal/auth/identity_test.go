package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "handshake-secret"

func signedToken(t *testing.T, secret, subject, audience string) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func identityRouter(secret, audience string) (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ClaimedIdentity(secret, audience))
	var seen string
	router.GET("/whoami", func(c *gin.Context) {
		if id, ok := ActorID(c.Request.Context()); ok {
			seen = id
		}
		c.Status(http.StatusOK)
	})
	return router, &seen
}

func TestClaimedIdentitySetsActorFromSubject(t *testing.T) {
	router, seen := identityRouter(testSecret, "")
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, testSecret, "subject-1", ""))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if *seen != "subject-1" {
		t.Fatalf("expected actor subject-1, got %q", *seen)
	}
}

func TestClaimedIdentityPassesThroughWithoutHeader(t *testing.T) {
	router, seen := identityRouter(testSecret, "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("anonymous request must pass through, got %d", rec.Code)
	}
	if *seen != "" {
		t.Fatalf("no actor should be set, got %q", *seen)
	}
}

func TestClaimedIdentityRejectsBadSignature(t *testing.T) {
	router, _ := identityRouter(testSecret, "")
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "wrong-secret", "subject-1", ""))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestClaimedIdentityRejectsMalformedHeader(t *testing.T) {
	router, _ := identityRouter(testSecret, "")
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Token abc")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestClaimedIdentityChecksAudience(t *testing.T) {
	router, _ := identityRouter(testSecret, "tailorfit")
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, testSecret, "subject-1", "someone-else"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestClaimedIdentityUnverifiedModeStillReadsSubject(t *testing.T) {
	router, seen := identityRouter("", "")
	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "any-key", "subject-9", ""))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if *seen != "subject-9" {
		t.Fatalf("expected actor subject-9, got %q", *seen)
	}
}
