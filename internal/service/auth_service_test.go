package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/campusiq-api/internal/models"
	appErrors "github.com/noah-isme/campusiq-api/pkg/errors"
)

func newAuthServiceForTest() *AuthService {
	svc := NewAuthService(zap.NewNop(), AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour, Issuer: "campusiq"})
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestAuthServiceIssueAndValidate(t *testing.T) {
	svc := newAuthServiceForTest()
	actor := models.Actor{UserID: "hod-1", Role: models.RoleHOD, Department: models.DepartmentCSE, Email: "gita@campus.test"}

	token, expiresAt, err := svc.IssueToken(actor)
	require.NoError(t, err)
	assert.Equal(t, testNow.Add(time.Hour), expiresAt)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "hod-1", claims.UserID)
	assert.Equal(t, models.RoleHOD, claims.Role)
	assert.Equal(t, models.DepartmentCSE, claims.Department)
}

func TestAuthServiceRejectsExpiredToken(t *testing.T) {
	svc := newAuthServiceForTest()
	token, _, err := svc.IssueToken(models.Actor{UserID: "stu-1", Role: models.RoleStudent})
	require.NoError(t, err)

	svc.now = func() time.Time { return testNow.Add(2 * time.Hour) }
	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))
}

func TestAuthServiceRejectsForeignSecretAndIssuer(t *testing.T) {
	svc := newAuthServiceForTest()

	other := NewAuthService(nil, AuthConfig{AccessTokenSecret: "other", AccessTokenExpiry: time.Hour, Issuer: "campusiq"})
	other.now = svc.now
	token, _, err := other.IssueToken(models.Actor{UserID: "stu-1"})
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err)

	foreign := NewAuthService(nil, AuthConfig{AccessTokenSecret: "secret", AccessTokenExpiry: time.Hour, Issuer: "elsewhere"})
	foreign.now = svc.now
	token, _, err = foreign.IssueToken(models.Actor{UserID: "stu-1"})
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.Error(t, err)
}

func TestAuthServiceFallsBackToSubject(t *testing.T) {
	svc := newAuthServiceForTest()
	claims := jwt.RegisteredClaims{
		Subject:   "staff-1",
		Issuer:    "campusiq",
		ExpiresAt: jwt.NewNumericDate(testNow.Add(time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	parsed, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "staff-1", parsed.UserID)
}

func TestAuthServiceRejectsGarbage(t *testing.T) {
	_, err := newAuthServiceForTest().ValidateToken("not-a-token")
	assert.True(t, appErrors.HasCode(err, appErrors.ErrUnauthorized.Code))
}
