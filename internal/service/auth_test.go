package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/linemk/ibr-resto/internal/domain/models"
	"github.com/linemk/ibr-resto/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestRegister_Success(t *testing.T) {
	users := &fakeUserStorage{users: make(map[string]*models.User)}
	svc := service.NewAuthService(discardLogger(), users, time.Hour)

	user, err := svc.Register(context.Background(), "budi@example.com", "Budi", "secret-password")
	require.NoError(t, err)
	assert.Equal(t, "budi@example.com", user.Email)
	assert.Equal(t, "Budi", user.Name)
	// Самостоятельная регистрация никогда не дает прав сотрудника.
	assert.False(t, user.IsAdmin)
	assert.NoError(t, bcrypt.CompareHashAndPassword(user.PassHash, []byte("secret-password")))
}

func TestRegister_EmailTaken(t *testing.T) {
	users := &fakeUserStorage{users: map[string]*models.User{
		"budi@example.com": {ID: 1, Email: "budi@example.com"},
	}}
	svc := service.NewAuthService(discardLogger(), users, time.Hour)

	user, err := svc.Register(context.Background(), "budi@example.com", "Budi", "secret-password")
	assert.True(t, errors.Is(err, service.ErrEmailTaken))
	assert.Nil(t, user)
}

func TestLogin_Success(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	passHash, err := bcrypt.GenerateFromPassword([]byte("secret-password"), bcrypt.DefaultCost)
	require.NoError(t, err)

	users := &fakeUserStorage{users: map[string]*models.User{
		"budi@example.com": {ID: 1, Email: "budi@example.com", Name: "Budi", PassHash: passHash, IsAdmin: true},
	}}
	svc := service.NewAuthService(discardLogger(), users, time.Hour)

	tokenString, err := svc.Login(context.Background(), "budi@example.com", "secret-password")
	require.NoError(t, err)
	require.NotEmpty(t, tokenString)

	// Токен должен нести идентичность и роль пользователя.
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte("test-secret"), nil
	})
	require.NoError(t, err)
	claims, ok := token.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "1", claims["sub"])
	assert.Equal(t, "budi@example.com", claims["email"])
	assert.Equal(t, true, claims["is_admin"])
}

func TestLogin_WrongPassword(t *testing.T) {
	passHash, err := bcrypt.GenerateFromPassword([]byte("secret-password"), bcrypt.DefaultCost)
	require.NoError(t, err)

	users := &fakeUserStorage{users: map[string]*models.User{
		"budi@example.com": {ID: 1, Email: "budi@example.com", PassHash: passHash},
	}}
	svc := service.NewAuthService(discardLogger(), users, time.Hour)

	tokenString, err := svc.Login(context.Background(), "budi@example.com", "wrong-password")
	assert.True(t, errors.Is(err, service.ErrInvalidCredentials))
	assert.Empty(t, tokenString)
}

func TestLogin_UnknownUser(t *testing.T) {
	users := &fakeUserStorage{users: make(map[string]*models.User)}
	svc := service.NewAuthService(discardLogger(), users, time.Hour)

	tokenString, err := svc.Login(context.Background(), "nobody@example.com", "secret-password")
	assert.True(t, errors.Is(err, service.ErrInvalidCredentials))
	assert.Empty(t, tokenString)
}
