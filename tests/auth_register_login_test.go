package tests

import (
	"net/http"
	"testing"
	"time"

	"authd/tests/suite"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const passDefaultLen = 12

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type userResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	IsActive  bool   `json:"is_active"`
}

type authResponse struct {
	User  userResponse  `json:"user"`
	Token tokenResponse `json:"token"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func TestAuthRegisterLogin(t *testing.T) {
	_, st := suite.New(t)

	email := gofakeit.Email()
	password := randomPassword()

	var regResp authResponse
	status := st.Do(http.MethodPost, "/auth/register", "", map[string]string{
		"email":      email,
		"password":   password,
		"first_name": gofakeit.FirstName(),
		"last_name":  gofakeit.LastName(),
	}, &regResp)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, regResp.User.ID)
	assert.Equal(t, "user", regResp.User.Role)
	assert.True(t, regResp.User.IsActive)

	var loginResp authResponse
	status = st.Do(http.MethodPost, "/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, &loginResp)
	require.Equal(t, http.StatusOK, status)

	loginTime := time.Now()

	require.NotEmpty(t, loginResp.Token.AccessToken)
	require.NotEmpty(t, loginResp.Token.RefreshToken)
	assert.Equal(t, "Bearer", loginResp.Token.TokenType)

	tokenParsed, err := jwt.Parse(loginResp.Token.AccessToken, func(token *jwt.Token) (interface{}, error) {
		return []byte(st.Cfg.Auth.Secret), nil
	})
	require.NoError(t, err)

	claims, ok := tokenParsed.Claims.(jwt.MapClaims)
	assert.True(t, ok)
	assert.Equal(t, "access", claims["typ"].(string))
	assert.NotEmpty(t, claims["uid"])
	assert.NotEmpty(t, claims["jti"])

	const deltaSeconds = 2
	assert.InDelta(t, loginTime.Add(st.Cfg.Auth.AccessTTL).Unix(), claims["exp"].(float64), deltaSeconds)

	var me userResponse
	status = st.Do(http.MethodGet, "/users/me", loginResp.Token.AccessToken, nil, &me)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, email, me.Email)
}

func TestRegisterDuplicateEmail(t *testing.T) {
	_, st := suite.New(t)

	email := gofakeit.Email()
	password := randomPassword()
	body := map[string]string{"email": email, "password": password}

	status := st.Do(http.MethodPost, "/auth/register", "", body, nil)
	require.Equal(t, http.StatusCreated, status)

	var errResp errorResponse
	status = st.Do(http.MethodPost, "/auth/register", "", body, &errResp)
	assert.Equal(t, http.StatusConflict, status)
	assert.NotEmpty(t, errResp.Error)
}

func TestLoginWrongPassword(t *testing.T) {
	_, st := suite.New(t)

	email := gofakeit.Email()
	status := st.Do(http.MethodPost, "/auth/register", "", map[string]string{
		"email":    email,
		"password": randomPassword(),
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	status = st.Do(http.MethodPost, "/auth/login", "", map[string]string{
		"email":    email,
		"password": randomPassword(),
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// Unknown account looks the same as a wrong password.
	status = st.Do(http.MethodPost, "/auth/login", "", map[string]string{
		"email":    gofakeit.Email(),
		"password": randomPassword(),
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRegisterValidation(t *testing.T) {
	_, st := suite.New(t)

	status := st.Do(http.MethodPost, "/auth/register", "", map[string]string{
		"email":    "not-an-email",
		"password": randomPassword(),
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = st.Do(http.MethodPost, "/auth/register", "", map[string]string{
		"email":    gofakeit.Email(),
		"password": "short",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestProtectedRouteRequiresToken(t *testing.T) {
	_, st := suite.New(t)

	status := st.Do(http.MethodGet, "/users/me", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = st.Do(http.MethodGet, "/users/me", "garbage-token", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func randomPassword() string {
	return gofakeit.Password(true, true, true, true, false, passDefaultLen)
}
