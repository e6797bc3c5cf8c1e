package tests

import (
	"net/http"
	"testing"

	"authd/tests/suite"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func registerUser(st *suite.Suite) (email, password string, resp authResponse) {
	st.Helper()

	email = gofakeit.Email()
	password = randomPassword()
	status := st.Do(http.MethodPost, "/auth/register", "", map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	require.Equal(st.T, http.StatusCreated, status)
	return email, password, resp
}

func TestRefreshRotation(t *testing.T) {
	_, st := suite.New(t)

	_, _, reg := registerUser(st)
	first := reg.Token

	var second tokenResponse
	status := st.Do(http.MethodPost, "/auth/refresh", "", map[string]string{
		"refresh_token": first.RefreshToken,
	}, &second)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, second.RefreshToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)

	// The new access token works.
	status = st.Do(http.MethodGet, "/users/me", second.AccessToken, nil, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestRefreshReuseRevokesFamily(t *testing.T) {
	_, st := suite.New(t)

	_, _, reg := registerUser(st)
	first := reg.Token

	var second tokenResponse
	status := st.Do(http.MethodPost, "/auth/refresh", "", map[string]string{
		"refresh_token": first.RefreshToken,
	}, &second)
	require.Equal(t, http.StatusOK, status)

	// Presenting the rotated token again is reuse.
	var errResp errorResponse
	status = st.Do(http.MethodPost, "/auth/refresh", "", map[string]string{
		"refresh_token": first.RefreshToken,
	}, &errResp)
	require.Equal(t, http.StatusUnauthorized, status)
	assert.NotEmpty(t, errResp.Error)

	// The whole family goes down with it, including the fresh successor.
	status = st.Do(http.MethodPost, "/auth/refresh", "", map[string]string{
		"refresh_token": second.RefreshToken,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRefreshUnknownToken(t *testing.T) {
	_, st := suite.New(t)

	status := st.Do(http.MethodPost, "/auth/refresh", "", map[string]string{
		"refresh_token": "definitely-not-issued-by-us",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	_, st := suite.New(t)

	_, _, reg := registerUser(st)

	status := st.Do(http.MethodPost, "/auth/logout", "", map[string]string{
		"refresh_token": reg.Token.RefreshToken,
	}, nil)
	require.Equal(t, http.StatusOK, status)

	// The revoked token can no longer be rotated.
	status = st.Do(http.MethodPost, "/auth/refresh", "", map[string]string{
		"refresh_token": reg.Token.RefreshToken,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// Logout is idempotent.
	status = st.Do(http.MethodPost, "/auth/logout", "", map[string]string{
		"refresh_token": reg.Token.RefreshToken,
	}, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	_, st := suite.New(t)

	email, password, reg := registerUser(st)

	// Second session from a login.
	var login authResponse
	status := st.Do(http.MethodPost, "/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, &login)
	require.Equal(t, http.StatusOK, status)

	var out struct {
		TokensRevoked int64 `json:"tokens_revoked"`
	}
	status = st.Do(http.MethodPost, "/auth/logout-all", login.Token.AccessToken, nil, &out)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(2), out.TokensRevoked)

	for _, refresh := range []string{reg.Token.RefreshToken, login.Token.RefreshToken} {
		status = st.Do(http.MethodPost, "/auth/refresh", "", map[string]string{
			"refresh_token": refresh,
		}, nil)
		assert.Equal(t, http.StatusUnauthorized, status)
	}
}
