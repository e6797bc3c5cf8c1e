package tests

import (
	"net/http"
	"testing"

	"authd/tests/suite"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type userListResponse struct {
	Users []userResponse `json:"users"`
	Meta  struct {
		Page    int   `json:"page"`
		PerPage int   `json:"per_page"`
		Total   int64 `json:"total"`
	} `json:"meta"`
}

func promoteToAdmin(st *suite.Suite, publicID string) {
	st.Helper()

	_, err := st.Storage.DB().Exec(`UPDATE users SET role = 'admin' WHERE public_id = ?`, publicID)
	require.NoError(st.T, err)
}

func TestUpdateProfile(t *testing.T) {
	_, st := suite.New(t)

	_, _, reg := registerUser(st)
	token := reg.Token.AccessToken

	newFirst := gofakeit.FirstName()
	var updated userResponse
	status := st.Do(http.MethodPatch, "/users/me", token, map[string]string{
		"first_name": newFirst,
	}, &updated)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, newFirst, updated.FirstName)
	// Omitted fields keep their value.
	assert.Equal(t, reg.User.LastName, updated.LastName)
}

func TestChangePasswordRevokesSessions(t *testing.T) {
	_, st := suite.New(t)

	email, oldPassword, reg := registerUser(st)
	newPassword := randomPassword()

	status := st.Do(http.MethodPost, "/users/me/password", reg.Token.AccessToken, map[string]string{
		"old_password": "wrong-old-password",
		"new_password": newPassword,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status = st.Do(http.MethodPost, "/users/me/password", reg.Token.AccessToken, map[string]string{
		"old_password": oldPassword,
		"new_password": newPassword,
	}, nil)
	require.Equal(t, http.StatusOK, status)

	// Refresh tokens issued before the change are dead.
	status = st.Do(http.MethodPost, "/auth/refresh", "", map[string]string{
		"refresh_token": reg.Token.RefreshToken,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = st.Do(http.MethodPost, "/auth/login", "", map[string]string{
		"email":    email,
		"password": oldPassword,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = st.Do(http.MethodPost, "/auth/login", "", map[string]string{
		"email":    email,
		"password": newPassword,
	}, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestListUsersRequiresAdmin(t *testing.T) {
	_, st := suite.New(t)

	_, _, member := registerUser(st)
	_, _, admin := registerUser(st)
	promoteToAdmin(st, admin.User.ID)

	status := st.Do(http.MethodGet, "/users", member.Token.AccessToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)

	var list userListResponse
	status = st.Do(http.MethodGet, "/users", admin.Token.AccessToken, nil, &list)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, int64(2), list.Meta.Total)
	assert.Len(t, list.Users, 2)
}

func TestDeleteOwnAccount(t *testing.T) {
	_, st := suite.New(t)

	email, password, reg := registerUser(st)

	var msg map[string]string
	status := st.Do(http.MethodDelete, "/users/me", reg.Token.AccessToken, nil, &msg)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "account deleted", msg["message"])

	// The account is gone for all practical purposes: no login, no refresh.
	status = st.Do(http.MethodPost, "/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status = st.Do(http.MethodPost, "/auth/refresh", "", map[string]string{
		"refresh_token": reg.Token.RefreshToken,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestPublicProfile(t *testing.T) {
	_, st := suite.New(t)

	_, _, viewer := registerUser(st)
	_, _, target := registerUser(st)

	var profile struct {
		ID        string `json:"id"`
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
	}
	status := st.Do(http.MethodGet, "/users/"+target.User.ID, viewer.Token.AccessToken, nil, &profile)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, target.User.ID, profile.ID)
	assert.Equal(t, target.User.FirstName, profile.FirstName)
	assert.Equal(t, target.User.LastName, profile.LastName)
	// Email never leaks to other users.
	assert.Empty(t, profile.Email)

	status = st.Do(http.MethodGet, "/users/"+gofakeit.UUID(), viewer.Token.AccessToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)

	// Deactivated accounts look like they never existed.
	status = st.Do(http.MethodDelete, "/users/me", target.Token.AccessToken, nil, nil)
	require.Equal(t, http.StatusOK, status)
	status = st.Do(http.MethodGet, "/users/"+target.User.ID, viewer.Token.AccessToken, nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDeactivateUser(t *testing.T) {
	_, st := suite.New(t)

	email, password, member := registerUser(st)
	_, _, admin := registerUser(st)
	promoteToAdmin(st, admin.User.ID)

	status := st.Do(http.MethodDelete, "/users/"+member.User.ID, member.Token.AccessToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status = st.Do(http.MethodDelete, "/users/"+member.User.ID, admin.Token.AccessToken, nil, nil)
	require.Equal(t, http.StatusOK, status)

	// A deactivated account can no longer log in or refresh.
	status = st.Do(http.MethodPost, "/auth/login", "", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status = st.Do(http.MethodPost, "/auth/refresh", "", map[string]string{
		"refresh_token": member.Token.RefreshToken,
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}
