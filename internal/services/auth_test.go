package services

import (
	"testing"
)

func TestLoginRequest_Structure(t *testing.T) {
	req := LoginRequest{
		Username: "testuser",
		Password: "password123",
	}

	if req.Username != "testuser" {
		t.Errorf("Username = %q, expected %q", req.Username, "testuser")
	}
	if req.Password != "password123" {
		t.Errorf("Password = %q, expected %q", req.Password, "password123")
	}
}

func TestLoginResult_Structure(t *testing.T) {
	res := LoginResult{
		Token: "jwt.token.here",
		User:  nil,
	}

	if res.Token != "jwt.token.here" {
		t.Errorf("Token = %q, expected %q", res.Token, "jwt.token.here")
	}
	if res.User != nil {
		t.Error("User should be nil")
	}
}

func TestChangePasswordRequest_Structure(t *testing.T) {
	req := ChangePasswordRequest{
		OldPassword: "oldpass",
		NewPassword: "newpass123",
	}

	if req.OldPassword != "oldpass" {
		t.Errorf("OldPassword = %q, expected %q", req.OldPassword, "oldpass")
	}
	if req.NewPassword != "newpass123" {
		t.Errorf("NewPassword = %q, expected %q", req.NewPassword, "newpass123")
	}
}
