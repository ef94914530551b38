package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
)

func TestManagerRoundTrip(t *testing.T) {
	m, err := NewManager("secret")
	if err != nil {
		t.Fatal(err)
	}
	token, err := m.NewAdminJWT("ops", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	subject, err := m.Parse(token)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if subject != "ops" {
		t.Errorf("subject = %q, want ops", subject)
	}
}

func TestManagerRejects(t *testing.T) {
	m, _ := NewManager("secret")
	other, _ := NewManager("other")

	expired, _ := m.NewAdminJWT("ops", -time.Minute)
	if _, err := m.Parse(expired); err == nil {
		t.Error("expired token accepted")
	}

	foreign, _ := other.NewAdminJWT("ops", time.Hour)
	if _, err := m.Parse(foreign); err == nil {
		t.Error("token signed with another key accepted")
	}

	userToken, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ops", "role": "user"}).SignedString([]byte("secret"))
	if _, err := m.Parse(userToken); !errors.Is(err, ErrNotAdmin) {
		t.Errorf("non-admin token: error = %v, want ErrNotAdmin", err)
	}
}

func TestNewManagerEmptyKey(t *testing.T) {
	if _, err := NewManager(""); err == nil {
		t.Fatal("expected an error")
	}
}
