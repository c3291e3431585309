package auth

import (
	"testing"
	"time"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	token, err := Sign("secret", "uuid-1", "alice@example.com", time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	claims, err := Verify("secret", token)
	if err != nil {
		t.Fatal(err)
	}
	if claims.UserID != "uuid-1" || claims.Email != "alice@example.com" {
		t.Errorf("claims mangled: %+v", claims)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, _ := Sign("secret", "uuid-1", "", time.Hour)
	if _, err := Verify("other-secret", token); err == nil {
		t.Error("token verified with wrong secret")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	token, _ := Sign("secret", "uuid-1", "", -time.Minute)
	if _, err := Verify("secret", token); err == nil {
		t.Error("expired token verified")
	}
}

func TestVerifyRejectsEmptyIdentity(t *testing.T) {
	token, _ := Sign("secret", "", "", time.Hour)
	if _, err := Verify("secret", token); err == nil {
		t.Error("token without identity verified")
	}
}
