package auth

import (
	"errors"
	"testing"
)

func TestHashPasswordAndCheckPasswordBcrypt(t *testing.T) {
	hash, err := HashPassword("s3cretpass")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if hash == "" {
		t.Fatalf("expected non-empty hash")
	}
	if !CheckPassword("s3cretpass", hash) {
		t.Fatalf("expected bcrypt password check to pass")
	}
	if CheckPassword("wrong", hash) {
		t.Fatalf("expected bcrypt password check to fail")
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("sturdy-pass-1"); err != nil {
		t.Fatalf("expected valid password, got: %v", err)
	}
	if err := ValidatePassword("sh0rt"); !errors.Is(err, ErrPasswordTooShort) {
		t.Fatalf("expected too-short error, got: %v", err)
	}
	if err := ValidatePassword("nodigitshere"); !errors.Is(err, ErrPasswordNoDigit) {
		t.Fatalf("expected no-digit error, got: %v", err)
	}
	if err := ValidatePassword("12345678"); !errors.Is(err, ErrPasswordNoLetter) {
		t.Fatalf("expected no-letter error, got: %v", err)
	}
}
