package service

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"curaj-bot/internal/domain"
)

func TestJWTService_IssueParse(t *testing.T) {
	svc := NewJWTService("secret")
	session := domain.Session{ID: "s1", ExpiresAt: time.Now().UTC().Add(time.Hour)}

	token, err := svc.IssueSessionToken(session)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := svc.ParseSessionToken(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.SessionID != "s1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestJWTService_Expired(t *testing.T) {
	svc := NewJWTService("secret")
	token, err := svc.IssueSessionToken(domain.Session{ID: "s1", ExpiresAt: time.Now().UTC().Add(-time.Minute)})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := svc.ParseSessionToken(token); !errors.Is(err, ErrJWTExpired) {
		t.Fatalf("expected ErrJWTExpired, got %v", err)
	}
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService("secret")
	other := NewJWTService("other")
	session := domain.Session{ID: "s1", ExpiresAt: time.Now().UTC().Add(time.Hour)}

	foreign, _ := other.IssueSessionToken(session)
	if _, err := svc.ParseSessionToken(foreign); !errors.Is(err, ErrJWTInvalid) {
		t.Fatalf("expected ErrJWTInvalid for foreign signature, got %v", err)
	}

	wrongType := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		SessionID: "s1",
		TokenType: "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "curaj-bot",
			Subject:   "s1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, _ := wrongType.SignedString([]byte("secret"))
	if _, err := svc.ParseSessionToken(signed); !errors.Is(err, ErrJWTInvalid) {
		t.Fatalf("expected ErrJWTInvalid for wrong type, got %v", err)
	}

	if _, err := svc.ParseSessionToken("  "); !errors.Is(err, ErrJWTInvalid) {
		t.Fatalf("expected ErrJWTInvalid for empty token")
	}
}

func TestJWTService_Disabled(t *testing.T) {
	svc := NewJWTService("")
	if svc.Enabled() {
		t.Fatalf("expected disabled service without secret")
	}
	if _, err := svc.IssueSessionToken(domain.Session{ID: "s1"}); !errors.Is(err, ErrJWTInvalid) {
		t.Fatalf("expected ErrJWTInvalid, got %v", err)
	}
	var nilSvc *JWTService
	if nilSvc.Enabled() {
		t.Fatalf("nil service must be disabled")
	}
}
