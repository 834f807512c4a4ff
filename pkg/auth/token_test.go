package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mehtakaran/shopline-backend/pkg/config"
	"github.com/mehtakaran/shopline-backend/pkg/enums"
)

func TestMintAndParseAccessToken(t *testing.T) {
	cfg := config.JWTConfig{
		Secret:            "secret",
		Issuer:            "shopline",
		ExpirationMinutes: 30,
	}
	now := time.Now().UTC()
	customerID := uuid.New()

	token, err := MintAccessToken(cfg, now, AccessTokenPayload{
		CustomerID: customerID,
		Role:       enums.ActorRoleCustomer,
	})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("parse access token: %v", err)
	}

	if claims.CustomerID != customerID {
		t.Fatalf("expected customer_id %s, got %s", customerID, claims.CustomerID)
	}
	if claims.Role != enums.ActorRoleCustomer {
		t.Fatalf("unexpected role %s", claims.Role)
	}
	if claims.Issuer != cfg.Issuer {
		t.Fatalf("expected issuer %s, got %s", cfg.Issuer, claims.Issuer)
	}

	exp := now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)
	diff := claims.ExpiresAt.Sub(exp)
	if diff < 0 {
		diff = -diff
	}
	if diff >= time.Second {
		t.Fatalf("expected exp roughly %v, got %v (diff %v)", exp.UTC(), claims.ExpiresAt.UTC(), diff)
	}
}

func TestParseAccessTokenInvalidSignature(t *testing.T) {
	cfg := config.JWTConfig{
		Secret:            "secret",
		Issuer:            "shopline",
		ExpirationMinutes: 10,
	}

	token, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{
		CustomerID: uuid.New(),
		Role:       enums.ActorRoleAdmin,
	})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	if _, err = ParseAccessToken(cfg, token+"x"); err == nil {
		t.Fatal("expected invalid signature error")
	}
}

func TestParseAccessTokenExpired(t *testing.T) {
	cfg := config.JWTConfig{
		Secret:            "secret",
		Issuer:            "shopline",
		ExpirationMinutes: 10,
	}

	token, err := MintAccessToken(cfg, time.Now().Add(-time.Hour), AccessTokenPayload{
		CustomerID: uuid.New(),
		Role:       enums.ActorRoleCustomer,
	})
	if err != nil {
		t.Fatalf("mint access token: %v", err)
	}

	if _, err = ParseAccessToken(cfg, token); err == nil {
		t.Fatal("expected expired token error")
	}
}

func TestMintAccessTokenRejectsInvalidRole(t *testing.T) {
	cfg := config.JWTConfig{
		Secret:            "secret",
		Issuer:            "shopline",
		ExpirationMinutes: 10,
	}

	_, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{
		CustomerID: uuid.New(),
		Role:       enums.ActorRole("warehouse"),
	})
	if err == nil {
		t.Fatal("expected invalid role error")
	}
}
