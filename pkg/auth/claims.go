package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mehtakaran/shopline-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	CustomerID uuid.UUID
	Role       enums.ActorRole
	JTI        string
}

// AccessTokenClaims represents the typed JWT issued to clients.
type AccessTokenClaims struct {
	CustomerID uuid.UUID       `json:"customer_id"`
	Role       enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}
