package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the access-token payload issued by the identity service.
type JWTClaims struct {
	UserID     string     `json:"user_id"`
	Role       Role       `json:"role"`
	Department Department `json:"department"`
	Email      string     `json:"email,omitempty"`
	FullName   string     `json:"full_name,omitempty"`
	jwt.RegisteredClaims
}
