package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cityguide/listings-ingest/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCreds = errors.New("invalid credentials")

const AdminRole = "admin"

// AdminAuth checks operator credentials for the trigger API: a shared secret
// (plain or bcrypt hashed) or an HS256 token carrying the admin role.
type AdminAuth struct {
	secret     string
	secretHash []byte
	jwtSecret  []byte
}

// NewAdminAuth builds the checker from config. Without JWT_SECRET an
// ephemeral signing key is generated, so tokens die with the process.
func NewAdminAuth(cfg config.AdminConfig) (*AdminAuth, error) {
	a := &AdminAuth{secret: cfg.Secret}
	if cfg.SecretHash != "" {
		if _, err := bcrypt.Cost([]byte(cfg.SecretHash)); err != nil {
			return nil, fmt.Errorf("ADMIN_SECRET_HASH is not a bcrypt hash: %w", err)
		}
		a.secretHash = []byte(cfg.SecretHash)
	}

	if cfg.JWTSecret != "" {
		a.jwtSecret = []byte(cfg.JWTSecret)
	} else {
		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("failed to generate JWT fallback secret: %w", err)
		}
		a.jwtSecret = []byte(base64.RawURLEncoding.EncodeToString(buf))
		log.Print("[Auth] JWT_SECRET is not set; using ephemeral in-memory fallback secret")
	}

	if a.secret == "" && a.secretHash == nil {
		log.Print("[Auth] no ADMIN_SECRET configured; only admin tokens are accepted")
	}
	return a, nil
}

// CheckSecret compares a presented shared secret. The hash wins when both are set.
func (a *AdminAuth) CheckSecret(presented string) error {
	if presented == "" {
		return ErrInvalidCreds
	}
	if a.secretHash != nil {
		if err := bcrypt.CompareHashAndPassword(a.secretHash, []byte(presented)); err != nil {
			return ErrInvalidCreds
		}
		return nil
	}
	if a.secret == "" || subtle.ConstantTimeCompare([]byte(a.secret), []byte(presented)) != 1 {
		return ErrInvalidCreds
	}
	return nil
}

// IssueToken signs an admin token for subject.
func (a *AdminAuth) IssueToken(subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = time.Hour
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": AdminRole,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.jwtSecret)
}

// ParseToken validates an admin token and returns its subject.
func (a *AdminAuth) ParseToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", ErrInvalidCreds
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidCreds
	}
	if role, _ := claims["role"].(string); role != AdminRole {
		return "", ErrInvalidCreds
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidCreds
	}
	return sub, nil
}

// HashSecret produces a value for ADMIN_SECRET_HASH.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing failed: %w", err)
	}
	return string(hash), nil
}
