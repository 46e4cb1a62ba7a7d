package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"storeledger/backend/internal/domain"
	"storeledger/backend/internal/service"
	"storeledger/backend/internal/store"
	"storeledger/backend/internal/xid"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// OwnerStore is the slice of the repository owner accounts live in.
type OwnerStore interface {
	CreateOwner(ctx context.Context, account domain.OwnerAccount) (*domain.Owner, error)
	FindOwnerByLogin(ctx context.Context, emailOrPhone string) (*domain.OwnerAccount, error)
}

type AuthManager struct {
	secret   []byte
	tokenTTL time.Duration
	owners   OwnerStore
}

type ownerClaims struct {
	jwtlib.RegisteredClaims
	Email string `json:"email"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, owners OwnerStore) *AuthManager {
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	return &AuthManager{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		owners:   owners,
	}
}

// Register creates a store owner account and signs them in.
func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest) (domain.LoginResponse, error) {
	req.StoreName = strings.TrimSpace(req.StoreName)
	req.Proprietor = strings.TrimSpace(req.Proprietor)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Phone = strings.TrimSpace(req.Phone)
	req.Address = strings.TrimSpace(req.Address)
	if err := service.Validate(req); err != nil {
		return domain.LoginResponse{}, err
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	owner, err := a.owners.CreateOwner(ctx, domain.OwnerAccount{
		Owner: domain.Owner{
			ID:         xid.New("own"),
			StoreName:  req.StoreName,
			Proprietor: req.Proprietor,
			Email:      req.Email,
			Phone:      req.Phone,
			Address:    req.Address,
			CreatedAt:  time.Now().UTC(),
		},
		PasswordHash: passwordHash,
	})
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return a.issue(owner.ID, owner.Email)
}

// Login accepts either the owner's email or phone number.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	if err := service.Validate(req); err != nil {
		return domain.LoginResponse{}, err
	}

	account, err := a.owners.FindOwnerByLogin(ctx, strings.TrimSpace(req.EmailOrPhone))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LoginResponse{}, ErrInvalidCredentials
		}
		return domain.LoginResponse{}, err
	}
	if !verifyPassword(account.PasswordHash, req.Password) {
		return domain.LoginResponse{}, ErrInvalidCredentials
	}
	return a.issue(account.ID, account.Email)
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &ownerClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, ErrInvalidToken
	}
	return domain.Actor{OwnerID: sub, Email: claims.Email}, nil
}

func (a *AuthManager) issue(ownerID string, email string) (domain.LoginResponse, error) {
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(ownerID, email, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}
	return domain.LoginResponse{
		AccessToken: token,
		OwnerID:     ownerID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) sign(ownerID string, email string, expiresAt time.Time) (string, error) {
	claims := ownerClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   ownerID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "storeledger",
		},
		Email: email,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
