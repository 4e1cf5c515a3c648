package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"paleteria/backend/internal/domain"
	"paleteria/backend/internal/store"
)

var errInvalidCredentials = errors.New("invalid credentials")

type AuthManager struct {
	mu        sync.RWMutex
	secret    []byte
	tokenTTL  time.Duration
	userStore UserStore
	users     map[string]credential
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type credential struct {
	password string
	role     string
	active   bool
	created  time.Time
}

type posCustomClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(ctx context.Context, secret string, tokenTTL time.Duration, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}

	manager := &AuthManager{
		secret:    []byte(secret),
		tokenTTL:  tokenTTL,
		userStore: userStore,
		users:     make(map[string]credential),
	}
	manager.bootstrapUsers(ctx)
	return manager
}

// Login refreshes the credential cache from the user store so accounts
// created by another process can sign in.
func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return domain.LoginResponse{}, errInvalidCredentials
	}

	if !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !cred.active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, cred.role, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &posCustomClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Username: sub, Role: claims.Role}, nil
}

func (a *AuthManager) sign(username, role string, expiresAt time.Time) (string, error) {
	claims := posCustomClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "paleteria-pos",
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// CreateUser registers a new account. Admins may only create cashiers;
// supersu may create any role.
func (a *AuthManager) CreateUser(ctx context.Context, creator domain.Actor, req domain.UserCreateRequest) (domain.UserAccount, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.UserAccount{}, fmt.Errorf("%w: username must be at least 4 characters", store.ErrInvalidInput)
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserAccount{}, fmt.Errorf("%w: username must not contain spaces", store.ErrInvalidInput)
	}
	if len(req.Password) < 6 {
		return domain.UserAccount{}, fmt.Errorf("%w: password must be at least 6 characters", store.ErrInvalidInput)
	}

	role := strings.TrimSpace(req.Role)
	if role == "" {
		role = domain.RoleCashier
	}
	switch {
	case creator.Role == domain.RoleSuperSU:
	case creator.Role == domain.RoleAdmin && role == domain.RoleCashier:
	default:
		return domain.UserAccount{}, fmt.Errorf("%w: %s cannot create %s accounts", store.ErrForbidden, creator.Role, role)
	}

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return domain.UserAccount{}, fmt.Errorf("%w: username %s", store.ErrConflict, username)
	}

	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserAccount{}, fmt.Errorf("hash password: %w", err)
	}

	account := domain.UserAccount{
		Username:  username,
		Password:  passwordHash,
		Role:      role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if a.userStore != nil {
		if err := a.userStore.CreateUser(ctx, account); err != nil {
			return domain.UserAccount{}, err
		}
	}

	a.mu.Lock()
	a.users[username] = credential{
		password: passwordHash,
		role:     role,
		active:   true,
		created:  account.CreatedAt,
	}
	a.mu.Unlock()

	account.Password = ""
	return account, nil
}

func (a *AuthManager) ListUsers(ctx context.Context) []domain.UserAccount {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.UserAccount, 0, len(a.users))
	for username, user := range a.users {
		result = append(result, domain.UserAccount{
			Username:  username,
			Role:      user.role,
			Active:    user.active,
			CreatedAt: user.created,
		})
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// bootstrapUsers loads accounts from the user store into the credential
// cache and rewrites any plain-text password in the store as a bcrypt hash.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil || len(users) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		password := user.Password
		if !isPasswordHash(password) {
			hashed, err := hashPassword(password)
			if err == nil {
				password = hashed
				_ = a.userStore.UpdateUserPassword(ctx, username, hashed)
			}
		}
		a.users[username] = credential{
			password: password,
			role:     user.Role,
			active:   user.Active,
			created:  user.CreatedAt,
		}
	}
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
