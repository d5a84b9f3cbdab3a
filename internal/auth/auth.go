package auth

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"time"

	"parley/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTokenExpiry = 12 * time.Hour
	loginFailedMessage = "Login failed"
)

var (
	ErrUserExists = errors.New("user already exists")
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegistrationRequest finalizes a user created by an admin: the setup token
// proves the invite, the password becomes the credential.
type RegistrationRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Token       string `json:"token,omitempty"`
	TokenExpiry int64  `json:"tokenExpiry,omitempty"`
}

type UserCredentials struct {
	models.User
	PasswordHash string
	// Counter for consecutive failed login attempts to throttle brute force.
	// Kept in memory only; restarts reset the backoff.
	FailedLoginAttempts int64
	LastAttemptTime     int64
}

func (uc *UserCredentials) ResetFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts = 0
	uc.LastAttemptTime = now.Unix()
}

func (uc *UserCredentials) IncrementFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts++
	uc.LastAttemptTime = now.Unix()
}

// CredentialsStore is the durable side of the auth service.
type CredentialsStore interface {
	UpsertCredentials(UserCredentials) error
	ListAllCredentials() ([]UserCredentials, error)
	UpsertToken(userID, tokenHash string) error
	DeleteToken(tokenHash string) error
	ListTokens() (map[string]string, error)
	UpsertRegistrationToken(userID, token string) error
	DeleteRegistrationToken(userID string) error
	ListRegistrationTokens() (map[string]string, error)
}

type Config struct {
	Secret      string        `json:"secret"`
	secretBytes []byte        `json:"-"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}

	return nil
}

// AuthService holds user credentials and live sessions. Credentials live in
// a locked cache in front of the store; session tokens live in a TTL cache
// keyed by the raw token, with hashed copies persisted so sessions survive a
// restart.
type AuthService struct {
	Config
	store CredentialsStore

	users *geche.Locker[string, *UserCredentials] // keyed by username
	byID  geche.Geche[string, string]             // userID -> username

	liveTokens      geche.Geche[string, string] // raw token -> userID
	persistedTokens geche.Geche[string, string] // token hash -> userID
	regTokens       geche.Geche[string, string] // setup token -> userID

	now func() time.Time
}

func NewAuthService(ctx context.Context, config Config, store CredentialsStore) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	as := &AuthService{
		Config:          config,
		store:           store,
		users:           geche.NewLocker[string, *UserCredentials](geche.NewMapCache[string, *UserCredentials]()),
		byID:            geche.NewMapCache[string, string](),
		liveTokens:      geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		persistedTokens: geche.NewMapCache[string, string](),
		regTokens:       geche.NewMapCache[string, string](),
		now:             time.Now,
	}

	if err := as.load(); err != nil {
		return nil, err
	}
	return as, nil
}

func (as *AuthService) load() error {
	creds, err := as.store.ListAllCredentials()
	if err != nil {
		return fmt.Errorf("failed to load credentials: %w", err)
	}
	tx := as.users.Lock()
	for i := range creds {
		c := creds[i]
		tx.Set(c.UserName, &c)
		as.byID.Set(c.ID, c.UserName)
	}
	tx.Unlock()

	tokens, err := as.store.ListTokens()
	if err != nil {
		return fmt.Errorf("failed to load tokens: %w", err)
	}
	for hash, userID := range tokens {
		as.persistedTokens.Set(hash, userID)
	}

	regTokens, err := as.store.ListRegistrationTokens()
	if err != nil {
		return fmt.Errorf("failed to load registration tokens: %w", err)
	}
	for userID, token := range regTokens {
		as.regTokens.Set(token, userID)
	}

	return nil
}

func (as *AuthService) hashPassword(username, password string) string {
	h := hmac.New(sha512.New, as.secretBytes)
	h.Write([]byte(username + password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func (as *AuthService) hashToken(token string) string {
	h := hmac.New(sha512.New, as.secretBytes)
	h.Write([]byte(token))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// AddUser creates a user in status "created" and returns the one-time setup
// token to hand to them.
func (as *AuthService) AddUser(username, displayName string) (string, error) {
	tx := as.users.Lock()
	defer tx.Unlock()
	if existing, err := tx.Get(username); err == nil && existing.Status != models.UserStatusDeleted {
		return "", ErrUserExists
	}

	cred := &UserCredentials{
		User: models.User{
			ID:          uuid.NewString(),
			UserName:    username,
			DisplayName: displayName,
			Status:      models.UserStatusCreated,
		},
	}
	if err := as.store.UpsertCredentials(*cred); err != nil {
		return "", fmt.Errorf("failed to persist user: %w", err)
	}
	tx.Set(username, cred)
	as.byID.Set(cred.ID, username)

	token, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := as.store.UpsertRegistrationToken(cred.ID, token); err != nil {
		return "", fmt.Errorf("failed to persist registration token: %w", err)
	}
	as.regTokens.Set(token, cred.ID)

	return token, nil
}

// Register completes the setup flow: the token identifies the invited user,
// the password activates the account.
func (as *AuthService) Register(req RegistrationRequest) error {
	if req.Password == "" {
		return fmt.Errorf("%w: password is required", models.ErrValidation)
	}

	userID, err := as.regTokens.Get(req.Token)
	if err != nil {
		return fmt.Errorf("invalid registration token: %w", models.ErrNotFound)
	}
	username, err := as.byID.Get(userID)
	if err != nil {
		return fmt.Errorf("user for registration token: %w", models.ErrNotFound)
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	cred, err := tx.Get(username)
	if err != nil {
		return fmt.Errorf("user %s: %w", username, models.ErrNotFound)
	}

	cred.PasswordHash = as.hashPassword(username, req.Password)
	cred.Status = models.UserStatusActive
	if err := as.store.UpsertCredentials(*cred); err != nil {
		return fmt.Errorf("failed to persist user: %w", err)
	}

	_ = as.regTokens.Del(req.Token)
	if err := as.store.DeleteRegistrationToken(userID); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("failed to delete registration token")
	}

	return nil
}

// Login checks the password and returns a fresh session token. The userID is
// returned separately so callers never parse it out of the response.
func (as *AuthService) Login(req LoginRequest) (LoginResponse, string) {
	now := as.now()
	tx := as.users.Lock()
	defer tx.Unlock()
	user, err := tx.Get(req.Username)
	if err != nil || user.Status != models.UserStatusActive {
		return LoginResponse{Success: false, Message: loginFailedMessage}, ""
	}

	// Quadratic backoff after repeated failures.
	if user.FailedLoginAttempts > 3 {
		nextAttempt := user.LastAttemptTime + 30*(user.FailedLoginAttempts*user.FailedLoginAttempts)
		if now.Unix() < nextAttempt {
			return LoginResponse{
				Success: false,
				Message: fmt.Sprintf("Too many failed login attempts. Next attempt in %d seconds", nextAttempt-now.Unix()),
			}, ""
		}
	}

	currentHash := as.hashPassword(req.Username, req.Password)
	if !hmac.Equal([]byte(user.PasswordHash), []byte(currentHash)) {
		user.IncrementFailedLoginAttempts(now)
		return LoginResponse{Success: false, Message: loginFailedMessage}, ""
	}

	token, err := generateToken()
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("login failed")
		return LoginResponse{Success: false, Message: "internal error"}, ""
	}

	hash := as.hashToken(token)
	if err := as.store.UpsertToken(user.ID, hash); err != nil {
		log.Error().Err(err).Str("user_id", user.ID).Msg("failed to persist token")
		return LoginResponse{Success: false, Message: "internal error"}, ""
	}
	as.liveTokens.Set(token, user.ID)
	as.persistedTokens.Set(hash, user.ID)
	user.ResetFailedLoginAttempts(now)

	return LoginResponse{
		Success:     true,
		Token:       token,
		TokenExpiry: now.Unix() + int64(as.TokenExpiry.Seconds()),
	}, user.ID
}

func (as *AuthService) Logoff(token string) error {
	_ = as.liveTokens.Del(token)
	hash := as.hashToken(token)
	_ = as.persistedTokens.Del(hash)
	return as.store.DeleteToken(hash)
}

// GetUserID resolves a session token to a user id. The TTL cache is checked
// first; a miss falls back to the persisted hashed tokens so sessions
// survive a process restart.
func (as *AuthService) GetUserID(token string) (string, error) {
	if userID, err := as.liveTokens.Get(token); err == nil {
		return userID, nil
	}
	userID, err := as.persistedTokens.Get(as.hashToken(token))
	if err != nil {
		return "", fmt.Errorf("token: %w", models.ErrNotFound)
	}
	as.liveTokens.Set(token, userID)
	return userID, nil
}

// Users returns all non-deleted users sorted by display name. Presence is
// not filled here; the realtime layer owns it.
func (as *AuthService) Users() []models.User {
	tx := as.users.Lock()
	snapshot := tx.Snapshot()
	tx.Unlock()

	users := make([]models.User, 0, len(snapshot))
	for _, c := range snapshot {
		if c.Status == models.UserStatusDeleted {
			continue
		}
		users = append(users, c.User)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].DisplayName < users[j].DisplayName
	})
	return users
}

// User finds a user by id.
func (as *AuthService) User(id string) (models.User, bool) {
	username, err := as.byID.Get(id)
	if err != nil {
		return models.User{}, false
	}
	tx := as.users.Lock()
	defer tx.Unlock()
	cred, err := tx.Get(username)
	if err != nil || cred.Status == models.UserStatusDeleted {
		return models.User{}, false
	}
	return cred.User, true
}

// UpdateDisplayName changes a user's display name.
func (as *AuthService) UpdateDisplayName(id, displayName string) error {
	username, err := as.byID.Get(id)
	if err != nil {
		return fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	tx := as.users.Lock()
	defer tx.Unlock()
	cred, err := tx.Get(username)
	if err != nil {
		return fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	cred.DisplayName = displayName
	return as.store.UpsertCredentials(*cred)
}

// DeleteUser marks the user deleted and drops all their sessions.
func (as *AuthService) DeleteUser(id string) error {
	username, err := as.byID.Get(id)
	if err != nil {
		return fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	tx := as.users.Lock()
	defer tx.Unlock()
	cred, err := tx.Get(username)
	if err != nil {
		return fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	cred.Status = models.UserStatusDeleted
	if err := as.store.UpsertCredentials(*cred); err != nil {
		return err
	}
	as.dropSessions(id)
	return nil
}

// ResetPassword invalidates the user's password and sessions and returns a
// fresh setup token.
func (as *AuthService) ResetPassword(id string) (string, error) {
	username, err := as.byID.Get(id)
	if err != nil {
		return "", fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	tx := as.users.Lock()
	defer tx.Unlock()
	cred, err := tx.Get(username)
	if err != nil {
		return "", fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}

	cred.PasswordHash = ""
	cred.Status = models.UserStatusCreated
	if err := as.store.UpsertCredentials(*cred); err != nil {
		return "", err
	}
	as.dropSessions(id)

	token, err := generateToken()
	if err != nil {
		return "", err
	}
	if err := as.store.UpsertRegistrationToken(id, token); err != nil {
		return "", fmt.Errorf("failed to persist registration token: %w", err)
	}
	as.regTokens.Set(token, id)
	return token, nil
}

func (as *AuthService) dropSessions(userID string) {
	for raw, id := range as.liveTokens.Snapshot() {
		if id == userID {
			_ = as.liveTokens.Del(raw)
		}
	}
	for hash, id := range as.persistedTokens.Snapshot() {
		if id == userID {
			_ = as.persistedTokens.Del(hash)
			if err := as.store.DeleteToken(hash); err != nil {
				log.Warn().Err(err).Str("user_id", userID).Msg("failed to delete token")
			}
		}
	}
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
