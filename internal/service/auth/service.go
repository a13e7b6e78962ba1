package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	model "github.com/zhouzirui/nova/internal/model/auth"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token has expired")
	ErrUserExists         = errors.New("user already exists")
)

const issuer = "nova"

// Claims are the JWT claims of a session token.
type Claims struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Service verifies credentials and issues bearer tokens.
type Service struct {
	secret []byte
	ttl    time.Duration
	cost   int
	now    func() time.Time

	mu    sync.RWMutex
	users map[string]model.User
}

// Option configures a Service.
type Option func(*Service)

// WithBcryptCost overrides bcrypt.DefaultCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service signing tokens with secret.
func NewService(secret string, ttl time.Duration, opts ...Option) *Service {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	s := &Service{
		secret: []byte(secret),
		ttl:    ttl,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
		users:  make(map[string]model.User),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddUser registers an account, hashing its password.
func (s *Service) AddUser(username, password, name, email string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[username]; ok {
		return fmt.Errorf("%w: %s", ErrUserExists, username)
	}
	s.users[username] = model.User{
		Username:     username,
		PasswordHash: hash,
		Name:         name,
		Email:        email,
	}
	return nil
}

// Login checks credentials and returns a profile carrying a fresh token.
func (s *Service) Login(creds model.Credentials) (model.Profile, error) {
	s.mu.RLock()
	user, ok := s.users[creds.Username]
	s.mu.RUnlock()
	if !ok {
		return model.Profile{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(user.PasswordHash, []byte(creds.Password)); err != nil {
		return model.Profile{}, ErrInvalidCredentials
	}

	token, err := s.issue(user)
	if err != nil {
		return model.Profile{}, err
	}
	return model.Profile{Token: token, Name: user.Name, Email: user.Email, Phone: user.Phone}, nil
}

// Validate parses a token and returns its claims.
func (s *Service) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, ErrInvalidToken
			}
			return s.secret, nil
		},
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) issue(user model.User) (string, error) {
	now := s.now()
	claims := &Claims{
		Name:  user.Name,
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
