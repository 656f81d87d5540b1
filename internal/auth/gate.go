// Package auth authenticates users: registration and login issue signed
// tokens, Verify turns a token back into a user id.
package auth

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"chat-backend/internal/apperr"
	"chat-backend/internal/storage"
)

const issuer = "chat-backend"

// Config defines fields used for parsing from environment variables
type Config struct {
	Secret     string        `env:"JWT_SECRET,required"`
	ExpiresIn  time.Duration `env:"JWT_EXPIRES_IN" envDefault:"24h"`
	BcryptCost int           `env:"BCRYPT_COST" envDefault:"10"`
}

// UserStore is the part of the chat store the gate needs
type UserStore interface {
	CreateUser(ctx context.Context, name, email, passwordHash string) (storage.User, error)
	UserByEmail(ctx context.Context, email string) (storage.User, error)
	SearchUsers(ctx context.Context, query string, exclude int64) ([]storage.User, error)
}

type Claims struct {
	UserID int64 `json:"userId"`
	jwt.RegisteredClaims
}

type RegisterInput struct {
	Name     string `validate:"required"`
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type LoginInput struct {
	Email    string `validate:"required"`
	Password string `validate:"required"`
}

type Gate struct {
	logger   *zap.SugaredLogger
	store    UserStore
	secret   []byte
	ttl      time.Duration
	cost     int
	validate *validator.Validate
	now      func() time.Time
}

func NewGate(logger *zap.SugaredLogger, store UserStore, cfg Config) *Gate {
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Gate{
		logger:   logger,
		store:    store,
		secret:   []byte(cfg.Secret),
		ttl:      cfg.ExpiresIn,
		cost:     cost,
		validate: validator.New(),
		now:      time.Now,
	}
}

// Register creates a user with a hashed password and returns it with a fresh token
func (g *Gate) Register(ctx context.Context, in RegisterInput) (storage.User, string, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)

	if err := g.validate.Struct(in); err != nil {
		return storage.User{}, "", validationError(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), g.cost)
	if err != nil {
		return storage.User{}, "", err
	}

	u, err := g.store.CreateUser(ctx, in.Name, in.Email, string(hash))
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			return storage.User{}, "", apperr.New(apperr.ErrConflict, "Email already in use.")
		}
		return storage.User{}, "", apperr.Store("creating user", err)
	}
	u.PasswordHash = ""

	token, err := g.Issue(u.ID)
	if err != nil {
		return storage.User{}, "", err
	}

	g.logger.Infof("Registered user (id: %d)", u.ID)

	return u, token, nil
}

// Login checks the credentials and returns the user with a fresh token.
// Unknown email and wrong password are reported the same way.
func (g *Gate) Login(ctx context.Context, in LoginInput) (storage.User, string, error) {
	if err := g.validate.Struct(in); err != nil {
		return storage.User{}, "", apperr.New(apperr.ErrInvalidArgument, "Please provide email and password.")
	}

	u, err := g.store.UserByEmail(ctx, strings.TrimSpace(in.Email))
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			return storage.User{}, "", apperr.New(apperr.ErrUnauthenticated, "Invalid credentials.")
		}
		return storage.User{}, "", apperr.Store("looking up user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		return storage.User{}, "", apperr.New(apperr.ErrUnauthenticated, "Invalid credentials.")
	}
	u.PasswordHash = ""

	token, err := g.Issue(u.ID)
	if err != nil {
		return storage.User{}, "", err
	}

	return u, token, nil
}

// Issue signs a token for userID
func (g *Gate) Issue(userID int64) (string, error) {
	now := g.now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
}

// Verify validates signature and expiration of token and returns its user id
func (g *Gate) Verify(token string) (int64, error) {
	if token == "" {
		return 0, apperr.New(apperr.ErrUnauthenticated, "Not authorized, no token provided.")
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return g.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer), jwt.WithTimeFunc(g.now))
	if err != nil || !parsed.Valid || claims.UserID < 1 {
		return 0, apperr.New(apperr.ErrUnauthenticated, "Not authorized, token failed.")
	}

	return claims.UserID, nil
}

// SearchUsers looks users up by a case-insensitive substring of name or email.
// The requester is never part of the result.
func (g *Gate) SearchUsers(ctx context.Context, requester int64, query string) ([]storage.User, error) {
	users, err := g.store.SearchUsers(ctx, strings.TrimSpace(query), requester)
	if err != nil {
		return nil, apperr.Store("searching users", err)
	}
	return users, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Tag() == "email" {
				return apperr.New(apperr.ErrInvalidArgument, "Please provide a valid email.")
			}
		}
	}
	return apperr.New(apperr.ErrInvalidArgument, "Please provide all required fields.")
}
