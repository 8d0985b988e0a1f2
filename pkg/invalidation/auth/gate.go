package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tendant/simple-invalidation/pkg/invalidation"
)

// DefaultTokenTTL is how long issued tokens stay valid.
const DefaultTokenTTL = 8 * time.Hour

// DefaultIssuer is the "iss" claim of issued tokens.
const DefaultIssuer = "simple-invalidation"

// Account is the single operator allowed to log in.
type Account struct {
	Email string
	Name  string
	Role  string

	// Exactly one of Password or PasswordSHA256 (hex digest) is used;
	// the digest wins when both are set.
	Password       string
	PasswordSHA256 string
}

// Config configures a Gate.
type Config struct {
	Account     Account
	Secret      string
	TokenTTL    time.Duration
	Issuer      string
	Window      AccessWindow
	BypassRoles []string // roles exempt from the access window
	Now         func() time.Time
}

// Claims are the JWT claims carried by identity tokens
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// Session is the result of a successful login
type Session struct {
	Token     string
	ExpiresAt time.Time
	Identity  invalidation.Identity
}

// Gate issues and verifies identity tokens for one static account
type Gate struct {
	account     Account
	secret      []byte
	ttl         time.Duration
	issuer      string
	window      AccessWindow
	bypassRoles map[string]struct{}
	now         func() time.Time
}

// New creates a Gate
func New(config Config) (*Gate, error) {
	if config.Secret == "" {
		return nil, errors.New("token secret is required")
	}
	if config.Account.Email == "" {
		return nil, errors.New("account email is required")
	}
	if config.Account.Password == "" && config.Account.PasswordSHA256 == "" {
		return nil, errors.New("account password or password hash is required")
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultTokenTTL
	}
	if config.Issuer == "" {
		config.Issuer = DefaultIssuer
	}
	if config.Window == nil {
		config.Window = AlwaysOpen{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	bypass := make(map[string]struct{}, len(config.BypassRoles))
	for _, role := range config.BypassRoles {
		bypass[role] = struct{}{}
	}

	return &Gate{
		account:     config.Account,
		secret:      []byte(config.Secret),
		ttl:         config.TokenTTL,
		issuer:      config.Issuer,
		window:      config.Window,
		bypassRoles: bypass,
		now:         config.Now,
	}, nil
}

// Login checks the credentials and issues a signed token
func (g *Gate) Login(email, password string) (*Session, error) {
	if !g.matches(email, password) {
		return nil, ErrInvalidCredentials
	}

	identity := invalidation.Identity{
		Email: g.account.Email,
		Name:  g.account.Name,
		Role:  g.account.Role,
	}
	now := g.now()
	expiresAt := now.Add(g.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: identity.Email,
		Name:  identity.Name,
		Role:  identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.Email,
			Issuer:    g.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})

	signed, err := token.SignedString(g.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &Session{
		Token:     signed,
		ExpiresAt: expiresAt,
		Identity:  identity,
	}, nil
}

func (g *Gate) matches(email, password string) bool {
	emailOK := subtle.ConstantTimeCompare([]byte(email), []byte(g.account.Email)) == 1

	var passwordOK bool
	if g.account.PasswordSHA256 != "" {
		sum := sha256.Sum256([]byte(password))
		want := strings.ToLower(strings.TrimSpace(g.account.PasswordSHA256))
		passwordOK = subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(want)) == 1
	} else {
		passwordOK = subtle.ConstantTimeCompare([]byte(password), []byte(g.account.Password)) == 1
	}

	return emailOK && passwordOK
}

// Verify checks the token signature, issuer and expiry, then the access
// window, and returns the identity it carries
func (g *Gate) Verify(tokenString string) (*invalidation.Identity, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return g.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(g.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token has expired", ErrInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	identity := &invalidation.Identity{
		Email: claims.Email,
		Name:  claims.Name,
		Role:  claims.Role,
	}

	if !g.allowedNow(identity.Role) {
		return nil, ErrOutsideAccessWindow
	}
	return identity, nil
}

func (g *Gate) allowedNow(role string) bool {
	if _, ok := g.bypassRoles[role]; ok {
		return true
	}
	return g.window.IsWithinAllowedWindow(g.now())
}

// TokenTTL returns the validity of issued tokens
func (g *Gate) TokenTTL() time.Duration {
	return g.ttl
}
