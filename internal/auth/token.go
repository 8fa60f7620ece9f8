package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrEncoding       = errors.New("token encoding failed")
	ErrInvalidToken   = errors.New("invalid token")
	ErrTokenExpired   = fmt.Errorf("%w: token expired", ErrInvalidToken)
	ErrWrongTokenType = fmt.Errorf("%w: wrong token type", ErrInvalidToken)
)

// TokenType separates access tokens from refresh tokens signed with the same
// key. Each is only accepted where its type is expected.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// TokenConfig is the process-wide signing configuration. It is copied into
// the codec at construction and never mutated afterwards.
type TokenConfig struct {
	Secret     string
	Algorithm  string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Claims is the signed payload: the subject email, the token type and the
// registered claims.
type Claims struct {
	Type TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// TokenData is the verified view of a token.
type TokenData struct {
	Email string
	Type  TokenType
}

// Codec signs and verifies access and refresh tokens.
type Codec struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewCodec(cfg TokenConfig) (*Codec, error) {
	if cfg.Secret == "" {
		return nil, errors.New("token secret must not be empty")
	}

	var method jwt.SigningMethod
	switch cfg.Algorithm {
	case "", "HS256":
		method = jwt.SigningMethodHS256
	case "HS384":
		method = jwt.SigningMethodHS384
	case "HS512":
		method = jwt.SigningMethodHS512
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", cfg.Algorithm)
	}

	accessTTL := cfg.AccessTTL
	if accessTTL <= 0 {
		accessTTL = 15 * time.Minute
	}

	return &Codec{
		secret:     []byte(cfg.Secret),
		method:     method,
		accessTTL:  accessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

// RefreshTTL is the lifetime of refresh tokens, also used as cookie max-age.
func (c *Codec) RefreshTTL() time.Duration {
	return c.refreshTTL
}

// Encode signs an access token for subject that expires ttl from now.
func (c *Codec) Encode(subject string, ttl time.Duration) (string, error) {
	return c.encode(subject, TokenTypeAccess, ttl)
}

func (c *Codec) encode(subject string, typ TokenType, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrEncoding)
	}

	now := c.now()
	claims := &Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncoding, err)
	}
	return signed, nil
}

// Decode verifies signature, algorithm and expiry and returns the subject
// and type. Callers that need a specific type use DecodeAccess or
// DecodeRefresh.
func (c *Codec) Decode(tokenString string) (*TokenData, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}

	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &TokenData{Email: claims.Subject, Type: claims.Type}, nil
}

func (c *Codec) decodeAs(tokenString string, want TokenType) (*TokenData, error) {
	data, err := c.Decode(tokenString)
	if err != nil {
		return nil, err
	}
	if data.Type != want {
		return nil, ErrWrongTokenType
	}
	return data, nil
}

// DecodeAccess accepts only access tokens.
func (c *Codec) DecodeAccess(tokenString string) (*TokenData, error) {
	return c.decodeAs(tokenString, TokenTypeAccess)
}

// DecodeRefresh accepts only refresh tokens.
func (c *Codec) DecodeRefresh(tokenString string) (*TokenData, error) {
	return c.decodeAs(tokenString, TokenTypeRefresh)
}

func (c *Codec) AccessToken(subject string) (string, error) {
	return c.encode(subject, TokenTypeAccess, c.accessTTL)
}

// AccessTokenWithTTL overrides the default access lifetime for one token.
func (c *Codec) AccessTokenWithTTL(subject string, ttl time.Duration) (string, error) {
	return c.encode(subject, TokenTypeAccess, ttl)
}

func (c *Codec) RefreshToken(subject string) (string, error) {
	return c.encode(subject, TokenTypeRefresh, c.refreshTTL)
}
