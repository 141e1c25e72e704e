// Package signing issues and verifies the signed tokens embedded in
// unsubscribe links.
package signing

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/jmehdipour/label-dispatch/internal/apperr"
	"github.com/jmehdipour/label-dispatch/internal/config"
	"github.com/jmehdipour/label-dispatch/internal/model"
)

type claims struct {
	Type string `json:"typ,omitempty"`
	jwt.RegisteredClaims
}

type Signer struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	baseURL string
	now     func() time.Time
}

func NewSigner(cfg config.UnsubscribeConfig, publicBaseURL string) (*Signer, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("signing: empty secret")
	}
	return &Signer{
		secret:  []byte(cfg.Secret),
		issuer:  cfg.Issuer,
		ttl:     cfg.TTL,
		baseURL: strings.TrimRight(publicBaseURL, "/"),
		now:     time.Now,
	}, nil
}

// Token binds userID and, when set, a single email type.
func (s *Signer) Token(userID string, emailType model.EmailType) (string, error) {
	now := s.now()
	c := claims{
		Type: emailType.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(s.secret)
}

// Verify checks the token belongs to userID. A type-scoped token only
// authorizes that type; an unscoped token authorizes any.
func (s *Signer) Verify(userID, token string, emailType model.EmailType) error {
	if userID == "" || token == "" {
		return apperr.Unauthorized("invalid_token", "missing user or token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithSubject(userID),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return apperr.Unauthorized("invalid_token", "unsubscribe link is invalid or expired")
	}

	if c.Type != "" && c.Type != emailType.String() {
		return apperr.Unauthorized("invalid_token", "unsubscribe link does not cover this email type")
	}
	return nil
}

// UnsubscribeURL builds the public link placed in lifecycle emails.
func (s *Signer) UnsubscribeURL(userID string, emailType model.EmailType) (string, error) {
	token, err := s.Token(userID, emailType)
	if err != nil {
		return "", fmt.Errorf("sign unsubscribe token: %w", err)
	}
	q := url.Values{}
	q.Set("uid", userID)
	q.Set("token", token)
	if emailType != "" {
		q.Set("type", emailType.String())
	}
	return s.baseURL + "/unsubscribe?" + q.Encode(), nil
}
