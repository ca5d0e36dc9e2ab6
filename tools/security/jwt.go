package security

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Options 控制签名与校验参数。
type Options struct {
	Secret   []byte        // HMAC secret; ignored when JWKSURL is set
	Alg      string        // HS256/HS384/HS512 (default HS256)
	TTL      time.Duration // lifetime of issued tokens (default 2h)
	Issuer   string        // expected iss, empty disables the check
	Audience string        // expected aud, empty disables the check
	Leeway   time.Duration // clock skew tolerated on exp/nbf

	JWKSURL     string        // asymmetric keys fetched from the identity issuer
	JWKSRefresh time.Duration // default 5m
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// Identity is what a verified credential says about its bearer.
type Identity struct {
	UserID    string
	Scopes    []string
	ExpiresAt time.Time
	Claims    map[string]any
}

var asymmetricAlgs = []string{
	"RS256", "RS384", "RS512",
	"PS256", "PS384", "PS512",
	"ES256", "ES384", "ES512",
	"EdDSA",
}

// Verifier validates bearer credentials. It holds no per-call state and is safe
// for concurrent use.
type Verifier struct {
	opts    Options
	keyFunc jwtlib.Keyfunc
	parser  *jwtlib.Parser
	jwks    *keyfunc.JWKS
}

func NewVerifier(opts Options) (*Verifier, error) {
	v := &Verifier{opts: opts}
	parserOpts := []jwtlib.ParserOption{jwtlib.WithLeeway(opts.Leeway)}
	if opts.Issuer != "" {
		parserOpts = append(parserOpts, jwtlib.WithIssuer(opts.Issuer))
	}
	if opts.Audience != "" {
		parserOpts = append(parserOpts, jwtlib.WithAudience(opts.Audience))
	}

	if opts.JWKSURL != "" {
		refresh := opts.JWKSRefresh
		if refresh <= 0 {
			refresh = 5 * time.Minute
		}
		jwks, err := keyfunc.Get(opts.JWKSURL, keyfunc.Options{
			Ctx:               context.Background(),
			RefreshInterval:   refresh,
			RefreshRateLimit:  time.Minute,
			RefreshUnknownKID: true,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "fetch jwks %s", opts.JWKSURL)
		}
		v.jwks = jwks
		v.keyFunc = jwks.Keyfunc
		parserOpts = append(parserOpts, jwtlib.WithValidMethods(asymmetricAlgs))
	} else {
		if len(opts.Secret) == 0 {
			return nil, errors.New("jwt secret is empty")
		}
		method, err := signingMethod(opts.Alg)
		if err != nil {
			return nil, err
		}
		secret := opts.Secret
		v.keyFunc = func(t *jwtlib.Token) (interface{}, error) {
			// 仅允许 HMAC 家族
			if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
			}
			return secret, nil
		}
		parserOpts = append(parserOpts, jwtlib.WithValidMethods([]string{method.Alg()}))
	}
	v.parser = jwtlib.NewParser(parserOpts...)
	return v, nil
}

// Close stops the background JWKS refresh, if any.
func (v *Verifier) Close() {
	if v.jwks != nil {
		v.jwks.EndBackground()
	}
}

// Verify parses and validates credential. An optional "Bearer " prefix is accepted.
// Failures are *TokenError values matching one of the Err* sentinels.
func (v *Verifier) Verify(credential string) (*Identity, error) {
	token := StripBearer(credential)
	if token == "" {
		return nil, &TokenError{Reason: ReasonMalformed, Err: errors.New("empty token")}
	}

	claims := jwtlib.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, v.keyFunc)
	if err != nil {
		return nil, classify(err)
	}
	if !parsed.Valid {
		return nil, &TokenError{Reason: ReasonInvalid, Err: errors.New("invalid token")}
	}

	userID := subject(claims)
	if userID == "" {
		return nil, &TokenError{Reason: ReasonMissingSubject}
	}

	id := &Identity{
		UserID: userID,
		Scopes: scopes(claims),
		Claims: map[string]any(claims),
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwtlib.ErrTokenMalformed):
		return &TokenError{Reason: ReasonMalformed, Err: err}
	case errors.Is(err, jwtlib.ErrTokenExpired):
		return &TokenError{Reason: ReasonExpired, Err: err}
	case errors.Is(err, jwtlib.ErrTokenNotValidYet):
		return &TokenError{Reason: ReasonNotYetValid, Err: err}
	default:
		return &TokenError{Reason: ReasonInvalid, Err: err}
	}
}

// subject reads sub, falling back to the userId claim some issuers put instead.
func subject(claims jwtlib.MapClaims) string {
	for _, key := range []string{"sub", "userId"} {
		if s, ok := claims[key].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func scopes(claims jwtlib.MapClaims) []string {
	switch v := claims["scope"].(type) {
	case string:
		return strings.Fields(v)
	case []any:
		out := make([]string, 0, len(v))
		for _, it := range v {
			if s, ok := it.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Generate issues a signed HMAC token for userID.
func Generate(opts Options, userID string, scopes []string) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	if userID != "" {
		claims["sub"] = userID
	}
	if opts.Issuer != "" {
		claims["iss"] = opts.Issuer
	}
	if opts.Audience != "" {
		claims["aud"] = opts.Audience
	}
	if len(scopes) > 0 {
		claims["scope"] = scopes
	}

	tok := jwtlib.NewWithClaims(method, claims)
	signed, err := tok.SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "sign token")
	}
	return signed, exp, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
