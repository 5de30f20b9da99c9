package oidc

import (
	"encoding/json"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenExpirySkew defines a default time skew when checking an access
// token's expiration.
const DefaultTokenExpirySkew = 10 * time.Second

// AccessToken is an oauth access_token. Its String and MarshalJSON
// implementations redact the secret so it never lands in logs.
type AccessToken string

// RedactedAccessToken replaces an access_token in string and json output.
const RedactedAccessToken = "[REDACTED: access_token]"

func (t AccessToken) String() string { return RedactedAccessToken }

func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// RefreshToken is an oauth refresh_token, redacted the same way as
// AccessToken.
type RefreshToken string

// RedactedRefreshToken replaces a refresh_token in string and json output.
const RedactedRefreshToken = "[REDACTED: refresh_token]"

func (t RefreshToken) String() string { return RedactedRefreshToken }

func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}

// Tk is the result of a successful authentication: the verified id_token
// plus whatever oauth artifacts accompanied it (access token, refresh token,
// access token expiry).
type Tk struct {
	idToken      IdToken
	accessToken  AccessToken
	refreshToken RefreshToken
	expiry       time.Time

	nowFunc func() time.Time
}

// NewToken creates a Tk from an id_token and an optional oauth2 token
// carrying the access/refresh tokens from the same response.
func NewToken(i IdToken, t *oauth2.Token, opt ...Option) (*Tk, error) {
	const op = "oidc.NewToken"
	// sanity check that this is a valid id_token and not junk from a
	// provider response
	if i == "" {
		return nil, NewError(ErrInvalidParameter, WithOp(op), WithKind(ErrParameterViolation), WithMsg("id_token is empty"))
	}
	opts := getTokenOpts(opt...)
	tk := &Tk{
		idToken: i,
		nowFunc: opts.withNowFunc,
	}
	if t != nil {
		tk.accessToken = AccessToken(t.AccessToken)
		tk.refreshToken = RefreshToken(t.RefreshToken)
		tk.expiry = t.Expiry
	}
	return tk, nil
}

// IdToken returns the token's id_token.
func (t *Tk) IdToken() IdToken { return t.idToken }

// AccessToken returns the token's access_token, which may be empty.
func (t *Tk) AccessToken() AccessToken { return t.accessToken }

// RefreshToken returns the token's refresh_token, which may be empty.
func (t *Tk) RefreshToken() RefreshToken { return t.refreshToken }

// Expiry returns the expiration of the access_token. A zero value means the
// provider reported none.
func (t *Tk) Expiry() time.Time { return t.expiry }

func (t *Tk) now() time.Time {
	if t.nowFunc != nil {
		return t.nowFunc()
	}
	return time.Now()
}

// IsExpired returns true when the access_token has an expiry and it has
// passed. Supports the WithExpirySkew option and if none is provided it will
// use DefaultTokenExpirySkew.
func (t *Tk) IsExpired(opt ...Option) bool {
	if t.expiry.IsZero() {
		return false
	}
	opts := getTokenOpts(opt...)
	return t.expiry.Round(0).Before(t.now().Add(opts.withExpirySkew))
}

// Valid returns true when the token holds an unexpired access_token.
func (t *Tk) Valid() bool {
	if t == nil {
		return false
	}
	if t.accessToken == "" {
		return false
	}
	return !t.IsExpired()
}

// StaticTokenSource returns an oauth2.TokenSource for the token's
// access_token, suitable for user-info requests.
func (t *Tk) StaticTokenSource() oauth2.TokenSource {
	if t == nil || t.accessToken == "" {
		return nil
	}
	return oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: string(t.accessToken),
		Expiry:      t.expiry,
	})
}

// MergeClaims merges identity-token claims with user-info claims into a new
// map. On key collision the token's claims take precedence: the signed
// assertion wins over the unsigned user-info document.
func MergeClaims(tokenClaims, userInfoClaims map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(tokenClaims)+len(userInfoClaims))
	for k, v := range userInfoClaims {
		merged[k] = v
	}
	for k, v := range tokenClaims {
		merged[k] = v
	}
	return merged
}

// tokenOptions is the set of available options for Tk functions.
type tokenOptions struct {
	withExpirySkew time.Duration
	withNowFunc    func() time.Time
}

// tokenDefaults is a handy way to get the defaults at runtime and during
// unit tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{
		withExpirySkew: DefaultTokenExpirySkew,
	}
}

func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
