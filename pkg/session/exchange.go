// pkg/session/exchange.go
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/joeydtaylor/steeze-gate/pkg/config"
)

// TokenPair is what the provider returns on a successful exchange.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// ExchangeErrorKind is the closed classification of provider failures. The
// session middleware branches on it as a total match; all string matching on
// provider error descriptions lives in classify.
type ExchangeErrorKind int

const (
	// KindAlreadyUsed: the refresh token was already redeemed. A concurrent
	// request may have legitimately rotated first, so this is never treated
	// as proof the session is dead.
	KindAlreadyUsed ExchangeErrorKind = iota

	// KindRevokedFamily: the token or its family is revoked or invalid.
	KindRevokedFamily

	// KindInvalidGrantOther: any other invalid_grant shape.
	KindInvalidGrantOther

	// KindRetryable: provider 5xx or transport failure. Retryable in
	// principle; this pipeline still performs at most one attempt per request.
	KindRetryable

	// KindOther: malformed body, unexpected 4xx, or a 2xx missing tokens.
	KindOther
)

func (k ExchangeErrorKind) String() string {
	switch k {
	case KindAlreadyUsed:
		return "already_used"
	case KindRevokedFamily:
		return "invalid_or_revoked_family"
	case KindInvalidGrantOther:
		return "invalid_grant_other"
	case KindRetryable:
		return "retryable_operational"
	default:
		return "other"
	}
}

// ExchangeError carries the classification plus non-sensitive provider
// metadata. Error strings never include tokens.
type ExchangeError struct {
	Kind        ExchangeErrorKind
	Status      int
	Code        string
	Description string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("token exchange %s (status %d, code %q)", e.Kind, e.Status, e.Code)
}

// Exchange talks to the provider's token endpoint for login and refresh
// rotation, authenticating with the service API key rather than any user
// token.
type Exchange struct {
	baseURL string
	apiKey  string
	hc      HTTPDoer
	log     *zap.Logger
}

func NewExchange(src config.Source, hc HTTPDoer, log *zap.Logger) (*Exchange, error) {
	base := src.Get("AUTH_PROVIDER_URL")
	if base == "" {
		return nil, errors.New("AUTH_PROVIDER_URL not set")
	}
	apiKey := src.Get("AUTH_PROVIDER_API_KEY")
	if apiKey == "" {
		return nil, errors.New("AUTH_PROVIDER_API_KEY not set")
	}
	return &Exchange{
		baseURL: strings.TrimRight(base, "/"),
		apiKey:  apiKey,
		hc:      hc,
		log:     log,
	}, nil
}

// Login exchanges credentials for a token pair.
func (e *Exchange) Login(ctx context.Context, email, password string) (TokenPair, error) {
	return e.token(ctx, "password", map[string]string{"email": email, "password": password})
}

// Refresh rotates a refresh token. The provider enforces single use: of two
// concurrent rotations exactly one succeeds, the other gets KindAlreadyUsed.
func (e *Exchange) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	return e.token(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

// Logout revokes the session provider-side, best effort. Local cookie
// clearing is authoritative, so failures are logged and swallowed.
func (e *Exchange) Logout(ctx context.Context, accessToken string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/auth/v1/logout", nil)
	if err != nil {
		return
	}
	req.Header.Set("apikey", e.apiKey)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	res, err := e.hc.Do(req)
	if err != nil {
		e.log.Debug("provider logout failed", zap.Error(err))
		return
	}
	io.Copy(io.Discard, res.Body)
	res.Body.Close()
}

func (e *Exchange) token(ctx context.Context, grant string, payload map[string]string) (TokenPair, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return TokenPair{}, err
	}

	url := e.baseURL + "/auth/v1/token?grant_type=" + grant
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return TokenPair{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", e.apiKey)
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	res, err := e.hc.Do(req)
	if err != nil {
		// Transport failure: operational, same handling as a provider 5xx.
		return TokenPair{}, &ExchangeError{Kind: KindRetryable, Description: "transport failure"}
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return TokenPair{}, &ExchangeError{Kind: KindRetryable, Status: res.StatusCode, Description: "body read failure"}
	}

	if res.StatusCode >= 200 && res.StatusCode <= 299 {
		var pair TokenPair
		if err := json.Unmarshal(raw, &pair); err != nil || pair.AccessToken == "" || pair.RefreshToken == "" {
			return TokenPair{}, &ExchangeError{Kind: KindOther, Status: res.StatusCode, Description: "missing tokens in provider response"}
		}
		return pair, nil
	}

	return TokenPair{}, classify(res.StatusCode, raw)
}

// classify is the single place provider error bodies are interpreted.
func classify(status int, raw []byte) *ExchangeError {
	if status >= 500 {
		return &ExchangeError{Kind: KindRetryable, Status: status}
	}

	var body struct {
		Error            string `json:"error"`
		ErrorCode        string `json:"error_code"`
		ErrorDescription string `json:"error_description"`
		Msg              string `json:"msg"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return &ExchangeError{Kind: KindOther, Status: status, Description: "malformed error body"}
	}

	code := body.Error
	if code == "" {
		code = body.ErrorCode
	}
	desc := body.ErrorDescription
	if desc == "" {
		desc = body.Msg
	}

	out := &ExchangeError{Status: status, Code: code, Description: desc}
	if code != "invalid_grant" {
		out.Kind = KindOther
		return out
	}

	d := strings.ToLower(desc)
	switch {
	case strings.Contains(d, "already used"):
		out.Kind = KindAlreadyUsed
	case strings.Contains(d, "revoked"), strings.Contains(d, "invalid"), strings.Contains(d, "not found"):
		out.Kind = KindRevokedFamily
	default:
		out.Kind = KindInvalidGrantOther
	}
	return out
}
