// Package auth verifies OIDC ID tokens presented as bearer tokens.
package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCVerifier checks ID tokens issued to this service's client.
type OIDCVerifier struct {
	verifier      *oidc.IDTokenVerifier
	usernameClaim string
}

// NewOIDCVerifier creates a verifier with discovery against issuerURL.
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID, usernameClaim string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	return newOIDCVerifier(provider.Verifier(&oidc.Config{ClientID: clientID}), usernameClaim), nil
}

// NewOIDCVerifierWithKeySet creates a verifier for an issuer whose signing
// keys are already known, skipping discovery.
func NewOIDCVerifierWithKeySet(issuerURL, clientID, usernameClaim string, keySet oidc.KeySet) *OIDCVerifier {
	return newOIDCVerifier(oidc.NewVerifier(issuerURL, keySet, &oidc.Config{ClientID: clientID}), usernameClaim)
}

func newOIDCVerifier(v *oidc.IDTokenVerifier, usernameClaim string) *OIDCVerifier {
	if usernameClaim == "" {
		usernameClaim = "preferred_username"
	}
	return &OIDCVerifier{verifier: v, usernameClaim: usernameClaim}
}

// Verify validates the raw ID token and returns the user name it carries.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (string, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return "", fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("failed to parse claims: %w", err)
	}

	return UsernameFromClaims(claims, v.usernameClaim)
}

// UsernameFromClaims extracts the user name from the claim named claim.
func UsernameFromClaims(claims map[string]any, claim string) (string, error) {
	raw, ok := claims[claim]
	if !ok {
		return "", fmt.Errorf("claim %q missing from token", claim)
	}
	name, ok := raw.(string)
	if !ok || name == "" {
		return "", fmt.Errorf("claim %q is not a non-empty string", claim)
	}
	return name, nil
}
