package vc

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"
	"time"

	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/did"
	"github.com/golang-jwt/jwt/v5"
)

// KeyResolver resolves a verification key of a DID.
type KeyResolver interface {
	ResolveKey(ctx context.Context, id, kid string) (*did.Document, ed25519.PublicKey, error)
}

// Claims is the JWT-VC claim set.
type Claims struct {
	jwt.RegisteredClaims
	VC Credential `json:"vc"`
}

// SignJWT encodes cred as a JWT-VC signed with priv. kid names the
// verification method in the issuer's document.
func SignJWT(cred *Credential, kid string, priv ed25519.PrivateKey) (string, error) {
	if err := cred.Validate(); err != nil {
		return "", err
	}
	claims := Claims{VC: *cred}
	claims.VC.Proof = nil
	claims.Issuer = cred.Issuer.ID
	claims.Subject = cred.SubjectID()
	claims.ID = cred.ID
	if t, err := time.Parse(time.RFC3339, cred.IssuanceDate); err == nil {
		claims.NotBefore = jwt.NewNumericDate(t)
		claims.IssuedAt = jwt.NewNumericDate(t)
	}
	if cred.ExpirationDate != "" {
		if t, err := time.Parse(time.RFC3339, cred.ExpirationDate); err == nil {
			claims.ExpiresAt = jwt.NewNumericDate(t)
		}
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	tok.Header["kid"] = kid
	s, err := tok.SignedString(priv)
	if err != nil {
		return "", fmt.Errorf("sign jwt-vc: %w", err)
	}
	return s, nil
}

// ParseJWT verifies a JWT-VC against the issuer key resolved through r and
// returns the embedded credential with registered claims folded back in.
func ParseJWT(ctx context.Context, token string, r KeyResolver) (*Credential, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		iss, err := t.Claims.GetIssuer()
		if err != nil || iss == "" {
			return nil, fmt.Errorf("%w: missing iss", ErrInvalidCredential)
		}
		kid, _ := t.Header["kid"].(string)
		_, pub, err := r.ResolveKey(ctx, iss, kid)
		if err != nil {
			return nil, err
		}
		return pub, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return claims.credential(), nil
}

// DecodeJWT decodes a JWT-VC without verifying its signature or validity
// window. It is used when importing credentials supplied by the user.
func DecodeJWT(token string) (*Credential, error) {
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(strings.TrimSpace(token), &claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return claims.credential(), nil
}

func (c *Claims) credential() *Credential {
	cred := c.VC
	if cred.Issuer.ID == "" {
		cred.Issuer.ID = c.Issuer
	}
	if cred.ID == "" {
		cred.ID = c.ID
	}
	if cred.IssuanceDate == "" && c.NotBefore != nil {
		cred.IssuanceDate = c.NotBefore.UTC().Format(time.RFC3339)
	}
	if cred.ExpirationDate == "" && c.ExpiresAt != nil {
		cred.ExpirationDate = c.ExpiresAt.UTC().Format(time.RFC3339)
	}
	if c.Subject != "" {
		if cred.CredentialSubject == nil {
			cred.CredentialSubject = map[string]any{}
		}
		if _, ok := cred.CredentialSubject["id"]; !ok {
			cred.CredentialSubject["id"] = c.Subject
		}
	}
	if len(cred.Context) == 0 {
		cred.Context = []string{ContextV1}
	}
	if len(cred.Type) == 0 {
		cred.Type = []string{TypeVerifiableCredential}
	}
	return &cred
}
