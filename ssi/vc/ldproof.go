package vc

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
)

const (
	ProofTypeEd25519Signature2018 = "Ed25519Signature2018"
	ProofPurposeAssertion         = "assertionMethod"
)

// SignLD attaches an Ed25519Signature2018 style proof to cred: a detached
// EdDSA JWS over the JSON encoding of the credential without its proof.
func SignLD(cred *Credential, verificationMethod string, priv ed25519.PrivateKey, now time.Time) error {
	if err := cred.Validate(); err != nil {
		return err
	}
	payload, err := signingInput(cred)
	if err != nil {
		return err
	}
	opts := (&jose.SignerOptions{}).WithBase64(false).WithHeader(jose.HeaderKey("kid"), verificationMethod)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: priv}, opts)
	if err != nil {
		return fmt.Errorf("ld signer: %w", err)
	}
	obj, err := signer.Sign(payload)
	if err != nil {
		return fmt.Errorf("ld sign: %w", err)
	}
	jws, err := obj.DetachedCompactSerialize()
	if err != nil {
		return fmt.Errorf("ld serialize: %w", err)
	}
	cred.Proof = &Proof{
		Type:               ProofTypeEd25519Signature2018,
		Created:            now.UTC().Format(time.RFC3339),
		VerificationMethod: verificationMethod,
		ProofPurpose:       ProofPurposeAssertion,
		JWS:                jws,
	}
	return nil
}

// VerifyLD checks the proof created by SignLD, resolving the verification
// method through r.
func VerifyLD(ctx context.Context, cred *Credential, r KeyResolver) error {
	if cred.Proof == nil || cred.Proof.JWS == "" {
		return fmt.Errorf("%w: missing proof", ErrInvalidProof)
	}
	vm := cred.Proof.VerificationMethod
	owner, _, _ := strings.Cut(vm, "#")
	if owner != cred.Issuer.ID {
		return fmt.Errorf("%w: verification method %s is not controlled by the issuer", ErrInvalidProof, vm)
	}
	_, pub, err := r.ResolveKey(ctx, owner, vm)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	payload, err := signingInput(cred)
	if err != nil {
		return err
	}
	obj, err := jose.ParseDetached(cred.Proof.JWS, payload, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if _, err := obj.Verify(pub); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return nil
}

func signingInput(cred *Credential) ([]byte, error) {
	c := *cred
	c.Proof = nil
	b, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode credential: %w", err)
	}
	return b, nil
}
