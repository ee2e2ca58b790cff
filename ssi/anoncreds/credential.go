package anoncreds

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"strconv"

	"github.com/go-jose/go-jose/v4"
)

// AttrValue is a credential attribute in raw and encoded form.
type AttrValue struct {
	Raw     string `json:"raw"`
	Encoded string `json:"encoded"`
}

// Credential is an issued AnonCreds credential.
type Credential struct {
	SchemaID  string               `json:"schema_id"`
	CredDefID string               `json:"cred_def_id"`
	Values    map[string]AttrValue `json:"values"`
	Signature string               `json:"signature"`
}

// Offer is the issuer's credential offer.
type Offer struct {
	SchemaID  string `json:"schema_id"`
	CredDefID string `json:"cred_def_id"`
	Nonce     string `json:"nonce"`
}

// Request is the holder's credential request.
type Request struct {
	CredDefID string `json:"cred_def_id"`
	ProverDID string `json:"prover_did,omitempty"`
	Nonce     string `json:"nonce"`
}

// EncodeValue encodes a raw attribute value the AnonCreds way: 32-bit
// integers are kept, anything else becomes the decimal SHA-256 digest.
func EncodeValue(raw string) string {
	if n, err := strconv.ParseInt(raw, 10, 32); err == nil {
		return strconv.FormatInt(n, 10)
	}
	sum := sha256.Sum256([]byte(raw))
	return new(big.Int).SetBytes(sum[:]).String()
}

// Attributes returns the raw attribute values.
func (c *Credential) Attributes() map[string]string {
	out := make(map[string]string, len(c.Values))
	for k, v := range c.Values {
		out[k] = v.Raw
	}
	return out
}

// Issue signs attrs under cd. attrs must name exactly the credential
// definition's attributes.
func Issue(cd *CredentialDefinition, credDefID string, attrs map[string]string, priv ed25519.PrivateKey) (*Credential, error) {
	if len(attrs) != len(cd.Value.Attributes) {
		return nil, fmt.Errorf("%w: expected %v", ErrInvalidAttributes, cd.Value.Attributes)
	}
	values := make(map[string]AttrValue, len(attrs))
	for _, name := range cd.Value.Attributes {
		raw, ok := attrs[name]
		if !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrInvalidAttributes, name)
		}
		values[name] = AttrValue{Raw: raw, Encoded: EncodeValue(raw)}
	}
	cred := &Credential{SchemaID: cd.SchemaID, CredDefID: credDefID, Values: values}
	payload, err := cred.signingInput()
	if err != nil {
		return nil, err
	}
	opts := (&jose.SignerOptions{}).WithHeader(jose.HeaderKey("kid"), cd.Value.VerificationMethod)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: priv}, opts)
	if err != nil {
		return nil, fmt.Errorf("credential signer: %w", err)
	}
	obj, err := signer.Sign(payload)
	if err != nil {
		return nil, fmt.Errorf("sign credential: %w", err)
	}
	if cred.Signature, err = obj.CompactSerialize(); err != nil {
		return nil, fmt.Errorf("serialize credential signature: %w", err)
	}
	return cred, nil
}

// VerifyCredential checks the issuer signature on c against its credential
// definition.
func (r *Registry) VerifyCredential(ctx context.Context, c *Credential) error {
	cd, err := r.GetCredentialDefinition(ctx, c.CredDefID)
	if err != nil {
		return err
	}
	if cd.SchemaID != c.SchemaID {
		return fmt.Errorf("%w: schema does not match credential definition", ErrInvalidSignature)
	}
	_, pub, err := r.ledger.ResolveKey(ctx, cd.IssuerID, cd.Value.VerificationMethod)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return verifySignature(c, pub)
}

func verifySignature(c *Credential, pub ed25519.PublicKey) error {
	obj, err := jose.ParseSigned(c.Signature, []jose.SignatureAlgorithm{jose.EdDSA})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	payload, err := obj.Verify(pub)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	want, err := c.signingInput()
	if err != nil {
		return err
	}
	if !bytes.Equal(payload, want) {
		return fmt.Errorf("%w: signed values differ", ErrInvalidSignature)
	}
	for name, v := range c.Values {
		if v.Encoded != EncodeValue(v.Raw) {
			return fmt.Errorf("%w: bad encoding for %q", ErrInvalidSignature, name)
		}
	}
	return nil
}

// Attribute names are sorted so the signed bytes do not depend on map order.
func (c *Credential) signingInput() ([]byte, error) {
	names := make([]string, 0, len(c.Values))
	for k := range c.Values {
		names = append(names, k)
	}
	sort.Strings(names)
	values := make([][3]string, 0, len(names))
	for _, n := range names {
		values = append(values, [3]string{n, c.Values[n].Raw, c.Values[n].Encoded})
	}
	b, err := json.Marshal(struct {
		SchemaID  string      `json:"schema_id"`
		CredDefID string      `json:"cred_def_id"`
		Values    [][3]string `json:"values"`
	}{c.SchemaID, c.CredDefID, values})
	if err != nil {
		return nil, fmt.Errorf("encode credential: %w", err)
	}
	return b, nil
}
