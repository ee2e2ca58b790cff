package anoncreds

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Restriction limits which credentials may answer a referent. All set
// fields must match.
type Restriction struct {
	SchemaID       string `json:"schema_id,omitempty"`
	SchemaIssuerID string `json:"schema_issuer_id,omitempty"`
	SchemaName     string `json:"schema_name,omitempty"`
	SchemaVersion  string `json:"schema_version,omitempty"`
	IssuerID       string `json:"issuer_id,omitempty"`
	CredDefID      string `json:"cred_def_id,omitempty"`
}

// AttributeRequest asks for one revealed attribute.
type AttributeRequest struct {
	Name         string        `json:"name"`
	Restrictions []Restriction `json:"restrictions,omitempty"`
}

// PredicateRequest asks for a predicate over an integer attribute.
type PredicateRequest struct {
	Name         string        `json:"name"`
	PType        string        `json:"p_type"`
	PValue       int64         `json:"p_value"`
	Restrictions []Restriction `json:"restrictions,omitempty"`
}

// ProofRequest is an AnonCreds presentation request.
type ProofRequest struct {
	Name                string                      `json:"name"`
	Version             string                      `json:"version"`
	Nonce               string                      `json:"nonce"`
	RequestedAttributes map[string]AttributeRequest `json:"requested_attributes"`
	RequestedPredicates map[string]PredicateRequest `json:"requested_predicates"`
}

// Validate checks predicate types and that the request is not empty.
func (p *ProofRequest) Validate() error {
	if len(p.RequestedAttributes) == 0 && len(p.RequestedPredicates) == 0 {
		return fmt.Errorf("%w: nothing requested", ErrInvalidProofRequest)
	}
	for ref, a := range p.RequestedAttributes {
		if a.Name == "" {
			return fmt.Errorf("%w: %s has no attribute name", ErrInvalidProofRequest, ref)
		}
	}
	for ref, pr := range p.RequestedPredicates {
		if pr.Name == "" {
			return fmt.Errorf("%w: %s has no attribute name", ErrInvalidProofRequest, ref)
		}
		if _, err := compare(pr.PType, 0, 0); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrInvalidProofRequest, ref, err)
		}
	}
	return nil
}

// HeldCredential is a wallet credential offered for selection.
type HeldCredential struct {
	ID         string
	Credential *Credential
	Schema     *Schema
}

// RevealedAttr is a disclosed attribute value.
type RevealedAttr struct {
	SubProofIndex int    `json:"sub_proof_index"`
	Raw           string `json:"raw"`
	Encoded       string `json:"encoded"`
}

// PredicateProof points at the credential a predicate was proven from.
type PredicateProof struct {
	SubProofIndex int `json:"sub_proof_index"`
}

// RequestedProof maps request referents to their answers.
type RequestedProof struct {
	RevealedAttrs map[string]RevealedAttr   `json:"revealed_attrs"`
	Predicates    map[string]PredicateProof `json:"predicates"`
}

// Identifier names the schema and credential definition of a sub proof.
type Identifier struct {
	SchemaID  string `json:"schema_id"`
	CredDefID string `json:"cred_def_id"`
}

// Presentation answers a ProofRequest.
type Presentation struct {
	RequestedProof RequestedProof `json:"requested_proof"`
	Identifiers    []Identifier   `json:"identifiers"`
	Proofs         []Credential   `json:"proofs"`
}

// Selection is the credential chosen for each referent.
type Selection struct {
	Attributes map[string]string `json:"attributes"`
	Predicates map[string]string `json:"predicates"`
}

// SelectCredentials picks, for every referent, the first held credential
// that carries the attribute and satisfies the restrictions (and for
// predicates, the predicate itself).
func SelectCredentials(req *ProofRequest, held []HeldCredential) (*Selection, error) {
	sel := &Selection{Attributes: map[string]string{}, Predicates: map[string]string{}}
	for _, ref := range sortedKeys(req.RequestedAttributes) {
		a := req.RequestedAttributes[ref]
		id, ok := pick(held, a.Name, a.Restrictions, nil)
		if !ok {
			return nil, fmt.Errorf("%w: attribute %q (%s)", ErrNoMatchingCredential, a.Name, ref)
		}
		sel.Attributes[ref] = id
	}
	for _, ref := range sortedKeys(req.RequestedPredicates) {
		p := req.RequestedPredicates[ref]
		id, ok := pick(held, p.Name, p.Restrictions, &p)
		if !ok {
			return nil, fmt.Errorf("%w: predicate %s %s %d (%s)", ErrNoMatchingCredential, p.Name, p.PType, p.PValue, ref)
		}
		sel.Predicates[ref] = id
	}
	return sel, nil
}

// CreatePresentation builds the presentation for sel.
func CreatePresentation(req *ProofRequest, sel *Selection, held []HeldCredential) (*Presentation, error) {
	byID := make(map[string]HeldCredential, len(held))
	for _, h := range held {
		byID[h.ID] = h
	}
	pres := &Presentation{
		RequestedProof: RequestedProof{
			RevealedAttrs: map[string]RevealedAttr{},
			Predicates:    map[string]PredicateProof{},
		},
	}
	index := map[string]int{}
	sub := func(id string) (int, HeldCredential, error) {
		h, ok := byID[id]
		if !ok {
			return 0, h, fmt.Errorf("%w: credential %s is not held", ErrNoMatchingCredential, id)
		}
		if i, ok := index[id]; ok {
			return i, h, nil
		}
		i := len(pres.Proofs)
		index[id] = i
		pres.Proofs = append(pres.Proofs, *h.Credential)
		pres.Identifiers = append(pres.Identifiers, Identifier{SchemaID: h.Credential.SchemaID, CredDefID: h.Credential.CredDefID})
		return i, h, nil
	}
	for _, ref := range sortedKeys(req.RequestedAttributes) {
		i, h, err := sub(sel.Attributes[ref])
		if err != nil {
			return nil, err
		}
		v := h.Credential.Values[req.RequestedAttributes[ref].Name]
		pres.RequestedProof.RevealedAttrs[ref] = RevealedAttr{SubProofIndex: i, Raw: v.Raw, Encoded: v.Encoded}
	}
	for _, ref := range sortedKeys(req.RequestedPredicates) {
		i, _, err := sub(sel.Predicates[ref])
		if err != nil {
			return nil, err
		}
		pres.RequestedProof.Predicates[ref] = PredicateProof{SubProofIndex: i}
	}
	return pres, nil
}

// VerifyPresentation checks pres against req: every referent answered,
// issuer signatures valid, revealed values consistent, restrictions and
// predicates satisfied. A false result carries the reason in the error.
func (r *Registry) VerifyPresentation(ctx context.Context, req *ProofRequest, pres *Presentation) (bool, error) {
	if len(pres.Proofs) != len(pres.Identifiers) {
		return false, fmt.Errorf("%w: identifiers do not match proofs", ErrInvalidSignature)
	}
	held := make([]HeldCredential, len(pres.Proofs))
	for i := range pres.Proofs {
		c := &pres.Proofs[i]
		if err := r.VerifyCredential(ctx, c); err != nil {
			return false, err
		}
		schema, err := r.GetSchema(ctx, c.SchemaID)
		if err != nil {
			return false, err
		}
		held[i] = HeldCredential{ID: strconv.Itoa(i), Credential: c, Schema: schema}
	}
	at := func(i int) (HeldCredential, error) {
		if i < 0 || i >= len(held) {
			return HeldCredential{}, fmt.Errorf("%w: sub proof %d out of range", ErrNoMatchingCredential, i)
		}
		return held[i], nil
	}
	for ref, a := range req.RequestedAttributes {
		got, ok := pres.RequestedProof.RevealedAttrs[ref]
		if !ok {
			return false, fmt.Errorf("%w: %s not revealed", ErrNoMatchingCredential, ref)
		}
		h, err := at(got.SubProofIndex)
		if err != nil {
			return false, err
		}
		v, ok := h.Credential.Values[a.Name]
		if !ok || v.Raw != got.Raw || v.Encoded != got.Encoded {
			return false, fmt.Errorf("%w: revealed %s does not match the credential", ErrNoMatchingCredential, ref)
		}
		if !satisfies(h, a.Restrictions) {
			return false, fmt.Errorf("%w: %s violates restrictions", ErrNoMatchingCredential, ref)
		}
	}
	for ref, p := range req.RequestedPredicates {
		got, ok := pres.RequestedProof.Predicates[ref]
		if !ok {
			return false, fmt.Errorf("%w: %s not proven", ErrNoMatchingCredential, ref)
		}
		h, err := at(got.SubProofIndex)
		if err != nil {
			return false, err
		}
		if !satisfies(h, p.Restrictions) || !holds(h, &p) {
			return false, fmt.Errorf("%w: predicate %s does not hold", ErrNoMatchingCredential, ref)
		}
	}
	return true, nil
}

func pick(held []HeldCredential, name string, rs []Restriction, p *PredicateRequest) (string, bool) {
	for _, h := range held {
		if _, ok := h.Credential.Values[name]; !ok {
			continue
		}
		if !satisfies(h, rs) {
			continue
		}
		if p != nil && !holds(h, p) {
			continue
		}
		return h.ID, true
	}
	return "", false
}

// satisfies reports whether h matches at least one restriction (or there
// are none).
func satisfies(h HeldCredential, rs []Restriction) bool {
	if len(rs) == 0 {
		return true
	}
	issuer, _, _ := strings.Cut(h.Credential.CredDefID, "/")
	for _, r := range rs {
		if r.SchemaID != "" && r.SchemaID != h.Credential.SchemaID {
			continue
		}
		if r.CredDefID != "" && r.CredDefID != h.Credential.CredDefID {
			continue
		}
		if r.IssuerID != "" && r.IssuerID != issuer {
			continue
		}
		if r.SchemaName != "" || r.SchemaVersion != "" || r.SchemaIssuerID != "" {
			if h.Schema == nil {
				continue
			}
			if r.SchemaName != "" && r.SchemaName != h.Schema.Name {
				continue
			}
			if r.SchemaVersion != "" && r.SchemaVersion != h.Schema.Version {
				continue
			}
			if r.SchemaIssuerID != "" && r.SchemaIssuerID != h.Schema.IssuerID {
				continue
			}
		}
		return true
	}
	return false
}

func holds(h HeldCredential, p *PredicateRequest) bool {
	v, ok := h.Credential.Values[p.Name]
	if !ok {
		return false
	}
	n, err := strconv.ParseInt(v.Raw, 10, 64)
	if err != nil {
		return false
	}
	ok, err = compare(p.PType, n, p.PValue)
	return err == nil && ok
}

func compare(op string, a, b int64) (bool, error) {
	switch op {
	case ">=":
		return a >= b, nil
	case ">":
		return a > b, nil
	case "<=":
		return a <= b, nil
	case "<":
		return a < b, nil
	}
	return false, fmt.Errorf("unsupported predicate type %q", op)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
