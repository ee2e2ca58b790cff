// Package did implements the DID syntax, key encodings and DID documents used
// by the agent: did:cheqd for public identifiers and did:key for DIDComm
// connection keys.
package did

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/multiformats/go-multibase"
)

const (
	MethodCheqd = "cheqd"
	MethodKey   = "key"

	NetworkTestnet = "testnet"
	NetworkMainnet = "mainnet"

	cheqdPrefix = "did:cheqd:"
	keyPrefix   = "did:key:"

	// cheqd identifiers carry the first 16 bytes of the controller key.
	cheqdIDBytes = 16
)

// ed25519-pub multicodec prefix (0xed varint encoded).
var ed25519Multicodec = []byte{0xed, 0x01}

var (
	ErrInvalidDID         = errors.New("invalid DID")
	ErrUnsupportedNetwork = errors.New("unsupported cheqd network")
	ErrUnsupportedKey     = errors.New("unsupported key encoding")
)

// ValidNetwork reports whether n names a cheqd network.
func ValidNetwork(n string) bool {
	return n == NetworkTestnet || n == NetworkMainnet
}

// NewCheqd derives a did:cheqd identifier on network from pub.
func NewCheqd(network string, pub ed25519.PublicKey) (string, error) {
	if !ValidNetwork(network) {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedNetwork, network)
	}
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: expected %d byte ed25519 key", ErrUnsupportedKey, ed25519.PublicKeySize)
	}
	return cheqdPrefix + network + ":" + base58.Encode(pub[:cheqdIDBytes]), nil
}

// ParseCheqd splits a did:cheqd identifier into its network and method
// specific id. Both base58 and UUID style ids are accepted.
func ParseCheqd(s string) (network, id string, err error) {
	if !strings.HasPrefix(s, cheqdPrefix) {
		return "", "", fmt.Errorf("%w: %q is not a did:cheqd identifier", ErrInvalidDID, s)
	}
	rest := strings.TrimPrefix(s, cheqdPrefix)
	network, id, ok := strings.Cut(rest, ":")
	if !ok || id == "" {
		return "", "", fmt.Errorf("%w: %q lacks a network or id", ErrInvalidDID, s)
	}
	if !ValidNetwork(network) {
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedNetwork, network)
	}
	if strings.ContainsAny(id, "/?#:") {
		return "", "", fmt.Errorf("%w: %q has an invalid id", ErrInvalidDID, s)
	}
	return network, id, nil
}

// IsCheqd reports whether s is a syntactically valid did:cheqd identifier.
func IsCheqd(s string) bool {
	_, _, err := ParseCheqd(s)
	return err == nil
}

// Method returns the DID method of s, or "" if s is not a DID.
func Method(s string) string {
	if !strings.HasPrefix(s, "did:") {
		return ""
	}
	m, _, ok := strings.Cut(s[len("did:"):], ":")
	if !ok {
		return ""
	}
	return m
}

// EncodePublicKeyMultibase encodes pub as a multicodec-prefixed base58btc
// multibase string (z6Mk...).
func EncodePublicKeyMultibase(pub ed25519.PublicKey) (string, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: expected %d byte ed25519 key", ErrUnsupportedKey, ed25519.PublicKeySize)
	}
	buf := make([]byte, 0, len(ed25519Multicodec)+len(pub))
	buf = append(buf, ed25519Multicodec...)
	buf = append(buf, pub...)
	return multibase.Encode(multibase.Base58BTC, buf)
}

// DecodePublicKeyMultibase is the inverse of EncodePublicKeyMultibase.
func DecodePublicKeyMultibase(s string) (ed25519.PublicKey, error) {
	_, data, err := multibase.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedKey, err)
	}
	if len(data) != len(ed25519Multicodec)+ed25519.PublicKeySize ||
		data[0] != ed25519Multicodec[0] || data[1] != ed25519Multicodec[1] {
		return nil, fmt.Errorf("%w: not an ed25519 multicodec key", ErrUnsupportedKey)
	}
	return ed25519.PublicKey(data[len(ed25519Multicodec):]), nil
}

// NewKey builds a did:key identifier for pub.
func NewKey(pub ed25519.PublicKey) (string, error) {
	mb, err := EncodePublicKeyMultibase(pub)
	if err != nil {
		return "", err
	}
	return keyPrefix + mb, nil
}

// PublicKeyFromDIDKey extracts the ed25519 key embedded in a did:key.
func PublicKeyFromDIDKey(s string) (ed25519.PublicKey, error) {
	if !strings.HasPrefix(s, keyPrefix) {
		return nil, fmt.Errorf("%w: %q is not a did:key identifier", ErrInvalidDID, s)
	}
	mb := strings.TrimPrefix(s, keyPrefix)
	if i := strings.IndexByte(mb, '#'); i >= 0 {
		mb = mb[:i]
	}
	return DecodePublicKeyMultibase(mb)
}

// Base58Key returns the raw base58 form used for verkeys and wallet key ids.
func Base58Key(pub ed25519.PublicKey) string {
	return base58.Encode(pub)
}
