// Package wallet holds the agent's private material: Ed25519 signing keys
// encrypted under a master key derived from the configured BIP-39 mnemonic,
// the list of DIDs the agent controls, and the credentials it has received.
package wallet

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/did"
	"github.com/ggoodman/cheqd-mcp-toolkit/storage"
	"github.com/go-jose/go-jose/v4"
	"github.com/tyler-smith/go-bip39"
)

const (
	nsMeta     = "wallet-meta"
	nsKeys     = "wallet-keys"
	nsDIDs     = "wallet-dids"
	nsW3C      = "wallet-w3c"
	nsAnonCred = "wallet-anoncreds"

	checkKey   = "check"
	checkPlain = "cheqd-mcp-wallet"
)

var (
	ErrInvalidMnemonic = errors.New("wallet: invalid mnemonic")
	ErrWrongMnemonic   = errors.New("wallet: mnemonic does not unlock this wallet")
	ErrKeyNotFound     = errors.New("wallet: key not found")
	ErrNotFound        = errors.New("wallet: record not found")
)

// Option configures a Wallet.
type Option func(*Wallet)

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(w *Wallet) {
		if l != nil {
			w.log = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Wallet) {
		if now != nil {
			w.now = now
		}
	}
}

// Wallet is a storage-backed key and credential store.
type Wallet struct {
	id     string
	store  storage.Storage
	master []byte
	log    *slog.Logger
	now    func() time.Time
}

// Open unlocks the wallet id in store with mnemonic. A fresh wallet is
// initialized on first use; later opens with a different mnemonic fail with
// ErrWrongMnemonic.
func Open(ctx context.Context, store storage.Storage, id, mnemonic string, opts ...Option) (*Wallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, id)
	master := sha256.Sum256(seed)

	w := &Wallet{
		id:     id,
		store:  store,
		master: master[:],
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}

	item, err := store.Get(ctx, nsMeta, w.scoped(checkKey))
	if err != nil {
		return nil, fmt.Errorf("open wallet: %w", err)
	}
	if item == nil {
		token, err := w.seal([]byte(checkPlain))
		if err != nil {
			return nil, err
		}
		if err := store.Set(ctx, nsMeta, w.scoped(checkKey), []byte(token)); err != nil {
			return nil, fmt.Errorf("initialize wallet: %w", err)
		}
		w.log.InfoContext(ctx, "wallet.created", slog.String("wallet", id))
		return w, nil
	}
	plain, err := w.open(string(item.Data))
	if err != nil || string(plain) != checkPlain {
		return nil, ErrWrongMnemonic
	}
	return w, nil
}

// ID returns the wallet id.
func (w *Wallet) ID() string { return w.id }

type keyRecord struct {
	Kid       string    `json:"kid"`
	PublicKey string    `json:"publicKeyBase58"`
	Secret    string    `json:"secret"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateKey generates and stores a new Ed25519 key. The key id is the base58
// encoded public key.
func (w *Wallet) CreateKey(ctx context.Context) (string, ed25519.PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, fmt.Errorf("generate key: %w", err)
	}
	return w.importKey(ctx, pub, priv)
}

// ImportSeed stores the Ed25519 key derived from a 32 byte seed.
func (w *Wallet) ImportSeed(ctx context.Context, seed []byte) (string, ed25519.PublicKey, error) {
	if len(seed) != ed25519.SeedSize {
		return "", nil, fmt.Errorf("wallet: seed must be %d bytes", ed25519.SeedSize)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return w.importKey(ctx, priv.Public().(ed25519.PublicKey), priv)
}

func (w *Wallet) importKey(ctx context.Context, pub ed25519.PublicKey, priv ed25519.PrivateKey) (string, ed25519.PublicKey, error) {
	secret, err := w.seal(priv.Seed())
	if err != nil {
		return "", nil, err
	}
	kid := did.Base58Key(pub)
	rec := keyRecord{Kid: kid, PublicKey: kid, Secret: secret, CreatedAt: w.now().UTC()}
	if err := w.put(ctx, nsKeys, kid, rec); err != nil {
		return "", nil, err
	}
	w.log.DebugContext(ctx, "wallet.key.created", slog.String("kid", kid))
	return kid, pub, nil
}

// Signer returns the private key for kid.
func (w *Wallet) Signer(ctx context.Context, kid string) (ed25519.PrivateKey, error) {
	var rec keyRecord
	if err := w.get(ctx, nsKeys, kid, &rec); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
		}
		return nil, err
	}
	seed, err := w.open(rec.Secret)
	if err != nil {
		return nil, fmt.Errorf("decrypt key %s: %w", kid, err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("decrypt key %s: unexpected seed length", kid)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Sign signs msg with kid.
func (w *Wallet) Sign(ctx context.Context, kid string, msg []byte) ([]byte, error) {
	priv, err := w.Signer(ctx, kid)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, msg), nil
}

// HasKey reports whether kid is held by the wallet.
func (w *Wallet) HasKey(ctx context.Context, kid string) (bool, error) {
	item, err := w.store.Get(ctx, nsKeys, w.scoped(kid))
	return item != nil, err
}

func (w *Wallet) seal(plain []byte) (string, error) {
	enc, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: w.master}, nil)
	if err != nil {
		return "", fmt.Errorf("wallet encrypter: %w", err)
	}
	obj, err := enc.Encrypt(plain)
	if err != nil {
		return "", fmt.Errorf("wallet encrypt: %w", err)
	}
	return obj.CompactSerialize()
}

func (w *Wallet) open(token string) ([]byte, error) {
	obj, err := jose.ParseEncrypted(token, []jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return nil, err
	}
	return obj.Decrypt(w.master)
}

// Records of different wallets may share one store; keys are scoped by id.
func (w *Wallet) scoped(key string) string {
	return w.id + "/" + key
}

func (w *Wallet) put(ctx context.Context, ns, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", ns, err)
	}
	if err := w.store.Set(ctx, ns, w.scoped(key), b); err != nil {
		return fmt.Errorf("store %s record: %w", ns, err)
	}
	return nil
}

func (w *Wallet) get(ctx context.Context, ns, key string, v any) error {
	item, err := w.store.Get(ctx, ns, w.scoped(key))
	if err != nil {
		return fmt.Errorf("load %s record: %w", ns, err)
	}
	if item == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err := json.Unmarshal(item.Data, v); err != nil {
		return fmt.Errorf("decode %s record: %w", ns, err)
	}
	return nil
}

func list[T any](ctx context.Context, w *Wallet, ns string) ([]T, error) {
	items, err := w.store.List(ctx, ns)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", ns, err)
	}
	prefix := w.id + "/"
	out := make([]T, 0, len(items))
	for _, it := range items {
		if !strings.HasPrefix(it.Key, prefix) {
			continue
		}
		var v T
		if err := json.Unmarshal(it.Data, &v); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", ns, err)
		}
		out = append(out, v)
	}
	return out, nil
}
