// Package agent is a compact SSI agent: it owns a wallet, publishes DIDs and
// AnonCreds objects to the DID registry, and runs the DIDComm connection,
// issue-credential and present-proof protocols with other agents.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/anoncreds"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/did"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/didcomm"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/ledger"
	"github.com/ggoodman/cheqd-mcp-toolkit/ssi/wallet"
	"github.com/ggoodman/cheqd-mcp-toolkit/storage"
	"github.com/go-co-op/gocron"
)

const (
	defaultInvitationTTL = 24 * time.Hour
	defaultSweepInterval = time.Minute
)

// Config is the agent's static configuration.
type Config struct {
	// Label is presented to peers in invitations and requests.
	Label string
	// WalletID scopes wallet records; defaults to Label.
	WalletID string
	// Mnemonic unlocks the wallet.
	Mnemonic string
	// Endpoint is the advertised DIDComm endpoint.
	Endpoint string
	// Port is the inbound listener port. Zero disables the listener; the
	// caller then serves Handler itself.
	Port int
	// Network is the default cheqd network for new DIDs.
	Network string
	// InvitationTTL bounds how long an unanswered invitation stays open.
	InvitationTTL time.Duration
	// SweepInterval is how often stale invitations are looked for.
	SweepInterval time.Duration
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger. If not provided, slog.Default() is used.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.log = l
		}
	}
}

// WithSender replaces the outbound DIDComm transport.
func WithSender(s didcomm.Sender) Option {
	return func(a *Agent) {
		if s != nil {
			a.sender = s
		}
	}
}

// WithResolver enables resolution of foreign DIDs through a universal
// resolver at baseURL.
func WithResolver(baseURL string, client *http.Client) Option {
	return func(a *Agent) {
		a.resolverURL = baseURL
		a.resolverClient = client
	}
}

// WithLedgerStorage keeps the DID registry in s instead of the agent's own
// storage. Agents sharing s see each other's DIDs and resources.
func WithLedgerStorage(s storage.Storage) Option {
	return func(a *Agent) {
		if s != nil {
			a.ledgerStore = s
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// Agent is an SSI agent. Its modules are usable once Start returns.
type Agent struct {
	cfg            Config
	store          storage.Storage
	ledgerStore    storage.Storage
	log            *slog.Logger
	sender         didcomm.Sender
	resolverURL    string
	resolverClient *http.Client
	now            func() time.Time

	wallet    *wallet.Wallet
	ledger    *ledger.Registry
	anoncreds *anoncreds.Registry

	oob         records[OutOfBandRecord]
	connections records[ConnectionRecord]
	credentials records[CredentialExchangeRecord]
	proofs      records[ProofExchangeRecord]

	DIDs        *DIDs
	AnonCreds   *AnonCreds
	Connections *Connections
	Credentials *Credentials
	Proofs      *Proofs

	// Serializes record read-modify-write. Never held across network I/O.
	mu sync.Mutex

	startMu   sync.Mutex
	started   bool
	startedAt time.Time
	server    *http.Server
	cron      *gocron.Scheduler
	bgCtx     context.Context
	bgCancel  context.CancelFunc
	bg        sync.WaitGroup
	inbound   http.Handler
}

// New returns an agent persisting to store. Call Start before use.
func New(store storage.Storage, cfg Config, opts ...Option) *Agent {
	if cfg.WalletID == "" {
		cfg.WalletID = cfg.Label
	}
	if cfg.Network == "" {
		cfg.Network = did.NetworkTestnet
	}
	if cfg.InvitationTTL <= 0 {
		cfg.InvitationTTL = defaultInvitationTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Endpoint == "" && cfg.Port > 0 {
		cfg.Endpoint = "http://localhost:" + strconv.Itoa(cfg.Port)
	}
	a := &Agent{
		cfg:         cfg,
		store:       store,
		ledgerStore: store,
		log:         slog.Default(),
		now:         time.Now,
		oob:         records[OutOfBandRecord]{store: store, ns: nsOutOfBand},
		connections: records[ConnectionRecord]{store: store, ns: nsConnections},
		credentials: records[CredentialExchangeRecord]{store: store, ns: nsCredentials},
		proofs:      records[ProofExchangeRecord]{store: store, ns: nsProofs},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.sender == nil {
		a.sender = didcomm.NewHTTPSender(nil, a.log)
	}
	a.DIDs = &DIDs{a: a}
	a.AnonCreds = &AnonCreds{a: a}
	a.Connections = &Connections{a: a}
	a.Credentials = &Credentials{a: a}
	a.Proofs = &Proofs{a: a}
	a.inbound = didcomm.NewInboundHandler(didcomm.DispatcherFunc(a.dispatch), a.log)
	return a
}

// Label returns the agent label.
func (a *Agent) Label() string { return a.cfg.Label }

// Endpoint returns the advertised DIDComm endpoint.
func (a *Agent) Endpoint() string { return a.cfg.Endpoint }

// Handler is the inbound DIDComm endpoint.
func (a *Agent) Handler() http.Handler { return a.inbound }

// Start unlocks the wallet, starts the inbound listener (when a port is
// configured) and the invitation sweeper.
func (a *Agent) Start(ctx context.Context) error {
	a.startMu.Lock()
	defer a.startMu.Unlock()
	if a.started {
		return nil
	}
	if a.cfg.Endpoint == "" {
		return errors.New("agent: endpoint is required")
	}

	w, err := wallet.Open(ctx, a.store, a.cfg.WalletID, a.cfg.Mnemonic, wallet.WithLogger(a.log), wallet.WithClock(a.now))
	if err != nil {
		return fmt.Errorf("open wallet: %w", err)
	}
	ledgerOpts := []ledger.Option{ledger.WithLogger(a.log), ledger.WithClock(a.now)}
	if a.resolverURL != "" {
		ledgerOpts = append(ledgerOpts, ledger.WithResolver(a.resolverURL, a.resolverClient))
	}
	reg := ledger.NewRegistry(a.ledgerStore, ledgerOpts...)

	a.mu.Lock()
	a.wallet = w
	a.ledger = reg
	a.anoncreds = anoncreds.NewRegistry(reg, a.store, anoncreds.WithLogger(a.log))
	a.mu.Unlock()

	a.bgCtx, a.bgCancel = context.WithCancel(context.WithoutCancel(ctx))

	if a.cfg.Port > 0 {
		ln, err := net.Listen("tcp", ":"+strconv.Itoa(a.cfg.Port))
		if err != nil {
			a.bgCancel()
			return fmt.Errorf("listen on inbound port %d: %w", a.cfg.Port, err)
		}
		a.server = &http.Server{Handler: a.inbound, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("agent.inbound.fail", slog.String("err", err.Error()))
			}
		}()
	}

	if err := a.startSweeper(); err != nil {
		a.bgCancel()
		if a.server != nil {
			_ = a.server.Close()
		}
		return err
	}

	a.started = true
	a.startedAt = a.now().UTC()
	a.log.InfoContext(ctx, "agent.started",
		slog.String("label", a.cfg.Label),
		slog.String("endpoint", a.cfg.Endpoint),
		slog.Int("port", a.cfg.Port))
	return nil
}

// Shutdown stops the listener and sweeper and waits for outstanding
// deliveries until ctx is done.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.startMu.Lock()
	defer a.startMu.Unlock()
	if !a.started {
		return nil
	}
	a.started = false
	a.cron.Stop()

	var err error
	if a.server != nil {
		err = a.server.Shutdown(ctx)
		a.server = nil
	}

	done := make(chan struct{})
	go func() {
		a.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.bgCancel()
		<-done
		if err == nil {
			err = ctx.Err()
		}
	}
	a.bgCancel()
	a.log.InfoContext(ctx, "agent.stopped", slog.String("label", a.cfg.Label))
	return err
}

// Status summarizes the agent for diagnostics.
type Status struct {
	Label       string    `json:"label"`
	Endpoint    string    `json:"endpoint"`
	WalletID    string    `json:"walletId"`
	Network     string    `json:"network"`
	Started     bool      `json:"started"`
	StartedAt   time.Time `json:"startedAt,omitempty"`
	DIDs        int       `json:"dids"`
	Connections int       `json:"connections"`
	Credentials int       `json:"credentials"`
	Proofs      int       `json:"proofs"`
}

// Status reports the agent configuration and record counts.
func (a *Agent) Status(ctx context.Context) (*Status, error) {
	a.startMu.Lock()
	st := &Status{
		Label:     a.cfg.Label,
		Endpoint:  a.cfg.Endpoint,
		WalletID:  a.cfg.WalletID,
		Network:   a.cfg.Network,
		Started:   a.started,
		StartedAt: a.startedAt,
	}
	a.startMu.Unlock()
	if !st.Started {
		return st, nil
	}
	dids, err := a.wallet.ListDIDs(ctx, "")
	if err != nil {
		return nil, err
	}
	conns, err := a.connections.list(ctx)
	if err != nil {
		return nil, err
	}
	creds, err := a.credentials.list(ctx)
	if err != nil {
		return nil, err
	}
	proofs, err := a.proofs.list(ctx)
	if err != nil {
		return nil, err
	}
	st.DIDs, st.Connections, st.Credentials, st.Proofs = len(dids), len(conns), len(creds), len(proofs)
	return st, nil
}

func (a *Agent) ready() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.wallet == nil {
		return ErrNotStarted
	}
	return nil
}

// spawn runs fn in the background with the agent's lifetime context.
func (a *Agent) spawn(event string, fn func(ctx context.Context) error) {
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		if err := fn(a.bgCtx); err != nil {
			a.log.Warn(event+".fail", slog.String("err", err.Error()))
		}
	}()
}

func (a *Agent) endpointFor(connectionID string) string {
	return didcomm.ConnectionEndpoint(a.cfg.Endpoint, connectionID)
}

// rootService is the ~service decorator pointing at the agent's root
// endpoint, used for connectionless replies.
func (a *Agent) rootService(recipientKey string) *didcomm.ServiceDecorator {
	return &didcomm.ServiceDecorator{
		RecipientKeys:   []string{recipientKey},
		ServiceEndpoint: strings.TrimRight(a.cfg.Endpoint, "/"),
	}
}

func (a *Agent) stamp() time.Time { return a.now().UTC() }
