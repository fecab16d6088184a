package orchestrator

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/FidelCoder/GlobeLinkPay/internal/config"
	"github.com/FidelCoder/GlobeLinkPay/internal/domain"
	"github.com/FidelCoder/GlobeLinkPay/internal/notify"
	"github.com/FidelCoder/GlobeLinkPay/internal/pending"
	"github.com/FidelCoder/GlobeLinkPay/internal/provider/mpesa"
)

// RateSource prices mobile-money currency into token units.
type RateSource interface {
	GetRate(ctx context.Context) (decimal.Decimal, error)
}

// Gateway drives the mobile-money provider. Collection is a two-step
// contract: InitiateCollection only submits and yields the correlation
// key, WaitForCollection blocks for the confirmation.
type Gateway interface {
	InitiateCollection(ctx context.Context, payerPhone string, amount float64, accountRef string) (*mpesa.CollectionResult, error)
	WaitForCollection(ctx context.Context, checkoutRequestID string) (*mpesa.CollectionResult, error)
	InitiatePayout(ctx context.Context, amount float64, recipientMsisdn string) (*mpesa.PayoutResult, error)
}

// TokenEngine performs the on-chain leg.
type TokenEngine interface {
	Transfer(ctx context.Context, toAddress string, amount decimal.Decimal, chain, signingKey string) (string, error)
}

// Ledger persists settled transactions and the operator reconciliation
// queue.
type Ledger interface {
	CreateLedgerEntry(ctx context.Context, tx *domain.Transaction) error
	CreateReconciliation(ctx context.Context, entry *domain.ReconciliationEntry) error
}

// StatusPublisher pushes per-flow state transitions to connected clients.
type StatusPublisher interface {
	Publish(phone, requestRef, state, detail string)
}

// NopPublisher drops status updates.
type NopPublisher struct{}

func (NopPublisher) Publish(string, string, string, string) {}

// Result is the caller-visible outcome of a settlement flow.
type Result struct {
	RequestRef    string          `json:"request_ref"`
	State         string          `json:"state"`
	TxHash        string          `json:"tx_hash,omitempty"`
	GatewayRef    string          `json:"gateway_ref,omitempty"`
	Rate          decimal.Decimal `json:"rate,omitempty"`
	TokenAmount   decimal.Decimal `json:"token_amount,omitempty"`
	Fee           decimal.Decimal `json:"fee,omitempty"`
}

// Orchestrator sequences the mobile-money and on-chain legs of deposit
// and withdraw flows and reconciles them into the ledger. It owns the
// Transaction lifecycle exclusively; accounts are read-only to it.
type Orchestrator struct {
	rates    RateSource
	gateway  Gateway
	engine   TokenEngine
	ledger   Ledger
	pendings pending.Store
	notifier notify.Sender
	status   StatusPublisher
	locks    *KeyedMutex
	logger   *zap.Logger

	chains                map[string]config.ChainConfig
	platformWalletAddress string
	platformSigningKey    string

	// How long a correlation key stays matchable after the synchronous
	// poll window closes.
	pendingTTL time.Duration
}

type Deps struct {
	Rates    RateSource
	Gateway  Gateway
	Engine   TokenEngine
	Ledger   Ledger
	Pendings pending.Store
	Notifier notify.Sender
	Status   StatusPublisher
	Logger   *zap.Logger

	Chains                map[string]config.ChainConfig
	PlatformWalletAddress string
	PlatformSigningKey    string
}

func New(d Deps) *Orchestrator {
	status := d.Status
	if status == nil {
		status = NopPublisher{}
	}
	return &Orchestrator{
		rates:                 d.Rates,
		gateway:               d.Gateway,
		engine:                d.Engine,
		ledger:                d.Ledger,
		pendings:              d.Pendings,
		notifier:              d.Notifier,
		status:                status,
		locks:                 NewKeyedMutex(),
		logger:                d.Logger,
		chains:                d.Chains,
		platformWalletAddress: d.PlatformWalletAddress,
		platformSigningKey:    d.PlatformSigningKey,
		pendingTTL:            30 * time.Minute,
	}
}

func (o *Orchestrator) tokenSymbol(chain string) string {
	if cfg, ok := o.chains[chain]; ok && cfg.TokenSymbol != "" {
		return cfg.TokenSymbol
	}
	return "USDC"
}

func (o *Orchestrator) chainSupported(chain string) bool {
	_, ok := o.chains[chain]
	return ok
}

// notifyBestEffort sends a settlement notice; delivery problems are
// logged, never fatal to an already-settled flow.
func (o *Orchestrator) notifyBestEffort(ctx context.Context, phone, message string) {
	if o.notifier == nil {
		return
	}
	st, err := o.notifier.Send(ctx, phone, message)
	if err != nil {
		o.logger.Warn("settlement notice send failed", zap.String("phone", phone), zap.Error(err))
		return
	}
	if !st.Delivered() {
		o.logger.Warn("settlement notice not delivered",
			zap.String("phone", phone), zap.String("status", st.Status))
	}
}
