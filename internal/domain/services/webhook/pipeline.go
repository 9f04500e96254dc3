// Package webhook implements the ingestion pipeline for chain and payment
// notifications. Every delivery is persisted verbatim before any
// interpretation, classified exactly once, processed to a terminal
// outcome, and acknowledged unconditionally; re-delivery of a processed
// event is a recorded no-op, never a second credit.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/meridian-exchange/exchange_service/internal/domain/entities"
	domainerrors "github.com/meridian-exchange/exchange_service/internal/domain/errors"
	"github.com/meridian-exchange/exchange_service/internal/domain/services/ledger"
	"github.com/meridian-exchange/exchange_service/pkg/logger"
	"github.com/meridian-exchange/exchange_service/pkg/metrics"
)

// processTimeout bounds one event's processing after the ack returned.
const processTimeout = 30 * time.Second

// RawEventStore persists raw webhook captures.
type RawEventStore interface {
	Insert(ctx context.Context, event *entities.RawWebhookEvent) error
	MarkProcessed(ctx context.Context, id uuid.UUID, outcome string, failureReason *string) error
	ListUnprocessed(ctx context.Context, olderThan time.Duration, limit int) ([]entities.RawWebhookEvent, error)
}

// AddressResolver resolves a monitored deposit address row, either from
// the on-chain address or from the gateway-assigned account identifier.
type AddressResolver interface {
	GetDepositAddressByAddress(ctx context.Context, onchainAddress string) (*entities.DepositAddress, error)
	GetDepositAddressByProviderAccount(ctx context.Context, providerAccountID string) (*entities.DepositAddress, error)
}

// AccountResolver resolves the account credited for a deposit.
type AccountResolver interface {
	GetByDepositAddress(ctx context.Context, depositAddressID uuid.UUID, currency string) (*entities.VirtualAccount, error)
}

// PaymentResolver resolves and mutates fiat gateway orders.
type PaymentResolver interface {
	GetByProviderRef(ctx context.Context, providerRef string) (*entities.Payment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status entities.PaymentStatus) error
}

// LedgerEngine is the balance engine surface the pipeline needs.
type LedgerEngine interface {
	Credit(ctx context.Context, req ledger.CreditRequest) (*entities.LedgerTransaction, error)
	RefundPayment(ctx context.Context, req ledger.RefundRequest) (*entities.LedgerTransaction, error)
}

// SignatureVerifier authenticates payment webhook deliveries.
type SignatureVerifier interface {
	VerifySignature(payload []byte, signature string) bool
}

// Pipeline processes inbound webhook deliveries.
type Pipeline struct {
	events    RawEventStore
	addresses AddressResolver
	accounts  AccountResolver
	payments  PaymentResolver
	ledger    LedgerEngine
	verifier  SignatureVerifier
	exclusion *ExclusionSet

	// tokenCurrencies maps chain group to lower-cased contract address to
	// currency symbol. Token events outside this allow-list are rejected.
	tokenCurrencies map[entities.ChainGroup]map[string]string

	tracer  trace.Tracer
	metrics *metrics.Metrics
	logger  *logger.Logger

	wg sync.WaitGroup
}

func NewPipeline(
	events RawEventStore,
	addresses AddressResolver,
	accounts AccountResolver,
	payments PaymentResolver,
	ledger LedgerEngine,
	verifier SignatureVerifier,
	exclusion *ExclusionSet,
	tokenContracts map[string]map[string]string,
	m *metrics.Metrics,
	log *logger.Logger,
) *Pipeline {
	tokenCurrencies := make(map[entities.ChainGroup]map[string]string, len(tokenContracts))
	for chain, contracts := range tokenContracts {
		group, err := entities.NormalizeChainGroup(chain)
		if err != nil {
			log.Warn("Ignoring token allow-list for unknown chain", "chain", chain)
			continue
		}
		byContract := make(map[string]string, len(contracts))
		for currency, contract := range contracts {
			byContract[strings.ToLower(contract)] = currency
		}
		tokenCurrencies[group] = byContract
	}

	return &Pipeline{
		events:          events,
		addresses:       addresses,
		accounts:        accounts,
		payments:        payments,
		ledger:          ledger,
		verifier:        verifier,
		exclusion:       exclusion,
		tokenCurrencies: tokenCurrencies,
		tracer:          otel.Tracer("webhook"),
		metrics:         m,
		logger:          log,
	}
}

// IngestChain handles one chain notification. The raw capture is durable
// before the call returns; processing runs on its own goroutine so the
// gateway's ack never waits on ledger work. The returned error covers
// only the capture, since processing failures are recorded as outcomes
// and must not trigger gateway re-delivery.
func (p *Pipeline) IngestChain(ctx context.Context, payload []byte, headers map[string][]string, sourceIP string) error {
	event, err := p.capture(ctx, entities.WebhookSourceChain, payload, headers, sourceIP)
	if err != nil {
		return err
	}

	p.dispatch(event)
	return nil
}

// IngestPayment handles one payment gateway notification.
func (p *Pipeline) IngestPayment(ctx context.Context, payload []byte, headers map[string][]string, sourceIP string) error {
	event, err := p.capture(ctx, entities.WebhookSourcePayment, payload, headers, sourceIP)
	if err != nil {
		return err
	}

	p.dispatch(event)
	return nil
}

// dispatch processes a captured event asynchronously. The goroutine runs
// against a background context; the request context dies with the ack.
func (p *Pipeline) dispatch(event *entities.RawWebhookEvent) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), processTimeout)
		defer cancel()
		p.process(ctx, event)
	}()
}

// Shutdown waits for in-flight event processing to drain.
func (p *Pipeline) Shutdown(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("webhook pipeline shutdown timed out after %s", timeout)
	}
}

// ReplayUnprocessed re-runs captured events that never reached a terminal
// outcome, covering a crash between capture and processing. Ledger
// de-duplication makes replaying a half-processed event a no-op. Returns
// the number of events replayed.
func (p *Pipeline) ReplayUnprocessed(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	events, err := p.events.ListUnprocessed(ctx, olderThan, limit)
	if err != nil {
		return 0, err
	}

	for i := range events {
		p.process(ctx, &events[i])
	}
	if len(events) > 0 {
		p.logger.Info("Replayed unprocessed webhook events", "count", len(events))
	}
	return len(events), nil
}

func (p *Pipeline) process(ctx context.Context, event *entities.RawWebhookEvent) {
	ctx, span := p.tracer.Start(ctx, "webhook.process",
		trace.WithAttributes(attribute.String("webhook.source", string(event.Source))))
	defer span.End()

	var outcome string
	var failure *string
	switch event.Source {
	case entities.WebhookSourcePayment:
		outcome, failure = p.processPayment(ctx, event)
	default:
		outcome, failure = p.processChain(ctx, event)
	}

	span.SetAttributes(attribute.String("webhook.outcome", outcome))
	if outcome == entities.WebhookOutcomeError {
		span.SetStatus(codes.Error, deref(failure))
	}

	p.finish(ctx, event, outcome, failure)
}

func (p *Pipeline) capture(ctx context.Context, source entities.WebhookSource, payload []byte, headers map[string][]string, sourceIP string) (*entities.RawWebhookEvent, error) {
	headerJSON, err := json.Marshal(headers)
	if err != nil {
		headerJSON = []byte("{}")
	}

	event := &entities.RawWebhookEvent{
		ID:         uuid.New(),
		Source:     source,
		Payload:    payload,
		Headers:    headerJSON,
		SourceIP:   sourceIP,
		Processed:  false,
		ReceivedAt: time.Now(),
	}

	if err := p.events.Insert(ctx, event); err != nil {
		return nil, err
	}

	p.metrics.WebhookReceived.WithLabelValues(string(source)).Inc()
	return event, nil
}

func (p *Pipeline) finish(ctx context.Context, event *entities.RawWebhookEvent, outcome string, failure *string) {
	if err := p.events.MarkProcessed(ctx, event.ID, outcome, failure); err != nil {
		p.logger.Error("Failed to record webhook outcome",
			"event_id", event.ID, "outcome", outcome, "error", err)
	}
	p.metrics.WebhookOutcomes.WithLabelValues(string(event.Source), outcome).Inc()

	if outcome == entities.WebhookOutcomeError {
		p.logger.Error("Webhook processing failed", "event_id", event.ID, "reason", deref(failure))
	} else {
		p.logger.Info("Webhook processed", "event_id", event.ID, "source", event.Source, "outcome", outcome)
	}
}

func (p *Pipeline) processChain(ctx context.Context, raw *entities.RawWebhookEvent) (string, *string) {
	event, err := entities.DecodeChainEvent(raw.Payload)
	if err != nil {
		return entities.WebhookOutcomeUnrecognized, nil
	}

	kind := event.Kind()
	if kind == entities.WebhookKindUnknown || event.TxID == "" {
		return entities.WebhookOutcomeUnrecognized, nil
	}

	// Outbound movements reduce no user balance here; the transfer path
	// already journaled them when it broadcast. Address-scoped events
	// without a counterparty are the gateway's shorthand for an outbound
	// send, whatever sign the amount carries.
	if event.Amount.IsNegative() {
		return entities.WebhookOutcomeOutbound, nil
	}
	if kind == entities.WebhookKindChainAddressTx && event.CounterAddress == "" {
		return entities.WebhookOutcomeOutbound, nil
	}

	// Platform self-dealing. Sweeps and swap funding move through master
	// wallets and must never look like user deposits.
	if p.exclusion.Contains(ctx, event.Address) || p.exclusion.Contains(ctx, event.CounterAddress) {
		return entities.WebhookOutcomeMasterWallet, nil
	}

	var deposit *entities.DepositAddress
	if kind == entities.WebhookKindChainAccountTx {
		deposit, err = p.addresses.GetDepositAddressByProviderAccount(ctx, event.AccountID)
	} else {
		deposit, err = p.addresses.GetDepositAddressByAddress(ctx, event.Address)
	}
	if err != nil {
		if domainerrors.IsNotFound(err) {
			return entities.WebhookOutcomeUnknownAccount, nil
		}
		return entities.WebhookOutcomeError, failureOf(err)
	}

	currency, ok := p.resolveCurrency(deposit.ChainGroup, event)
	if !ok {
		return entities.WebhookOutcomeUnsupportedCurrency, nil
	}

	account, err := p.accounts.GetByDepositAddress(ctx, deposit.ID, currency)
	if err != nil {
		if domainerrors.IsNotFound(err) {
			return entities.WebhookOutcomeUnknownAccount, nil
		}
		return entities.WebhookOutcomeError, failureOf(err)
	}

	txHash := event.TxID
	_, err = p.ledger.Credit(ctx, ledger.CreditRequest{
		AccountID: account.ID,
		UserID:    account.UserID,
		Kind:      entities.TransactionKindDeposit,
		Amount:    event.Amount,
		Currency:  currency,
		Reference: event.TxID,
		TxHash:    &txHash,
	})
	if err != nil {
		if domainerrors.IsConsistency(err) {
			return entities.WebhookOutcomeDuplicate, nil
		}
		return entities.WebhookOutcomeError, failureOf(err)
	}

	return entities.WebhookOutcomeApplied, nil
}

// resolveCurrency maps the event to a supported currency symbol. Native
// transfers use the chain currency; token transfers must match the
// contract allow-list.
func (p *Pipeline) resolveCurrency(group entities.ChainGroup, event *entities.ChainTransactionEvent) (string, bool) {
	if !event.IsTokenTransfer() {
		currency := event.Currency
		if currency == "" {
			currency = event.Asset
		}
		if currency == "" {
			return "", false
		}
		return strings.ToUpper(currency), true
	}

	contracts, ok := p.tokenCurrencies[group]
	if !ok {
		return "", false
	}
	currency, ok := contracts[strings.ToLower(event.ContractAddress)]
	return currency, ok
}

func (p *Pipeline) processPayment(ctx context.Context, raw *entities.RawWebhookEvent) (string, *string) {
	event, err := entities.DecodePaymentEvent(raw.Payload)
	if err != nil || event.ProviderRef == "" && event.OrderID == "" {
		return entities.WebhookOutcomeUnrecognized, nil
	}

	if !p.verifier.VerifySignature(raw.Payload, event.Signature) {
		return entities.WebhookOutcomeSignatureFailed, nil
	}

	providerRef := event.ProviderRef
	if providerRef == "" {
		providerRef = event.OrderID
	}

	payment, err := p.payments.GetByProviderRef(ctx, providerRef)
	if err != nil {
		if domainerrors.IsNotFound(err) {
			return entities.WebhookOutcomeUnknownAccount, nil
		}
		return entities.WebhookOutcomeError, failureOf(err)
	}

	if payment.Status.IsTerminal() {
		return entities.WebhookOutcomeDuplicate, nil
	}

	status, err := entities.StatusFromProviderCode(event.Status)
	if err != nil {
		return entities.WebhookOutcomeUnrecognized, nil
	}

	return p.applyPaymentStatus(ctx, payment, status)
}

// applyPaymentStatus moves a payment to the reported status. Refunds for
// failed debit-funded payments happen before the status write so a crash
// between the two re-runs the refund (a locked no-op) rather than losing
// it.
func (p *Pipeline) applyPaymentStatus(ctx context.Context, payment *entities.Payment, status entities.PaymentStatus) (string, *string) {
	switch status {
	case entities.PaymentStatusPending:
		return entities.WebhookOutcomeApplied, nil

	case entities.PaymentStatusCompleted:
		if payment.Kind == entities.PaymentKindDeposit {
			_, err := p.ledger.Credit(ctx, ledger.CreditRequest{
				AccountID: payment.AccountID,
				UserID:    payment.UserID,
				Kind:      entities.TransactionKindDeposit,
				Amount:    payment.Amount,
				Currency:  payment.Currency,
				Reference: "payment:" + payment.ProviderRef,
			})
			if err != nil && !domainerrors.IsConsistency(err) {
				return entities.WebhookOutcomeError, failureOf(err)
			}
		}

	case entities.PaymentStatusFailed, entities.PaymentStatusCancelled:
		if payment.Kind != entities.PaymentKindDeposit {
			_, err := p.ledger.RefundPayment(ctx, ledger.RefundRequest{
				PaymentID: payment.ID,
				Reason:    "provider reported " + string(status),
			})
			if err != nil && !domainerrors.IsConsistency(err) {
				return entities.WebhookOutcomeError, failureOf(err)
			}
		}
	}

	if err := p.payments.UpdateStatus(ctx, payment.ID, status); err != nil {
		return entities.WebhookOutcomeError, failureOf(err)
	}

	return entities.WebhookOutcomeApplied, nil
}

func failureOf(err error) *string {
	msg := err.Error()
	return &msg
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
