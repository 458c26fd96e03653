package paypal

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/plutov/paypal/v4"
	"github.com/shopspring/decimal"

	"github.com/sokoni/payouts/internal/transfer"
)

// Provider sends payouts through the PayPal Payouts API. Each settlement is
// submitted as a single-item payout batch whose sender batch id is the
// settlement's idempotency key, so a resubmitted request cannot pay twice.
type Provider struct {
	client *paypal.Client
}

// New creates and authenticates a PayPal payout provider. live selects the
// production API base; everything else uses the sandbox.
func New(clientID, secret string, live bool) (*Provider, error) {
	base := paypal.APIBaseSandBox
	if live {
		base = paypal.APIBaseLive
	}

	client, err := paypal.NewClient(clientID, secret, base)
	if err != nil {
		return nil, fmt.Errorf("create paypal client: %w", err)
	}

	if _, err := client.GetAccessToken(context.Background()); err != nil {
		return nil, fmt.Errorf("get paypal access token: %w", err)
	}

	log.Printf("[transfer] paypal provider initialized (live=%v)", live)
	return &Provider{client: client}, nil
}

func (p *Provider) Name() string { return "paypal" }

func (p *Provider) CreateTransfer(req transfer.Request) (*transfer.Result, error) {
	payout := paypal.Payout{
		SenderBatchHeader: &paypal.SenderBatchHeader{
			SenderBatchID: req.IdempotencyKey,
			EmailSubject:  "You have received a payout",
		},
		Items: []paypal.PayoutItem{
			{
				RecipientType: "EMAIL",
				Receiver:      req.AccountRef,
				Amount: &paypal.AmountPayout{
					Currency: strings.ToUpper(req.Currency),
					Value:    minorUnitsToValue(req.Amount),
				},
				Note:         fmt.Sprintf("Payout for order %s", req.OrderID),
				SenderItemID: req.SettlementID,
			},
		},
	}

	res, err := p.client.CreatePayout(context.Background(), payout)
	if err != nil {
		return nil, fmt.Errorf("create paypal payout: %w", err)
	}
	if res.BatchHeader == nil || res.BatchHeader.PayoutBatchID == "" {
		return nil, fmt.Errorf("paypal payout for settlement %s returned no batch id", req.SettlementID)
	}

	return &transfer.Result{
		TransferRef: res.BatchHeader.PayoutBatchID,
		Status:      strings.ToLower(res.BatchHeader.BatchStatus),
	}, nil
}

// minorUnitsToValue renders minor currency units as the decimal string the
// PayPal API expects. Assumes two-decimal currencies.
func minorUnitsToValue(amount int64) string {
	return decimal.New(amount, -2).StringFixed(2)
}
