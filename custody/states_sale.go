package custody

import (
	"context"

	"github.com/icpgeeks/iicustody/ledger"
	"github.com/icpgeeks/iicustody/rewards"
)

// transitAccount is the custodian-owned sub-account staging this identity's
// sale proceeds.
func transitAccount(identityNumber uint64) ledger.Account {
	return ledger.Account{Subaccount: ledger.TransitSubaccount(identityNumber)}
}

// acceptTransferToTransit pulls the sale price out of the buyer's
// pre-authorized allowance into the transit account. A retry that finds the
// transit already funded treats the transfer as done, so a lost confirmation
// cannot double-charge the buyer.
func (c *Controller) acceptTransferToTransit(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	deal := st.Holding.SaleDeal
	transit := transitAccount(st.IdentityNumber)

	bal, err := c.ledger.Balance(ctx, transit)
	if err != nil {
		return nil, err
	}
	if bal >= deal.AcceptPrice {
		return EventSaleAmountInTransit{}, nil
	}

	from := ledger.Account{Owner: deal.Buyer}
	_, err = c.ledger.TransferFrom(ctx, from, transit, deal.AcceptPrice, c.cfg.TransferFee,
		saleMemo(st.IdentityNumber))
	if err != nil {
		// insufficient funds or allowance included: the buyer has until the
		// deal expires to fund the allowance, then cancellation refunds
		// whatever did arrive
		return nil, err
	}
	return EventSaleAmountInTransit{}, nil
}

func (c *Controller) acceptResolveReferralPayee(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	deal := st.Holding.SaleDeal
	if deal.Referrer.Empty() {
		return EventReferralPayeeResolved{}, nil
	}
	return EventReferralPayeeResolved{Payee: &ledger.Account{Owner: deal.Referrer}}, nil
}

// payRewardLeg pays one reward leg from the transit account, skipping it
// entirely when the remaining balance cannot cover the leg on top of the
// seller's reserved share. Skipping is deliberate: a partially funded deal
// still settles, with the shortfall landing on the legs, never the seller.
func (c *Controller) payRewardLeg(ctx context.Context, st CustodyInfo, payee *ledger.Account, bp uint64) (uint64, error) {
	deal := st.Holding.SaleDeal

	target := rewards.RewardAmount(deal.AcceptPrice, bp)
	if payee == nil || payee.Owner.Empty() || target == 0 {
		return 0, nil
	}

	transit := transitAccount(st.IdentityNumber)
	bal, err := c.ledger.Balance(ctx, transit)
	if err != nil {
		return 0, err
	}

	sellerAmount := rewards.SellerAmount(deal.AcceptPrice, c.cfg.Rewards)
	if !rewards.LegAuthorized(bal, sellerAmount, c.cfg.TransferFee, target) {
		log.Warnw("skipping unauthorized reward leg",
			"payee", payee.Owner, "target", target, "balance", bal)
		return 0, nil
	}

	_, err = c.ledger.Transfer(ctx, transit.Subaccount, *payee, target, c.cfg.TransferFee,
		saleMemo(st.IdentityNumber))
	if err != nil {
		return 0, err
	}
	return target, nil
}

func (c *Controller) acceptPayReferral(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	paid, err := c.payRewardLeg(ctx, st, st.Holding.SaleDeal.ReferralPayee, c.cfg.Rewards.ReferralBp)
	if err != nil {
		return nil, err
	}
	return EventReferralRewardPaid{Amount: paid}, nil
}

func (c *Controller) acceptPayDeveloper(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	paid, err := c.payRewardLeg(ctx, st, &c.cfg.DeveloperAccount, c.cfg.Rewards.DeveloperBp)
	if err != nil {
		return nil, err
	}
	return EventDeveloperRewardPaid{Amount: paid}, nil
}

func (c *Controller) acceptPayHub(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	paid, err := c.payRewardLeg(ctx, st, &c.cfg.HubAccount, c.cfg.Rewards.HubBp)
	if err != nil {
		return nil, err
	}
	return EventHubRewardPaid{Amount: paid}, nil
}

// acceptTransferToSeller sweeps the transit remainder to the seller and
// completes the sale. An empty transit on retry means an earlier attempt
// already swept it.
func (c *Controller) acceptTransferToSeller(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	transit := transitAccount(st.IdentityNumber)

	bal, err := c.ledger.Balance(ctx, transit)
	if err != nil {
		return nil, err
	}
	if bal == 0 {
		log.Warnw("transit already swept, completing sale", "identity", st.IdentityNumber)
		return EventSaleCompleted{}, nil
	}

	payout := rewards.SellerPayout(bal, c.cfg.TransferFee)
	seller := ledger.Account{Owner: st.Owner}
	if _, err := c.ledger.Transfer(ctx, transit.Subaccount, seller, payout, c.cfg.TransferFee,
		saleMemo(st.IdentityNumber)); err != nil {
		return nil, err
	}
	return EventSaleCompleted{SellerAmount: payout}, nil
}

// cancelStart decides whether the buyer is owed a refund: only funds that
// actually reached the transit account go back.
func (c *Controller) cancelStart(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	bal, err := c.ledger.Balance(ctx, transitAccount(st.IdentityNumber))
	if err != nil {
		return nil, err
	}
	if bal == 0 {
		return EventRefundNotRequired{}, nil
	}
	return EventRefundRequired{}, nil
}

func (c *Controller) cancelRefundBuyer(ctx context.Context, st CustodyInfo) (custodyEvent, error) {
	deal := st.Holding.Cancel.Deal
	transit := transitAccount(st.IdentityNumber)

	bal, err := c.ledger.Balance(ctx, transit)
	if err != nil {
		return nil, err
	}
	if bal == 0 {
		return EventBuyerRefunded{}, nil
	}

	refund := rewards.SellerPayout(bal, c.cfg.TransferFee)
	buyer := ledger.Account{Owner: deal.Buyer}
	if _, err := c.ledger.Transfer(ctx, transit.Subaccount, buyer, refund, c.cfg.TransferFee,
		saleMemo(st.IdentityNumber)); err != nil {
		return nil, err
	}
	return EventBuyerRefunded{Amount: refund}, nil
}

func saleMemo(identityNumber uint64) []byte {
	return ledger.TransitSubaccount(identityNumber)[:8]
}
