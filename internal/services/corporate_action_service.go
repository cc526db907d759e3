package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	apperrors "github.com/gainy-app/gainy-compute-sub000/internal/errors"
	"github.com/gainy-app/gainy-compute-sub000/internal/locking"
	"github.com/gainy-app/gainy-compute-sub000/internal/logger"
	"github.com/gainy-app/gainy-compute-sub000/internal/models"
)

// corporateActionTypes are the broker transaction types distributed to funds.
var corporateActionTypes = []models.BrokerTransactionType{
	models.BrokerTransactionDividend,
	models.BrokerTransactionDividendTax,
	models.BrokerTransactionDividendNRA,
	models.BrokerTransactionSpinoff,
	models.BrokerTransactionMergerAcquisition,
}

// corporateActionService distributes dividends, spin-offs and mergers across
// the funds holding the affected symbol.
type corporateActionService struct {
	locks      *locking.Manager
	portfolios PortfolioServicer
	orders     OrderServicer
	maxTries   int
}

// NewCorporateActionService creates a new CorporateActionServicer.
func NewCorporateActionService(locks *locking.Manager, portfolios PortfolioServicer, orders OrderServicer, maxTries int) CorporateActionServicer {
	return &corporateActionService{locks: locks, portfolios: portfolios, orders: orders, maxTries: maxTries}
}

// IngestTransactions stores broker transactions. Transactions already stored
// under the same ref are left untouched. It returns the number inserted.
func (s *corporateActionService) IngestTransactions(ctx context.Context, txs []models.BrokerTransaction) (int64, error) {
	if len(txs) == 0 {
		return 0, nil
	}
	res := s.locks.DB().WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "ref_id"}}, DoNothing: true}).
		Create(&txs)
	if res.Error != nil {
		return 0, apperrors.Wrap(apperrors.ErrInternalServer, res.Error)
	}
	return res.RowsAffected, nil
}

// ProcessAll processes corporate actions for every portfolio.
func (s *corporateActionService) ProcessAll(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	result := newRunResult("corporate-actions")

	var portfolios []models.Portfolio
	if err := s.locks.DB().WithContext(ctx).Order("id").Find(&portfolios).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	for i := range portfolios {
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			return result, err
		}
		p := &portfolios[i]
		adjustments, err := s.ProcessPortfolio(ctx, p)
		switch {
		case err != nil:
			logger.Get().Errorw("Failed to process corporate actions",
				"portfolio_id", p.ID,
				"error", err,
			)
			result.fail(p.ID, err)
		case len(adjustments) == 0:
			result.Skipped++
		default:
			result.Processed++
		}
	}

	result.Duration = time.Since(start)
	logger.Get().Infow("Corporate action run finished",
		"processed", result.Processed,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"duration", result.Duration,
	)
	return result, nil
}

// corporateActionPlan is one adjustment prepared outside the lock.
type corporateActionPlan struct {
	adjustment models.CorporateActionAdjustment
	order      models.TradingOrder
	txIDs      []int64
}

// ProcessPortfolio turns the account's unlinked corporate action transactions
// into adjustments and CORPORATE_ACTION orders. Transactions are linked to
// their adjustment in the same commit, so each is processed at most once.
func (s *corporateActionService) ProcessPortfolio(ctx context.Context, portfolio *models.Portfolio) ([]models.CorporateActionAdjustment, error) {
	plans, err := locking.WithOptimisticLock(ctx, s.locks, locking.OptimisticTx[*models.Portfolio, []*corporateActionPlan]{
		Load: func(_ context.Context, db *gorm.DB) (*models.Portfolio, error) {
			var p models.Portfolio
			if err := db.First(&p, portfolio.ID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return nil, apperrors.ErrPortfolioNotFound
				}
				return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
			}
			return &p, nil
		},
		Prepare: s.prepare,
		Persist: func(_ context.Context, tx *gorm.DB, p *models.Portfolio) error {
			return updateVersion(tx, p)
		},
		Commit: s.commit,
	}, s.maxTries)
	if err != nil {
		return nil, err
	}

	adjustments := make([]models.CorporateActionAdjustment, 0, len(plans))
	for _, plan := range plans {
		adjustments = append(adjustments, plan.adjustment)
	}
	return adjustments, nil
}

func (s *corporateActionService) prepare(ctx context.Context, db *gorm.DB, p *models.Portfolio) ([]*corporateActionPlan, error) {
	var txs []models.BrokerTransaction
	if err := db.Where("broker_account_id = ? AND type IN ?", p.BrokerAccountID, corporateActionTypes).
		Order("id").Find(&txs).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	txs, err := filterLinked(db, txs)
	if err != nil || len(txs) == 0 {
		return nil, err
	}

	status, err := s.portfolios.LatestStatus(ctx, db, p.ID)
	if errors.Is(err, apperrors.ErrNotFound) {
		logger.Get().Warnw("No portfolio status to distribute corporate actions against",
			"portfolio_id", p.ID,
			"transactions", len(txs),
		)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var funds []models.Fund
	if err := db.Where("portfolio_id = ? AND ref_id IS NOT NULL", p.ID).Order("id").Find(&funds).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}

	return distributeCorporateActions(p, groupCorporateActions(txs), funds, status), nil
}

func (s *corporateActionService) commit(ctx context.Context, tx *gorm.DB, _ *models.Portfolio, plans []*corporateActionPlan) error {
	for _, plan := range plans {
		order, err := s.orders.CreateOrder(ctx, tx, &plan.order)
		if err != nil {
			return err
		}
		plan.adjustment.TradingOrderID = &order.ID
		if err := tx.Create(&plan.adjustment).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}

		links := make([]models.CorporateActionTransactionLink, 0, len(plan.txIDs))
		for _, id := range plan.txIDs {
			links = append(links, models.CorporateActionTransactionLink{
				CorporateActionAdjustmentID: plan.adjustment.ID,
				BrokerTransactionID:         id,
			})
		}
		if err := tx.Create(&links).Error; err != nil {
			return apperrors.Wrap(apperrors.ErrInternalServer, err)
		}
	}
	return nil
}

// filterLinked drops transactions that already produced an adjustment.
func filterLinked(db *gorm.DB, txs []models.BrokerTransaction) ([]models.BrokerTransaction, error) {
	if len(txs) == 0 {
		return txs, nil
	}
	ids := make([]int64, len(txs))
	for i, t := range txs {
		ids[i] = t.ID
	}

	var linked []int64
	if err := db.Model(&models.CorporateActionTransactionLink{}).
		Where("broker_transaction_id IN ?", ids).
		Pluck("broker_transaction_id", &linked).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInternalServer, err)
	}
	seen := make(map[int64]bool, len(linked))
	for _, id := range linked {
		seen[id] = true
	}

	out := txs[:0]
	for _, t := range txs {
		if !seen[t.ID] {
			out = append(out, t)
		}
	}
	return out, nil
}

type corporateActionKey struct {
	fromSymbol string
	toSymbol   string
	symbol     string
}

// basisSymbol is the symbol whose holdings decide each fund's share.
func (k corporateActionKey) basisSymbol() string {
	if k.fromSymbol != "" {
		return k.fromSymbol
	}
	return k.symbol
}

type corporateActionGroup struct {
	key    corporateActionKey
	types  []models.BrokerTransactionType
	amount decimal.Decimal
	txIDs  []int64
}

// groupCorporateActions groups dividends by symbol and spin-offs and mergers
// by (from symbol, to symbol, symbol), in order of first appearance.
func groupCorporateActions(txs []models.BrokerTransaction) []*corporateActionGroup {
	byKey := make(map[corporateActionKey]*corporateActionGroup)
	var groups []*corporateActionGroup

	for _, t := range txs {
		key := corporateActionKey{symbol: t.Symbol}
		if t.Type.IsSpinoff() {
			if t.FromSymbol != nil {
				key.fromSymbol = *t.FromSymbol
			}
			if t.ToSymbol != nil {
				key.toSymbol = *t.ToSymbol
			}
		}

		g, ok := byKey[key]
		if !ok {
			g = &corporateActionGroup{key: key, amount: decimal.Zero}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.amount = g.amount.Add(t.Amount)
		g.txIDs = append(g.txIDs, t.ID)
		if !containsType(g.types, t.Type) {
			g.types = append(g.types, t.Type)
		}
	}
	return groups
}

func containsType(types []models.BrokerTransactionType, t models.BrokerTransactionType) bool {
	for _, existing := range types {
		if existing == t {
			return true
		}
	}
	return false
}

// splitAmount divides amount in proportion to the positive values, rounding
// each share to cents. The rounding residual goes to the largest share so the
// shares add up to the rounded amount.
func splitAmount(amount decimal.Decimal, values []decimal.Decimal, total decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(values))
	rest := amount.Round(2)
	largest := -1
	for i, v := range values {
		if !v.IsPositive() {
			continue
		}
		shares[i] = amount.Mul(v).Div(total).Round(2)
		rest = rest.Sub(shares[i])
		if largest < 0 || shares[i].Abs().GreaterThan(shares[largest].Abs()) {
			largest = i
		}
	}
	if largest >= 0 {
		shares[largest] = shares[largest].Add(rest)
	}
	return shares
}

// distributeCorporateActions splits each group's amount across funds in
// proportion to the value of the basis symbol they hold, producing one plan
// per (fund, symbol). Groups no fund holds are left unlinked.
func distributeCorporateActions(p *models.Portfolio, groups []*corporateActionGroup, funds []models.Fund, status *models.PortfolioStatus) []*corporateActionPlan {
	type planKey struct {
		fundID int64
		symbol string
	}
	byKey := make(map[planKey]*corporateActionPlan)
	var plans []*corporateActionPlan

	for _, g := range groups {
		basis := g.key.basisSymbol()
		values := make([]decimal.Decimal, len(funds))
		total := decimal.Zero
		for i := range funds {
			values[i] = status.Fund(funds[i].Ref()).SymbolValue(basis)
			if values[i].IsPositive() {
				total = total.Add(values[i])
			}
		}
		if !total.IsPositive() {
			logger.Get().Warnw("No fund holds the corporate action symbol, leaving it unlinked",
				"portfolio_id", p.ID,
				"symbol", basis,
				"transactions", g.txIDs,
			)
			continue
		}

		shares := splitAmount(g.amount, values, total)
		for i := range funds {
			if !values[i].IsPositive() {
				continue
			}
			fund := &funds[i]
			share := shares[i]

			key := planKey{fundID: fund.ID, symbol: g.key.symbol}
			plan, ok := byKey[key]
			if !ok {
				plan = &corporateActionPlan{
					adjustment: models.CorporateActionAdjustment{
						ProfileID:    p.ProfileID,
						FundID:       fund.ID,
						CollectionID: fund.CollectionID,
						Symbol:       g.key.symbol,
						Amount:       decimal.Zero,
					},
					order: models.TradingOrder{
						ProfileID:    p.ProfileID,
						CollectionID: fund.CollectionID,
						Symbol:       fund.Symbol,
						Status:       models.TradingOrderStatusPending,
						Source:       models.TradingOrderSourceCorporateAction,
					},
				}
				byKey[key] = plan
				plans = append(plans, plan)
			}
			plan.adjustment.Amount = plan.adjustment.Amount.Add(share)
			plan.txIDs = append(plan.txIDs, g.txIDs...)
			plan.order.Note = fmt.Sprintf("corporate action %v %s", g.types, g.key.symbol)
		}
	}

	for _, plan := range plans {
		plan.order.TargetAmountDelta = plan.adjustment.Amount
		slices.Sort(plan.txIDs)
		plan.txIDs = slices.Compact(plan.txIDs)
	}
	return plans
}

