// Package engine implements the position and funding accounting core:
// skew-based pricing, the funding settlement protocol, the open/close
// position lifecycle, and read-only status projections.
//
// Every operation is a synchronous state transition. Records are fetched
// from the store, mutated as independent copies, and persisted atomically
// only when the whole operation succeeded; the first error aborts with no
// partial state visible. The engine performs no locking of its own: the
// caller serializes concurrent mutations per account and per market.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"SynthPerp/internal/event"
	"SynthPerp/internal/fpmath"
	"SynthPerp/internal/observability"
	"SynthPerp/internal/oracle"
)

// Deps carries the engine's collaborators. Store, Oracle and Clock are
// required; Publisher and Metrics may be nil.
type Deps struct {
	Store     Store
	Oracle    oracle.Resolver
	Clock     Clock
	Publisher Publisher
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
}

type Engine struct {
	store   Store
	oracle  oracle.Resolver
	clock   Clock
	pub     Publisher
	log     zerolog.Logger
	metrics *observability.Metrics
}

func New(deps Deps) *Engine {
	if deps.Clock == nil {
		deps.Clock = SystemClock()
	}
	return &Engine{
		store:   deps.Store,
		oracle:  deps.Oracle,
		clock:   deps.Clock,
		pub:     deps.Publisher,
		log:     deps.Logger,
		metrics: deps.Metrics,
	}
}

// Initialize creates the three markets and records the caller as admin.
// One-time; a second call fails with ErrAlreadyInitialized.
func (e *Engine) Initialize(ctx context.Context, caller uuid.UUID, feeds [AssetCount]oracle.FeedID) (err error) {
	defer e.finishOp("initialize", time.Now(), &err)

	for _, feed := range feeds {
		if feed == "" {
			return fmt.Errorf("%w: empty feed handle", ErrInvalidOracleAccount)
		}
	}

	now := e.clock.Now().Unix()
	markets := make([]*Market, 0, AssetCount)
	for _, asset := range Assets() {
		markets = append(markets, NewMarket(asset, feeds[asset], now))
	}

	if err := e.store.Initialize(ctx, caller, markets); err != nil {
		return err
	}

	e.log.Info().
		Str("admin", caller.String()).
		Int64("time", now).
		Msg("engine initialized")
	return nil
}

// CreateUserAccount creates an account with the starting balance and all
// position slots empty.
func (e *Engine) CreateUserAccount(ctx context.Context, owner uuid.UUID) (account *UserAccount, err error) {
	defer e.finishOp("create_user_account", time.Now(), &err)

	account = NewUserAccount(owner)
	if err := e.store.CreateAccount(ctx, account); err != nil {
		return nil, err
	}

	e.publish(event.AccountCreated{
		Owner:     owner,
		Balance:   account.Balance,
		Timestamp: e.clock.Now(),
	})
	e.log.Info().
		Str("owner", owner.String()).
		Int64("balance", account.Balance).
		Msg("user account created")
	return account, nil
}

// AdvanceFunding advances every market's global funding index. Admin-only.
// Markets whose funding interval has not yet elapsed are skipped; repeated
// calls within one interval are no-ops, so at-least-once retry is safe.
func (e *Engine) AdvanceFunding(ctx context.Context, caller uuid.UUID) (err error) {
	defer e.finishOp("advance_funding", time.Now(), &err)

	if err := e.requireAdmin(ctx, caller); err != nil {
		return err
	}

	markets, err := e.store.Markets(ctx)
	if err != nil {
		return err
	}

	now := e.clock.Now().Unix()
	var changed []*Market
	var advances []fundingAdvance
	for _, m := range markets {
		adv, ok, err := advanceMarketFunding(m, now)
		if err != nil {
			return err
		}
		if ok {
			changed = append(changed, m)
			advances = append(advances, adv)
		}
	}
	if len(changed) == 0 {
		e.log.Debug().Int64("time", now).Msg("no market due for funding")
		return nil
	}

	if err := e.store.Apply(ctx, changed, nil); err != nil {
		return err
	}

	for i, adv := range advances {
		e.observeMarket(changed[i])
		if e.metrics != nil {
			e.metrics.FundingAdvances.WithLabelValues(adv.asset.String()).Inc()
		}
		e.publish(event.FundingIndexAdvanced{
			Asset:       adv.asset.String(),
			FundingRate: adv.rate,
			IndexDelta:  adv.increment,
			GlobalIndex: adv.newIndex,
			ElapsedSecs: adv.elapsedSecs,
			Timestamp:   e.clock.Now(),
		})
		e.log.Info().
			Str("asset", adv.asset.String()).
			Int64("rate", adv.rate).
			Int64("increment", adv.increment).
			Int64("index", adv.newIndex).
			Msg("funding index advanced")
	}
	return nil
}

// SettleUserFunding reconciles all of a user's open positions against the
// current global funding indexes. Caller must be the owner.
func (e *Engine) SettleUserFunding(ctx context.Context, caller, owner uuid.UUID) (err error) {
	defer e.finishOp("settle_user_funding", time.Now(), &err)

	if err := requireOwner(caller, owner); err != nil {
		return err
	}

	account, err := e.store.Account(ctx, owner)
	if err != nil {
		return err
	}
	byAsset, err := e.marketsByAsset(ctx)
	if err != nil {
		return err
	}

	outcomes, err := settleAccountFunding(account, byAsset)
	if err != nil {
		return err
	}
	if len(outcomes) == 0 {
		return nil
	}

	if err := e.store.Apply(ctx, nil, []*UserAccount{account}); err != nil {
		return err
	}

	e.emitFunding(owner, outcomes)
	return nil
}

// OpenPosition opens a position for the owner. Accrued funding on every
// instrument is settled before any balance or slot mutation.
func (e *Engine) OpenPosition(ctx context.Context, caller, owner uuid.UUID, asset Asset, size, leverage int64, feed oracle.FeedID) (res OpenResult, err error) {
	defer e.finishOp("open_position", time.Now(), &err)

	if !asset.Valid() {
		return OpenResult{}, fmt.Errorf("%w: %d", ErrInvalidAssetType, asset)
	}
	if size == 0 || size == math.MinInt64 {
		return OpenResult{}, fmt.Errorf("%w: %d", ErrInvalidPositionSize, size)
	}
	if leverage < 1 || leverage > fpmath.MaxLeverage {
		return OpenResult{}, fmt.Errorf("%w: %d", ErrInvalidLeverage, leverage)
	}
	if err := requireOwner(caller, owner); err != nil {
		return OpenResult{}, err
	}

	account, err := e.store.Account(ctx, owner)
	if err != nil {
		return OpenResult{}, err
	}
	byAsset, err := e.marketsByAsset(ctx)
	if err != nil {
		return OpenResult{}, err
	}
	m := byAsset[asset]

	basePrice, err := e.resolvePrice(ctx, m, feed)
	if err != nil {
		return OpenResult{}, err
	}

	outcomes, err := settleAccountFunding(account, byAsset)
	if err != nil {
		return OpenResult{}, err
	}

	res, err = openPosition(account, m, size, leverage, basePrice)
	if err != nil {
		return OpenResult{}, err
	}

	if err := e.store.Apply(ctx, []*Market{m}, []*UserAccount{account}); err != nil {
		return OpenResult{}, err
	}

	e.emitFunding(owner, outcomes)
	e.observeMarket(m)
	e.publish(event.PositionOpened{
		Owner:      owner,
		Asset:      asset.String(),
		Size:       res.Size,
		Leverage:   res.Leverage,
		EntryPrice: res.EntryPrice,
		Margin:     res.Margin,
		Skew:       res.Skew,
		Timestamp:  e.clock.Now(),
	})
	e.log.Info().
		Str("owner", owner.String()).
		Str("asset", asset.String()).
		Int64("size", res.Size).
		Int64("leverage", res.Leverage).
		Int64("entry_price", res.EntryPrice).
		Int64("margin", res.Margin).
		Msg("position opened")
	return res, nil
}

// ClosePosition closes the owner's position on an instrument, realizing
// PnL. Accrued funding is settled first.
func (e *Engine) ClosePosition(ctx context.Context, caller, owner uuid.UUID, asset Asset, feed oracle.FeedID) (res CloseResult, err error) {
	defer e.finishOp("close_position", time.Now(), &err)

	if !asset.Valid() {
		return CloseResult{}, fmt.Errorf("%w: %d", ErrInvalidAssetType, asset)
	}
	if err := requireOwner(caller, owner); err != nil {
		return CloseResult{}, err
	}

	account, err := e.store.Account(ctx, owner)
	if err != nil {
		return CloseResult{}, err
	}
	byAsset, err := e.marketsByAsset(ctx)
	if err != nil {
		return CloseResult{}, err
	}
	m := byAsset[asset]

	basePrice, err := e.resolvePrice(ctx, m, feed)
	if err != nil {
		return CloseResult{}, err
	}

	outcomes, err := settleAccountFunding(account, byAsset)
	if err != nil {
		return CloseResult{}, err
	}

	res, err = closePosition(account, m, basePrice)
	if err != nil {
		return CloseResult{}, err
	}

	if err := e.store.Apply(ctx, []*Market{m}, []*UserAccount{account}); err != nil {
		return CloseResult{}, err
	}

	e.emitFunding(owner, outcomes)
	e.observeMarket(m)
	e.publish(event.PositionClosed{
		Owner:     owner,
		Asset:     asset.String(),
		Size:      res.Size,
		ExitPrice: res.ExitPrice,
		PnL:       res.PnL,
		Margin:    res.Margin,
		Skew:      res.Skew,
		Timestamp: e.clock.Now(),
	})
	e.log.Info().
		Str("owner", owner.String()).
		Str("asset", asset.String()).
		Int64("exit_price", res.ExitPrice).
		Int64("pnl", res.PnL).
		Msg("position closed")
	return res, nil
}

// UserStatus projects the owner's balance and all three position slots
// against fresh oracle prices. Read-only; nothing is persisted.
func (e *Engine) UserStatus(ctx context.Context, caller, owner uuid.UUID, feeds [AssetCount]oracle.FeedID) (snap UserSnapshot, err error) {
	defer e.finishOp("user_status", time.Now(), &err)

	if err := requireOwner(caller, owner); err != nil {
		return UserSnapshot{}, err
	}

	account, err := e.store.Account(ctx, owner)
	if err != nil {
		return UserSnapshot{}, err
	}
	byAsset, err := e.marketsByAsset(ctx)
	if err != nil {
		return UserSnapshot{}, err
	}

	snap = UserSnapshot{Owner: owner, Balance: account.Balance}
	for i, asset := range Assets() {
		m := byAsset[asset]
		price, err := e.resolvePrice(ctx, m, feeds[asset])
		if err != nil {
			return UserSnapshot{}, err
		}
		status, err := positionStatus(m, account.Position(asset), price)
		if err != nil {
			return UserSnapshot{}, err
		}
		snap.Positions[i] = status
	}
	return snap, nil
}

// MarketStatus projects all three markets against fresh oracle prices.
func (e *Engine) MarketStatus(ctx context.Context, feeds [AssetCount]oracle.FeedID) (snaps [AssetCount]MarketSnapshot, err error) {
	defer e.finishOp("market_status", time.Now(), &err)

	byAsset, err := e.marketsByAsset(ctx)
	if err != nil {
		return snaps, err
	}

	for i, asset := range Assets() {
		m := byAsset[asset]
		price, err := e.resolvePrice(ctx, m, feeds[asset])
		if err != nil {
			return [AssetCount]MarketSnapshot{}, err
		}
		snaps[i] = marketSnapshot(m, price)
	}
	return snaps, nil
}

// --- helpers ---

func (e *Engine) requireAdmin(ctx context.Context, caller uuid.UUID) error {
	admin, err := e.store.Admin(ctx)
	if err != nil {
		return err
	}
	if caller != admin {
		return fmt.Errorf("%w: caller %s is not admin", ErrUnauthorizedAccess, caller)
	}
	return nil
}

// requireOwner passes only when the caller is the account owner. The admin
// override exists solely for advancing funding, never for acting on a
// user's account.
func requireOwner(caller, owner uuid.UUID) error {
	if caller != owner {
		return fmt.Errorf("%w: caller %s does not own account %s", ErrUnauthorizedAccess, caller, owner)
	}
	return nil
}

// marketsByAsset fetches every market keyed by asset, failing if any of
// the three is missing.
func (e *Engine) marketsByAsset(ctx context.Context) (map[Asset]*Market, error) {
	markets, err := e.store.Markets(ctx)
	if err != nil {
		return nil, err
	}
	byAsset := make(map[Asset]*Market, AssetCount)
	for _, m := range markets {
		byAsset[m.Asset] = m
	}
	for _, asset := range Assets() {
		if _, ok := byAsset[asset]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, asset)
		}
	}
	return byAsset, nil
}

// resolvePrice verifies the caller-supplied feed handle against the
// market's registered feed, then resolves the current base price.
func (e *Engine) resolvePrice(ctx context.Context, m *Market, feed oracle.FeedID) (int64, error) {
	if feed != m.OracleFeed {
		return 0, fmt.Errorf("%w: feed %q does not match market %s", ErrInvalidOracleAccount, feed, m.Asset)
	}
	price, err := e.oracle.Price(ctx, feed)
	switch {
	case errors.Is(err, oracle.ErrUnknownFeed):
		return 0, fmt.Errorf("%w: %v", ErrInvalidOracleAccount, err)
	case errors.Is(err, oracle.ErrBadPrice):
		return 0, fmt.Errorf("%w: %v", ErrInvalidOraclePrice, err)
	case err != nil:
		return 0, err
	}
	return price, nil
}

func (e *Engine) publish(evt event.Event) {
	if e.pub == nil {
		return
	}
	e.pub.Publish(evt)
	if e.metrics != nil {
		e.metrics.EventsPublished.Inc()
	}
}

func (e *Engine) emitFunding(owner uuid.UUID, outcomes []fundingOutcome) {
	now := e.clock.Now()
	for _, out := range outcomes {
		if e.metrics != nil {
			label := out.asset.String()
			e.metrics.PositionsSettled.WithLabelValues(label).Inc()
			if out.paid > 0 {
				e.metrics.FundingPaid.WithLabelValues(label).Add(float64(out.paid))
			}
			if out.paid < 0 {
				e.metrics.FundingReceived.WithLabelValues(label).Add(float64(-out.paid))
			}
			if out.shortfall {
				e.metrics.FundingShortfalls.WithLabelValues(label).Inc()
			}
		}
		e.publish(event.FundingApplied{
			Owner:     owner,
			Asset:     out.asset.String(),
			Paid:      out.paid,
			Index:     out.index,
			Timestamp: now,
		})
	}
}

func (e *Engine) observeMarket(m *Market) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveMarket(m.Asset.String(), m.Skew, m.TotalLongSize, m.TotalShortSize, m.GlobalFundingIndex, m.FundingRate())
}

func (e *Engine) finishOp(op string, start time.Time, errp *error) {
	if e.metrics == nil {
		return
	}
	e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if *errp != nil {
		e.metrics.OpsRejected.WithLabelValues(op, reasonLabel(*errp)).Inc()
	} else {
		e.metrics.OpsApplied.WithLabelValues(op).Inc()
	}
}

func reasonLabel(err error) string {
	switch {
	case errors.Is(err, ErrUnauthorizedAccess):
		return "unauthorized"
	case errors.Is(err, ErrInvalidAssetType):
		return "invalid_asset"
	case errors.Is(err, ErrInvalidPositionSize):
		return "invalid_size"
	case errors.Is(err, ErrInvalidLeverage):
		return "invalid_leverage"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrPositionAlreadyExists):
		return "position_exists"
	case errors.Is(err, ErrNoPositionExists):
		return "no_position"
	case errors.Is(err, ErrInvalidOracleAccount):
		return "invalid_oracle_account"
	case errors.Is(err, ErrInvalidOraclePrice):
		return "invalid_oracle_price"
	case errors.Is(err, ErrMathOverflow):
		return "math_overflow"
	case errors.Is(err, ErrAlreadyInitialized):
		return "already_initialized"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, ErrAccountExists):
		return "account_exists"
	case errors.Is(err, ErrAccountNotFound):
		return "account_not_found"
	case errors.Is(err, ErrMarketNotFound):
		return "market_not_found"
	default:
		return "internal"
	}
}
