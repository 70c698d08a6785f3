package pool

import "github.com/powerpool/powerindex-keeper/internal/errs"

var (
	ErrNotController  = errs.New(errs.Admission, "NOT_CONTROLLER", "caller is not the pool controller")
	ErrIsFinalized    = errs.New(errs.Admission, "IS_FINALIZED", "pool is finalized")
	ErrNotFinalized   = errs.New(errs.Admission, "NOT_FINALIZED", "pool is not finalized")
	ErrNotBound       = errs.New(errs.Admission, "NOT_BOUND", "asset is not bound")
	ErrIsBound        = errs.New(errs.Admission, "IS_BOUND", "asset is already bound")
	ErrNotAllowed     = errs.New(errs.Admission, "NOT_ALLOWED", "actor is not allowed to trade or transfer shares")
	ErrVotingDenied   = errs.New(errs.Admission, "VOTING_DENIED", "voting target is not allowed")
	ErrNoRestrictions = errs.New(errs.Admission, "NO_RESTRICTIONS", "pool has no restriction policy")

	ErrMaxTokens         = errs.New(errs.Bound, "MAX_TOKENS", "too many bound assets")
	ErrMinTokens         = errs.New(errs.Bound, "MIN_TOKENS", "not enough bound assets")
	ErrMinWeight         = errs.New(errs.Bound, "MIN_WEIGHT", "weight below minimum")
	ErrMaxWeight         = errs.New(errs.Bound, "MAX_WEIGHT", "weight above maximum")
	ErrMaxTotalWeight    = errs.New(errs.Bound, "MAX_TOTAL_WEIGHT", "total weight above maximum")
	ErrTotalWeight       = errs.New(errs.Bound, "TOTAL_WEIGHT", "total weight is not normalized")
	ErrMinBalance        = errs.New(errs.Bound, "MIN_BALANCE", "balance below minimum")
	ErrFee               = errs.New(errs.Bound, "FEE", "fee out of range")
	ErrRateTooHigh       = errs.New(errs.Bound, "MAX_WEIGHT_PER_SECOND", "weight change rate above the asset bound")
	ErrRateTooLow        = errs.New(errs.Bound, "MIN_WEIGHT_PER_SECOND", "weight change rate below the asset bound")
	ErrRateBounds        = errs.New(errs.Bound, "WEIGHT_PER_SECOND_BOUNDS", "invalid weight-per-second bounds")
	ErrMaxInRatio        = errs.New(errs.Bound, "MAX_IN_RATIO", "amount in exceeds the max in ratio")
	ErrMaxOutRatio       = errs.New(errs.Bound, "MAX_OUT_RATIO", "amount out exceeds the max out ratio")
	ErrLimitIn           = errs.New(errs.Bound, "LIMIT_IN", "amount in above the caller limit")
	ErrLimitOut          = errs.New(errs.Bound, "LIMIT_OUT", "amount out below the caller limit")
	ErrLimitPrice        = errs.New(errs.Bound, "LIMIT_PRICE", "spot price after the swap above the caller limit")
	ErrBadLimitPrice     = errs.New(errs.Bound, "BAD_LIMIT_PRICE", "spot price before the swap above the caller limit")
	ErrMaxTotalSupply    = errs.New(errs.Bound, "MAX_TOTAL_SUPPLY", "pool share supply cap reached")
	ErrSameAsset         = errs.New(errs.Bound, "SAME_ASSET", "cannot swap an asset for itself")
	ErrLengthMismatch    = errs.New(errs.Bound, "LENGTH_MISMATCH", "limit list does not match bound assets")
	ErrDuplicateAsset    = errs.New(errs.Bound, "DUPLICATE_ASSET", "asset listed more than once")
	ErrZeroReceiver      = errs.New(errs.Bound, "ZERO_RECEIVER", "community fees need a receiver")
	ErrScheduleWindow    = errs.New(errs.Window, "SCHEDULE_WINDOW", "schedule start must be before its end")
	ErrScheduleInPast    = errs.New(errs.Window, "SCHEDULE_IN_PAST", "schedule cannot start in the past")
	ErrInsufficientShare = errs.New(errs.Exhaustion, "INSUFFICIENT_SHARES", "not enough pool shares")
	ErrMathApprox        = errs.New(errs.Arithmetic, "MATH_APPROX", "trade math produced an unusable result")
)
