package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ssgreg/repeat"

	"github.com/powerpool/powerindex-keeper/internal/logger"
	"github.com/powerpool/powerindex-keeper/internal/utils"
)

var httpLogger = logger.GetForComponent("oracle_http")

const (
	DefaultTimeout  = 10 * time.Second
	DefaultMaxTries = 3
)

type assetResponse struct {
	Price       string `json:"price"`
	TotalSupply string `json:"total_supply"`
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

type rateResponse struct {
	Rate string `json:"rate"`
}

// HTTP reads asset data from a JSON price service:
//
//	GET {base}/assets/{asset}                    -> {"price": "1.25", "total_supply": "1000000"}
//	GET {base}/assets/{asset}/balances/{holder}  -> {"balance": "42"}
//	GET {base}/rates/{from}/{to}                 -> {"rate": "1850.5"}
type HTTP struct {
	baseURL  string
	client   *http.Client
	maxTries int
	// BaseDelay of the retry backoff; tests shorten it.
	BaseDelay time.Duration
}

func NewHTTP(baseURL string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTP{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: timeout},
		maxTries:  DefaultMaxTries,
		BaseDelay: 500 * time.Millisecond,
	}
}

// get fetches url into out, retrying transport failures and 5xx answers.
func (h *HTTP) get(ctx context.Context, url string, out any) error {
	return repeat.Repeat(
		repeat.Fn(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrUnavailable, err)
			}
			resp, err := h.client.Do(req)
			if err != nil {
				return repeat.HintTemporary(fmt.Errorf("%w: %w", ErrUnavailable, err))
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusNotFound:
				return fmt.Errorf("%w: %s", ErrUnknownAsset, url)
			case resp.StatusCode >= http.StatusInternalServerError:
				return repeat.HintTemporary(fmt.Errorf("%w: %s returned %d", ErrUnavailable, url, resp.StatusCode))
			case resp.StatusCode != http.StatusOK:
				return fmt.Errorf("%w: %s returned %d", ErrUnavailable, url, resp.StatusCode)
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("%w: decoding %s: %w", ErrUnavailable, url, err)
			}
			return nil
		}),
		repeat.StopOnSuccess(),
		repeat.LimitMaxTries(h.maxTries),
		repeat.FnOnError(func(err error) error {
			httpLogger.Warn().Err(err).Str("url", url).Msg("Oracle request failed")
			return err
		}),
		repeat.WithDelay(
			repeat.SetContextHintStop(),
			(&repeat.FullJitterBackoffBuilder{
				BaseDelay: h.BaseDelay,
				MaxDelay:  4 * h.BaseDelay,
			}).Set(),
		),
	)
}

func (h *HTTP) asset(ctx context.Context, asset common.Address) (assetResponse, error) {
	var r assetResponse
	err := h.get(ctx, fmt.Sprintf("%s/assets/%s", h.baseURL, asset.Hex()), &r)
	return r, err
}

func (h *HTTP) Price(ctx context.Context, asset common.Address) (sdkmath.LegacyDec, error) {
	r, err := h.asset(ctx, asset)
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	price, err := utils.ParseDec(r.Price)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %w", ErrBadPrice, err)
	}
	return price, nil
}

func (h *HTTP) TotalSupply(ctx context.Context, asset common.Address) (sdkmath.Int, error) {
	r, err := h.asset(ctx, asset)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return utils.ParseInt(r.TotalSupply)
}

func (h *HTTP) BalanceOf(ctx context.Context, asset, holder common.Address) (sdkmath.Int, error) {
	var r balanceResponse
	if err := h.get(ctx, fmt.Sprintf("%s/assets/%s/balances/%s", h.baseURL, asset.Hex(), holder.Hex()), &r); err != nil {
		return sdkmath.Int{}, err
	}
	return utils.ParseInt(r.Balance)
}

func (h *HTTP) Rate(ctx context.Context, from, to string) (sdkmath.LegacyDec, error) {
	if from == to {
		return sdkmath.LegacyOneDec(), nil
	}
	var r rateResponse
	if err := h.get(ctx, fmt.Sprintf("%s/rates/%s/%s", h.baseURL, from, to), &r); err != nil {
		return sdkmath.LegacyDec{}, err
	}
	rate, err := utils.ParseDec(r.Rate)
	if err != nil || !rate.IsPositive() {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: rate %s->%s %q", ErrBadPrice, from, to, r.Rate)
	}
	return rate, nil
}
