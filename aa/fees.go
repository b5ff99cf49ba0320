package aa

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/skylenet/aa-benchmark/client"
	"github.com/skylenet/aa-benchmark/userop"
)

// FeeSource supplies maxFeePerGas and maxPriorityFeePerGas.
type FeeSource interface {
	GasPrice(ctx context.Context) (*userop.GasPrice, error)
}

// FeeSourceFunc adapts a function to FeeSource.
type FeeSourceFunc func(ctx context.Context) (*userop.GasPrice, error)

// GasPrice implements FeeSource.
func (f FeeSourceFunc) GasPrice(ctx context.Context) (*userop.GasPrice, error) {
	return f(ctx)
}

// ZeroFees prices operations at zero. Relays that sponsor natively (such as
// UltraRelay) require zero fees.
func ZeroFees() FeeSource {
	return FeeSourceFunc(func(context.Context) (*userop.GasPrice, error) {
		return &userop.GasPrice{
			MaxFeePerGas:         (*hexutil.Big)(new(big.Int)),
			MaxPriorityFeePerGas: (*hexutil.Big)(new(big.Int)),
		}, nil
	})
}

// Fee tiers of the vendor gas price methods.
const (
	TierSlow     = "slow"
	TierStandard = "standard"
	TierFast     = "fast"
)

// TieredFees reads a tier from a vendor method returning slow/standard/fast
// prices, e.g. pimlico_getUserOperationGasPrice.
func TieredFees(bundler client.Bundler, method, tier string) FeeSource {
	return FeeSourceFunc(func(ctx context.Context) (*userop.GasPrice, error) {
		var tiers userop.TieredGasPrice
		if err := bundler.Call(ctx, &tiers, method); err != nil {
			return nil, err
		}

		var price userop.GasPrice
		switch tier {
		case TierSlow:
			price = tiers.Slow
		case TierStandard:
			price = tiers.Standard
		case TierFast:
			price = tiers.Fast
		default:
			return nil, fmt.Errorf("unknown fee tier %q", tier)
		}

		if price.MaxFeePerGas == nil || price.MaxPriorityFeePerGas == nil {
			return nil, fmt.Errorf("%s returned no %s tier", method, tier)
		}
		return &price, nil
	})
}

// FlatFees reads a vendor method returning a single fee pair, e.g.
// thirdweb_getUserOperationGasPrice.
func FlatFees(bundler client.Bundler, method string) FeeSource {
	return FeeSourceFunc(func(ctx context.Context) (*userop.GasPrice, error) {
		var price userop.GasPrice
		if err := bundler.Call(ctx, &price, method); err != nil {
			return nil, err
		}
		if price.MaxFeePerGas == nil || price.MaxPriorityFeePerGas == nil {
			return nil, fmt.Errorf("%s returned an incomplete fee pair", method)
		}
		return &price, nil
	})
}
