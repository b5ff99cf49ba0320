package aa

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/skylenet/aa-benchmark/client"
	"github.com/skylenet/aa-benchmark/userop"
)

// Sponsor attaches paymaster data to an operation. It reports whether it also
// filled the gas limits, in which case no separate estimation is needed.
type Sponsor interface {
	Sponsor(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (bool, error)
}

// SponsorFunc adapts a function to Sponsor.
type SponsorFunc func(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (bool, error)

// Sponsor implements Sponsor.
func (f SponsorFunc) Sponsor(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (bool, error) {
	return f(ctx, op, entryPoint)
}

// NoSponsor leaves the operation unsponsored.
func NoSponsor() Sponsor {
	return SponsorFunc(func(context.Context, *userop.UserOperation, common.Address) (bool, error) {
		return false, nil
	})
}

// sponsorResult is the v0.7 paymaster response shared by pm_sponsorUserOperation
// and alchemy_requestGasAndPaymasterAndData.
type sponsorResult struct {
	Paymaster                     *common.Address `json:"paymaster"`
	PaymasterData                 hexutil.Bytes   `json:"paymasterData"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas"`
}

// apply copies the result onto op and reports whether gas limits were set.
func (r *sponsorResult) apply(op *userop.UserOperation) (bool, error) {
	if r.Paymaster == nil || *r.Paymaster == (common.Address{}) {
		return false, fmt.Errorf("paymaster response carries no paymaster")
	}

	paymaster := *r.Paymaster
	op.Paymaster = &paymaster
	op.PaymasterData = common.CopyBytes(r.PaymasterData)
	if r.PaymasterVerificationGasLimit != nil {
		op.PaymasterVerificationGasLimit = r.PaymasterVerificationGasLimit.ToInt()
	}
	if r.PaymasterPostOpGasLimit != nil {
		op.PaymasterPostOpGasLimit = r.PaymasterPostOpGasLimit.ToInt()
	}
	if r.MaxFeePerGas != nil && r.MaxPriorityFeePerGas != nil {
		op.MaxFeePerGas = r.MaxFeePerGas.ToInt()
		op.MaxPriorityFeePerGas = r.MaxPriorityFeePerGas.ToInt()
	}

	if r.CallGasLimit == nil || r.VerificationGasLimit == nil || r.PreVerificationGas == nil {
		return false, nil
	}

	op.CallGasLimit = r.CallGasLimit.ToInt()
	op.VerificationGasLimit = r.VerificationGasLimit.ToInt()
	op.PreVerificationGas = r.PreVerificationGas.ToInt()
	return true, nil
}

// PaymasterSponsor calls pm_sponsorUserOperation on the bundler endpoint.
// sponsorContext is passed as the third parameter when non-nil.
func PaymasterSponsor(bundler client.Bundler, sponsorContext any) Sponsor {
	return SponsorFunc(func(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (bool, error) {
		args := []any{op, entryPoint}
		if sponsorContext != nil {
			args = append(args, sponsorContext)
		}

		var result sponsorResult
		if err := bundler.Call(ctx, &result, "pm_sponsorUserOperation", args...); err != nil {
			return false, err
		}
		return result.apply(op)
	})
}

// alchemyPartialOperation is the operation shape accepted by the gas manager.
type alchemyPartialOperation struct {
	Sender      common.Address  `json:"sender"`
	Nonce       *hexutil.Big    `json:"nonce"`
	Factory     *common.Address `json:"factory,omitempty"`
	FactoryData *hexutil.Bytes  `json:"factoryData,omitempty"`
	CallData    hexutil.Bytes   `json:"callData"`
}

type alchemyGasAndPaymasterRequest struct {
	PolicyID       string                  `json:"policyId"`
	EntryPoint     common.Address          `json:"entryPoint"`
	DummySignature hexutil.Bytes           `json:"dummySignature"`
	UserOperation  alchemyPartialOperation `json:"userOperation"`
}

// AlchemyPolicySponsor calls alchemy_requestGasAndPaymasterAndData, which
// returns paymaster data, gas limits and fees in one round trip.
func AlchemyPolicySponsor(bundler client.Bundler, policyID string) Sponsor {
	return SponsorFunc(func(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (bool, error) {
		if policyID == "" {
			return false, fmt.Errorf("gas policy id is empty")
		}

		req := alchemyGasAndPaymasterRequest{
			PolicyID:       policyID,
			EntryPoint:     entryPoint,
			DummySignature: op.Signature,
			UserOperation: alchemyPartialOperation{
				Sender:   op.Sender,
				Nonce:    (*hexutil.Big)(op.Nonce),
				CallData: op.CallData,
			},
		}
		if op.HasFactory() {
			data := hexutil.Bytes(op.FactoryData)
			req.UserOperation.Factory = op.Factory
			req.UserOperation.FactoryData = &data
		}

		var result sponsorResult
		if err := bundler.Call(ctx, &result, "alchemy_requestGasAndPaymasterAndData", req); err != nil {
			return false, err
		}
		return result.apply(op)
	})
}
