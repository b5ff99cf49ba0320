package account

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/sirupsen/logrus"
	"github.com/skylenet/aa-benchmark/client"
	"github.com/skylenet/aa-benchmark/userop"
)

// Safe 1.4.1 and 4337 module v0.3.0 deployment addresses.
var (
	SafeProxyFactory = common.HexToAddress("0x4e1DCf7AD4e460CfD30791CCC4F9c8a4f820ec67")
	SafeSingletonL2  = common.HexToAddress("0x29fcB43b46531BcA003ddC8FCB67FFE91900C762")
	Safe4337Module   = common.HexToAddress("0x75cf11467937ce3F2f357CE24ffc3DBF8fD5c226")
	SafeModuleSetup  = common.HexToAddress("0x2dd68b007B46fBe91B9A7c3EDa5A7a1063cB5b47")
	SafeMultiSend    = common.HexToAddress("0x38869bf66a61cF6bDB996A6aE40D5853Fd43B526")
)

// Safe operation kinds.
const (
	safeOpCall         uint8 = 0
	safeOpDelegateCall uint8 = 1
)

// safeOpTypes is the EIP-712 schema verified by the 4337 module.
var safeOpTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"SafeOp": {
		{Name: "safe", Type: "address"},
		{Name: "nonce", Type: "uint256"},
		{Name: "initCode", Type: "bytes"},
		{Name: "callData", Type: "bytes"},
		{Name: "verificationGasLimit", Type: "uint128"},
		{Name: "callGasLimit", Type: "uint128"},
		{Name: "preVerificationGas", Type: "uint256"},
		{Name: "maxPriorityFeePerGas", Type: "uint128"},
		{Name: "maxFeePerGas", Type: "uint128"},
		{Name: "paymasterAndData", Type: "bytes"},
		{Name: "validAfter", Type: "uint48"},
		{Name: "validUntil", Type: "uint48"},
		{Name: "entryPoint", Type: "address"},
	},
}

// Safe is a single owner Safe 1.4.1 account using the 4337 module.
type Safe struct {
	*counterfactual
	signer *Signer

	// Validity window embedded in every signature. Zero means unbounded.
	validAfter uint64
	validUntil uint64
}

// NewSafe creates a Safe account for the signer with salt nonce 0.
func NewSafe(log logrus.FieldLogger, chain client.ChainClient, entryPoint common.Address, signer *Signer) (*Safe, error) {
	initData, err := safeFactoryData(signer.Address(), new(big.Int))
	if err != nil {
		return nil, err
	}

	return &Safe{
		counterfactual: newCounterfactual(log.WithField("account", "safe"), chain, entryPoint, SafeProxyFactory, initData),
		signer:         signer,
	}, nil
}

func safeFactoryData(owner common.Address, saltNonce *big.Int) ([]byte, error) {
	enableModules, err := safeABI.Pack("enableModules", []common.Address{Safe4337Module})
	if err != nil {
		return nil, fmt.Errorf("failed to pack enableModules: %w", err)
	}

	initializer, err := safeABI.Pack("setup",
		[]common.Address{owner},
		big.NewInt(1),
		SafeModuleSetup,
		enableModules,
		Safe4337Module,
		common.Address{},
		new(big.Int),
		common.Address{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack safe setup: %w", err)
	}

	data, err := safeABI.Pack("createProxyWithNonce", SafeSingletonL2, initializer, saltNonce)
	if err != nil {
		return nil, fmt.Errorf("failed to pack createProxyWithNonce: %w", err)
	}
	return data, nil
}

func (s *Safe) Kind() string {
	return "safe-v1.4.1"
}

func (s *Safe) Owner() common.Address {
	return s.signer.Address()
}

// EncodeCalls encodes a single call directly and batches through MultiSend
// with a delegate call.
func (s *Safe) EncodeCalls(calls []userop.Call) ([]byte, error) {
	switch len(calls) {
	case 0:
		return nil, fmt.Errorf("no calls to encode")
	case 1:
		c := calls[0]
		return safeABI.Pack("executeUserOp", c.To, valueOrZero(c.Value), nonNil(c.Data), safeOpCall)
	}

	var packed []byte
	for _, c := range calls {
		data := nonNil(c.Data)
		packed = append(packed, safeOpCall)
		packed = append(packed, c.To.Bytes()...)
		packed = append(packed, pad32(c.Value)...)
		packed = append(packed, pad32(big.NewInt(int64(len(data))))...)
		packed = append(packed, data...)
	}

	multiSend, err := safeABI.Pack("multiSend", packed)
	if err != nil {
		return nil, fmt.Errorf("failed to pack multiSend: %w", err)
	}
	return safeABI.Pack("executeUserOp", SafeMultiSend, new(big.Int), multiSend, safeOpDelegateCall)
}

// DummySignature returns an empty validity window followed by a dummy ECDSA
// signature.
func (s *Safe) DummySignature() []byte {
	return append(make([]byte, 12), dummyECDSASignature...)
}

func (s *Safe) Sign(_ context.Context, op *userop.UserOperation, entryPoint common.Address, chainID *big.Int) ([]byte, error) {
	hash, err := s.SafeOpHash(op, entryPoint, chainID)
	if err != nil {
		return nil, err
	}

	sig, err := s.signer.SignHash(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to sign safe operation: %w", err)
	}

	out := make([]byte, 0, 12+len(sig))
	out = append(out, uint48Bytes(s.validAfter)...)
	out = append(out, uint48Bytes(s.validUntil)...)
	return append(out, sig...), nil
}

// SafeOpHash returns the EIP-712 digest of the SafeOp for op.
func (s *Safe) SafeOpHash(op *userop.UserOperation, entryPoint common.Address, chainID *big.Int) ([]byte, error) {
	typed := apitypes.TypedData{
		Types:       safeOpTypes,
		PrimaryType: "SafeOp",
		Domain: apitypes.TypedDataDomain{
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
			VerifyingContract: Safe4337Module.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"safe":                 op.Sender.Hex(),
			"nonce":                bigString(op.Nonce),
			"initCode":             hexutil.Encode(op.InitCode()),
			"callData":             hexutil.Encode(op.CallData),
			"verificationGasLimit": bigString(op.VerificationGasLimit),
			"callGasLimit":         bigString(op.CallGasLimit),
			"preVerificationGas":   bigString(op.PreVerificationGas),
			"maxPriorityFeePerGas": bigString(op.MaxPriorityFeePerGas),
			"maxFeePerGas":         bigString(op.MaxFeePerGas),
			"paymasterAndData":     hexutil.Encode(op.PaymasterAndData()),
			"validAfter":           fmt.Sprint(s.validAfter),
			"validUntil":           fmt.Sprint(s.validUntil),
			"entryPoint":           entryPoint.Hex(),
		},
	}

	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("failed to hash safe operation: %w", err)
	}
	return hash, nil
}

func bigString(v *big.Int) string {
	return valueOrZero(v).String()
}

func uint48Bytes(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[2:]
}

// Verify interface compliance.
var _ Account = (*Safe)(nil)
