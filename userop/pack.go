package userop

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// InitCode returns factory || factoryData, or nil when the sender is deployed.
func (op *UserOperation) InitCode() []byte {
	if !op.HasFactory() {
		return nil
	}
	out := make([]byte, 0, common.AddressLength+len(op.FactoryData))
	out = append(out, op.Factory.Bytes()...)
	return append(out, op.FactoryData...)
}

// PaymasterAndData returns paymaster || verificationGas || postOpGas || data,
// or nil when no paymaster is set.
func (op *UserOperation) PaymasterAndData() []byte {
	if !op.HasPaymaster() {
		return nil
	}
	out := make([]byte, 0, common.AddressLength+32+len(op.PaymasterData))
	out = append(out, op.Paymaster.Bytes()...)
	out = append(out, pad16(op.PaymasterVerificationGasLimit)...)
	out = append(out, pad16(op.PaymasterPostOpGasLimit)...)
	return append(out, op.PaymasterData...)
}

// AccountGasLimits packs verificationGasLimit || callGasLimit.
func (op *UserOperation) AccountGasLimits() [32]byte {
	var out [32]byte
	copy(out[:16], pad16(op.VerificationGasLimit))
	copy(out[16:], pad16(op.CallGasLimit))
	return out
}

// GasFees packs maxPriorityFeePerGas || maxFeePerGas.
func (op *UserOperation) GasFees() [32]byte {
	var out [32]byte
	copy(out[:16], pad16(op.MaxPriorityFeePerGas))
	copy(out[16:], pad16(op.MaxFeePerGas))
	return out
}

// Pack returns the ABI encoding hashed by the EntryPoint, with the dynamic
// fields replaced by their keccak256 hashes and without the signature.
func (op *UserOperation) Pack() []byte {
	accountGasLimits := op.AccountGasLimits()
	gasFees := op.GasFees()

	out := make([]byte, 0, 8*32)
	out = append(out, common.LeftPadBytes(op.Sender.Bytes(), 32)...)
	out = append(out, pad32(op.Nonce)...)
	out = append(out, crypto.Keccak256(op.InitCode())...)
	out = append(out, crypto.Keccak256(op.CallData)...)
	out = append(out, accountGasLimits[:]...)
	out = append(out, pad32(op.PreVerificationGas)...)
	out = append(out, gasFees[:]...)
	out = append(out, crypto.Keccak256(op.PaymasterAndData())...)
	return out
}

// Hash returns the user operation hash for the given EntryPoint and chain.
func (op *UserOperation) Hash(entryPoint common.Address, chainID *big.Int) common.Hash {
	return crypto.Keccak256Hash(
		crypto.Keccak256(op.Pack()),
		common.LeftPadBytes(entryPoint.Bytes(), 32),
		pad32(chainID),
	)
}

func pad16(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 16)
	}
	return common.LeftPadBytes(v.Bytes(), 16)
}

func pad32(v *big.Int) []byte {
	if v == nil {
		return make([]byte, 32)
	}
	return common.LeftPadBytes(v.Bytes(), 32)
}
