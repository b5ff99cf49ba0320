// Package userop provides the EntryPoint v0.7 user operation types used to
// talk to ERC-4337 bundlers and paymasters.
package userop

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// EntryPointV07 is the canonical EntryPoint v0.7 deployment.
var EntryPointV07 = common.HexToAddress("0x0000000071727De22E5E9d8BAf0edAc6f37da032")

// Call is a single call executed by a smart account.
type Call struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// NoopCall returns a zero-value call with empty calldata.
func NoopCall(to common.Address) Call {
	return Call{To: to, Value: new(big.Int), Data: []byte{}}
}

// UserOperation is an unpacked EntryPoint v0.7 user operation.
type UserOperation struct {
	Sender   common.Address
	Nonce    *big.Int
	CallData []byte

	// Account deployment (nil factory once deployed)
	Factory     *common.Address
	FactoryData []byte

	// Gas
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int

	// Sponsorship (nil paymaster when self-paid)
	Paymaster                     *common.Address
	PaymasterVerificationGasLimit *big.Int
	PaymasterPostOpGasLimit       *big.Int
	PaymasterData                 []byte

	Signature []byte
}

// HasFactory returns true if the operation deploys its sender.
func (op *UserOperation) HasFactory() bool {
	return op.Factory != nil && *op.Factory != (common.Address{})
}

// HasPaymaster returns true if a paymaster sponsors the operation.
func (op *UserOperation) HasPaymaster() bool {
	return op.Paymaster != nil && *op.Paymaster != (common.Address{})
}

// Copy returns a deep copy of the operation.
func (op *UserOperation) Copy() *UserOperation {
	cpy := &UserOperation{
		Sender:                        op.Sender,
		Nonce:                         copyBig(op.Nonce),
		CallData:                      common.CopyBytes(op.CallData),
		FactoryData:                   common.CopyBytes(op.FactoryData),
		CallGasLimit:                  copyBig(op.CallGasLimit),
		VerificationGasLimit:          copyBig(op.VerificationGasLimit),
		PreVerificationGas:            copyBig(op.PreVerificationGas),
		MaxFeePerGas:                  copyBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas:          copyBig(op.MaxPriorityFeePerGas),
		PaymasterVerificationGasLimit: copyBig(op.PaymasterVerificationGasLimit),
		PaymasterPostOpGasLimit:       copyBig(op.PaymasterPostOpGasLimit),
		PaymasterData:                 common.CopyBytes(op.PaymasterData),
		Signature:                     common.CopyBytes(op.Signature),
	}
	if op.Factory != nil {
		f := *op.Factory
		cpy.Factory = &f
	}
	if op.Paymaster != nil {
		pm := *op.Paymaster
		cpy.Paymaster = &pm
	}
	return cpy
}

// userOperationJSON is the bundler RPC representation.
type userOperationJSON struct {
	Sender                        common.Address  `json:"sender"`
	Nonce                         *hexutil.Big    `json:"nonce"`
	Factory                       *common.Address `json:"factory,omitempty"`
	FactoryData                   *hexutil.Bytes  `json:"factoryData,omitempty"`
	CallData                      hexutil.Bytes   `json:"callData"`
	CallGasLimit                  *hexutil.Big    `json:"callGasLimit"`
	VerificationGasLimit          *hexutil.Big    `json:"verificationGasLimit"`
	PreVerificationGas            *hexutil.Big    `json:"preVerificationGas"`
	MaxFeePerGas                  *hexutil.Big    `json:"maxFeePerGas"`
	MaxPriorityFeePerGas          *hexutil.Big    `json:"maxPriorityFeePerGas"`
	Paymaster                     *common.Address `json:"paymaster,omitempty"`
	PaymasterVerificationGasLimit *hexutil.Big    `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big    `json:"paymasterPostOpGasLimit,omitempty"`
	PaymasterData                 *hexutil.Bytes  `json:"paymasterData,omitempty"`
	Signature                     hexutil.Bytes   `json:"signature"`
}

// MarshalJSON encodes the operation in the form eth_sendUserOperation expects.
func (op UserOperation) MarshalJSON() ([]byte, error) {
	enc := userOperationJSON{
		Sender:               op.Sender,
		Nonce:                hexBig(op.Nonce),
		CallData:             op.CallData,
		CallGasLimit:         hexBig(op.CallGasLimit),
		VerificationGasLimit: hexBig(op.VerificationGasLimit),
		PreVerificationGas:   hexBig(op.PreVerificationGas),
		MaxFeePerGas:         hexBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: hexBig(op.MaxPriorityFeePerGas),
		Signature:            op.Signature,
	}
	if enc.CallData == nil {
		enc.CallData = hexutil.Bytes{}
	}
	if enc.Signature == nil {
		enc.Signature = hexutil.Bytes{}
	}
	if op.HasFactory() {
		enc.Factory = op.Factory
		enc.FactoryData = hexBytes(op.FactoryData)
	}
	if op.HasPaymaster() {
		enc.Paymaster = op.Paymaster
		enc.PaymasterVerificationGasLimit = hexBig(op.PaymasterVerificationGasLimit)
		enc.PaymasterPostOpGasLimit = hexBig(op.PaymasterPostOpGasLimit)
		enc.PaymasterData = hexBytes(op.PaymasterData)
	}
	return json.Marshal(&enc)
}

// UnmarshalJSON decodes the bundler RPC representation.
func (op *UserOperation) UnmarshalJSON(input []byte) error {
	var dec userOperationJSON
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}

	*op = UserOperation{
		Sender:                        dec.Sender,
		Nonce:                         fromHexBig(dec.Nonce),
		Factory:                       dec.Factory,
		FactoryData:                   fromHexBytes(dec.FactoryData),
		CallData:                      dec.CallData,
		CallGasLimit:                  fromHexBig(dec.CallGasLimit),
		VerificationGasLimit:          fromHexBig(dec.VerificationGasLimit),
		PreVerificationGas:            fromHexBig(dec.PreVerificationGas),
		MaxFeePerGas:                  fromHexBig(dec.MaxFeePerGas),
		MaxPriorityFeePerGas:          fromHexBig(dec.MaxPriorityFeePerGas),
		Paymaster:                     dec.Paymaster,
		PaymasterVerificationGasLimit: fromHexBig(dec.PaymasterVerificationGasLimit),
		PaymasterPostOpGasLimit:       fromHexBig(dec.PaymasterPostOpGasLimit),
		PaymasterData:                 fromHexBytes(dec.PaymasterData),
		Signature:                     dec.Signature,
	}
	return nil
}

// GasEstimate is the result of eth_estimateUserOperationGas.
type GasEstimate struct {
	PreVerificationGas            *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit          *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit                  *hexutil.Big `json:"callGasLimit"`
	PaymasterVerificationGasLimit *hexutil.Big `json:"paymasterVerificationGasLimit,omitempty"`
	PaymasterPostOpGasLimit       *hexutil.Big `json:"paymasterPostOpGasLimit,omitempty"`
}

// Apply copies the estimated limits onto op, leaving paymaster limits
// untouched when the estimate does not carry them.
func (e *GasEstimate) Apply(op *UserOperation) {
	op.PreVerificationGas = fromHexBig(e.PreVerificationGas)
	op.VerificationGasLimit = fromHexBig(e.VerificationGasLimit)
	op.CallGasLimit = fromHexBig(e.CallGasLimit)
	if e.PaymasterVerificationGasLimit != nil {
		op.PaymasterVerificationGasLimit = fromHexBig(e.PaymasterVerificationGasLimit)
	}
	if e.PaymasterPostOpGasLimit != nil {
		op.PaymasterPostOpGasLimit = fromHexBig(e.PaymasterPostOpGasLimit)
	}
}

// GasPrice is a fee pair suggested by a bundler.
type GasPrice struct {
	MaxFeePerGas         *hexutil.Big `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big `json:"maxPriorityFeePerGas"`
}

// Apply copies the fees onto op.
func (g *GasPrice) Apply(op *UserOperation) {
	op.MaxFeePerGas = fromHexBig(g.MaxFeePerGas)
	op.MaxPriorityFeePerGas = fromHexBig(g.MaxPriorityFeePerGas)
}

// TieredGasPrice is returned by the vendor gas price methods
// (pimlico_getUserOperationGasPrice, zd_getUserOperationGasPrice, ...).
type TieredGasPrice struct {
	Slow     GasPrice `json:"slow"`
	Standard GasPrice `json:"standard"`
	Fast     GasPrice `json:"fast"`
}

// Receipt is the result of eth_getUserOperationReceipt.
type Receipt struct {
	UserOpHash    common.Hash     `json:"userOpHash"`
	EntryPoint    common.Address  `json:"entryPoint"`
	Sender        common.Address  `json:"sender"`
	Nonce         *hexutil.Big    `json:"nonce"`
	Paymaster     *common.Address `json:"paymaster,omitempty"`
	ActualGasCost *hexutil.Big    `json:"actualGasCost"`
	ActualGasUsed *hexutil.Big    `json:"actualGasUsed"`
	Success       bool            `json:"success"`
	Reason        string          `json:"reason,omitempty"`
	Receipt       TxReceipt       `json:"receipt"`
}

// TxReceipt is the bundle transaction embedded in a user operation receipt.
type TxReceipt struct {
	TransactionHash common.Hash  `json:"transactionHash"`
	BlockHash       common.Hash  `json:"blockHash"`
	BlockNumber     *hexutil.Big `json:"blockNumber"`
}

func hexBig(v *big.Int) *hexutil.Big {
	if v == nil {
		return (*hexutil.Big)(new(big.Int))
	}
	return (*hexutil.Big)(v)
}

func fromHexBig(v *hexutil.Big) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v.ToInt())
}

func hexBytes(b []byte) *hexutil.Bytes {
	out := hexutil.Bytes(common.CopyBytes(b))
	if out == nil {
		out = hexutil.Bytes{}
	}
	return &out
}

func fromHexBytes(b *hexutil.Bytes) []byte {
	if b == nil {
		return nil
	}
	return []byte(*b)
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
