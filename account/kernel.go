package account

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/skylenet/aa-benchmark/client"
	"github.com/skylenet/aa-benchmark/userop"
)

// Kernel v3.1 deployment addresses.
var (
	KernelMetaFactory       = common.HexToAddress("0xd703aaE79538628d27099B8c4f621bE4CCd142d5")
	KernelFactoryV31        = common.HexToAddress("0xaac5D4240AF87249B3f71BC8E4A2cae074A3E419")
	KernelECDSAValidatorV31 = common.HexToAddress("0x845ADb2C711129d4f3966735eD98a9F09fC4cE57")
)

// ERC-7579 execution modes.
var (
	kernelModeSingle = [32]byte{}
	kernelModeBatch  = [32]byte{0x01}
)

// validationTypeValidator prefixes a validator address in a Kernel
// ValidationId.
const validationTypeValidator = 0x01

// kernelExecution mirrors the ERC-7579 Execution struct.
type kernelExecution struct {
	Target   common.Address
	Value    *big.Int
	CallData []byte
}

// Kernel is a Kernel v3.1 account with an ECDSA root validator.
type Kernel struct {
	*counterfactual
	signer *Signer
}

// NewKernel creates a Kernel account for the signer with salt index 0.
func NewKernel(log logrus.FieldLogger, chain client.ChainClient, entryPoint common.Address, signer *Signer) (*Kernel, error) {
	initData, err := kernelFactoryData(signer.Address(), [32]byte{})
	if err != nil {
		return nil, err
	}

	return &Kernel{
		counterfactual: newCounterfactual(log.WithField("account", "kernel"), chain, entryPoint, KernelMetaFactory, initData),
		signer:         signer,
	}, nil
}

func kernelFactoryData(owner common.Address, salt [32]byte) ([]byte, error) {
	var rootValidator [21]byte
	rootValidator[0] = validationTypeValidator
	copy(rootValidator[1:], KernelECDSAValidatorV31.Bytes())

	createData, err := kernelABI.Pack("initialize",
		rootValidator,
		common.Address{},
		owner.Bytes(),
		[]byte{},
		[][]byte{},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack kernel initialize: %w", err)
	}

	data, err := kernelABI.Pack("deployWithFactory", KernelFactoryV31, createData, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to pack kernel deployWithFactory: %w", err)
	}
	return data, nil
}

func (k *Kernel) Kind() string {
	return "kernel-v3.1"
}

func (k *Kernel) Owner() common.Address {
	return k.signer.Address()
}

// EncodeCalls encodes a single call in packed form and batches with the
// Execution[] ABI encoding.
func (k *Kernel) EncodeCalls(calls []userop.Call) ([]byte, error) {
	switch len(calls) {
	case 0:
		return nil, fmt.Errorf("no calls to encode")
	case 1:
		c := calls[0]
		exec := make([]byte, 0, 20+32+len(c.Data))
		exec = append(exec, c.To.Bytes()...)
		exec = append(exec, pad32(c.Value)...)
		exec = append(exec, c.Data...)
		return kernelABI.Pack("execute", kernelModeSingle, exec)
	}

	execs := make([]kernelExecution, len(calls))
	for i, c := range calls {
		execs[i] = kernelExecution{Target: c.To, Value: valueOrZero(c.Value), CallData: nonNil(c.Data)}
	}

	encoded, err := kernelExecutionABI.Methods["executions"].Inputs.Pack(execs)
	if err != nil {
		return nil, fmt.Errorf("failed to pack executions: %w", err)
	}
	return kernelABI.Pack("execute", kernelModeBatch, encoded)
}

func (k *Kernel) DummySignature() []byte {
	return common.CopyBytes(dummyECDSASignature)
}

// Sign signs the user operation hash as a personal message, as the ECDSA
// validator expects.
func (k *Kernel) Sign(_ context.Context, op *userop.UserOperation, entryPoint common.Address, chainID *big.Int) ([]byte, error) {
	hash := op.Hash(entryPoint, chainID)
	return k.signer.SignMessage(hash.Bytes())
}

func pad32(v *big.Int) []byte {
	return common.LeftPadBytes(valueOrZero(v).Bytes(), 32)
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

// Verify interface compliance.
var _ Account = (*Kernel)(nil)
