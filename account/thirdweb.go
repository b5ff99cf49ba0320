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

// ThirdwebAccountFactoryV07 is the default thirdweb account factory for
// EntryPoint v0.7.
var ThirdwebAccountFactoryV07 = common.HexToAddress("0x4be0ddfebca9a5a4a617dee4dece99e7c862dceb")

// ThirdwebAccount is a thirdweb smart account with a single admin.
type ThirdwebAccount struct {
	*counterfactual
	signer *Signer
}

// NewThirdwebAccount creates a thirdweb account with an empty salt.
func NewThirdwebAccount(log logrus.FieldLogger, chain client.ChainClient, entryPoint common.Address, signer *Signer) (*ThirdwebAccount, error) {
	initData, err := thirdwebABI.Pack("createAccount", signer.Address(), []byte{})
	if err != nil {
		return nil, fmt.Errorf("failed to pack thirdweb createAccount: %w", err)
	}

	return &ThirdwebAccount{
		counterfactual: newCounterfactual(log.WithField("account", "thirdweb"), chain, entryPoint, ThirdwebAccountFactoryV07, initData),
		signer:         signer,
	}, nil
}

func (t *ThirdwebAccount) Kind() string {
	return "thirdweb-account"
}

func (t *ThirdwebAccount) Owner() common.Address {
	return t.signer.Address()
}

func (t *ThirdwebAccount) EncodeCalls(calls []userop.Call) ([]byte, error) {
	return encodeExecuteOrBatch(thirdwebABI.Pack, calls)
}

func (t *ThirdwebAccount) DummySignature() []byte {
	return common.CopyBytes(dummyECDSASignature)
}

func (t *ThirdwebAccount) Sign(_ context.Context, op *userop.UserOperation, entryPoint common.Address, chainID *big.Int) ([]byte, error) {
	hash := op.Hash(entryPoint, chainID)
	return t.signer.SignMessage(hash.Bytes())
}

// Verify interface compliance.
var _ Account = (*ThirdwebAccount)(nil)
