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

// LightAccountFactoryV2 is the Light Account v2.0.0 factory.
var LightAccountFactoryV2 = common.HexToAddress("0x0000000000400CdFef5E2714E63d8040b700BC24")

// lightSignatureTypeEOA prefixes signatures produced by the EOA owner.
const lightSignatureTypeEOA = 0x00

// LightAccount is a Light Account v2 owned by an EOA.
type LightAccount struct {
	*counterfactual
	signer *Signer
}

// NewLightAccount creates a Light Account for the signer with salt 0.
func NewLightAccount(log logrus.FieldLogger, chain client.ChainClient, entryPoint common.Address, signer *Signer) (*LightAccount, error) {
	initData, err := lightAccountABI.Pack("createAccount", signer.Address(), new(big.Int))
	if err != nil {
		return nil, fmt.Errorf("failed to pack light account createAccount: %w", err)
	}

	return &LightAccount{
		counterfactual: newCounterfactual(log.WithField("account", "light"), chain, entryPoint, LightAccountFactoryV2, initData),
		signer:         signer,
	}, nil
}

func (l *LightAccount) Kind() string {
	return "light-account-v2"
}

func (l *LightAccount) Owner() common.Address {
	return l.signer.Address()
}

func (l *LightAccount) EncodeCalls(calls []userop.Call) ([]byte, error) {
	return encodeExecuteOrBatch(lightAccountABI.Pack, calls)
}

func (l *LightAccount) DummySignature() []byte {
	return append([]byte{lightSignatureTypeEOA}, dummyECDSASignature...)
}

func (l *LightAccount) Sign(_ context.Context, op *userop.UserOperation, entryPoint common.Address, chainID *big.Int) ([]byte, error) {
	hash := op.Hash(entryPoint, chainID)
	sig, err := l.signer.SignMessage(hash.Bytes())
	if err != nil {
		return nil, err
	}
	return append([]byte{lightSignatureTypeEOA}, sig...), nil
}

// encodeExecuteOrBatch encodes calls for accounts exposing the common
// execute(address,uint256,bytes) and executeBatch(address[],uint256[],bytes[]).
func encodeExecuteOrBatch(pack func(name string, args ...interface{}) ([]byte, error), calls []userop.Call) ([]byte, error) {
	switch len(calls) {
	case 0:
		return nil, fmt.Errorf("no calls to encode")
	case 1:
		c := calls[0]
		return pack("execute", c.To, valueOrZero(c.Value), nonNil(c.Data))
	}

	targets := make([]common.Address, len(calls))
	values := make([]*big.Int, len(calls))
	data := make([][]byte, len(calls))
	for i, c := range calls {
		targets[i] = c.To
		values[i] = valueOrZero(c.Value)
		data[i] = nonNil(c.Data)
	}
	return pack("executeBatch", targets, values, data)
}

// Verify interface compliance.
var _ Account = (*LightAccount)(nil)
