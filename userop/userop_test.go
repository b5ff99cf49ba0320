package userop

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOperation() *UserOperation {
	return &UserOperation{
		Sender:               common.HexToAddress("0x1111111111111111111111111111111111111111"),
		Nonce:                big.NewInt(7),
		CallData:             []byte{0xde, 0xad, 0xbe, 0xef},
		CallGasLimit:         big.NewInt(100_000),
		VerificationGasLimit: big.NewInt(200_000),
		PreVerificationGas:   big.NewInt(50_000),
		MaxFeePerGas:         big.NewInt(2_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000),
		Signature:            []byte{0x01},
	}
}

func TestMarshalJSON_OmitsFactoryAndPaymaster(t *testing.T) {
	raw, err := json.Marshal(testOperation())
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))

	assert.Equal(t, "0x7", fields["nonce"])
	assert.Equal(t, "0xdeadbeef", fields["callData"])
	assert.Equal(t, "0x186a0", fields["callGasLimit"])
	assert.NotContains(t, fields, "factory")
	assert.NotContains(t, fields, "factoryData")
	assert.NotContains(t, fields, "paymaster")
	assert.NotContains(t, fields, "paymasterData")
}

func TestMarshalJSON_IncludesFactoryAndPaymaster(t *testing.T) {
	op := testOperation()
	factory := common.HexToAddress("0x2222222222222222222222222222222222222222")
	paymaster := common.HexToAddress("0x3333333333333333333333333333333333333333")
	op.Factory = &factory
	op.FactoryData = []byte{0xaa}
	op.Paymaster = &paymaster
	op.PaymasterVerificationGasLimit = big.NewInt(30_000)

	raw, err := json.Marshal(op)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))

	assert.Equal(t, "0x2222222222222222222222222222222222222222", fields["factory"])
	assert.Equal(t, "0xaa", fields["factoryData"])
	assert.Equal(t, "0x3333333333333333333333333333333333333333", fields["paymaster"])
	assert.Equal(t, "0x7530", fields["paymasterVerificationGasLimit"])
	assert.Equal(t, "0x0", fields["paymasterPostOpGasLimit"])
	assert.Equal(t, "0x", fields["paymasterData"])

	var decoded UserOperation
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, op.Hash(EntryPointV07, big.NewInt(1)), decoded.Hash(EntryPointV07, big.NewInt(1)))
}

func TestPack_Layout(t *testing.T) {
	op := testOperation()
	packed := op.Pack()
	require.Len(t, packed, 8*32)

	assert.Equal(t, common.LeftPadBytes(op.Sender.Bytes(), 32), packed[0:32])
	assert.Equal(t, common.LeftPadBytes([]byte{7}, 32), packed[32:64])
	assert.Equal(t, crypto.Keccak256(nil), packed[64:96], "empty init code")
	assert.Equal(t, crypto.Keccak256(op.CallData), packed[96:128])

	limits := op.AccountGasLimits()
	assert.Equal(t, limits[:], packed[128:160])
	assert.Equal(t, big.NewInt(200_000), new(big.Int).SetBytes(limits[:16]))
	assert.Equal(t, big.NewInt(100_000), new(big.Int).SetBytes(limits[16:]))

	fees := op.GasFees()
	assert.Equal(t, big.NewInt(1_000_000), new(big.Int).SetBytes(fees[:16]))
	assert.Equal(t, big.NewInt(2_000_000_000), new(big.Int).SetBytes(fees[16:]))
}

func TestPaymasterAndData(t *testing.T) {
	op := testOperation()
	assert.Nil(t, op.PaymasterAndData())

	paymaster := common.HexToAddress("0x3333333333333333333333333333333333333333")
	op.Paymaster = &paymaster
	op.PaymasterVerificationGasLimit = big.NewInt(1)
	op.PaymasterPostOpGasLimit = big.NewInt(2)
	op.PaymasterData = []byte{0xff}

	pnd := op.PaymasterAndData()
	require.Len(t, pnd, 20+16+16+1)
	assert.Equal(t, paymaster.Bytes(), pnd[:20])
	assert.Equal(t, byte(1), pnd[35])
	assert.Equal(t, byte(2), pnd[51])
	assert.Equal(t, byte(0xff), pnd[52])
}

func TestHash(t *testing.T) {
	op := testOperation()
	base := op.Hash(EntryPointV07, big.NewInt(84532))

	t.Run("ignores signature", func(t *testing.T) {
		cpy := op.Copy()
		cpy.Signature = []byte{0x02, 0x03}
		assert.Equal(t, base, cpy.Hash(EntryPointV07, big.NewInt(84532)))
	})

	t.Run("depends on chain id", func(t *testing.T) {
		assert.NotEqual(t, base, op.Hash(EntryPointV07, big.NewInt(1)))
	})

	t.Run("depends on call data", func(t *testing.T) {
		cpy := op.Copy()
		cpy.CallData = []byte{}
		assert.NotEqual(t, base, cpy.Hash(EntryPointV07, big.NewInt(84532)))
	})

	t.Run("matches manual encoding", func(t *testing.T) {
		expected := crypto.Keccak256Hash(
			crypto.Keccak256(op.Pack()),
			common.LeftPadBytes(EntryPointV07.Bytes(), 32),
			common.LeftPadBytes(big.NewInt(84532).Bytes(), 32),
		)
		assert.Equal(t, expected, base)
	})
}

func TestCopy_IsDeep(t *testing.T) {
	op := testOperation()
	cpy := op.Copy()

	cpy.Nonce.SetInt64(99)
	cpy.CallData[0] = 0x00

	assert.Equal(t, int64(7), op.Nonce.Int64())
	assert.Equal(t, byte(0xde), op.CallData[0])
}
