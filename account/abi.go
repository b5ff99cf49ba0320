package account

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const entryPointJSON = `[
	{"type":"function","name":"getSenderAddress","stateMutability":"nonpayable","inputs":[{"name":"initCode","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"getNonce","stateMutability":"view","inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"outputs":[{"name":"nonce","type":"uint256"}]}
]`

const kernelJSON = `[
	{"type":"function","name":"deployWithFactory","stateMutability":"payable","inputs":[{"name":"factory","type":"address"},{"name":"createData","type":"bytes"},{"name":"salt","type":"bytes32"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"initialize","stateMutability":"nonpayable","inputs":[{"name":"_rootValidator","type":"bytes21"},{"name":"hook","type":"address"},{"name":"validatorData","type":"bytes"},{"name":"hookData","type":"bytes"},{"name":"initConfig","type":"bytes[]"}],"outputs":[]},
	{"type":"function","name":"execute","stateMutability":"payable","inputs":[{"name":"execMode","type":"bytes32"},{"name":"executionCalldata","type":"bytes"}],"outputs":[]}
]`

const kernelExecutionsJSON = `[
	{"type":"function","name":"executions","inputs":[{"name":"executions","type":"tuple[]","components":[{"name":"target","type":"address"},{"name":"value","type":"uint256"},{"name":"callData","type":"bytes"}]}],"outputs":[]}
]`

const safeJSON = `[
	{"type":"function","name":"createProxyWithNonce","stateMutability":"nonpayable","inputs":[{"name":"_singleton","type":"address"},{"name":"initializer","type":"bytes"},{"name":"saltNonce","type":"uint256"}],"outputs":[{"name":"proxy","type":"address"}]},
	{"type":"function","name":"setup","stateMutability":"nonpayable","inputs":[{"name":"_owners","type":"address[]"},{"name":"_threshold","type":"uint256"},{"name":"to","type":"address"},{"name":"data","type":"bytes"},{"name":"fallbackHandler","type":"address"},{"name":"paymentToken","type":"address"},{"name":"payment","type":"uint256"},{"name":"paymentReceiver","type":"address"}],"outputs":[]},
	{"type":"function","name":"enableModules","stateMutability":"nonpayable","inputs":[{"name":"modules","type":"address[]"}],"outputs":[]},
	{"type":"function","name":"executeUserOp","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"},{"name":"operation","type":"uint8"}],"outputs":[]},
	{"type":"function","name":"multiSend","stateMutability":"payable","inputs":[{"name":"transactions","type":"bytes"}],"outputs":[]}
]`

const lightAccountJSON = `[
	{"type":"function","name":"createAccount","stateMutability":"nonpayable","inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"outputs":[{"name":"ret","type":"address"}]},
	{"type":"function","name":"execute","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"executeBatch","stateMutability":"nonpayable","inputs":[{"name":"dest","type":"address[]"},{"name":"value","type":"uint256[]"},{"name":"func","type":"bytes[]"}],"outputs":[]}
]`

const thirdwebAccountJSON = `[
	{"type":"function","name":"createAccount","stateMutability":"nonpayable","inputs":[{"name":"_admin","type":"address"},{"name":"_data","type":"bytes"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"execute","stateMutability":"nonpayable","inputs":[{"name":"_target","type":"address"},{"name":"_value","type":"uint256"},{"name":"_calldata","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"executeBatch","stateMutability":"nonpayable","inputs":[{"name":"_target","type":"address[]"},{"name":"_value","type":"uint256[]"},{"name":"_calldata","type":"bytes[]"}],"outputs":[]}
]`

var (
	entryPointABI      = mustParseABI(entryPointJSON)
	kernelABI          = mustParseABI(kernelJSON)
	kernelExecutionABI = mustParseABI(kernelExecutionsJSON)
	safeABI            = mustParseABI(safeJSON)
	lightAccountABI    = mustParseABI(lightAccountJSON)
	thirdwebABI        = mustParseABI(thirdwebAccountJSON)
)

// EntryPointABI exposes the EntryPoint methods used for nonce lookups.
func EntryPointABI() abi.ABI {
	return entryPointABI
}

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
