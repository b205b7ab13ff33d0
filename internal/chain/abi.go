package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20JSON = `[
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

// Some early tokens return bytes32 for name and symbol.
const erc20Bytes32JSON = `[
	{"type":"function","name":"name","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]}
]`

const transformerRegistryJSON = `[
	{"type":"function","name":"transformers","stateMutability":"view",
	 "inputs":[{"name":"dependents","type":"address[]"}],
	 "outputs":[{"name":"","type":"address[]"}]}
]`

const transformerJSON = `[
	{"type":"function","name":"getUnderlying","stateMutability":"view",
	 "inputs":[{"name":"dependent","type":"address"}],
	 "outputs":[{"name":"","type":"address[]"}]},
	{"type":"function","name":"calculateTransformToUnderlying","stateMutability":"view",
	 "inputs":[{"name":"dependent","type":"address"},{"name":"amountDependent","type":"uint256"}],
	 "outputs":[{"name":"","type":"tuple[]","components":[
		{"name":"underlying","type":"address"},
		{"name":"amount","type":"uint256"}]}]}
]`

var (
	erc20ABI               = mustParse(erc20JSON)
	erc20Bytes32ABI        = mustParse(erc20Bytes32JSON)
	transformerRegistryABI = mustParse(transformerRegistryJSON)
	transformerABI         = mustParse(transformerJSON)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
