package events

// Event fragments shared by every hub version.
const (
	depositedABI = `{"type":"event","name":"Deposited","anonymous":false,"inputs":[
		{"name":"depositor","type":"address","indexed":true},
		{"name":"owner","type":"address","indexed":true},
		{"name":"positionId","type":"uint256","indexed":false},
		{"name":"fromToken","type":"address","indexed":false},
		{"name":"toToken","type":"address","indexed":false},
		{"name":"swapInterval","type":"uint32","indexed":false},
		{"name":"rate","type":"uint120","indexed":false},
		{"name":"startingSwap","type":"uint32","indexed":false},
		{"name":"lastSwap","type":"uint32","indexed":false},
		{"name":"permissions","type":"tuple[]","indexed":false,"components":[
			{"name":"operator","type":"address"},
			{"name":"permissions","type":"uint8[]"}]}]}`

	modifiedABI = `{"type":"event","name":"Modified","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"positionId","type":"uint256","indexed":false},
		{"name":"rate","type":"uint120","indexed":false},
		{"name":"startingSwap","type":"uint32","indexed":false},
		{"name":"lastSwap","type":"uint32","indexed":false}]}`

	tokensAllowedUpdatedABI = `{"type":"event","name":"TokensAllowedUpdated","anonymous":false,"inputs":[
		{"name":"tokens","type":"address[]","indexed":false},
		{"name":"allowed","type":"bool[]","indexed":false}]}`

	swapIntervalsAllowedABI = `{"type":"event","name":"SwapIntervalsAllowed","anonymous":false,"inputs":[
		{"name":"swapIntervals","type":"uint32[]","indexed":false}]}`

	swapIntervalsForbiddenABI = `{"type":"event","name":"SwapIntervalsForbidden","anonymous":false,"inputs":[
		{"name":"swapIntervals","type":"uint32[]","indexed":false}]}`

	roleAdminChangedABI = `{"type":"event","name":"RoleAdminChanged","anonymous":false,"inputs":[
		{"name":"role","type":"bytes32","indexed":true},
		{"name":"previousAdminRole","type":"bytes32","indexed":true},
		{"name":"newAdminRole","type":"bytes32","indexed":true}]}`

	swappedTokensComponents = `{"name":"tokens","type":"tuple[]","components":[
		{"name":"token","type":"address"},
		{"name":"reward","type":"uint256"},
		{"name":"toProvide","type":"uint256"},
		{"name":"platformFee","type":"uint256"}]}`
)

// V1 hub: raw ratios with an event-level fee, no recipients on exits.
const (
	terminatedV1ABI = `{"type":"event","name":"Terminated","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"positionId","type":"uint256","indexed":false},
		{"name":"returnedUnswapped","type":"uint256","indexed":false},
		{"name":"returnedSwapped","type":"uint256","indexed":false}]}`

	withdrewV1ABI = `{"type":"event","name":"Withdrew","anonymous":false,"inputs":[
		{"name":"withdrawer","type":"address","indexed":true},
		{"name":"positionId","type":"uint256","indexed":false},
		{"name":"token","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}]}`

	withdrewManyV1ABI = `{"type":"event","name":"WithdrewMany","anonymous":false,"inputs":[
		{"name":"withdrawer","type":"address","indexed":true},
		{"name":"positions","type":"tuple[]","indexed":false,"components":[
			{"name":"token","type":"address"},
			{"name":"positionIds","type":"uint256[]"}]},
		{"name":"withdrew","type":"uint256[]","indexed":false}]}`

	swappedV1ABI = `{"type":"event","name":"Swapped","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"rewardRecipient","type":"address","indexed":true},
		{"name":"callbackHandler","type":"address","indexed":true},
		{"name":"swapInformation","type":"tuple","indexed":false,"components":[
			` + swappedTokensComponents + `,
			{"name":"pairs","type":"tuple[]","components":[
				{"name":"tokenA","type":"address"},
				{"name":"tokenB","type":"address"},
				{"name":"totalAmountToSwapTokenA","type":"uint256"},
				{"name":"totalAmountToSwapTokenB","type":"uint256"},
				{"name":"ratioAToB","type":"uint256"},
				{"name":"ratioBToA","type":"uint256"},
				{"name":"intervalsInSwap","type":"bytes1"}]}]},
		{"name":"borrowed","type":"uint256[]","indexed":false},
		{"name":"fee","type":"uint32","indexed":false}]}`
)

// V2 hub: fee-applied ratios next to the raw ones, explicit recipients.
const (
	terminatedV2ABI = `{"type":"event","name":"Terminated","anonymous":false,"inputs":[
		{"name":"user","type":"address","indexed":true},
		{"name":"recipientUnswapped","type":"address","indexed":true},
		{"name":"recipientSwapped","type":"address","indexed":true},
		{"name":"positionId","type":"uint256","indexed":false},
		{"name":"returnedUnswapped","type":"uint256","indexed":false},
		{"name":"returnedSwapped","type":"uint256","indexed":false}]}`

	withdrewV2ABI = `{"type":"event","name":"Withdrew","anonymous":false,"inputs":[
		{"name":"withdrawer","type":"address","indexed":true},
		{"name":"recipient","type":"address","indexed":true},
		{"name":"positionId","type":"uint256","indexed":false},
		{"name":"token","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false}]}`

	withdrewManyV2ABI = `{"type":"event","name":"WithdrewMany","anonymous":false,"inputs":[
		{"name":"withdrawer","type":"address","indexed":true},
		{"name":"recipient","type":"address","indexed":true},
		{"name":"positions","type":"tuple[]","indexed":false,"components":[
			{"name":"token","type":"address"},
			{"name":"positionIds","type":"uint256[]"}]},
		{"name":"withdrew","type":"uint256[]","indexed":false}]}`

	swappedV2ABI = `{"type":"event","name":"Swapped","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"rewardRecipient","type":"address","indexed":true},
		{"name":"callbackHandler","type":"address","indexed":true},
		{"name":"swapInformation","type":"tuple","indexed":false,"components":[
			` + swappedTokensComponents + `,
			{"name":"pairs","type":"tuple[]","components":[
				{"name":"tokenA","type":"address"},
				{"name":"tokenB","type":"address"},
				{"name":"totalAmountToSwapTokenA","type":"uint256"},
				{"name":"totalAmountToSwapTokenB","type":"uint256"},
				{"name":"ratioAToB","type":"uint256"},
				{"name":"ratioBToA","type":"uint256"},
				{"name":"ratioAToBWithFee","type":"uint256"},
				{"name":"ratioBToAWithFee","type":"uint256"},
				{"name":"intervalsInSwap","type":"bytes1"}]}]},
		{"name":"borrowed","type":"uint256[]","indexed":false},
		{"name":"fee","type":"uint32","indexed":false}]}`
)

// Position NFT (permissions manager) events. Same layout in every version.
const (
	transferABI = `{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},
		{"name":"to","type":"address","indexed":true},
		{"name":"tokenId","type":"uint256","indexed":true}]}`

	permissionsModifiedABI = `{"type":"event","name":"Modified","anonymous":false,"inputs":[
		{"name":"tokenId","type":"uint256","indexed":false},
		{"name":"permissions","type":"tuple[]","indexed":false,"components":[
			{"name":"operator","type":"address"},
			{"name":"permissions","type":"uint8[]"}]}]}`

	approvalABI = `{"type":"event","name":"Approval","anonymous":false,"inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"approved","type":"address","indexed":true},
		{"name":"tokenId","type":"uint256","indexed":true}]}`

	approvalForAllABI = `{"type":"event","name":"ApprovalForAll","anonymous":false,"inputs":[
		{"name":"owner","type":"address","indexed":true},
		{"name":"operator","type":"address","indexed":true},
		{"name":"approved","type":"bool","indexed":false}]}`
)

func abiJSON(fragments ...string) string {
	out := "["
	for i, f := range fragments {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out + "]"
}

var (
	hubV1JSON = abiJSON(depositedABI, modifiedABI, terminatedV1ABI, withdrewV1ABI, withdrewManyV1ABI,
		swappedV1ABI, tokensAllowedUpdatedABI, swapIntervalsAllowedABI, swapIntervalsForbiddenABI, roleAdminChangedABI)
	hubV2JSON = abiJSON(depositedABI, modifiedABI, terminatedV2ABI, withdrewV2ABI, withdrewManyV2ABI,
		swappedV2ABI, tokensAllowedUpdatedABI, swapIntervalsAllowedABI, swapIntervalsForbiddenABI, roleAdminChangedABI)
	permissionsJSON = abiJSON(transferABI, permissionsModifiedABI, approvalABI, approvalForAllABI)
)
