package ledger

// StakingProgramABI is the ABI of the crowdfunding staking program.
// Timestamps are unix seconds; rewardRate is basis points per day.
const StakingProgramABI = `[
	{
		"inputs": [{"name": "pool", "type": "address"}],
		"name": "getPool",
		"outputs": [{
			"name": "",
			"type": "tuple",
			"components": [
				{"name": "campaign", "type": "address"},
				{"name": "creator", "type": "address"},
				{"name": "stakedTokens", "type": "uint256"},
				{"name": "rewardRate", "type": "uint64"},
				{"name": "lockupPeriod", "type": "uint64"},
				{"name": "startTime", "type": "uint64"},
				{"name": "endTime", "type": "uint64"},
				{"name": "poolBalance", "type": "uint256"},
				{"name": "stakersCount", "type": "uint64"},
				{"name": "active", "type": "bool"},
				{"name": "exists", "type": "bool"}
			]
		}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "pool", "type": "address"},
			{"name": "staker", "type": "address"}
		],
		"name": "getStakerInfo",
		"outputs": [{
			"name": "",
			"type": "tuple",
			"components": [
				{"name": "stakedAmount", "type": "uint256"},
				{"name": "rewardsEarned", "type": "uint256"},
				{"name": "lastClaimTime", "type": "uint64"},
				{"name": "stakingStartTime", "type": "uint64"},
				{"name": "unstakeAvailableTime", "type": "uint64"},
				{"name": "exists", "type": "bool"}
			]
		}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "pool", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "expectedLastClaimTime", "type": "uint64"}
		],
		"name": "stake",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "pool", "type": "address"},
			{"name": "amount", "type": "uint256"},
			{"name": "expectedLastClaimTime", "type": "uint64"}
		],
		"name": "unstake",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "pool", "type": "address"},
			{"name": "expectedLastClaimTime", "type": "uint64"}
		],
		"name": "claimRewards",
		"outputs": [{"name": "claimed", "type": "uint256"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "pool", "type": "address"},
			{"indexed": true, "name": "staker", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"}
		],
		"name": "Staked",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "pool", "type": "address"},
			{"indexed": true, "name": "staker", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"}
		],
		"name": "Unstaked",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "pool", "type": "address"},
			{"indexed": true, "name": "staker", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"}
		],
		"name": "RewardsClaimed",
		"type": "event"
	}
]`

// TokenABI is the subset of ERC20 used to fund stakes.
const TokenABI = `[
	{
		"constant": true,
		"inputs": [{"name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": false,
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [{"name": "", "type": "bool"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [{"name": "", "type": "uint256"}],
		"type": "function"
	},
	{
		"constant": true,
		"inputs": [],
		"name": "decimals",
		"outputs": [{"name": "", "type": "uint8"}],
		"type": "function"
	}
]`
