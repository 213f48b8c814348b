package state

var (
	paramPrefix = []byte("params/")
	heightKey   = []byte("host/height")

	marketNextLotKey      = []byte("market/lot/next")
	marketListingPrefix   = []byte("market/lot/")
	marketTradeHeadPrefix = []byte("market/trade/head/")
	marketTradePrefix     = []byte("market/trade/record/")
	marketBuyersPrefix    = []byte("market/trade/buyers/")

	inventoryBalancePrefix  = []byte("inventory/balance/")
	inventoryApprovalPrefix = []byte("inventory/approval/")
	inventoryURIPrefix      = []byte("inventory/uri/")

	logisticsStatusPrefix = []byte("logistics/status/")
)
