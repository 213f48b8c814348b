package params

const (
	// ParamsKeyPauses stores the module pause configuration.
	ParamsKeyPauses = "system/pauses"
	// ParamsKeyMarket stores the marketplace rate configuration.
	ParamsKeyMarket = "market/rates"
	// ParamsKeyMarketAdmin stores the address allowed to change market rates.
	ParamsKeyMarketAdmin = "market/admin"
)

const (
	// ParamsKeyRoles stores the fee treasury and logistics oracle authority.
	ParamsKeyRoles = "system/roles"
)
