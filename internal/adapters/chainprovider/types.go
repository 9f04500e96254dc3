package chainprovider

// Wire types for the gateway REST API.

type walletResponse struct {
	Mnemonic string `json:"mnemonic"`
	XPub     string `json:"xpub"`
}

type addressResponse struct {
	Address string `json:"address"`
}

type privateKeyRequest struct {
	Mnemonic string `json:"mnemonic"`
	Index    int    `json:"index"`
}

type privateKeyResponse struct {
	Key string `json:"key"`
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

type tokenBalanceResponse struct {
	Balance string `json:"balance"`
}

type estimateGasRequest struct {
	From            string `json:"from"`
	To              string `json:"to"`
	Amount          string `json:"amount"`
	ContractAddress string `json:"contractAddress,omitempty"`
}

type estimateGasResponse struct {
	GasLimit string `json:"gasLimit"`
	GasPrice string `json:"gasPrice"`
}

type transferRequest struct {
	From            string `json:"from,omitempty"`
	To              string `json:"to"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency,omitempty"`
	ContractAddress string `json:"contractAddress,omitempty"`
	FromPrivateKey  string `json:"fromPrivateKey"`
	FeeLimit        string `json:"feeLimit,omitempty"`
}

type transferResponse struct {
	TxID string `json:"txId"`
}

type subscriptionRequest struct {
	Type string           `json:"type"`
	Attr subscriptionAttr `json:"attr"`
}

type subscriptionAttr struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
	URL     string `json:"url"`
}

type subscriptionResponse struct {
	ID string `json:"id"`
}

type apiErrorResponse struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}
