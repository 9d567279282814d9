package erc20

// Parameters are the tool inputs. The same value is passed to Precheck and
// Execute.
type Parameters struct {
	To           string `json:"to"`
	Amount       string `json:"amount"`
	TokenAddress string `json:"tokenAddress"`
	// RPCURL is optional; empty means the host's default endpoint.
	RPCURL string `json:"rpcUrl,omitempty"`
	// ChainID is optional; nil means absent.
	ChainID *int64 `json:"chainId,omitempty"`
}

// Map returns the parameters keyed by their JSON names, the shape policy
// bindings project from.
func (p Parameters) Map() map[string]any {
	m := map[string]any{
		"to":           p.To,
		"amount":       p.Amount,
		"tokenAddress": p.TokenAddress,
	}
	if p.RPCURL != "" {
		m["rpcUrl"] = p.RPCURL
	}
	if p.ChainID != nil {
		m["chainId"] = *p.ChainID
	}
	return m
}
