package domain

import "math/big"

// TokenType classifies a token by how the protocol transforms it.
type TokenType string

const (
	TokenTypeBase                 TokenType = "BASE"
	TokenTypeWrappedProtocolToken TokenType = "WRAPPED_PROTOCOL_TOKEN"
	TokenTypeYieldBearingShare    TokenType = "YIELD_BEARING_SHARE"
)

// String returns the string representation of TokenType.
func (t TokenType) String() string {
	return string(t)
}

// IsValid checks if the token type is a valid value.
func (t TokenType) IsValid() bool {
	switch t {
	case TokenTypeBase, TokenTypeWrappedProtocolToken, TokenTypeYieldBearingShare:
		return true
	}
	return false
}

// Token is an ERC20 referenced by the hub.
// ID is the lowercase hex address.
type Token struct {
	ID                 string    `json:"id"`
	Address            string    `json:"address"`
	Name               string    `json:"name"`
	Symbol             string    `json:"symbol"`
	Decimals           uint8     `json:"decimals"`
	Magnitude          *big.Int  `json:"magnitude"` // 10^decimals
	Allowed            bool      `json:"allowed"`
	Type               TokenType `json:"type"`
	Transformer        string    `json:"transformer,omitempty"` // transformer address, empty for BASE
	UnderlyingTokens   []string  `json:"underlyingTokens,omitempty"`
	CreatedAtBlock     uint64    `json:"createdAtBlock"`
	CreatedAtTimestamp uint64    `json:"createdAtTimestamp"`
}

// IsYieldBearing reports whether amounts of this token need an underlying conversion.
func (t *Token) IsYieldBearing() bool {
	return t.Type == TokenTypeYieldBearingShare
}

// UnderlyingAmount is an amount expressed in one of a share token's underlying tokens.
type UnderlyingAmount struct {
	Token  string   `json:"token"`
	Amount *big.Int `json:"amount"`
}
