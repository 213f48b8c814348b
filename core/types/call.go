package types

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	agoracrypto "agora/crypto"
)

// CallType defines the purpose of a call.
type CallType byte

const (
	CallTypeTransfer           CallType = 0x01
	CallTypeSell               CallType = 0x10
	CallTypeBuy                CallType = 0x11
	CallTypeShip               CallType = 0x12
	CallTypeDeliver            CallType = 0x13
	CallTypeSettle             CallType = 0x14
	CallTypeRefund             CallType = 0x15
	CallTypeReturning          CallType = 0x16
	CallTypeReleaseMargin      CallType = 0x17
	CallTypeSetMarginRate      CallType = 0x20
	CallTypeSetFeeRate         CallType = 0x21
	CallTypeSetReturnPeriod    CallType = 0x22
	CallTypeTransferAdmin      CallType = 0x23
	CallTypeSetPaused          CallType = 0x24
	CallTypeSetApprovalForAll  CallType = 0x30
	CallTypeSetLogisticsStatus CallType = 0x40
)

var callTypeNames = map[CallType]string{
	CallTypeTransfer:           "transfer",
	CallTypeSell:               "sell",
	CallTypeBuy:                "buy",
	CallTypeShip:               "ship",
	CallTypeDeliver:            "deliver",
	CallTypeSettle:             "settle",
	CallTypeRefund:             "refund",
	CallTypeReturning:          "returning",
	CallTypeReleaseMargin:      "releaseMargin",
	CallTypeSetMarginRate:      "setMarginRate",
	CallTypeSetFeeRate:         "setFeeRate",
	CallTypeSetReturnPeriod:    "setReturnPeriod",
	CallTypeTransferAdmin:      "transferAdmin",
	CallTypeSetPaused:          "setPaused",
	CallTypeSetApprovalForAll:  "setApprovalForAll",
	CallTypeSetLogisticsStatus: "setLogisticsStatus",
}

func (t CallType) String() string {
	if name, ok := callTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// Valid reports whether t is a known call type.
func (t CallType) Valid() bool {
	_, ok := callTypeNames[t]
	return ok
}

var ErrUnsignedCall = errors.New("types: call is not signed")

// Call is a signed request to mutate host state. Data carries the JSON
// payload for the call type; Value is the exact native amount attached.
type Call struct {
	ChainID uint64   `json:"chainId"`
	Type    CallType `json:"type"`
	Nonce   uint64   `json:"nonce"`
	Value   *big.Int `json:"value,omitempty"`
	Data    []byte   `json:"data,omitempty"`

	R *big.Int `json:"r,omitempty"`
	S *big.Int `json:"s,omitempty"`
	V *big.Int `json:"v,omitempty"`

	from *agoracrypto.Address
}

// Hash returns the keccak256 digest of the rlp-encoded unsigned fields.
func (c *Call) Hash() ([]byte, error) {
	value := c.Value
	if value == nil {
		value = new(big.Int)
	}
	encoded, err := rlp.EncodeToBytes([]interface{}{c.ChainID, uint8(c.Type), c.Nonce, value, c.Data})
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(encoded), nil
}

func (c *Call) Sign(key *agoracrypto.PrivateKey) error {
	hash, err := c.Hash()
	if err != nil {
		return err
	}
	sig, err := key.Sign(hash)
	if err != nil {
		return err
	}
	c.R = new(big.Int).SetBytes(sig[:32])
	c.S = new(big.Int).SetBytes(sig[32:64])
	c.V = new(big.Int).SetBytes([]byte{sig[64] + 27})
	c.from = nil
	return nil
}

// From recovers the signer of the call.
func (c *Call) From() (agoracrypto.Address, error) {
	if c.from != nil {
		return *c.from, nil
	}
	if c.R == nil || c.S == nil || c.V == nil {
		return agoracrypto.Address{}, ErrUnsignedCall
	}
	hash, err := c.Hash()
	if err != nil {
		return agoracrypto.Address{}, err
	}
	rBytes, sBytes := c.R.Bytes(), c.S.Bytes()
	if len(rBytes) > 32 || len(sBytes) > 32 || c.V.Uint64() < 27 {
		return agoracrypto.Address{}, ErrUnsignedCall
	}
	sig := make([]byte, 65)
	copy(sig[32-len(rBytes):32], rBytes)
	copy(sig[64-len(sBytes):64], sBytes)
	sig[64] = byte(c.V.Uint64() - 27)
	addr, err := agoracrypto.RecoverAddress(hash, sig)
	if err != nil {
		return agoracrypto.Address{}, err
	}
	c.from = &addr
	return addr, nil
}
