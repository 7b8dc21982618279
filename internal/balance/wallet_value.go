package balance

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const majorTypeArray = 4

// MultiAsset policy id -> asset name -> quantity
type MultiAsset map[string]map[string]uint64

// WalletValue a wallet balance: the coin amount plus any native assets
type WalletValue struct {
	Coin   uint64
	Assets MultiAsset
}

// walletValueArray the [coin, multiasset] array form
type walletValueArray struct {
	_      struct{} `cbor:",toarray"`
	Coin   uint64
	Assets map[cbor.ByteString]map[cbor.ByteString]uint64
}

var walletDecMode cbor.DecMode

func init() {
	var err error
	walletDecMode, err = cbor.DecOptions{
		// duplicate policy ids or asset names are malformed values
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("balance: CBOR decoder initialization failed: " + err.Error())
	}
}

// DecodeWalletValue decodes either a plain coin amount or the multi-asset
// form [coin, {policy: {asset: quantity}}]. Policy ids and asset names are
// returned hex encoded.
func DecodeWalletValue(b []byte) (*WalletValue, error) {
	if len(b) == 0 {
		return nil, ErrTruncatedInput
	}

	if b[0]>>5 != majorTypeArray {
		coin, err := Decode(b)
		if err != nil {
			return nil, err
		}
		return &WalletValue{Coin: coin}, nil
	}

	var raw walletValueArray
	if err := walletDecMode.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	value := &WalletValue{Coin: raw.Coin}
	if len(raw.Assets) > 0 {
		value.Assets = make(MultiAsset, len(raw.Assets))
		for policy, assets := range raw.Assets {
			named := make(map[string]uint64, len(assets))
			for name, qty := range assets {
				named[fmt.Sprintf("%x", []byte(name))] = qty
			}
			value.Assets[fmt.Sprintf("%x", []byte(policy))] = named
		}
	}
	return value, nil
}
