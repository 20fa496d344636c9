package engine

import "fmt"

// Asset identifies one of the three supported instruments.
type Asset uint8

const (
	AssetGold Asset = iota
	AssetSOL
	AssetBTC

	// AssetCount is the fixed number of supported instruments.
	AssetCount = 3
)

// Assets returns the supported instruments in id order.
func Assets() [AssetCount]Asset {
	return [AssetCount]Asset{AssetGold, AssetSOL, AssetBTC}
}

// Valid reports whether a is one of the supported instruments.
func (a Asset) Valid() bool {
	return a < AssetCount
}

func (a Asset) String() string {
	switch a {
	case AssetGold:
		return "GOLD"
	case AssetSOL:
		return "SOL"
	case AssetBTC:
		return "BTC"
	default:
		return fmt.Sprintf("Asset(%d)", uint8(a))
	}
}

// ParseAsset maps a symbol back to its Asset id.
func ParseAsset(s string) (Asset, bool) {
	switch s {
	case "GOLD":
		return AssetGold, true
	case "SOL":
		return AssetSOL, true
	case "BTC":
		return AssetBTC, true
	default:
		return 0, false
	}
}
