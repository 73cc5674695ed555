package factors

// Factor categories
const (
	CategoryValue         = "value"
	CategoryMomentum      = "momentum"
	CategoryProfitability = "profitability"
	CategorySize          = "size"
	CategoryVolatility    = "volatility"
)

// Definitions maps every advertised factor to its category
// ⭐ SSOT: 팩터 카탈로그는 여기서만 정의
var Definitions = map[string]string{
	// Value (낮을수록 좋음 → 역수 취해서 높을수록 좋음)
	"PER":       CategoryValue,
	"PBR":       CategoryValue,
	"PSR":       CategoryValue,
	"PCR":       CategoryValue,
	"EV_EBITDA": CategoryValue,

	// Momentum (높을수록 좋음)
	"MOM_1M":  CategoryMomentum,
	"MOM_3M":  CategoryMomentum,
	"MOM_6M":  CategoryMomentum,
	"MOM_12M": CategoryMomentum,

	// Profitability (높을수록 좋음)
	"ROE":       CategoryProfitability,
	"ROA":       CategoryProfitability,
	"GP_MARGIN": CategoryProfitability,
	"OP_MARGIN": CategoryProfitability,

	// Size
	"SIZE":     CategorySize,
	"SIZE_INV": CategorySize,

	// Volatility (낮을수록 좋음 → 부호 반전)
	"VOL_20D": CategoryVolatility,
}

// catalogOrder fixes the advertised listing order
var catalogOrder = []string{
	"PER", "PBR", "PSR", "PCR", "EV_EBITDA",
	"MOM_1M", "MOM_3M", "MOM_6M", "MOM_12M",
	"ROE", "ROA", "GP_MARGIN", "OP_MARGIN",
	"SIZE", "SIZE_INV",
	"VOL_20D",
}

// momentumWindows maps momentum factors to trading-day lookbacks
var momentumWindows = map[string]int{
	"MOM_1M":  20,
	"MOM_3M":  60,
	"MOM_6M":  120,
	"MOM_12M": 240,
}

// volatilityWindow is the trading-day lookback for VOL_20D
const volatilityWindow = 20

// Catalog returns the advertised factor names in listing order
func Catalog() []string {
	out := make([]string, len(catalogOrder))
	copy(out, catalogOrder)
	return out
}

// Categories returns the advertised factors grouped by category
func Categories() map[string][]string {
	out := make(map[string][]string)
	for _, name := range catalogOrder {
		cat := Definitions[name]
		out[cat] = append(out[cat], name)
	}
	return out
}
