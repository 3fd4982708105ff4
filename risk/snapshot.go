package risk

// RiskStateSnapshot 的标准键名。缺失键按安全默认值处理，不报错。
const (
	KeyDayStartEquity    = "day_start_equity"
	KeyCurrentEquity     = "current_equity"
	KeyPositionCost      = "position_cost"
	KeyPositionValue     = "position_value"
	KeyPositions         = "positions"
	KeyMarginUsed        = "margin_used"
	KeyMarginAvailable   = "margin_available"
	KeyConsecutiveLosses = "consecutive_losses"
)

// PositionSnapshot 单个持仓的成本与现值。
type PositionSnapshot struct {
	Symbol string
	Cost   float64
	Value  float64
	Qty    int64
}

// StateSnapshot 风险检查的输入快照。上游喂什么算什么，
// 缺失或类型不符的键一律按 0 / 空处理。
type StateSnapshot map[string]interface{}

// Has 判断键是否存在。
func (s StateSnapshot) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Float 容忍常见数值类型，取不到返回 0。
func (s StateSnapshot) Float(key string) float64 {
	v, ok := s[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// Int 容忍常见数值类型，取不到返回 0。
func (s StateSnapshot) Int(key string) int {
	v, ok := s[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// Positions 解析持仓列表；列表缺失时退化为
// position_cost / position_value 标量构成的单一持仓。
func (s StateSnapshot) Positions() []PositionSnapshot {
	if v, ok := s[KeyPositions]; ok {
		switch list := v.(type) {
		case []PositionSnapshot:
			out := make([]PositionSnapshot, len(list))
			copy(out, list)
			return out
		case []map[string]interface{}:
			out := make([]PositionSnapshot, 0, len(list))
			for _, m := range list {
				out = append(out, positionFromMap(m))
			}
			return out
		case []interface{}:
			out := make([]PositionSnapshot, 0, len(list))
			for _, item := range list {
				if m, ok := item.(map[string]interface{}); ok {
					out = append(out, positionFromMap(m))
				}
			}
			return out
		}
		return nil
	}
	cost := s.Float(KeyPositionCost)
	value := s.Float(KeyPositionValue)
	if cost == 0 && value == 0 {
		return nil
	}
	return []PositionSnapshot{{Symbol: "aggregate", Cost: cost, Value: value}}
}

func positionFromMap(m map[string]interface{}) PositionSnapshot {
	p := PositionSnapshot{}
	if sym, ok := m["symbol"].(string); ok {
		p.Symbol = sym
	}
	p.Cost = StateSnapshot(m).Float("cost")
	p.Value = StateSnapshot(m).Float("value")
	p.Qty = int64(StateSnapshot(m).Int("qty"))
	return p
}
