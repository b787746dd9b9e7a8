package eval

import (
	"github.com/zclconf/go-cty/cty"
)

// ctyToGo converts an evaluated cty value into a plain Go value for
// handing to the provider abstraction.
func ctyToGo(val cty.Value) any {
	if val.IsNull() {
		return nil
	}

	ty := val.Type()
	switch {
	case ty == cty.String:
		return val.AsString()
	case ty == cty.Bool:
		return val.True()
	case ty == cty.Number:
		bf := val.AsBigFloat()
		if bf.IsInt() {
			i, _ := bf.Int64()
			return i
		}
		f, _ := bf.Float64()
		return f
	case ty.IsObjectType() || ty.IsMapType():
		m := make(map[string]any, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			k, v := it.Element()
			m[k.AsString()] = ctyToGo(v)
		}
		return m
	case ty.IsTupleType() || ty.IsListType() || ty.IsSetType():
		s := make([]any, 0, val.LengthInt())
		for it := val.ElementIterator(); it.Next(); {
			_, v := it.Element()
			s = append(s, ctyToGo(v))
		}
		return s
	default:
		return nil
	}
}

// GoToCty converts a provider output value into a cty value so that
// later expressions can reference it. Unsupported types become null.
func GoToCty(v any) cty.Value {
	switch val := v.(type) {
	case nil:
		return cty.NullVal(cty.DynamicPseudoType)
	case string:
		return cty.StringVal(val)
	case bool:
		return cty.BoolVal(val)
	case int:
		return cty.NumberIntVal(int64(val))
	case int64:
		return cty.NumberIntVal(val)
	case float64:
		return cty.NumberFloatVal(val)
	case map[string]any:
		if len(val) == 0 {
			return cty.EmptyObjectVal
		}
		m := make(map[string]cty.Value, len(val))
		for k, item := range val {
			m[k] = GoToCty(item)
		}
		return cty.ObjectVal(m)
	case []any:
		if len(val) == 0 {
			return cty.EmptyTupleVal
		}
		s := make([]cty.Value, len(val))
		for i, item := range val {
			s[i] = GoToCty(item)
		}
		return cty.TupleVal(s)
	default:
		return cty.NullVal(cty.DynamicPseudoType)
	}
}
