package eval

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// Functions returns the function table available inside declaration
// expressions.
func Functions() map[string]function.Function {
	return map[string]function.Function{
		"upper":     stdlib.UpperFunc,
		"lower":     stdlib.LowerFunc,
		"replace":   stdlib.ReplaceFunc,
		"substr":    stdlib.SubstrFunc,
		"trimspace": stdlib.TrimSpaceFunc,
		"format":    stdlib.FormatFunc,
		"join":      stdlib.JoinFunc,
		"coalesce":  stdlib.CoalesceFunc,

		"uniquestring": uniqueStringFunc,
		"sanitizename": sanitizeNameFunc,
	}
}

// UniqueString derives a deterministic 13-character lowercase base-36
// identifier from the given seeds. The encoding is fixed so that two
// engines agree on generated identifiers: seeds joined with "|",
// hashed with xxhash64, formatted in base 36 and left-padded with '0'
// to 13 characters.
func UniqueString(seeds ...string) string {
	sum := xxhash.Sum64String(strings.Join(seeds, "|"))
	s := strconv.FormatUint(sum, 36)
	for len(s) < 13 {
		s = "0" + s
	}
	return s
}

// SanitizeName lowercases s, strips every character outside [a-z0-9]
// and truncates to maxLen. Used for targets with strict name rules,
// such as storage accounts.
func SanitizeName(s string, maxLen int) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if maxLen > 0 && len(out) > maxLen {
		out = out[:maxLen]
	}
	return out
}

var uniqueStringFunc = function.New(&function.Spec{
	VarParam: &function.Parameter{
		Name: "seed",
		Type: cty.String,
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		seeds := make([]string, len(args))
		for i, arg := range args {
			seeds[i] = arg.AsString()
		}
		return cty.StringVal(UniqueString(seeds...)), nil
	},
})

var sanitizeNameFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "name", Type: cty.String},
		{Name: "max_length", Type: cty.Number},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		maxLen, _ := args[1].AsBigFloat().Int64()
		return cty.StringVal(SanitizeName(args[0].AsString(), int(maxLen))), nil
	},
})
