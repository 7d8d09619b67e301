package contract

import "github.com/shopspring/decimal"

func pct(s string) ModifierRule {
	return ModifierRule{Kind: ModifierPercentage, Value: decimal.RequireFromString(s)}
}

// defaultModifiers is applied when a contract has no rule for a modifier.
// Modifiers not listed leave the amount unchanged.
var defaultModifiers = map[string]ModifierRule{
	"22": pct("1.25"),  // increased procedural services
	"26": pct("0.26"),  // professional component
	"TC": pct("0.74"),  // technical component
	"50": pct("0.5"),   // bilateral procedure
	"51": pct("0.5"),   // multiple procedures
	"52": pct("0.5"),   // reduced services
	"53": pct("0.25"),  // discontinued procedure
	"54": pct("0.7"),   // surgical care only
	"55": pct("0.2"),   // postoperative management only
	"62": pct("0.625"), // two surgeons
	"66": pct("1.0"),   // surgical team
	"76": pct("1.0"),   // repeat procedure, same physician
	"77": pct("1.0"),   // repeat procedure, another physician
	"78": pct("0.7"),   // unplanned return to the operating room
	"79": pct("1.0"),   // unrelated procedure during postoperative period
	"80": pct("1.16"),  // assistant surgeon
	"81": pct("0.13"),  // minimum assistant surgeon
	"82": pct("0.16"),  // assistant surgeon, no qualified resident
	"AS": pct("0.14"),  // non-physician assistant at surgery
	"QK": pct("0.5"),   // medical direction of 2-4 anesthesia procedures
	"QX": pct("0.5"),   // CRNA with medical direction
	"QY": pct("0.5"),   // medical direction of one CRNA
	"QZ": pct("1.0"),   // CRNA without medical direction
	"25": pct("1.0"),   // significant, separately identifiable E/M
	"59": pct("1.0"),   // distinct procedural service
	"XE": pct("1.0"),   // separate encounter
	"XS": pct("1.0"),   // separate structure
	"XP": pct("1.0"),   // separate practitioner
	"XU": pct("1.0"),   // unusual non-overlapping service
	"GT": pct("1.0"),   // interactive telecommunication
	"95": pct("1.0"),   // synchronous telemedicine
}

// DefaultModifierRule returns the built-in rule for modifier.
func DefaultModifierRule(modifier string) (ModifierRule, bool) {
	r, ok := defaultModifiers[modifier]
	if ok {
		r.Modifier = modifier
	}
	return r, ok
}
