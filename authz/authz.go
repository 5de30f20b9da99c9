// Package authz evaluates verified claim sets against simple claim
// requirements. A requirement names a claim and the value it must carry;
// a group of requirements grants access when any one of them matches.
// Evaluation is a pure function of its inputs.
package authz

import (
	"fmt"
	"strconv"
	"strings"
)

// Requirement is a single "claim <name> <value>" access expression.
type Requirement struct {
	// Claim is the name of the claim to inspect.
	Claim string

	// Value is the value the claim must equal, or contain when the claim
	// is a collection.
	Value string
}

// String returns the expression in its directive form.
func (r Requirement) String() string {
	return fmt.Sprintf("claim %s %s", r.Claim, r.Value)
}

// ParseRequirement parses a requirement expression. Both the full
// "claim <name> <value>" directive form and the short "<name> <value>"
// form are accepted. The value may contain spaces; everything after the
// claim name belongs to it.
func ParseRequirement(expr string) (Requirement, error) {
	const op = "authz.ParseRequirement"
	fields := strings.Fields(expr)
	if len(fields) > 0 && fields[0] == "claim" {
		fields = fields[1:]
	}
	if len(fields) < 2 {
		return Requirement{}, fmt.Errorf("%s: %q: expected \"claim <name> <value>\"", op, expr)
	}
	return Requirement{
		Claim: fields[0],
		Value: strings.Join(fields[1:], " "),
	}, nil
}

// ParseRequirements parses a sequence of requirement expressions, which
// together form one OR group.
func ParseRequirements(exprs ...string) ([]Requirement, error) {
	const op = "authz.ParseRequirements"
	reqs := make([]Requirement, 0, len(exprs))
	for _, e := range exprs {
		r, err := ParseRequirement(e)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		reqs = append(reqs, r)
	}
	return reqs, nil
}

// Decision is the outcome of evaluating a claim set against a group of
// requirements.
type Decision struct {
	// Granted reports whether at least one requirement matched.
	Granted bool

	// Matched is the requirement that granted access, when Granted.
	Matched Requirement

	// Reason describes why access was denied, naming the unmatched
	// expressions. Empty when Granted.
	Reason string
}

// Evaluate matches a verified claims set against a group of requirements.
// Requirements are combined with OR: the first match grants. A claim whose
// value is a collection matches when any element equals the required value.
// An empty group denies.
func Evaluate(claims map[string]interface{}, reqs ...Requirement) Decision {
	if len(reqs) == 0 {
		return Decision{Reason: "no requirements configured"}
	}
	for _, r := range reqs {
		if v, ok := claims[r.Claim]; ok && claimMatches(v, r.Value) {
			return Decision{Granted: true, Matched: r}
		}
	}
	unmatched := make([]string, 0, len(reqs))
	for _, r := range reqs {
		unmatched = append(unmatched, r.String())
	}
	return Decision{
		Reason: fmt.Sprintf("no match for required %s", strings.Join(unmatched, " or ")),
	}
}

// claimMatches tests equality, or membership when the claim value is a
// collection as decoded from JSON.
func claimMatches(v interface{}, want string) bool {
	switch val := v.(type) {
	case []interface{}:
		for _, e := range val {
			if s, ok := scalarString(e); ok && s == want {
				return true
			}
		}
		return false
	case []string:
		for _, s := range val {
			if s == want {
				return true
			}
		}
		return false
	default:
		s, ok := scalarString(v)
		return ok && s == want
	}
}

// scalarString renders a scalar claim value the way it appears in a
// requirement expression. Collections and objects have no scalar form.
func scalarString(v interface{}) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case bool:
		return strconv.FormatBool(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case int:
		return strconv.Itoa(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	default:
		return "", false
	}
}
