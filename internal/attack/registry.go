package attack

import "fmt"

// #region family
// Family identifies which external attack library serves an attack.
type Family string

const (
	FamilyAdvertorch Family = "advertorch"
	FamilyART        Family = "art"
)

// #endregion family

// #region known-attacks
// Attacks each bridge actually implements. Unknown names fail at build time
// rather than mid-session.
var knownAttacks = map[Family]map[string]bool{
	FamilyAdvertorch: {
		"fgsm":   true,
		"pgdinf": true,
		"cw":     true,
		"jsma":   true,
	},
	FamilyART: {
		"boundary": true,
		"spatial":  true,
		"deepfool": true,
		"cw":       true,
	},
}

// #endregion known-attacks

// #region spec
// Spec declares one attack to run: which library family, which attack, and
// its opaque construction parameters.
type Spec struct {
	Family   Family
	Name     string
	Params   map[string]float64
	Targeted bool
}

// #endregion spec

// #region build
// Build constructs the adapter for spec against the bridge at baseURL.
func Build(spec Spec, baseURL string) (Attack, error) {
	known, ok := knownAttacks[spec.Family]
	if !ok {
		return nil, fmt.Errorf("build attack: unknown family %q", spec.Family)
	}
	if !known[spec.Name] {
		return nil, fmt.Errorf("build attack: family %s has no attack %q", spec.Family, spec.Name)
	}

	switch spec.Family {
	case FamilyAdvertorch:
		return NewAdvertorch(baseURL, spec.Name, spec.Params, spec.Targeted), nil
	case FamilyART:
		return NewART(baseURL, spec.Name, spec.Params, spec.Targeted), nil
	default:
		return nil, fmt.Errorf("build attack: unknown family %q", spec.Family)
	}
}

// #endregion build
