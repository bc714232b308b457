package proto

import "fmt"

// PillarKey identifies one of the four strategy dimensions.
type PillarKey string

const (
	PillarPersona  PillarKey = "persona"
	PillarAudience PillarKey = "audience"
	PillarFormat   PillarKey = "format"
	PillarTone     PillarKey = "tone"
)

func (k PillarKey) String() string {
	return string(k)
}

// PillarKeys returns the four keys in their fixed presentation order.
func PillarKeys() []PillarKey {
	return []PillarKey{PillarPersona, PillarAudience, PillarFormat, PillarTone}
}

// ParsePillarKey validates a user-supplied pillar name.
func ParsePillarKey(s string) (PillarKey, error) {
	key := PillarKey(s)
	for _, k := range PillarKeys() {
		if k == key {
			return key, nil
		}
	}
	return "", fmt.Errorf("unknown pillar key %q (want persona, audience, format, or tone)", s)
}
