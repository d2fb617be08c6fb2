package models

import "strings"

// ThreatType classifies what a track reports.
type ThreatType string

const (
	ThreatBallistic     ThreatType = "ballistic"
	ThreatCruiseMissile ThreatType = "cruise_missile"
	ThreatRocket        ThreatType = "rocket"
	ThreatDrone         ThreatType = "drone"
	ThreatKAB           ThreatType = "kab"
	ThreatAircraft      ThreatType = "aircraft"
	ThreatArtillery     ThreatType = "artillery"
	ThreatExplosion     ThreatType = "explosion"
	ThreatAlarm         ThreatType = "alarm"
	ThreatAllClear      ThreatType = "all_clear"
	ThreatUnknown       ThreatType = "unknown"
)

// legacy names written by older producers
var threatAliases = map[string]ThreatType{
	"shahed":   ThreatDrone,
	"missile":  ThreatRocket,
	"mig":      ThreatAircraft,
	"aviation": ThreatAircraft,
	"avia":     ThreatAircraft,
	"rszv":     ThreatArtillery,
}

var knownThreats = map[ThreatType]struct{}{
	ThreatBallistic: {}, ThreatCruiseMissile: {}, ThreatRocket: {}, ThreatDrone: {},
	ThreatKAB: {}, ThreatAircraft: {}, ThreatArtillery: {}, ThreatExplosion: {},
	ThreatAlarm: {}, ThreatAllClear: {}, ThreatUnknown: {},
}

// ParseThreatType maps stored or user-supplied names to a ThreatType,
// returning ThreatUnknown for anything unrecognized.
func ParseThreatType(s string) ThreatType {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return ThreatUnknown
	}
	if t, ok := threatAliases[key]; ok {
		return t
	}
	if _, ok := knownThreats[ThreatType(key)]; ok {
		return ThreatType(key)
	}
	return ThreatUnknown
}

// Valid reports whether t is one of the declared constants.
func (t ThreatType) Valid() bool {
	_, ok := knownThreats[t]
	return ok
}

func (t ThreatType) String() string {
	if t == "" {
		return string(ThreatUnknown)
	}
	return string(t)
}
