package ontology

import (
	"fmt"
)

// EntityType is the closed set of story entity kinds.
type EntityType string

const (
	Character EntityType = "CHARACTER"
	Location  EntityType = "LOCATION"
	Event     EntityType = "EVENT"
	Theme     EntityType = "THEME"
	Object    EntityType = "OBJECT"
	Faction   EntityType = "FACTION"
)

// RelationType is the closed set of narrative relationships.
type RelationType string

const (
	Motivates   RelationType = "MOTIVATES"
	Hinders     RelationType = "HINDERS"
	Causes      RelationType = "CAUSES"
	Challenges  RelationType = "CHALLENGES"
	Contradicts RelationType = "CONTRADICTS"
	Foreshadows RelationType = "FORESHADOWS"
	Callbacks   RelationType = "CALLBACKS"
	Knows       RelationType = "KNOWS"
	LocatedIn   RelationType = "LOCATED_IN"
	Owns        RelationType = "OWNS"
	MemberOf    RelationType = "MEMBER_OF"
	AppearsIn   RelationType = "APPEARS_IN"
)

// PacingCategory buckets relations for pacing analysis.
type PacingCategory string

const (
	PacingAction     PacingCategory = "action"
	PacingSetup      PacingCategory = "setup"
	PacingResolution PacingCategory = "resolution"
	PacingNeutral    PacingCategory = "neutral"
)

// RelationSpec describes how a relation type may be used.
type RelationSpec struct {
	Type      RelationType
	Symmetric bool
	// Sources/Targets restrict endpoint entity types. Empty means any.
	Sources       []EntityType
	Targets       []EntityType
	Pacing        PacingCategory
	TensionWeight float64
}

var entityTypes = map[EntityType]bool{
	Character: true,
	Location:  true,
	Event:     true,
	Theme:     true,
	Object:    true,
	Faction:   true,
}

var relationSpecs = map[RelationType]RelationSpec{
	Motivates: {Type: Motivates, Pacing: PacingSetup, TensionWeight: 0},
	Hinders: {Type: Hinders, Pacing: PacingAction, TensionWeight: 1.0,
		Targets: []EntityType{Character, Faction, Event}},
	Causes:     {Type: Causes, Pacing: PacingAction, TensionWeight: 0},
	Challenges: {Type: Challenges, Pacing: PacingAction, TensionWeight: 0.8},
	Contradicts: {Type: Contradicts, Symmetric: true, Pacing: PacingNeutral,
		TensionWeight: 1.2},
	Foreshadows: {Type: Foreshadows, Pacing: PacingSetup, TensionWeight: 0.5},
	Callbacks:   {Type: Callbacks, Pacing: PacingResolution, TensionWeight: 0},
	Knows: {Type: Knows, Symmetric: true, Pacing: PacingNeutral,
		Sources: []EntityType{Character, Faction},
		Targets: []EntityType{Character, Faction, Location, Object, Event}},
	LocatedIn: {Type: LocatedIn, Pacing: PacingNeutral,
		Targets: []EntityType{Location}},
	Owns: {Type: Owns, Pacing: PacingNeutral,
		Sources: []EntityType{Character, Faction, Location}},
	MemberOf: {Type: MemberOf, Pacing: PacingNeutral,
		Sources: []EntityType{Character},
		Targets: []EntityType{Faction}},
	AppearsIn: {Type: AppearsIn, Pacing: PacingNeutral,
		Targets: []EntityType{Event, Location, Theme}},
}

// Version identifies the vocabulary revision. It participates in the
// extraction idempotence key, so bump it whenever the tables above change.
func Version() string { return "narrative-v1" }

func ValidEntityType(t EntityType) bool { return entityTypes[t] }

func ValidRelationType(t RelationType) bool {
	_, ok := relationSpecs[t]
	return ok
}

// Spec returns the relation spec for t.
func Spec(t RelationType) (RelationSpec, bool) {
	s, ok := relationSpecs[t]
	return s, ok
}

// EntityTypes returns the closed entity vocabulary in stable order.
func EntityTypes() []EntityType {
	return []EntityType{Character, Location, Event, Theme, Object, Faction}
}

// RelationTypes returns the closed relation vocabulary in stable order.
func RelationTypes() []RelationType {
	return []RelationType{
		Motivates, Hinders, Causes, Challenges, Contradicts,
		Foreshadows, Callbacks, Knows, LocatedIn, Owns, MemberOf, AppearsIn,
	}
}

// CheckEndpoints validates that a relation admits the given endpoint types.
func CheckEndpoints(rel RelationType, source, target EntityType) error {
	spec, ok := relationSpecs[rel]
	if !ok {
		return fmt.Errorf("unknown relation type %q", rel)
	}
	if len(spec.Sources) > 0 && !contains(spec.Sources, source) {
		return fmt.Errorf("relation %s does not accept source type %s", rel, source)
	}
	if len(spec.Targets) > 0 && !contains(spec.Targets, target) {
		return fmt.Errorf("relation %s does not accept target type %s", rel, target)
	}
	return nil
}

func contains(types []EntityType, t EntityType) bool {
	for _, c := range types {
		if c == t {
			return true
		}
	}
	return false
}
