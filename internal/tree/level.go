package tree

import "fmt"

// Level is the position of a node in the execution hierarchy.
type Level uint8

const (
	LevelBatch Level = iota
	LevelStory
	LevelScenario
	LevelStep
)

// Levels lists every level, outermost first.
var Levels = []Level{LevelBatch, LevelStory, LevelScenario, LevelStep}

var levelNames = [...]string{
	LevelBatch:    "batch",
	LevelStory:    "story",
	LevelScenario: "scenario",
	LevelStep:     "step",
}

func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return fmt.Sprintf("Level(%d)", uint8(l))
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	if int(l) >= len(levelNames) {
		return nil, fmt.Errorf("invalid level %d", uint8(l))
	}
	return []byte(levelNames[l]), nil
}

// UnmarshalText decodes a level name.
func (l *Level) UnmarshalText(text []byte) error {
	for i, name := range levelNames {
		if name == string(text) {
			*l = Level(i)
			return nil
		}
	}
	return fmt.Errorf("unknown level %q", text)
}
