package manager

import (
	"fmt"
	"math/rand"
	"regexp"

	"github.com/google/uuid"
)

// SessionPrefix is the first component of every session name the engine
// creates. Discovery and reattachment depend on the convention
// <prefix>-<project-slug>-<thread-id>[-tab-<n>] staying bit-exact.
const SessionPrefix = "magent"

// BranchPrefix namespaces engine-created branches.
const BranchPrefix = "magent/"

var threadNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ValidThreadName reports whether a user-supplied thread name is usable in
// branch and path components.
func ValidThreadName(name string) bool {
	return name != "" && len(name) <= 60 && threadNamePattern.MatchString(name)
}

var nameAdjectives = []string{
	"amber", "bold", "brave", "bright", "calm", "clever", "crisp", "eager",
	"fleet", "gentle", "golden", "keen", "lively", "lucid", "mellow", "nimble",
	"patient", "quiet", "rapid", "solid", "steady", "swift", "tidy", "vivid",
	"warm", "wise",
}

var nameNouns = []string{
	"badger", "beacon", "comet", "falcon", "fern", "glacier", "harbor",
	"heron", "lantern", "maple", "meadow", "orbit", "otter", "pine",
	"prairie", "raven", "reef", "ridge", "river", "sparrow", "summit",
	"thicket", "tundra", "willow",
}

// randomThreadName returns a random two-word identifier like "calm-otter".
// Callers regenerate on collision. A variable so tests can force collisions.
var randomThreadName = func() string {
	adj := nameAdjectives[rand.Intn(len(nameAdjectives))]
	noun := nameNouns[rand.Intn(len(nameNouns))]
	return adj + "-" + noun
}

// branchForName derives the branch name for a thread display name.
func branchForName(name string) string {
	return BranchPrefix + name
}

// sessionName derives the first session name for a thread.
func sessionName(projectSlug, threadID string) string {
	return fmt.Sprintf("%s-%s-%s", SessionPrefix, projectSlug, threadID)
}

// tabSessionName derives the session name for tab n (n >= 2; tab 1 is the
// unsuffixed first session).
func tabSessionName(projectSlug, threadID string, n int) string {
	return fmt.Sprintf("%s-%s-%s-tab-%d", SessionPrefix, projectSlug, threadID, n)
}

// supersededSuffix marks sessions left behind by a rename.
const supersededSuffix = "-superseded"

// newSectionID returns a fresh section identifier.
func newSectionID() string {
	return uuid.New().String()[:8]
}
