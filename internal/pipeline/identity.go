package pipeline

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Identity fingerprints a requested analysis. Two requests with the same
// inputs and settings share an identity; creation time is deliberately
// excluded so re-invocations are recognized as the same logical analysis.
type Identity struct {
	QueryBase         string
	RefBase           string
	ModelsBase        string
	TreeMethod        string
	MinMarkerFraction float64
}

// String renders the identity as the run-directory prefix. Dots are
// stripped so the analysis name stays a single filesystem-safe token.
func (id Identity) String() string {
	name := fmt.Sprintf("%s-%s-%s-%s-perc%d",
		id.QueryBase, id.RefBase, id.ModelsBase, id.TreeMethod,
		int(id.MinMarkerFraction*10))
	return strings.ReplaceAll(name, ".", "")
}

// NewRunDirName appends a timestamp suffix to the identity so runs
// created concurrently for the same identity cannot collide.
func NewRunDirName(id Identity, now time.Time) string {
	ts := now.UTC().Format("20060102-150405")
	buf := make([]byte, 2)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s-%s-0000", id.String(), ts)
	}
	return fmt.Sprintf("%s-%s-%s", id.String(), ts, hex.EncodeToString(buf))
}
