package records

import (
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
)

const (
	defaultRandomDigits = 2
	// 36^12 is the widest power of 36 that fits in an int64.
	maxRandomDigits = 12
)

// IDProvider issues opaque identifiers for new rows.
type IDProvider interface {
	NewID() (string, error)
}

type base36Provider struct {
	randomDigits int
	clock        func() time.Time
}

// NewBase36Provider constructs an IDProvider that concatenates the base-36
// encoded millisecond timestamp with a fixed-width random base-36 suffix.
// Identifiers generated this way sort chronologically. Collisions within the
// same millisecond are possible; callers retry on a primary-key violation.
func NewBase36Provider(randomDigits int) IDProvider {
	if randomDigits <= 0 {
		randomDigits = defaultRandomDigits
	}
	if randomDigits > maxRandomDigits {
		randomDigits = maxRandomDigits
	}
	return &base36Provider{randomDigits: randomDigits, clock: time.Now}
}

func (p *base36Provider) NewID() (string, error) {
	timestamp := strconv.FormatInt(p.clock().UnixMilli(), 36)
	maxRandom := int64(1)
	for i := 0; i < p.randomDigits; i++ {
		maxRandom *= 36
	}
	suffix := strconv.FormatInt(rand.Int64N(maxRandom), 36)
	if padding := p.randomDigits - len(suffix); padding > 0 {
		suffix = strings.Repeat("0", padding) + suffix
	}
	return timestamp + suffix, nil
}
