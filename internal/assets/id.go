package assets

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9.-]`)

const defaultName = "image"

// SanitizeName replaces every character outside [A-Za-z0-9.-] with '-'.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultName
	}
	return unsafeNameChars.ReplaceAllString(name, "-")
}

// IDGenerator derives record ids from a millisecond timestamp and the
// sanitized original name. Timestamps handed out by one generator strictly
// increase, so two submissions of the same file never collide.
type IDGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewIDGenerator returns a generator using the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// WithNowFunc allows tests to override the time source.
func (g *IDGenerator) WithNowFunc(now func() time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.now = now
}

// Next returns a fresh id for originalName along with the submission time
// encoded in it.
func (g *IDGenerator) Next(originalName string) (string, time.Time) {
	g.mu.Lock()
	now := g.now()
	stamp := now.UnixMilli()
	if stamp <= g.last {
		stamp = g.last + 1
	}
	g.last = stamp
	g.mu.Unlock()

	return strconv.FormatInt(stamp, 10) + "-" + SanitizeName(originalName), time.UnixMilli(stamp).UTC()
}
