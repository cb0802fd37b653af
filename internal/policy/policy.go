package policy

import (
	"strings"

	"github.com/tierstore/tierstore/internal/config"
	"github.com/tierstore/tierstore/pkg/types"
)

// Rule names the routing rule that produced a decision. Exposed so the
// gateway can log and count decisions per rule.
type Rule string

const (
	RuleCriticalRealtime  Rule = "critical_realtime"
	RuleSmallHotObject    Rule = "small_hot_object"
	RuleBulkPreferredMime Rule = "bulk_preferred_mime"
	RuleLargeFile         Rule = "large_file"
	RuleDefault           Rule = "default"
)

// Decision is the outcome of a routing evaluation.
type Decision struct {
	Tier types.TierID
	Rule Rule
}

// Engine evaluates routing decisions against a fixed rule order:
//
//  1. critical or realtime objects go to the fast tier
//  2. small objects with a hot declared type or a frequent access hint go
//     to the fast tier
//  3. bulk-preferred MIME classes go to the bulk tier
//  4. objects at or above the large-file threshold go to the bulk tier
//  5. everything else goes to the configured default tier
//
// Earlier rules win; a 200 GB critical object still routes fast.
type Engine struct {
	smallFileCeiling   int64
	largeFileThreshold int64
	bulkPreferredMime  []string
	fastDeclaredTypes  map[string]struct{}
	defaultTier        types.TierID
}

// NewEngine builds an engine from the routing configuration.
func NewEngine(routing config.RoutingConfig, defaultTier types.TierID) *Engine {
	fastTypes := make(map[string]struct{}, len(routing.FastDeclaredTypes))
	for _, t := range routing.FastDeclaredTypes {
		fastTypes[strings.ToLower(t)] = struct{}{}
	}
	return &Engine{
		smallFileCeiling:   routing.SmallFileCeiling,
		largeFileThreshold: routing.LargeFileThreshold,
		bulkPreferredMime:  routing.BulkPreferredMime,
		fastDeclaredTypes:  fastTypes,
		defaultTier:        defaultTier,
	}
}

// Decide returns the tier for the given object attributes and the rule that
// selected it.
func (e *Engine) Decide(in types.RouteInput) Decision {
	if in.Critical || in.Realtime {
		return Decision{Tier: types.TierFast, Rule: RuleCriticalRealtime}
	}

	if in.SizeBytes < e.smallFileCeiling && (e.isFastDeclaredType(in.DeclaredType) || in.AccessHint == types.AccessFrequent) {
		return Decision{Tier: types.TierFast, Rule: RuleSmallHotObject}
	}

	if e.isBulkPreferredMime(in.MimeType) {
		return Decision{Tier: types.TierBulk, Rule: RuleBulkPreferredMime}
	}

	if in.SizeBytes >= e.largeFileThreshold {
		return Decision{Tier: types.TierBulk, Rule: RuleLargeFile}
	}

	return Decision{Tier: e.defaultTier, Rule: RuleDefault}
}

func (e *Engine) isFastDeclaredType(declared string) bool {
	if declared == "" {
		return false
	}
	_, ok := e.fastDeclaredTypes[strings.ToLower(declared)]
	return ok
}

// isBulkPreferredMime matches exact entries and prefix entries. Prefix
// entries end with "/" and match whole MIME type families ("video/" matches
// "video/mp4").
func (e *Engine) isBulkPreferredMime(mime string) bool {
	if mime == "" {
		return false
	}
	mime = strings.ToLower(mime)
	for _, entry := range e.bulkPreferredMime {
		entry = strings.ToLower(entry)
		if strings.HasSuffix(entry, "/") {
			if strings.HasPrefix(mime, entry) {
				return true
			}
		} else if mime == entry {
			return true
		}
	}
	return false
}
