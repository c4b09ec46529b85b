package rating

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kaoyanmate/kaoyanmate/models"
)

// EventKind classifies a rating-affecting event.
type EventKind int

const (
	KindCheckIn   EventKind = iota // normal study entry
	KindPenalty                    // missed-day delinquency marker
	KindExemption                  // administrative reversal of a penalty
	KindBonus                      // passing algorithm submission
	KindAdjust                     // manual adjustment with explicit delta
)

// Reason labels embedded in ledger change_reason strings. The penalty and
// bonus labels double as the legacy shorthand patterns the delta parser
// recognizes in rows written before transitions were recorded explicitly.
const (
	LabelInitial = "初始评分"
	LabelCheckIn = "打卡奖励"
	LabelPenalty = "缺卡惩罚"
	LabelExempt  = "惩罚豁免"
	LabelBonus   = "做题奖励"
	LabelAdjust  = "手动调整"

	// ExemptMarker is appended to a penalty check-in's content when it is
	// voided. The row itself is kept for the audit trail.
	ExemptMarker = "已豁免"
)

// Event is one classified, replayable occurrence in a user's history.
type Event struct {
	Kind      EventKind
	At        time.Time
	Seq       int64 // original record order, breaks timestamp ties
	Label     string
	Magnitude int // signed delta for penalty, exemption and adjust events
	Ref       uint
}

var transitionRe = regexp.MustCompile(`R:\s*(\d+)\s*->\s*(\d+)`)

// TransitionReason renders the canonical change_reason. The engine only ever
// writes this form; the shorthand patterns below exist for historical rows.
func TransitionReason(old, new int, label string) string {
	if label == "" {
		return fmt.Sprintf("R: %d->%d", old, new)
	}
	return fmt.Sprintf("R: %d->%d（%s）", old, new, label)
}

// ParseTransition extracts the "R: <old>-><new>" pattern from a reason or
// content string.
func ParseTransition(s string) (old, new int, ok bool) {
	m := transitionRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	old, _ = strconv.Atoi(m[1])
	new, _ = strconv.Atoi(m[2])
	return old, new, true
}

// ReconstructDelta recovers how much a ledger entry changed the rating by.
// Historical rows store only the resulting absolute value plus free text, so
// the parse is priority ordered: the explicit transition is most trustworthy,
// fixed-magnitude shorthand next, and the arithmetic difference against the
// previous row is the last resort (it breaks silently if the ledger was
// edited out of order). prev may be nil for the first row.
func ReconstructDelta(entry models.RatingHistory, prev *models.RatingHistory, p Params) int {
	if old, new, ok := ParseTransition(entry.ChangeReason); ok {
		return new - old
	}
	if strings.Contains(entry.ChangeReason, LabelPenalty) {
		return -p.PenaltyPoints
	}
	if strings.Contains(entry.ChangeReason, LabelBonus) {
		return p.BonusPoints
	}
	if prev != nil {
		return entry.Rating - prev.Rating
	}
	return 0
}

// LedgerView is a ledger entry annotated with its reconstructed delta.
type LedgerView struct {
	models.RatingHistory
	Delta int `json:"delta"`
}

// AnnotateDeltas attaches reconstructed deltas to a ledger slice sorted
// ascending by recorded_at (ties by id, the original insertion order).
func AnnotateDeltas(entries []models.RatingHistory, p Params) []LedgerView {
	sorted := make([]models.RatingHistory, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].RecordedAt.Equal(sorted[j].RecordedAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].RecordedAt.Before(sorted[j].RecordedAt)
	})

	views := make([]LedgerView, len(sorted))
	for i, e := range sorted {
		var prev *models.RatingHistory
		if i > 0 {
			prev = &sorted[i-1]
		}
		views[i] = LedgerView{RatingHistory: e, Delta: ReconstructDelta(e, prev, p)}
	}
	return views
}

// containsExemptMarker recognizes a voided penalty by its annotated content.
func containsExemptMarker(s string) bool {
	return strings.Contains(s, LabelPenalty) && strings.Contains(s, ExemptMarker)
}

// sortEvents orders events chronologically with stable insertion-order ties.
func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].At.Equal(events[j].At) {
			return events[i].Seq < events[j].Seq
		}
		return events[i].At.Before(events[j].At)
	})
}
