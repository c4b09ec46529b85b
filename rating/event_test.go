package rating

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaoyanmate/kaoyanmate/models"
)

func testParams() Params {
	return Params{
		DefaultRating:     1200,
		Floor:             0,
		PenaltyPoints:     20,
		BonusPoints:       10,
		CheckInReward:     0,
		DailyGoalMinutes:  120,
		LeaveMakeupPerDay: 60,
		PenaltyStart:      time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local),
		Calendar:          Calendar{CutoffHour: 4},
	}
}

func TestTransitionReasonRoundTrip(t *testing.T) {
	reason := TransitionReason(1200, 1180, LabelPenalty)
	assert.Equal(t, "R: 1200->1180（缺卡惩罚）", reason)

	old, new, ok := ParseTransition(reason)
	require.True(t, ok)
	assert.Equal(t, 1200, old)
	assert.Equal(t, 1180, new)
}

func TestTransitionReasonNoLabel(t *testing.T) {
	assert.Equal(t, "R: 10->30", TransitionReason(10, 30, ""))
}

func TestParseTransition(t *testing.T) {
	tests := []struct {
		in       string
		old, new int
		ok       bool
	}{
		{"R: 1200->1180（缺卡惩罚）", 1200, 1180, true},
		{"R:1100->1110", 1100, 1110, true},
		{"缺卡惩罚：2025-03-05 未完成当日学习目标（R: 980->960）", 980, 960, true},
		{"做题奖励", 0, 0, false},
		{"", 0, 0, false},
		{"R: ->10", 0, 0, false},
	}
	for _, tt := range tests {
		old, new, ok := ParseTransition(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		if tt.ok {
			assert.Equal(t, tt.old, old, "input %q", tt.in)
			assert.Equal(t, tt.new, new, "input %q", tt.in)
		}
	}
}

func TestReconstructDelta(t *testing.T) {
	p := testParams()
	prev := &models.RatingHistory{Rating: 1200}

	tests := []struct {
		name  string
		entry models.RatingHistory
		prev  *models.RatingHistory
		want  int
	}{
		{
			name:  "explicit transition wins over everything",
			entry: models.RatingHistory{Rating: 1150, ChangeReason: "R: 1200->1150（手动调整）"},
			prev:  prev,
			want:  -50,
		},
		{
			name:  "penalty shorthand",
			entry: models.RatingHistory{Rating: 1180, ChangeReason: "缺卡惩罚"},
			prev:  prev,
			want:  -20,
		},
		{
			name:  "bonus shorthand",
			entry: models.RatingHistory{Rating: 1210, ChangeReason: "做题奖励"},
			prev:  prev,
			want:  10,
		},
		{
			name:  "arithmetic fallback against previous row",
			entry: models.RatingHistory{Rating: 1234, ChangeReason: "历史导入"},
			prev:  prev,
			want:  34,
		},
		{
			name:  "first row with no pattern reconstructs as zero",
			entry: models.RatingHistory{Rating: 1200, ChangeReason: "初始评分"},
			prev:  nil,
			want:  0,
		},
		{
			name:  "transition beats the penalty keyword in the same string",
			entry: models.RatingHistory{Rating: 970, ChangeReason: "R: 1000->970（缺卡惩罚）"},
			prev:  prev,
			want:  -30,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReconstructDelta(tt.entry, tt.prev, p))
		})
	}
}

func TestAnnotateDeltas(t *testing.T) {
	p := testParams()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.Local)

	// Deliberately unsorted input; annotation must order by recorded_at.
	entries := []models.RatingHistory{
		{ID: 3, Rating: 1190, ChangeReason: "做题奖励", RecordedAt: base.Add(2 * time.Hour)},
		{ID: 1, Rating: 1200, ChangeReason: "R: 1200->1200（初始评分）", RecordedAt: base},
		{ID: 2, Rating: 1180, ChangeReason: "缺卡惩罚", RecordedAt: base.Add(time.Hour)},
	}

	views := AnnotateDeltas(entries, p)
	require.Len(t, views, 3)
	assert.Equal(t, uint(1), views[0].ID)
	assert.Equal(t, 0, views[0].Delta)
	assert.Equal(t, uint(2), views[1].ID)
	assert.Equal(t, -20, views[1].Delta)
	assert.Equal(t, uint(3), views[2].ID)
	assert.Equal(t, 10, views[2].Delta)
}

func TestAnnotateDeltasTieBreakByID(t *testing.T) {
	p := testParams()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.Local)
	entries := []models.RatingHistory{
		{ID: 2, Rating: 1190, ChangeReason: "x", RecordedAt: at},
		{ID: 1, Rating: 1200, ChangeReason: "x", RecordedAt: at},
	}
	views := AnnotateDeltas(entries, p)
	require.Len(t, views, 2)
	assert.Equal(t, uint(1), views[0].ID)
	assert.Equal(t, uint(2), views[1].ID)
}

func TestSortEventsStable(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)
	events := []Event{
		{Kind: KindExemption, At: at, Seq: 9},
		{Kind: KindPenalty, At: at, Seq: 8},
		{Kind: KindCheckIn, At: at.Add(-time.Hour), Seq: 20},
	}
	sortEvents(events)
	assert.Equal(t, KindCheckIn, events[0].Kind)
	assert.Equal(t, KindPenalty, events[1].Kind)
	assert.Equal(t, KindExemption, events[2].Kind)
}

func TestExemptMarkerDetection(t *testing.T) {
	assert.True(t, containsExemptMarker("缺卡惩罚：2025-03-05 未完成当日学习目标（R: 1200->1180）（已豁免 +20）"))
	assert.False(t, containsExemptMarker("缺卡惩罚：2025-03-05 未完成当日学习目标"))
	assert.False(t, containsExemptMarker("今天已豁免休息"))
}
