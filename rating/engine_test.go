package rating

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaoyanmate/kaoyanmate/models"
)

func newTestEngine() (*Engine, *stubStore) {
	store := newStubStore()
	return NewEngine(store, testParams()), store
}

func penaltyContent(day string, old, new int) string {
	return fmt.Sprintf("%s：%s 未完成当日学习目标（R: %d->%d）", LabelPenalty, day, old, new)
}

func TestApplyEvent(t *testing.T) {
	engine, _ := newTestEngine()

	t.Run("penalty subtracts its magnitude and records the transition", func(t *testing.T) {
		at := time.Date(2025, 3, 5, 23, 59, 0, 0, time.Local)
		next, entry := engine.ApplyEvent(7, 1200, Event{Kind: KindPenalty, At: at, Label: LabelPenalty, Magnitude: -20})
		assert.Equal(t, 1180, next)
		require.NotNil(t, entry)
		assert.Equal(t, uint(7), entry.UserID)
		assert.Equal(t, 1180, entry.Rating)
		assert.Equal(t, "R: 1200->1180（缺卡惩罚）", entry.ChangeReason)
		assert.True(t, entry.RecordedAt.Equal(at))
	})

	t.Run("penalty clamps at the floor", func(t *testing.T) {
		next, entry := engine.ApplyEvent(7, 10, Event{Kind: KindPenalty, Label: LabelPenalty, Magnitude: -20})
		assert.Equal(t, 0, next)
		require.NotNil(t, entry)
		assert.Equal(t, "R: 10->0（缺卡惩罚）", entry.ChangeReason)
	})

	t.Run("penalty at the floor changes nothing", func(t *testing.T) {
		next, entry := engine.ApplyEvent(7, 0, Event{Kind: KindPenalty, Label: LabelPenalty, Magnitude: -20})
		assert.Equal(t, 0, next)
		assert.Nil(t, entry)
	})

	t.Run("zero magnitude penalty changes nothing", func(t *testing.T) {
		next, entry := engine.ApplyEvent(7, 1200, Event{Kind: KindPenalty, Label: LabelPenalty, Magnitude: 0})
		assert.Equal(t, 1200, next)
		assert.Nil(t, entry)
	})

	t.Run("zero reward check-in yields no entry", func(t *testing.T) {
		next, entry := engine.ApplyEvent(7, 1200, Event{Kind: KindCheckIn, Label: LabelCheckIn})
		assert.Equal(t, 1200, next)
		assert.Nil(t, entry)
	})

	t.Run("bonus adds the configured points", func(t *testing.T) {
		next, entry := engine.ApplyEvent(7, 1200, Event{Kind: KindBonus, Label: LabelBonus})
		assert.Equal(t, 1210, next)
		require.NotNil(t, entry)
		assert.Equal(t, "R: 1200->1210（做题奖励）", entry.ChangeReason)
	})

	t.Run("exemption uses its own magnitude", func(t *testing.T) {
		next, entry := engine.ApplyEvent(7, 1180, Event{Kind: KindExemption, Label: LabelExempt, Magnitude: 20})
		assert.Equal(t, 1200, next)
		require.NotNil(t, entry)
		assert.Equal(t, "R: 1180->1200（惩罚豁免）", entry.ChangeReason)
	})
}

func TestRecalculateRangeExemptedPenaltyRestoresRating(t *testing.T) {
	engine, store := newTestEngine()
	store.addUser(models.User{ID: 7, Username: "alice", Rating: 1200})

	// A penalty that was later exempted: the row keeps its audit content and
	// gains the exemption marker.
	store.addCheckIn(models.CheckIn{
		UserID:    7,
		Content:   penaltyContent("2025-03-05", 1200, 1180) + "（已豁免 +20）",
		IsPenalty: false,
		CreatedAt: time.Date(2025, 3, 5, 23, 59, 0, 0, time.Local),
		UpdatedAt: time.Date(2025, 4, 20, 10, 0, 0, 0, time.Local), // granted long after the window
	})

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local)
	end := time.Date(2025, 3, 10, 0, 0, 0, 0, time.Local)

	final, err := engine.RecalculateRange(context.Background(), 7, start, end, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1200, final)

	ledger := store.userLedger(7)
	require.Len(t, ledger, 2)
	assert.Equal(t, "R: 1200->1180（缺卡惩罚）", ledger[0].ChangeReason)
	assert.Equal(t, "R: 1180->1200（惩罚豁免）", ledger[1].ChangeReason)

	user, _ := store.GetUser(context.Background(), 7)
	assert.Equal(t, 1200, user.Rating)
}

func TestRecalculateRangeExemptedPenaltySurvivesPolicyChange(t *testing.T) {
	// The exempted row embeds R: 1200->1180; the deployment has since raised
	// the penalty to 50 points. The replayed pair must still cancel at the
	// recorded 20, not re-charge at the current configuration.
	params := testParams()
	params.PenaltyPoints = 50
	store := newStubStore()
	engine := NewEngine(store, params)
	store.addUser(models.User{ID: 7, Username: "alice", Rating: 1200})

	store.addCheckIn(models.CheckIn{
		UserID:    7,
		Content:   penaltyContent("2025-03-05", 1200, 1180) + "（已豁免 +20）",
		IsPenalty: false,
		CreatedAt: time.Date(2025, 3, 5, 23, 59, 0, 0, time.Local),
		UpdatedAt: time.Date(2025, 3, 7, 10, 0, 0, 0, time.Local),
	})

	final, err := engine.RecalculateRange(context.Background(), 7,
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local),
		time.Date(2025, 3, 10, 0, 0, 0, 0, time.Local), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1200, final)

	ledger := store.userLedger(7)
	require.Len(t, ledger, 2)
	assert.Equal(t, "R: 1200->1180（缺卡惩罚）", ledger[0].ChangeReason)
	assert.Equal(t, "R: 1180->1200（惩罚豁免）", ledger[1].ChangeReason)
}

func TestRecalculateRangeIdempotent(t *testing.T) {
	engine, store := newTestEngine()
	store.addUser(models.User{ID: 7, Username: "alice", Rating: 999})

	store.addCheckIn(models.CheckIn{
		UserID:    7,
		Content:   penaltyContent("2025-03-05", 1200, 1180),
		IsPenalty: true,
		CreatedAt: time.Date(2025, 3, 5, 23, 59, 0, 0, time.Local),
	})
	store.subs = append(store.subs, models.AlgorithmSubmission{
		ID: 1, UserID: 7, Status: models.SubmissionPassed,
		CreatedAt: time.Date(2025, 3, 6, 20, 0, 0, 0, time.Local),
	})

	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local)
	end := time.Date(2025, 3, 10, 0, 0, 0, 0, time.Local)

	first, err := engine.RecalculateRange(context.Background(), 7, start, end, nil, nil)
	require.NoError(t, err)
	firstLedger := store.userLedger(7)

	second, err := engine.RecalculateRange(context.Background(), 7, start, end, nil, nil)
	require.NoError(t, err)
	secondLedger := store.userLedger(7)

	assert.Equal(t, first, second)
	assert.Equal(t, 1190, second) // 1200 - 20 + 10
	require.Equal(t, len(firstLedger), len(secondLedger))
	for i := range firstLedger {
		assert.Equal(t, firstLedger[i].Rating, secondLedger[i].Rating)
		assert.Equal(t, firstLedger[i].ChangeReason, secondLedger[i].ChangeReason)
		assert.True(t, firstLedger[i].RecordedAt.Equal(secondLedger[i].RecordedAt))
	}
}

func TestRecalculateRangeBaseResolution(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local)
	end := time.Date(2025, 3, 10, 0, 0, 0, 0, time.Local)

	t.Run("explicit override wins", func(t *testing.T) {
		engine, store := newTestEngine()
		store.addUser(models.User{ID: 7, Username: "alice", Rating: 1200})
		base := 1500
		final, err := engine.RecalculateRange(ctx, 7, start, end, &base, nil)
		require.NoError(t, err)
		assert.Equal(t, 1500, final)
	})

	t.Run("latest entry before the window is used", func(t *testing.T) {
		engine, store := newTestEngine()
		store.addUser(models.User{ID: 7, Username: "alice", Rating: 1200})
		store.ledger = append(store.ledger, models.RatingHistory{
			ID: 1, UserID: 7, Rating: 1300,
			RecordedAt: start.Add(-time.Hour),
		})
		store.nextEntryID = 2
		final, err := engine.RecalculateRange(ctx, 7, start, end, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 1300, final)
	})

	t.Run("no history falls back to the default", func(t *testing.T) {
		engine, store := newTestEngine()
		store.addUser(models.User{ID: 7, Username: "alice", Rating: 42})
		final, err := engine.RecalculateRange(ctx, 7, start, end, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, 1200, final)
	})
}

func TestRecalculateRangeProgress(t *testing.T) {
	engine, store := newTestEngine()
	store.addUser(models.User{ID: 7, Username: "alice", Rating: 1200})

	day := time.Date(2025, 3, 5, 12, 0, 0, 0, time.Local)
	// Two plain check-ins (zero reward) and one penalty: progress must count
	// every event, not just the ones producing ledger entries.
	store.addCheckIn(models.CheckIn{UserID: 7, Content: "数学 2h", Duration: 120, CreatedAt: day})
	store.addCheckIn(models.CheckIn{UserID: 7, Content: "英语 1h", Duration: 60, CreatedAt: day.Add(time.Hour)})
	store.addCheckIn(models.CheckIn{
		UserID: 7, IsPenalty: true,
		Content:   penaltyContent("2025-03-06", 1200, 1180),
		CreatedAt: day.AddDate(0, 0, 1),
	})

	var calls [][2]int
	_, err := engine.RecalculateRange(context.Background(), 7,
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local),
		time.Date(2025, 3, 10, 0, 0, 0, 0, time.Local),
		nil,
		func(processed, total int) { calls = append(calls, [2]int{processed, total}) })
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, calls)
	assert.Len(t, store.userLedger(7), 1)
}

func TestRecalculateRangeHaltsOnWriteFailure(t *testing.T) {
	engine, store := newTestEngine()
	store.addUser(models.User{ID: 7, Username: "alice", Rating: 1200})

	store.addCheckIn(models.CheckIn{
		UserID: 7, IsPenalty: true,
		Content:   penaltyContent("2025-03-05", 1200, 1180),
		CreatedAt: time.Date(2025, 3, 5, 23, 59, 0, 0, time.Local),
	})
	store.addCheckIn(models.CheckIn{
		UserID: 7, IsPenalty: true,
		Content:   penaltyContent("2025-03-06", 1180, 1160),
		CreatedAt: time.Date(2025, 3, 6, 23, 59, 0, 0, time.Local),
	})
	store.failInsert = func(n int) error {
		if n == 2 {
			return errStubWrite
		}
		return nil
	}

	final, err := engine.RecalculateRange(context.Background(), 7,
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local),
		time.Date(2025, 3, 10, 0, 0, 0, 0, time.Local), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errStubWrite)
	assert.Contains(t, err.Error(), "replay halted after 1/2 events")

	// The user lands on the last successfully written value, never an
	// intermediate in-memory one.
	assert.Equal(t, 1180, final)
	user, _ := store.GetUser(context.Background(), 7)
	assert.Equal(t, 1180, user.Rating)
	assert.Len(t, store.userLedger(7), 1)
}

func TestRecalculateAll(t *testing.T) {
	engine, store := newTestEngine()
	store.addUser(models.User{ID: 1, Username: "admin", Role: models.RoleAdmin, Rating: 1200})
	store.addUser(models.User{ID: 2, Username: "alice", Role: models.RoleMember, Rating: 0})
	store.addUser(models.User{ID: 3, Username: "bob", Role: models.RoleMember, Rating: 0})

	store.addCheckIn(models.CheckIn{
		UserID: 2, IsPenalty: true,
		Content:   penaltyContent("2025-03-05", 1200, 1180),
		CreatedAt: time.Date(2025, 3, 5, 23, 59, 0, 0, time.Local),
	})

	var seen []string
	err := engine.RecalculateAll(context.Background(),
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local),
		time.Date(2025, 3, 10, 0, 0, 0, 0, time.Local),
		nil,
		func(index, total int, username string) {
			seen = append(seen, fmt.Sprintf("%d/%d %s", index, total, username))
		})
	require.NoError(t, err)
	assert.Equal(t, []string{"1/2 alice", "2/2 bob"}, seen)

	alice, _ := store.GetUser(context.Background(), 2)
	bob, _ := store.GetUser(context.Background(), 3)
	assert.Equal(t, 1180, alice.Rating)
	assert.Equal(t, 1200, bob.Rating) // no events, default base
}

func TestRecalculateAllCollectsFailures(t *testing.T) {
	engine, store := newTestEngine()
	store.addUser(models.User{ID: 2, Username: "alice", Role: models.RoleMember, Rating: 0})
	store.addUser(models.User{ID: 3, Username: "bob", Role: models.RoleMember, Rating: 0})
	for _, uid := range []uint{2, 3} {
		store.addCheckIn(models.CheckIn{
			UserID: uid, IsPenalty: true,
			Content:   penaltyContent("2025-03-05", 1200, 1180),
			CreatedAt: time.Date(2025, 3, 5, 23, 59, 0, 0, time.Local),
		})
	}
	store.failInsert = func(int) error { return errStubWrite }

	err := engine.RecalculateAll(context.Background(),
		time.Date(2025, 3, 1, 0, 0, 0, 0, time.Local),
		time.Date(2025, 3, 10, 0, 0, 0, 0, time.Local), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alice")
	assert.Contains(t, err.Error(), "bob")
}

func TestExemptPenalty(t *testing.T) {
	engine, store := newTestEngine()
	store.addUser(models.User{ID: 7, Username: "alice", Rating: 1180})
	ci := store.addCheckIn(models.CheckIn{
		UserID: 7, IsPenalty: true,
		Content:   penaltyContent("2025-03-05", 1200, 1180),
		CreatedAt: time.Date(2025, 3, 5, 23, 59, 0, 0, time.Local),
	})

	credit, err := engine.ExemptPenalty(context.Background(), ci.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, credit)

	updated, _ := store.GetCheckIn(context.Background(), ci.ID)
	assert.False(t, updated.IsPenalty)
	assert.Contains(t, updated.Content, "已豁免 +20")

	user, _ := store.GetUser(context.Background(), 7)
	assert.Equal(t, 1200, user.Rating)

	ledger := store.userLedger(7)
	require.Len(t, ledger, 1)
	assert.Equal(t, "R: 1180->1200（惩罚豁免）", ledger[0].ChangeReason)

	// Exempting again must not double-credit.
	credit, err = engine.ExemptPenalty(context.Background(), ci.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, credit)
	user, _ = store.GetUser(context.Background(), 7)
	assert.Equal(t, 1200, user.Rating)
	assert.Len(t, store.userLedger(7), 1)
}

func TestExemptPenaltyRejectsNonPenalty(t *testing.T) {
	engine, store := newTestEngine()
	store.addUser(models.User{ID: 7, Username: "alice", Rating: 1200})
	ci := store.addCheckIn(models.CheckIn{
		UserID: 7, Content: "数学 3h", Duration: 180,
		CreatedAt: time.Date(2025, 3, 5, 12, 0, 0, 0, time.Local),
	})

	_, err := engine.ExemptPenalty(context.Background(), ci.ID)
	assert.ErrorIs(t, err, ErrNotPenalty)

	_, err = engine.ExemptPenalty(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExemptPenaltyFallsBackToConfiguredPoints(t *testing.T) {
	engine, store := newTestEngine()
	store.addUser(models.User{ID: 7, Username: "alice", Rating: 1180})
	// Legacy penalty row without an embedded transition.
	ci := store.addCheckIn(models.CheckIn{
		UserID: 7, IsPenalty: true,
		Content:   "缺卡惩罚：2025-03-05 未完成当日学习目标",
		CreatedAt: time.Date(2025, 3, 5, 23, 59, 0, 0, time.Local),
	})

	credit, err := engine.ExemptPenalty(context.Background(), ci.ID)
	require.NoError(t, err)
	assert.Equal(t, 20, credit)
}

func TestExemptPenaltyAtFloorCreditsNothing(t *testing.T) {
	engine, store := newTestEngine()
	user := store.addUser(models.User{ID: 7, Username: "alice", Rating: 0})

	// Penalizing a user already at the floor deducts nothing and embeds a
	// zero transition.
	day := time.Date(2025, 3, 5, 0, 0, 0, 0, time.Local)
	require.NoError(t, engine.ApplyPenalty(context.Background(), user, day))
	assert.Equal(t, 0, user.Rating)
	assert.Empty(t, store.userLedger(7))

	checkins, _ := store.ListCheckInsByUserAndRange(context.Background(), 7, day, day.AddDate(0, 0, 1))
	require.Len(t, checkins, 1)
	assert.Contains(t, checkins[0].Content, "R: 0->0")

	// Exempting the free penalty credits exactly what it cost.
	credit, err := engine.ExemptPenalty(context.Background(), checkins[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 0, credit)

	stored, _ := store.GetUser(context.Background(), 7)
	assert.Equal(t, 0, stored.Rating)
	assert.Empty(t, store.userLedger(7))
}

func TestApplyPenalty(t *testing.T) {
	engine, store := newTestEngine()
	user := store.addUser(models.User{ID: 7, Username: "alice", Rating: 1200})

	day := time.Date(2025, 3, 5, 0, 0, 0, 0, time.Local)
	require.NoError(t, engine.ApplyPenalty(context.Background(), user, day))

	assert.Equal(t, 1180, user.Rating)
	stored, _ := store.GetUser(context.Background(), 7)
	assert.Equal(t, 1180, stored.Rating)

	checkins, _ := store.ListCheckInsByUserAndRange(context.Background(), 7, day, day.AddDate(0, 0, 1))
	require.Len(t, checkins, 1)
	assert.True(t, checkins[0].IsPenalty)
	assert.Contains(t, checkins[0].Content, "2025-03-05")
	assert.Contains(t, checkins[0].Content, "R: 1200->1180")
	assert.True(t, checkins[0].CreatedAt.Equal(day.Add(23*time.Hour+59*time.Minute)))

	ledger := store.userLedger(7)
	require.Len(t, ledger, 1)
	assert.Equal(t, "R: 1200->1180（缺卡惩罚）", ledger[0].ChangeReason)
}

func TestCreditRemovedPenalty(t *testing.T) {
	engine, store := newTestEngine()
	store.addUser(models.User{ID: 7, Username: "alice", Rating: 1180})

	ci := models.CheckIn{
		ID: 3, UserID: 7, IsPenalty: true,
		Content: penaltyContent("2025-03-05", 1200, 1180),
	}
	require.NoError(t, engine.CreditRemovedPenalty(context.Background(), ci))
	user, _ := store.GetUser(context.Background(), 7)
	assert.Equal(t, 1200, user.Rating)

	// Non-penalty rows are ignored.
	require.NoError(t, engine.CreditRemovedPenalty(context.Background(), models.CheckIn{ID: 4, UserID: 7}))
	user, _ = store.GetUser(context.Background(), 7)
	assert.Equal(t, 1200, user.Rating)
}

func TestDeleteLedgerEntry(t *testing.T) {
	ctx := context.Background()

	t.Run("mismatched user is rejected", func(t *testing.T) {
		engine, store := newTestEngine()
		store.addUser(models.User{ID: 7, Username: "alice", Rating: 1200})
		store.ledger = append(store.ledger, models.RatingHistory{ID: 1, UserID: 8, Rating: 1180})
		err := engine.DeleteLedgerEntry(ctx, 1, 7, 20)
		assert.ErrorIs(t, err, ErrEntryMismatch)
	})

	t.Run("refund applies with floor clamp", func(t *testing.T) {
		engine, store := newTestEngine()
		store.addUser(models.User{ID: 7, Username: "alice", Rating: 5})
		store.ledger = append(store.ledger, models.RatingHistory{ID: 1, UserID: 7, Rating: 5})

		require.NoError(t, engine.DeleteLedgerEntry(ctx, 1, 7, -10))
		user, _ := store.GetUser(ctx, 7)
		assert.Equal(t, 0, user.Rating)
		assert.Empty(t, store.userLedger(7))
	})

	t.Run("missing entry", func(t *testing.T) {
		engine, store := newTestEngine()
		store.addUser(models.User{ID: 7, Username: "alice", Rating: 1200})
		err := engine.DeleteLedgerEntry(ctx, 99, 7, 0)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSeedInitialRating(t *testing.T) {
	engine, store := newTestEngine()
	store.addUser(models.User{ID: 7, Username: "alice", Rating: 1200})

	require.NoError(t, engine.SeedInitialRating(context.Background(), 7))
	ledger := store.userLedger(7)
	require.Len(t, ledger, 1)
	assert.Equal(t, 1200, ledger[0].Rating)
	assert.Equal(t, "R: 1200->1200（初始评分）", ledger[0].ChangeReason)
}

func TestAwardSubmissionBonus(t *testing.T) {
	engine, store := newTestEngine()
	store.addUser(models.User{ID: 7, Username: "alice", Rating: 1200})

	sub := models.AlgorithmSubmission{ID: 5, UserID: 7, Status: models.SubmissionPassed, CreatedAt: time.Now()}
	require.NoError(t, engine.AwardSubmissionBonus(context.Background(), 7, sub))

	user, _ := store.GetUser(context.Background(), 7)
	assert.Equal(t, 1210, user.Rating)
	ledger := store.userLedger(7)
	require.Len(t, ledger, 1)
	assert.Equal(t, "R: 1200->1210（做题奖励）", ledger[0].ChangeReason)
}

func TestAwardCheckInZeroRewardIsSilent(t *testing.T) {
	engine, store := newTestEngine()
	store.addUser(models.User{ID: 7, Username: "alice", Rating: 1200})

	ci := models.CheckIn{ID: 1, UserID: 7, CreatedAt: time.Now()}
	require.NoError(t, engine.AwardCheckIn(context.Background(), 7, ci))

	user, _ := store.GetUser(context.Background(), 7)
	assert.Equal(t, 1200, user.Rating)
	assert.Empty(t, store.userLedger(7))
}
