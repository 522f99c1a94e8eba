package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"AlphaDrop/internal/model"
)

func openSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	s, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, openSQLite(t)) })
}

var ts = time.Date(2025, 10, 20, 14, 0, 0, 0, time.FixedZone("EEST", 3*3600))

func TestStore_ParticipantRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		p := model.NewParticipant(42, "alice", ts)
		p.Window = []int{17, 0, 18}
		p.Balance = 35
		p.LastOutcomeDate = ts.AddDate(0, 0, -3)

		require.NoError(t, s.Update(ctx, func(tx Tx) error { return tx.PutParticipant(p) }))

		var got *model.Participant
		require.NoError(t, s.View(ctx, func(tx Tx) error {
			var err error
			got, err = tx.Participant(42)
			return err
		}))
		assert.Equal(t, "alice", got.Tag)
		assert.Equal(t, []int{17, 0, 18}, got.Window)
		assert.Equal(t, 35, got.Balance)
		assert.True(t, got.LastOutcomeDate.Equal(p.LastOutcomeDate))
		assert.True(t, got.LastReportedPickup.IsZero())

		err := s.View(ctx, func(tx Tx) error {
			_, err := tx.Participant(7)
			return err
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ParticipantsInsertionOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, id := range []int64{30, 10, 20} {
			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				return tx.PutParticipant(model.NewParticipant(id, "", ts))
			}))
		}
		// Updating an existing record keeps its position.
		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			p, err := tx.Participant(30)
			if err != nil {
				return err
			}
			p.Trust = 50
			return tx.PutParticipant(p)
		}))
		var ids []int64
		require.NoError(t, s.View(ctx, func(tx Tx) error {
			ps, err := tx.Participants()
			for _, p := range ps {
				ids = append(ids, p.ID)
			}
			return err
		}))
		assert.Equal(t, []int64{30, 10, 20}, ids)
	})
}

func TestStore_DropRoundTripAndFilter(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var first, second int64
		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			var err error
			first, err = tx.InsertDrop(&model.Drop{
				ScheduledAt:       ts.Add(48 * time.Hour),
				Requirement:       200,
				Status:            model.StatusScheduled,
				MaxSlots:          3,
				ReminderPlan:      []int{6, 3},
				PredictedAtCreate: model.Snapshot{1: 210, 2: 150},
				ChatID:            "-100",
			})
			if err != nil {
				return err
			}
			second, err = tx.InsertDrop(&model.Drop{
				ScheduledAt: ts,
				Requirement: 100,
				Status:      model.StatusScheduled,
				MaxSlots:    3,
			})
			return err
		}))
		require.NotEqual(t, first, second)

		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			d, err := tx.Drop(first)
			if err != nil {
				return err
			}
			d.Reserved = append(d.Reserved, 1, 2)
			d.Picked = append(d.Picked, 1)
			d.PredictedAtMinus1h = model.Snapshot{1: 205}
			return tx.PutDrop(d)
		}))

		require.NoError(t, s.View(ctx, func(tx Tx) error {
			d, err := tx.Drop(first)
			require.NoError(t, err)
			assert.Equal(t, []int64{1, 2}, d.Reserved)
			assert.Equal(t, []int64{1}, d.Picked)
			assert.Empty(t, d.Failed)
			assert.Equal(t, []int{6, 3}, d.ReminderPlan)
			assert.Equal(t, model.Snapshot{1: 210, 2: 150}, d.PredictedAtCreate)
			assert.Equal(t, model.Snapshot{1: 205}, d.PredictedAtMinus1h)
			assert.True(t, d.ScheduledAt.Equal(ts.Add(48*time.Hour)))

			upcoming, err := tx.Drops(DropFilter{Status: model.StatusScheduled, From: ts.Add(time.Hour)})
			require.NoError(t, err)
			require.Len(t, upcoming, 1)
			assert.Equal(t, first, upcoming[0].ID)

			latest, err := tx.Drops(DropFilter{Until: ts.Add(72 * time.Hour), Desc: true, Limit: 1})
			require.NoError(t, err)
			require.Len(t, latest, 1)
			assert.Equal(t, first, latest[0].ID)

			n, err := tx.CountDrops()
			require.NoError(t, err)
			assert.Equal(t, 2, n)
			return nil
		}))
	})
}

func TestStore_UpdateRollsBackOnError(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		boom := errors.New("boom")
		err := s.Update(ctx, func(tx Tx) error {
			if err := tx.PutParticipant(model.NewParticipant(1, "", ts)); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)
		err = s.View(ctx, func(tx Tx) error {
			_, err := tx.Participant(1)
			return err
		})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_ConcurrentUpdatesAreSerialized(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		var id int64
		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			var err error
			id, err = tx.InsertDrop(&model.Drop{ScheduledAt: ts, Requirement: 1, Status: model.StatusScheduled, MaxSlots: 3})
			return err
		}))

		var wg sync.WaitGroup
		for i := int64(1); i <= 20; i++ {
			wg.Add(1)
			go func(pid int64) {
				defer wg.Done()
				_ = s.Update(ctx, func(tx Tx) error {
					d, err := tx.Drop(id)
					if err != nil {
						return err
					}
					if len(d.Reserved) >= d.MaxSlots {
						return nil
					}
					d.Reserved = append(d.Reserved, pid)
					return tx.PutDrop(d)
				})
			}(i)
		}
		wg.Wait()

		require.NoError(t, s.View(ctx, func(tx Tx) error {
			d, err := tx.Drop(id)
			require.NoError(t, err)
			assert.Len(t, d.Reserved, 3)
			return nil
		}))
	})
}

func TestStore_TrustEvents(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.Update(ctx, func(tx Tx) error {
			for i, rule := range []model.TrustRule{model.RulePicked, model.RuleForecastLowPicked} {
				if err := tx.AppendTrustEvent(&model.TrustEvent{
					DropID: 1, ParticipantID: 5, Rule: rule, Delta: i + 2,
					TrustBefore: 80, TrustAfter: 85, At: ts,
				}); err != nil {
					return err
				}
			}
			return tx.AppendTrustEvent(&model.TrustEvent{DropID: 1, ParticipantID: 6, Rule: model.RuleFailed, Delta: -4, At: ts})
		}))
		require.NoError(t, s.View(ctx, func(tx Tx) error {
			evts, err := tx.TrustEvents(5, 0)
			require.NoError(t, err)
			require.Len(t, evts, 2)
			assert.Equal(t, model.RuleForecastLowPicked, evts[0].Rule)

			one, err := tx.TrustEvents(5, 1)
			require.NoError(t, err)
			assert.Len(t, one, 1)
			return nil
		}))
	})
}
