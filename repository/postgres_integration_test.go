package repository_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amirphl/funnel-campaigns/models"
	"github.com/amirphl/funnel-campaigns/repository"
	testingutil "github.com/amirphl/funnel-campaigns/testing"
	"github.com/amirphl/funnel-campaigns/utils"
)

func withDB(t *testing.T, fn func(t *testing.T, fx *testingutil.TestFixtures)) {
	t.Helper()
	if !testingutil.DatabaseAvailable() {
		t.Skip("TEST_DB_HOST not set")
	}
	err := testingutil.TestWithDB(func(db *testingutil.TestDB) error {
		fn(t, testingutil.NewTestFixtures(db))
		return nil
	})
	require.NoError(t, err)
}

func TestCreditBalance_ConcurrentReserveNeverOverspends(t *testing.T) {
	withDB(t, func(t *testing.T, fx *testingutil.TestFixtures) {
		ctx := context.Background()
		_, err := fx.Grant(5, 10)
		require.NoError(t, err)
		repo := repository.NewCreditBalanceRepository(fx.DB.DB)

		var (
			wg      sync.WaitGroup
			granted atomic.Int64
		)
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := repo.Reserve(ctx, 5)
				if assert.NoError(t, err) && ok {
					granted.Add(1)
					assert.NoError(t, repo.Commit(ctx, 5))
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(10), granted.Load())
		balance, err := repo.ByOwner(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, int64(10), balance.Used)
		assert.Zero(t, balance.Reserved)
		assert.Zero(t, balance.Remaining())

		_, err = repo.AddCredits(ctx, 5, 3)
		require.NoError(t, err)
		balance, err = repo.ByOwner(ctx, 5)
		require.NoError(t, err)
		assert.Equal(t, int64(13), balance.Total)
	})
}

func TestDispatchLog_ClaimIsExclusive(t *testing.T) {
	withDB(t, func(t *testing.T, fx *testingutil.TestFixtures) {
		ctx := context.Background()
		quiz, err := fx.AddQuiz(5)
		require.NoError(t, err)
		leads, err := fx.AddPhoneLeads(quiz.ID, 1)
		require.NoError(t, err)
		campaign, err := fx.AddCampaign(testingutil.ActiveCampaign(5, quiz.ID, models.ChannelSMS, "Oi"))
		require.NoError(t, err)

		repo := repository.NewDispatchLogRepository(fx.DB.DB)
		entry := func() *models.DispatchLogEntry {
			return &models.DispatchLogEntry{CampaignID: campaign.ID, LeadID: leads[0].ID, Channel: models.ChannelSMS, Recipient: *leads[0].Phone}
		}
		staleBefore := utils.UTCNow().Add(-10 * time.Minute)

		first := entry()
		ok, err := repo.Claim(ctx, first, staleBefore)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = repo.Claim(ctx, entry(), staleBefore)
		require.NoError(t, err)
		assert.False(t, ok, "a fresh claim blocks a second worker")

		// a claim older than the timeout can be taken over
		ok, err = repo.Claim(ctx, entry(), utils.UTCNow().Add(time.Minute))
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, repo.MarkSent(ctx, first.ID, utils.UTCNow(), utils.ToPtr("msg-1")))
		ok, err = repo.Claim(ctx, entry(), utils.UTCNow().Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, ok, "sent rows are never reclaimed")

		got, err := repo.ByProviderMessageID(ctx, "msg-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, models.DispatchStatusSent, got.Status)
		assert.Nil(t, got.ClaimedAt)

		stats, err := repo.Stats(ctx, campaign.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.Sent)
		assert.Equal(t, int64(1), stats.Charged)
	})
}

func TestLead_ListForSegment(t *testing.T) {
	withDB(t, func(t *testing.T, fx *testingutil.TestFixtures) {
		ctx := context.Background()
		quiz, err := fx.AddQuiz(5, "city")
		require.NoError(t, err)
		base := utils.UTCNow().Add(-time.Hour)
		_, err = fx.AddLeads(quiz.ID,
			testingutil.LeadSpec{Name: "Ana", Phone: "5511911110001", Answers: map[string]string{"city": "Recife"}, SubmittedAt: base},
			testingutil.LeadSpec{Name: "Bia", Phone: "5511911110002", Answers: map[string]string{"city": "Natal"}, SubmittedAt: base.Add(time.Minute)},
			testingutil.LeadSpec{Name: "Caio", Phone: "5511911110003", Status: models.LeadStatusAbandoned, Answers: map[string]string{"city": "Recife"}, SubmittedAt: base.Add(2 * time.Minute)},
		)
		require.NoError(t, err)

		repo := repository.NewLeadRepository(fx.DB.DB)
		all, err := repo.ListForSegment(ctx, models.LeadQuery{OwnerID: 5, QuizID: utils.ToPtr(quiz.ID), Limit: 10})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		values, err := repo.FieldValues(ctx, quiz.ID, 10)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"Recife", "Natal"}, values["city"])
	})
}
