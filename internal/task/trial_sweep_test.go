package task_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/minisite_svc/internal/model"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/task"
	"github.com/MarkoPoloResearchLab/minisite_svc/internal/testutil"
)

const trialSweepOwnerID = "owner-1"

func TestTrialSweepDeactivatesOnlyExpiredUnpaidSites(testingT *testing.T) {
	database := testutil.OpenMigratedDatabase(testingT)
	sweepTime := time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC)

	expiredUnpaid, expiredErr := model.NewSite(trialSweepOwnerID, "expired-unpaid", sweepTime.Add(-3*24*time.Hour))
	require.NoError(testingT, expiredErr)
	expiredUnpaid.IsActive = true
	require.NoError(testingT, database.Create(&expiredUnpaid).Error)

	expiredPaid, paidErr := model.NewSite(trialSweepOwnerID, "expired-paid", sweepTime.Add(-3*24*time.Hour))
	require.NoError(testingT, paidErr)
	expiredPaid.IsPaid = true
	expiredPaid.IsActive = true
	require.NoError(testingT, database.Create(&expiredPaid).Error)

	inTrial, trialErr := model.NewSite(trialSweepOwnerID, "still-in-trial", sweepTime.Add(-time.Hour))
	require.NoError(testingT, trialErr)
	inTrial.IsActive = true
	require.NoError(testingT, database.Create(&inTrial).Error)

	job := task.NewTrialSweepJob(database, zap.NewNop()).WithClock(func() time.Time { return sweepTime })
	require.NoError(testingT, job.Run(context.Background()))

	var sweptSite model.Site
	require.NoError(testingT, database.First(&sweptSite, "id = ?", expiredUnpaid.ID).Error)
	require.False(testingT, sweptSite.IsActive)

	var paidSite model.Site
	require.NoError(testingT, database.First(&paidSite, "id = ?", expiredPaid.ID).Error)
	require.True(testingT, paidSite.IsActive)

	var trialSite model.Site
	require.NoError(testingT, database.First(&trialSite, "id = ?", inTrial.ID).Error)
	require.True(testingT, trialSite.IsActive)
}

func TestTrialSweepIsIdempotent(testingT *testing.T) {
	database := testutil.OpenMigratedDatabase(testingT)
	sweepTime := time.Now().UTC()

	expiredSite, siteErr := model.NewSite(trialSweepOwnerID, "expired-twice", sweepTime.Add(-3*24*time.Hour))
	require.NoError(testingT, siteErr)
	expiredSite.IsActive = true
	require.NoError(testingT, database.Create(&expiredSite).Error)

	job := task.NewTrialSweepJob(database, zap.NewNop()).WithClock(func() time.Time { return sweepTime })
	require.NoError(testingT, job.Run(context.Background()))
	require.NoError(testingT, job.Run(context.Background()))

	var sweptSite model.Site
	require.NoError(testingT, database.First(&sweptSite, "id = ?", expiredSite.ID).Error)
	require.False(testingT, sweptSite.IsActive)
}
