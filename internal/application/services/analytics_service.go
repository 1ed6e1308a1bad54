package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/driveline-analytics/leadbridge-go/internal/domain/identity"
	"github.com/driveline-analytics/leadbridge-go/internal/infrastructure/observability/logging"
	"github.com/driveline-analytics/leadbridge-go/pkg/config"
)

// DailyBucket marks a whole-day bucket key.
const DailyBucket = -1

// AnalyticsService recomputes time-bucketed rollups from the source tables.
// Recomputation always starts from scratch; nothing is maintained
// incrementally, so re-running a bucket can never drift.
type AnalyticsService struct {
	sessionRepo identity.SessionRepository
	leadRepo    identity.LeadRepository
	matchRepo   identity.MatchRepository
	bucketRepo  identity.BucketRepository
	logger      *logging.ChanneledLogger
}

// NewAnalyticsService creates a new AnalyticsService.
func NewAnalyticsService(
	sessionRepo identity.SessionRepository,
	leadRepo identity.LeadRepository,
	matchRepo identity.MatchRepository,
	bucketRepo identity.BucketRepository,
	logger *logging.ChanneledLogger,
) *AnalyticsService {
	return &AnalyticsService{
		sessionRepo: sessionRepo,
		leadRepo:    leadRepo,
		matchRepo:   matchRepo,
		bucketRepo:  bucketRepo,
		logger:      logger,
	}
}

// RecomputeBucket rebuilds the bucket for date (YYYY-MM-DD, UTC) and hour
// (DailyBucket for the whole day, 0-23 for one hour) and upserts it.
// Recomputing over unchanged source data reproduces every stat field
// exactly; only ComputedAt, which records when the recompute ran, differs
// between runs.
func (s *AnalyticsService) RecomputeBucket(date string, hour int) (*identity.AnalyticsBucket, error) {
	from, to, err := bucketRange(date, hour)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	totalSessions, err := s.sessionRepo.CountInRange(from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count bucket sessions: %w", err)
	}
	totalLeads, err := s.leadRepo.CountInRange(from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to count bucket leads: %w", err)
	}
	matches, err := s.matchRepo.ListInRange(from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list bucket matches: %w", err)
	}

	breakdown := make(map[string]int)
	var revenue float64
	for _, m := range matches {
		breakdown[string(m.Method)]++
		if m.Converted && m.ConversionValue != nil {
			revenue += *m.ConversionValue
		}
	}

	var matchRate float64
	if totalSessions > 0 {
		matchRate = float64(len(matches)) / float64(totalSessions)
	}

	bucket := &identity.AnalyticsBucket{
		Date:              date,
		Hour:              hour,
		TotalSessions:     totalSessions,
		TotalLeads:        totalLeads,
		TotalMatches:      len(matches),
		MatchRate:         matchRate,
		MethodBreakdown:   breakdown,
		AttributedRevenue: revenue,
		ComputedAt:        time.Now().UTC(),
	}

	if err := s.bucketRepo.Upsert(bucket); err != nil {
		return nil, fmt.Errorf("failed to upsert bucket: %w", err)
	}

	s.logger.Analytics().Info("Bucket recomputed",
		"date", date,
		"hour", hour,
		"sessions", totalSessions,
		"matches", len(matches),
		"duration", time.Since(start))
	return bucket, nil
}

// GetBucket returns the stored bucket, or nil when the period has never
// been computed.
func (s *AnalyticsService) GetBucket(date string, hour int) (*identity.AnalyticsBucket, error) {
	if _, _, err := bucketRange(date, hour); err != nil {
		return nil, err
	}
	return s.bucketRepo.Find(date, hour)
}

// AttributionBreakdown groups match rate and revenue per session by one
// attribution dimension (utm_source, utm_medium or utm_campaign) over
// [from, to). Rows sort by session volume, then value, for stable output.
func (s *AnalyticsService) AttributionBreakdown(from, to time.Time, dimension string) ([]identity.AttributionSlice, error) {
	key, err := dimensionAccessor(dimension)
	if err != nil {
		return nil, err
	}

	sessions, err := s.sessionRepo.ListInRange(from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for breakdown: %w", err)
	}
	matches, err := s.matchRepo.ListInRange(from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for breakdown: %w", err)
	}

	type bucket struct {
		sessions int
		matches  int
		revenue  float64
	}
	buckets := make(map[string]*bucket)

	get := func(value string) *bucket {
		if value == "" {
			value = "(none)"
		}
		b, ok := buckets[value]
		if !ok {
			b = &bucket{}
			buckets[value] = b
		}
		return b
	}

	for _, session := range sessions {
		get(key(&session.Attribution)).sessions++
	}
	for _, m := range matches {
		b := get(key(&m.Attribution))
		b.matches++
		if m.Converted && m.ConversionValue != nil {
			b.revenue += *m.ConversionValue
		}
	}

	slices := make([]identity.AttributionSlice, 0, len(buckets))
	for value, b := range buckets {
		slice := identity.AttributionSlice{
			Value:             value,
			Sessions:          b.sessions,
			Matches:           b.matches,
			AttributedRevenue: b.revenue,
		}
		if b.sessions > 0 {
			slice.MatchRate = float64(b.matches) / float64(b.sessions)
			slice.RevenuePerSession = b.revenue / float64(b.sessions)
		}
		slices = append(slices, slice)
	}

	sort.Slice(slices, func(i, j int) bool {
		if slices[i].Sessions != slices[j].Sessions {
			return slices[i].Sessions > slices[j].Sessions
		}
		return slices[i].Value < slices[j].Value
	})
	return slices, nil
}

// StartScheduledRecompute keeps the current and previous day's daily
// buckets plus the current hour fresh until ctx is cancelled.
func (s *AnalyticsService) StartScheduledRecompute(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(config.AnalyticsRecomputeInterval)
		defer ticker.Stop()

		s.recomputeCurrent()
		for {
			select {
			case <-ctx.Done():
				s.logger.Analytics().Info("Scheduled recompute stopped")
				return
			case <-ticker.C:
				s.recomputeCurrent()
			}
		}
	}()
}

func (s *AnalyticsService) recomputeCurrent() {
	now := time.Now().UTC()
	today := now.Format("2006-01-02")
	yesterday := now.AddDate(0, 0, -1).Format("2006-01-02")

	for _, key := range []struct {
		date string
		hour int
	}{
		{yesterday, DailyBucket},
		{today, DailyBucket},
		{today, now.Hour()},
	} {
		if _, err := s.RecomputeBucket(key.date, key.hour); err != nil {
			s.logger.Analytics().Error("Scheduled recompute failed",
				"error", err.Error(), "date", key.date, "hour", key.hour)
		}
	}
}

func bucketRange(date string, hour int) (time.Time, time.Time, error) {
	day, err := time.ParseInLocation("2006-01-02", date, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, identity.NewValidationError("date", "must be YYYY-MM-DD")
	}

	switch {
	case hour == DailyBucket:
		return day, day.AddDate(0, 0, 1), nil
	case hour >= 0 && hour <= 23:
		from := day.Add(time.Duration(hour) * time.Hour)
		return from, from.Add(time.Hour), nil
	default:
		return time.Time{}, time.Time{}, identity.NewValidationError("hour", "must be -1 or 0-23")
	}
}

func dimensionAccessor(dimension string) (func(*identity.Attribution) string, error) {
	switch dimension {
	case "utm_source":
		return func(a *identity.Attribution) string { return a.UTMSource }, nil
	case "utm_medium":
		return func(a *identity.Attribution) string { return a.UTMMedium }, nil
	case "utm_campaign":
		return func(a *identity.Attribution) string { return a.UTMCampaign }, nil
	default:
		return nil, identity.NewValidationError("dimension",
			"must be one of utm_source, utm_medium, utm_campaign")
	}
}
