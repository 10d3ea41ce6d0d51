// Package historic produces year-scoped task-completion analytics from the
// paginated task service, memoized through an injected TTL cache so repeat
// dashboard loads do not re-fetch whole years.
package historic

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/HenryHeth/mission-control-sub000/internal/cache"
	"github.com/HenryHeth/mission-control-sub000/internal/taskapi"
)

const (
	// DefaultTTL is how long a computed aggregate stays fresh.
	DefaultTTL = time.Hour

	// DefaultStartYear anchors the multi-year sparkline.
	DefaultStartYear = 2019

	secondsPerDay  = 86400
	maxDaysToClose = 365
	topFolders     = 6
)

// TaskSource is the slice of the task service the aggregator needs.
type TaskSource interface {
	Folders(ctx context.Context) ([]taskapi.Folder, error)
	CompletedInYear(ctx context.Context, year int) ([]taskapi.Task, error)
}

// MonthlyStat is one month's completion count and average days-to-close.
type MonthlyStat struct {
	Month          int     `json:"month"`
	Count          int     `json:"count"`
	AvgDaysToClose float64 `json:"avgDaysToClose"`
}

// FolderStat is one folder's share of completions.
type FolderStat struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// YearTotal is one year's contribution to the multi-year sparkline.
type YearTotal struct {
	Year    int     `json:"year"`
	Total   int     `json:"total"`
	Monthly [12]int `json:"monthly"`
}

// Aggregate is the full analytics payload for one (year, recurrence) query.
type Aggregate struct {
	Year               int            `json:"year"`
	IncludeRecurring   bool           `json:"includeRecurring"`
	TotalCompleted     int            `json:"totalCompleted"`
	MonthlyBreakdown   []MonthlyStat  `json:"monthlyBreakdown"`
	PriorityBreakdown  map[string]int `json:"priorityBreakdown"`
	FolderBreakdown    []FolderStat   `json:"folderBreakdown"`
	DayOfWeekBreakdown [7]int         `json:"dayOfWeekBreakdown"`
	YearlyTotals       []YearTotal    `json:"yearlyTotals"`
}

// sparkYear carries one year's monthly counts computed under both
// recurrence variants, so an entry cached under one flag can serve
// sparkline requests made under the other without re-filtering
// inconsistencies.
type sparkYear struct {
	Year             int     `json:"year"`
	WithRecurring    [12]int `json:"withRecurring"`
	WithoutRecurring [12]int `json:"withoutRecurring"`
}

func (s sparkYear) totals(includeRecurring bool) YearTotal {
	monthly := s.WithoutRecurring
	if includeRecurring {
		monthly = s.WithRecurring
	}
	total := 0
	for _, n := range monthly {
		total += n
	}
	return YearTotal{Year: s.Year, Total: total, Monthly: monthly}
}

// cachedResult is the envelope stored in the cache for a primary query.
type cachedResult struct {
	Aggregate Aggregate `json:"aggregate"`
	Spark     sparkYear `json:"spark"`
}

// Config holds aggregation settings.
type Config struct {
	TTL       time.Duration `toml:"ttl"`
	StartYear int           `toml:"start_year"`
}

// Service computes and caches historic aggregates.
type Service struct {
	source    TaskSource
	cache     cache.Store
	ttl       time.Duration
	startYear int
	logger    *slog.Logger

	// now is swapped out by tests to fix the clock.
	now func() time.Time
}

// NewService creates a Service with defaults applied for unset config
// fields.
func NewService(source TaskSource, store cache.Store, cfg Config, logger *slog.Logger) *Service {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	startYear := cfg.StartYear
	if startYear <= 0 {
		startYear = DefaultStartYear
	}
	return &Service{
		source:    source,
		cache:     store,
		ttl:       ttl,
		startYear: startYear,
		logger:    logger,
		now:       time.Now,
	}
}

func primaryKey(year int, includeRecurring bool) string {
	return fmt.Sprintf("historic:%d:%t", year, includeRecurring)
}

func sparkKey(year int) string {
	return fmt.Sprintf("historic:spark:%d", year)
}

// Historic returns the aggregate for one (year, includeRecurring) query,
// from cache when fresh. Upstream failures propagate; the service never
// substitutes data.
func (s *Service) Historic(ctx context.Context, year int, includeRecurring bool) (*Aggregate, error) {
	now := s.now()
	key := primaryKey(year, includeRecurring)

	if entry, ok := s.cache.Get(key); ok && entry.Age(now) < s.ttl {
		var cached cachedResult
		if err := json.Unmarshal(entry.Payload, &cached); err == nil {
			s.logger.Debug("historic cache hit", "year", year, "include_recurring", includeRecurring)
			return &cached.Aggregate, nil
		}
		s.logger.Warn("discarding undecodable historic cache entry", "key", key)
	}

	folders, err := s.source.Folders(ctx)
	if err != nil {
		return nil, fmt.Errorf("historic %d: %w", year, err)
	}
	folderNames := make(map[int64]string, len(folders))
	for _, f := range folders {
		folderNames[f.ID] = f.Name
	}

	tasks, err := s.completedTasks(ctx, year)
	if err != nil {
		return nil, fmt.Errorf("historic %d: %w", year, err)
	}

	spark := sparkFromTasks(year, tasks)
	filtered := filterRecurring(tasks, includeRecurring)
	agg := aggregateYear(year, includeRecurring, filtered, folderNames)

	agg.YearlyTotals, err = s.yearlyTotals(ctx, now, year, spark, includeRecurring)
	if err != nil {
		return nil, fmt.Errorf("historic %d sparkline: %w", year, err)
	}

	payload, err := json.Marshal(cachedResult{Aggregate: *agg, Spark: spark})
	if err != nil {
		return nil, fmt.Errorf("historic %d: encode cache entry: %w", year, err)
	}
	s.cache.Put(key, cache.Entry{Payload: payload, StoredAt: now})

	return agg, nil
}

// completedTasks fetches a year's records and drops anything without a
// positive completion timestamp. The service does not trust the comp=1
// contract.
func (s *Service) completedTasks(ctx context.Context, year int) ([]taskapi.Task, error) {
	tasks, err := s.source.CompletedInYear(ctx, year)
	if err != nil {
		return nil, err
	}
	completed := make([]taskapi.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.Completed > 0 {
			completed = append(completed, t)
		}
	}
	return completed, nil
}

// yearlyTotals assembles the sparkline across the configured span. For
// non-primary years it borrows any fresh cached computation (either flag
// variant, or a spark-only entry) before falling back to a full fetch,
// so each distinct year is fetched at most once per TTL window.
func (s *Service) yearlyTotals(ctx context.Context, now time.Time, primaryYear int, primarySpark sparkYear, includeRecurring bool) ([]YearTotal, error) {
	currentYear := now.UTC().Year()
	var totals []YearTotal
	for y := s.startYear; y <= currentYear; y++ {
		if y == primaryYear {
			totals = append(totals, primarySpark.totals(includeRecurring))
			continue
		}
		if spark, ok := s.borrowSpark(now, y); ok {
			totals = append(totals, spark.totals(includeRecurring))
			continue
		}
		tasks, err := s.completedTasks(ctx, y)
		if err != nil {
			return nil, fmt.Errorf("year %d: %w", y, err)
		}
		spark := sparkFromTasks(y, tasks)
		s.storeSpark(now, spark)
		totals = append(totals, spark.totals(includeRecurring))
	}
	return totals, nil
}

// borrowSpark looks for any fresh cached computation of the given year:
// either flag variant of a primary entry, then a spark-only entry.
func (s *Service) borrowSpark(now time.Time, year int) (sparkYear, bool) {
	for _, key := range []string{primaryKey(year, true), primaryKey(year, false)} {
		entry, ok := s.cache.Get(key)
		if !ok || entry.Age(now) >= s.ttl {
			continue
		}
		var cached cachedResult
		if err := json.Unmarshal(entry.Payload, &cached); err != nil {
			continue
		}
		return cached.Spark, true
	}
	entry, ok := s.cache.Get(sparkKey(year))
	if !ok || entry.Age(now) >= s.ttl {
		return sparkYear{}, false
	}
	var spark sparkYear
	if err := json.Unmarshal(entry.Payload, &spark); err != nil {
		return sparkYear{}, false
	}
	return spark, true
}

func (s *Service) storeSpark(now time.Time, spark sparkYear) {
	payload, err := json.Marshal(spark)
	if err != nil {
		return
	}
	s.cache.Put(sparkKey(spark.Year), cache.Entry{Payload: payload, StoredAt: now})
}

// sparkFromTasks buckets a year's completions by month under both
// recurrence variants.
func sparkFromTasks(year int, tasks []taskapi.Task) sparkYear {
	spark := sparkYear{Year: year}
	for _, t := range tasks {
		month := time.Unix(t.Completed, 0).UTC().Month()
		spark.WithRecurring[month-1]++
		if !t.Recurring() {
			spark.WithoutRecurring[month-1]++
		}
	}
	return spark
}

func filterRecurring(tasks []taskapi.Task, includeRecurring bool) []taskapi.Task {
	if includeRecurring {
		return tasks
	}
	kept := make([]taskapi.Task, 0, len(tasks))
	for _, t := range tasks {
		if !t.Recurring() {
			kept = append(kept, t)
		}
	}
	return kept
}

// aggregateYear builds the primary year's breakdowns from the filtered
// records. YearlyTotals is filled in by the caller.
func aggregateYear(year int, includeRecurring bool, tasks []taskapi.Task, folderNames map[int64]string) *Aggregate {
	agg := &Aggregate{
		Year:             year,
		IncludeRecurring: includeRecurring,
		TotalCompleted:   len(tasks),
		PriorityBreakdown: map[string]int{
			"0": 0, "1": 0, "2": 0, "3": 0,
		},
	}

	var monthCounts [12]int
	var monthCloseSums [12]float64
	var monthCloseCounts [12]int
	folderCounts := make(map[string]int)

	for _, t := range tasks {
		completedAt := time.Unix(t.Completed, 0).UTC()
		m := int(completedAt.Month()) - 1

		monthCounts[m]++
		if t.Added > 0 {
			days := float64(t.Completed-t.Added) / secondsPerDay
			if days < 0 {
				days = 0
			}
			if days > maxDaysToClose {
				days = maxDaysToClose
			}
			monthCloseSums[m] += days
			monthCloseCounts[m]++
		}

		agg.PriorityBreakdown[strconv.Itoa(t.Priority)]++
		folderCounts[folderName(t.Folder, folderNames)]++
		agg.DayOfWeekBreakdown[int(completedAt.Weekday())]++
	}

	agg.MonthlyBreakdown = make([]MonthlyStat, 12)
	for m := 0; m < 12; m++ {
		stat := MonthlyStat{Month: m + 1, Count: monthCounts[m]}
		if monthCloseCounts[m] > 0 {
			stat.AvgDaysToClose = monthCloseSums[m] / float64(monthCloseCounts[m])
		}
		agg.MonthlyBreakdown[m] = stat
	}

	agg.FolderBreakdown = topFoldersWithOther(folderCounts)
	return agg
}

func folderName(id int64, names map[int64]string) string {
	if id == 0 {
		return "No Folder"
	}
	if name, ok := names[id]; ok {
		return name
	}
	return fmt.Sprintf("Folder %d", id)
}

// topFoldersWithOther reduces folder counts to the top entries by count
// plus a synthetic "Other" bucket summing the rest, omitted when zero.
func topFoldersWithOther(counts map[string]int) []FolderStat {
	stats := make([]FolderStat, 0, len(counts))
	for name, count := range counts {
		stats = append(stats, FolderStat{Name: name, Count: count})
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Name < stats[j].Name
	})

	if len(stats) <= topFolders {
		return stats
	}
	other := 0
	for _, s := range stats[topFolders:] {
		other += s.Count
	}
	top := stats[:topFolders:topFolders]
	if other > 0 {
		top = append(top, FolderStat{Name: "Other", Count: other})
	}
	return top
}
