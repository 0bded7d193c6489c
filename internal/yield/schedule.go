package yield

import (
	"fmt"
	"math"

	"github.com/smart-protocol/smart/internal/protocol"
)

// Config is the immutable definition of a fixed yield schedule. Times are
// unix seconds, RateBps is the yield per period in parts per 10000.
type Config struct {
	Start    uint64 `json:"start" yaml:"start"`
	End      uint64 `json:"end" yaml:"end"`
	RateBps  uint64 `json:"rate_bps" yaml:"rate_bps"`
	Interval uint64 `json:"interval" yaml:"interval"`
}

// MaxPeriods bounds the number of distribution periods of a schedule
const MaxPeriods = 10_000

// Validate checks the config against the current time
func (c Config) Validate(now uint64) error {
	if c.Start <= now {
		return fmt.Errorf("%w: start %d is not after %d", protocol.ErrInvalidStartDate, c.Start, now)
	}
	return c.check()
}

func (c Config) check() error {
	if c.End <= c.Start {
		return fmt.Errorf("%w: end %d is not after start %d", protocol.ErrInvalidEndDate, c.End, c.Start)
	}
	if c.RateBps == 0 {
		return protocol.ErrInvalidRate
	}
	if c.Interval == 0 {
		return protocol.ErrInvalidInterval
	}
	if c.End > math.MaxUint64-c.Interval {
		return fmt.Errorf("%w: end %d too large for interval %d", protocol.ErrInvalidEndDate, c.End, c.Interval)
	}
	if n := c.numPeriods(); n > MaxPeriods {
		return fmt.Errorf("%w: %d periods, at most %d", protocol.ErrInvalidInterval, n, MaxPeriods)
	}
	return nil
}

func (c Config) numPeriods() uint64 {
	span := c.End - c.Start
	n := span / c.Interval
	if span%c.Interval != 0 {
		n++
	}
	return n
}

// Schedule derives distribution periods from a Config. Period i (1-based)
// covers (periodEnd[i-1], periodEnd[i]] with periodEnd[0] = start; the
// last period is cut short at the end date.
type Schedule struct {
	cfg     Config
	periods uint64
}

func NewSchedule(cfg Config, now uint64) (*Schedule, error) {
	if err := cfg.Validate(now); err != nil {
		return nil, err
	}
	return &Schedule{cfg: cfg, periods: cfg.numPeriods()}, nil
}

// RestoreSchedule rebuilds a schedule that was validated when it was first
// created. Its start may already have passed.
func RestoreSchedule(cfg Config) (*Schedule, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &Schedule{cfg: cfg, periods: cfg.numPeriods()}, nil
}

func (s *Schedule) Config() Config     { return s.cfg }
func (s *Schedule) Start() uint64      { return s.cfg.Start }
func (s *Schedule) End() uint64        { return s.cfg.End }
func (s *Schedule) RateBps() uint64    { return s.cfg.RateBps }
func (s *Schedule) Interval() uint64   { return s.cfg.Interval }
func (s *Schedule) NumPeriods() uint64 { return s.periods }

// Started reports whether the schedule window has opened
func (s *Schedule) Started(now uint64) bool {
	return now >= s.cfg.Start
}

// CurrentPeriod returns the 1-based index of the period containing now,
// 0 before the start and N at or after the end.
func (s *Schedule) CurrentPeriod(now uint64) uint64 {
	switch {
	case now < s.cfg.Start:
		return 0
	case now >= s.cfg.End:
		return s.periods
	}
	return (now-s.cfg.Start)/s.cfg.Interval + 1
}

// LastCompletedPeriod returns the index of the latest period whose end
// has been reached.
func (s *Schedule) LastCompletedPeriod(now uint64) uint64 {
	switch {
	case now <= s.cfg.Start:
		return 0
	case now >= s.cfg.End:
		return s.periods
	}
	return min((now-s.cfg.Start)/s.cfg.Interval, s.periods)
}

// LastSettledPeriod returns the index of the latest period that ended
// strictly before now. Balances at its end can no longer change, so it is
// the last period that may be paid.
func (s *Schedule) LastSettledPeriod(now uint64) uint64 {
	if now == 0 {
		return 0
	}
	return s.LastCompletedPeriod(now - 1)
}

// TimeUntilNextPeriod returns the seconds until the next period boundary
func (s *Schedule) TimeUntilNextPeriod(now uint64) uint64 {
	switch {
	case now < s.cfg.Start:
		return s.cfg.Start - now
	case now >= s.cfg.End:
		return 0
	}
	return s.cfg.Interval - (now-s.cfg.Start)%s.cfg.Interval
}

// PeriodEnd returns the end timestamp of period i
func (s *Schedule) PeriodEnd(i uint64) (uint64, error) {
	if i == 0 || i > s.periods {
		return 0, fmt.Errorf("%w: %d not in [1, %d]", protocol.ErrInvalidPeriod, i, s.periods)
	}
	return s.periodEnd(i), nil
}

// PeriodStart returns the start timestamp of period i
func (s *Schedule) PeriodStart(i uint64) (uint64, error) {
	if i == 0 || i > s.periods {
		return 0, fmt.Errorf("%w: %d not in [1, %d]", protocol.ErrInvalidPeriod, i, s.periods)
	}
	return s.cfg.Start + (i-1)*s.cfg.Interval, nil
}

// AllPeriods returns the end timestamp of every period in order
func (s *Schedule) AllPeriods() []uint64 {
	ends := make([]uint64, s.periods)
	for i := range ends {
		ends[i] = s.periodEnd(uint64(i) + 1)
	}
	return ends
}

func (s *Schedule) periodEnd(i uint64) uint64 {
	return min(s.cfg.Start+i*s.cfg.Interval, s.cfg.End)
}
