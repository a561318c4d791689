package window

import (
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/connopt/core/model"
)

// DefaultRailWalkMinutes is the walk between bus stop and platform.
const DefaultRailWalkMinutes = 5

// ClassSession is one recurring class at a campus.
type ClassSession struct {
	Name     string         `json:"name" yaml:"name"`
	Start    string         `json:"start" yaml:"start"`
	End      string         `json:"end" yaml:"end"`
	Priority int            `json:"priority" yaml:"priority"`
	Lunch    bool           `json:"lunch" yaml:"lunch"`
	Days     []time.Weekday `json:"days" yaml:"days"`
}

// CollegeConfig lists the class times served at one campus stop.
type CollegeConfig struct {
	Name       string         `json:"name" yaml:"name"`
	LocationID string         `json:"location_id" yaml:"location_id"`
	Classes    []ClassSession `json:"classes" yaml:"classes"`
}

// RailTrain is one scheduled train at a station.
type RailTrain struct {
	Time     string         `json:"time" yaml:"time"`
	Priority int            `json:"priority" yaml:"priority"`
	Line     string         `json:"line" yaml:"line"`
	Days     []time.Weekday `json:"days" yaml:"days"`
}

// RailConfig lists the departures and arrivals served at one station stop.
type RailConfig struct {
	Station     string      `json:"station" yaml:"station"`
	LocationID  string      `json:"location_id" yaml:"location_id"`
	WalkMinutes float64     `json:"walk_minutes" yaml:"walk_minutes"`
	Departures  []RailTrain `json:"departures" yaml:"departures"`
	Arrivals    []RailTrain `json:"arrivals" yaml:"arrivals"`
}

// Bell is one bell time at a school.
type Bell struct {
	Name      string         `json:"name" yaml:"name"`
	Time      string         `json:"time" yaml:"time"`
	Dismissal bool           `json:"dismissal" yaml:"dismissal"`
	Priority  int            `json:"priority" yaml:"priority"`
	Days      []time.Weekday `json:"days" yaml:"days"`
}

// SchoolConfig lists the bell times served at one school stop.
type SchoolConfig struct {
	Name       string `json:"name" yaml:"name"`
	LocationID string `json:"location_id" yaml:"location_id"`
	Bells      []Bell `json:"bells" yaml:"bells"`
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

func slug(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

func opportunityID(family, location, kind string, at model.Clock) string {
	return fmt.Sprintf("%s-%s-%s-%s", family, slug(location), kind, strings.ReplaceAll(at.String(), ":", ""))
}

// tripsInBand returns the trips whose bus time for the scenario falls inside
// the outer window band around target.
func (s *Service) tripsInBand(sched *model.Schedule, c model.ConnectionOpportunity, target model.Clock) []int {
	outer := s.Table(c.Type).Outer()
	var nums []int
	for _, t := range sched.SortedByDeparture() {
		bus, ok := c.BusTime(t)
		if !ok {
			continue
		}
		gap := SignedGap(bus, target, c.Scenario)
		if outer.Contains(gap) {
			nums = append(nums, t.TripNumber)
		}
	}
	return nums
}

func (s *Service) build(sched *model.Schedule, c model.ConnectionOpportunity, at model.Clock) model.ConnectionOpportunity {
	c.TargetTime = at.String()
	c.Priority = clampPriority(c.Priority)
	if sched == nil {
		return c
	}
	c.AffectedTrips = s.tripsInBand(sched, c, c.Adjust(at))
	if res, _, ok := s.Evaluate(sched, c); ok {
		c.WindowType = res.Classification
	} else {
		c.WindowType = model.WindowMissed
	}
	return c
}

// GenerateCollegeOpportunities creates one opportunity per class start and
// end. Class ends rank two points below the start, lunch sessions three.
func (s *Service) GenerateCollegeOpportunities(sched *model.Schedule, cfg CollegeConfig) ([]model.ConnectionOpportunity, error) {
	var out []model.ConnectionOpportunity
	for _, cl := range cfg.Classes {
		start, err := model.ParseClock(cl.Start)
		if err != nil {
			return nil, fmt.Errorf("college %s class %s start: %w", cfg.Name, cl.Name, err)
		}
		end, err := model.ParseClock(cl.End)
		if err != nil {
			return nil, fmt.Errorf("college %s class %s end: %w", cfg.Name, cl.Name, err)
		}
		prio := cl.Priority
		if cl.Lunch {
			prio -= 3
		}
		meta := map[string]string{"college": cfg.Name, "class": cl.Name}
		out = append(out, s.build(sched, model.ConnectionOpportunity{
			ID:            opportunityID("college", cfg.LocationID, "start", start),
			Type:          model.ConnectionCollegeClass,
			Scenario:      model.ArriveBefore,
			LocationID:    cfg.LocationID,
			Priority:      prio,
			OperatingDays: cl.Days,
			Metadata:      meta,
		}, start))
		out = append(out, s.build(sched, model.ConnectionOpportunity{
			ID:            opportunityID("college", cfg.LocationID, "end", end),
			Type:          model.ConnectionCollegeClass,
			Scenario:      model.DepartAfter,
			LocationID:    cfg.LocationID,
			Priority:      prio - 2,
			OperatingDays: cl.Days,
			Metadata:      copyMeta(meta),
		}, end))
	}
	return dedupe(out), nil
}

// GenerateRailOpportunities creates one opportunity per train. Buses feed
// departures and meet arrivals; arrivals rank one point below departures.
// Every rail opportunity carries the platform walk as transfer time.
func (s *Service) GenerateRailOpportunities(sched *model.Schedule, cfg RailConfig) ([]model.ConnectionOpportunity, error) {
	walk := cfg.WalkMinutes
	if walk <= 0 {
		walk = DefaultRailWalkMinutes
	}
	var out []model.ConnectionOpportunity
	add := func(tr RailTrain, kind string, scenario model.Scenario, prio int) error {
		at, err := model.ParseClock(tr.Time)
		if err != nil {
			return fmt.Errorf("rail %s %s %s: %w", cfg.Station, kind, tr.Time, err)
		}
		out = append(out, s.build(sched, model.ConnectionOpportunity{
			ID:              opportunityID("rail", cfg.LocationID, kind, at),
			Type:            model.ConnectionRail,
			Scenario:        scenario,
			LocationID:      cfg.LocationID,
			TransferMinutes: walk,
			Priority:        prio,
			OperatingDays:   tr.Days,
			Metadata:        map[string]string{"station": cfg.Station, "line": tr.Line},
		}, at))
		return nil
	}
	for _, tr := range cfg.Departures {
		if err := add(tr, "dep", model.ArriveBefore, tr.Priority); err != nil {
			return nil, err
		}
	}
	for _, tr := range cfg.Arrivals {
		if err := add(tr, "arr", model.DepartAfter, tr.Priority-1); err != nil {
			return nil, err
		}
	}
	return dedupe(out), nil
}

// GenerateSchoolOpportunities creates one opportunity per bell. Start bells
// need arrivals before them and dismissal bells departures after them.
func (s *Service) GenerateSchoolOpportunities(sched *model.Schedule, cfg SchoolConfig) ([]model.ConnectionOpportunity, error) {
	var out []model.ConnectionOpportunity
	for _, b := range cfg.Bells {
		at, err := model.ParseClock(b.Time)
		if err != nil {
			return nil, fmt.Errorf("school %s bell %s: %w", cfg.Name, b.Name, err)
		}
		kind, scenario := "start", model.ArriveBefore
		if b.Dismissal {
			kind, scenario = "dismissal", model.DepartAfter
		}
		days := b.Days
		if len(days) == 0 {
			days = model.Weekdays
		}
		out = append(out, s.build(sched, model.ConnectionOpportunity{
			ID:            opportunityID("school", cfg.LocationID, kind, at),
			Type:          model.ConnectionSchoolBell,
			Scenario:      scenario,
			LocationID:    cfg.LocationID,
			Priority:      b.Priority,
			OperatingDays: days,
			Metadata:      map[string]string{"school": cfg.Name, "bell": b.Name},
		}, at))
	}
	return dedupe(out), nil
}

// DomainConfigs groups the caller-owned domain schedules.
type DomainConfigs struct {
	Colleges []CollegeConfig `json:"colleges" yaml:"colleges"`
	Rail     []RailConfig    `json:"rail" yaml:"rail"`
	Schools  []SchoolConfig  `json:"schools" yaml:"schools"`
}

// GenerateAll runs every generator over the domain configurations.
func (s *Service) GenerateAll(sched *model.Schedule, d DomainConfigs) ([]model.ConnectionOpportunity, error) {
	var out []model.ConnectionOpportunity
	for _, c := range d.Colleges {
		ops, err := s.GenerateCollegeOpportunities(sched, c)
		if err != nil {
			return nil, err
		}
		out = append(out, ops...)
	}
	for _, r := range d.Rail {
		ops, err := s.GenerateRailOpportunities(sched, r)
		if err != nil {
			return nil, err
		}
		out = append(out, ops...)
	}
	for _, sc := range d.Schools {
		ops, err := s.GenerateSchoolOpportunities(sched, sc)
		if err != nil {
			return nil, err
		}
		out = append(out, ops...)
	}
	s.log.Debugw("generated connection opportunities", map[string]any{
		"colleges": len(d.Colleges), "rail": len(d.Rail), "schools": len(d.Schools), "total": len(out),
	})
	return dedupe(out), nil
}

func copyMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// dedupe keeps the highest priority opportunity per id.
func dedupe(in []model.ConnectionOpportunity) []model.ConnectionOpportunity {
	idx := make(map[string]int, len(in))
	out := in[:0]
	for _, c := range in {
		if i, ok := idx[c.ID]; ok {
			if c.Priority > out[i].Priority {
				out[i] = c
			}
			continue
		}
		idx[c.ID] = len(out)
		out = append(out, c)
	}
	return out
}
