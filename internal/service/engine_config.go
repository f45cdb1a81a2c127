package service

import (
	"time"

	"github.com/noah-isme/studio-portal-api/internal/models"
	"github.com/noah-isme/studio-portal-api/pkg/config"
)

// EngineConfig holds the scheduling rules shared by every engine service.
type EngineConfig struct {
	Now                 func() time.Time
	Location            *time.Location
	PlatformStart       time.Time
	MinNotice           time.Duration
	RescheduleWindow    int
	CreditValidity      time.Duration
	MatchThreshold      float64
	OperatingHoursStart string
	OperatingHoursEnd   string
	MaxRangeDays        int
}

// NewEngineConfig maps the studio configuration block.
func NewEngineConfig(cfg config.StudioConfig) EngineConfig {
	return EngineConfig{
		Location:            cfg.Location,
		PlatformStart:       cfg.PlatformStartDate,
		MinNotice:           time.Duration(cfg.MinNoticeMinutes) * time.Minute,
		RescheduleWindow:    cfg.RescheduleWindowDays,
		CreditValidity:      cfg.CreditValidity,
		MatchThreshold:      cfg.MatchThreshold,
		OperatingHoursStart: cfg.OperatingHoursStart,
		OperatingHoursEnd:   cfg.OperatingHoursEnd,
	}.withDefaults()
}

func (c EngineConfig) withDefaults() EngineConfig {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.MinNotice <= 0 {
		c.MinNotice = 15 * time.Minute
	}
	if c.RescheduleWindow <= 0 {
		c.RescheduleWindow = 7
	}
	if c.CreditValidity <= 0 {
		c.CreditValidity = 30 * 24 * time.Hour
	}
	if c.MatchThreshold <= 0 {
		c.MatchThreshold = 0.8
	}
	if c.MaxRangeDays <= 0 {
		c.MaxRangeDays = 366
	}
	return c
}

// Today returns the current civil date of the studio.
func (c EngineConfig) Today() time.Time {
	return models.CivilDate(c.Now(), c.Location)
}

// StartOf returns the instant an occurrence of slot begins on date.
func (c EngineConfig) StartOf(slot *models.FixedSlot, date time.Time) (time.Time, error) {
	return models.At(date, slot.StartTime, c.Location)
}

// CreditExpiry is the last redeemable day of a credit issued today.
func (c EngineConfig) CreditExpiry() time.Time {
	days := int(c.CreditValidity / (24 * time.Hour))
	return models.AddDays(c.Today(), days)
}

// WithinOperatingHours reports whether [start, end] fits the configured studio hours.
func (c EngineConfig) WithinOperatingHours(start, end string) bool {
	if c.OperatingHoursStart == "" || c.OperatingHoursEnd == "" {
		return true
	}
	open, err := models.ClockMinutes(c.OperatingHoursStart)
	if err != nil {
		return true
	}
	closing, err := models.ClockMinutes(c.OperatingHoursEnd)
	if err != nil {
		return true
	}
	s, err := models.ClockMinutes(start)
	if err != nil {
		return false
	}
	e, err := models.ClockMinutes(end)
	if err != nil {
		return false
	}
	return s >= open && e <= closing
}
