package model

import "time"

type WorkingDay struct {
	DayOfWeek time.Weekday
	IsWorking bool
}

// TimeSlot is a bookable start time template for one weekday.
type TimeSlot struct {
	DayOfWeek time.Weekday
	Time      string
}

type Holiday struct {
	Date time.Time
	Name string
}

// OpeningHours is a continuous range from which start times are synthesized
// when a weekday has no TimeSlot rows. Lunch bounds are optional.
type OpeningHours struct {
	DayOfWeek   time.Weekday
	Open        string
	Close       string
	LunchStart  string
	LunchEnd    string
	StepMinutes int
}

// Schedule is everything about a business that availability needs except
// services and appointments. It is safe to cache.
type Schedule struct {
	Business     Business
	WorkingDays  []WorkingDay
	TimeSlots    []TimeSlot
	OpeningHours []OpeningHours
	Holidays     []Holiday
}
