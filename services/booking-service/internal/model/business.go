package model

import (
	"time"
	_ "time/tzdata"
)

type Business struct {
	ID       string
	OwnerID  string
	Name     string
	Slug     string
	Timezone string
}

// Location resolves Timezone, falling back to UTC for blank or unknown names.
func (b Business) Location() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type Service struct {
	ID              string
	BusinessID      string
	Name            string
	DurationMinutes int
	PriceCents      int64
	Active          bool
}

func (s Service) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

type Client struct {
	ID         string
	BusinessID string
	Name       string
	Email      string
	Phone      string
}
