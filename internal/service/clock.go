package service

import (
	"fmt"
	"time"

	"habitstreak/internal/model"
)

// Clock supplies "now". Engine code never calls time.Now directly for
// anything that decides which day it is.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in a fixed location.
type SystemClock struct {
	Loc *time.Location
}

func NewSystemClock(timezone string) (SystemClock, error) {
	if timezone == "" {
		return SystemClock{Loc: time.UTC}, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return SystemClock{}, fmt.Errorf("invalid timezone %q: %w", timezone, err)
	}
	return SystemClock{Loc: loc}, nil
}

func (c SystemClock) Now() time.Time {
	if c.Loc == nil {
		return time.Now()
	}
	return time.Now().In(c.Loc)
}

// Today returns the clock's current calendar date, normalized.
func Today(c Clock) time.Time {
	return model.DateOf(c.Now())
}
