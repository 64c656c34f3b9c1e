package availability

import (
	"reflect"
	"testing"
	"time"

	"github.com/agendizo/agendizo/services/booking-service/internal/model"
)

func TestSlotsFromHoursClosingBoundary(t *testing.T) {
	h := model.OpeningHours{DayOfWeek: time.Monday, Open: "09:00", Close: "11:00", StepMinutes: 30}
	got := SlotsFromHours(h, time.Hour)
	// 10:00 + 60 = 11:00 fits exactly; 10:30 would overrun.
	if want := []string{"09:00", "09:30", "10:00"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSlotsFromHoursLunch(t *testing.T) {
	h := model.OpeningHours{
		Open: "09:00", Close: "14:00",
		LunchStart: "12:00:00", LunchEnd: "13:00:00",
	}
	got := SlotsFromHours(h, time.Hour)
	if want := []string{"09:00", "10:00", "11:00", "13:00"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	h.StepMinutes = 30
	got = SlotsFromHours(h, time.Hour)
	if want := []string{"09:00", "09:30", "10:00", "10:30", "11:00", "13:00"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestSlotsFromHoursInvalid(t *testing.T) {
	if got := SlotsFromHours(model.OpeningHours{Open: "10:00", Close: "09:00"}, time.Hour); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if got := SlotsFromHours(model.OpeningHours{Open: "09:00", Close: "10:00"}, 0); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestTemplateTimesPrefersExplicitSlots(t *testing.T) {
	slots := []model.TimeSlot{
		{DayOfWeek: time.Monday, Time: "09:00"},
		{DayOfWeek: time.Tuesday, Time: "15:00"},
	}
	hours := []model.OpeningHours{
		{DayOfWeek: time.Monday, Open: "08:00", Close: "10:00"},
		{DayOfWeek: time.Wednesday, Open: "08:00", Close: "10:00"},
	}
	if got := TemplateTimes(slots, hours, time.Monday, time.Hour); !reflect.DeepEqual(got, []string{"09:00"}) {
		t.Fatalf("expected explicit slots, got %v", got)
	}
	if got := TemplateTimes(slots, hours, time.Wednesday, time.Hour); !reflect.DeepEqual(got, []string{"08:00", "09:00"}) {
		t.Fatalf("expected synthesized slots, got %v", got)
	}
	if got := TemplateTimes(slots, hours, time.Friday, time.Hour); len(got) != 0 {
		t.Fatalf("expected nothing, got %v", got)
	}
}
