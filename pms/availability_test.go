package pms

import (
	"reflect"
	"testing"
)

func TestFlattenAvailability(t *testing.T) {
	input := map[string]any{
		"44": map[string]any{"2026-02-02": float64(5), "2026-02-01": float64(5)},
		"45": map[string]any{"2026-02-01": float64(2)},
	}

	want := []AvailabilityEntry{
		{RoomID: 44, RoomName: "Room 44", Date: "2026-02-01", Qty: 5, IsOpened: true},
		{RoomID: 44, RoomName: "Room 44", Date: "2026-02-02", Qty: 5, IsOpened: true},
		{RoomID: 45, RoomName: "Room 45", Date: "2026-02-01", Qty: 2, IsOpened: true},
	}

	// Map iteration order varies run to run; the output must not.
	for i := 0; i < 20; i++ {
		got := FlattenAvailability(input)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("iteration %d: got %+v want %+v", i, got, want)
		}
	}
}

func TestFlattenAvailabilitySkipsMalformedRooms(t *testing.T) {
	input := map[string]any{
		"44":       map[string]any{"2026-02-01": float64(1)},
		"not-a-id": map[string]any{"2026-02-01": float64(9)},
		"45":       "not a date map",
	}

	got := FlattenAvailability(input)
	if len(got) != 1 || got[0].RoomID != 44 {
		t.Fatalf("got %+v", got)
	}
}

func TestFlattenAvailabilityEmpty(t *testing.T) {
	if got := FlattenAvailability(nil); len(got) != 0 {
		t.Fatalf("got %+v", got)
	}
}
