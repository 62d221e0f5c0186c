package pms

import (
	"encoding/json"
	"sort"
	"strconv"
)

// AvailabilityEntry is one room/date availability record in the flattened,
// client-facing shape.
type AvailabilityEntry struct {
	RoomID   int    `json:"room_id"`
	RoomName string `json:"room_name"`
	Date     string `json:"date"`
	Qty      int    `json:"qty"`
	IsOpened bool   `json:"is_opened"`
}

// FlattenAvailability converts the upstream availability shape, keyed first
// by room id then by date, into an ordered sequence sorted by (room_id, date)
// ascending. The output is identical for identical input regardless of map
// iteration order.
func FlattenAvailability(data map[string]any) []AvailabilityEntry {
	entries := make([]AvailabilityEntry, 0, len(data))
	for roomKey, v := range data {
		roomID, err := strconv.Atoi(roomKey)
		if err != nil {
			continue
		}
		dates, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for date, qty := range dates {
			entries = append(entries, AvailabilityEntry{
				RoomID:   roomID,
				RoomName: "Room " + roomKey,
				Date:     date,
				Qty:      toInt(qty),
				IsOpened: true,
			})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].RoomID != entries[j].RoomID {
			return entries[i].RoomID < entries[j].RoomID
		}
		return entries[i].Date < entries[j].Date
	})
	return entries
}

func toInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}
