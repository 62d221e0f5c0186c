package pms

import (
	"context"

	"github.com/quendoo/mcp-broker/tools"
)

type propertySettingsArgs struct {
	APILng string `json:"api_lng,omitempty" jsonschema_description:"Language code (e.g. 'en', 'bg'). Optional."`
	Names  string `json:"names,omitempty" jsonschema_description:"Comma-separated list of setting names to retrieve. Optional."`
}

type roomsDetailsArgs struct {
	APILng string `json:"api_lng,omitempty" jsonschema_description:"Language code for room details (e.g. 'en', 'bg'). Optional."`
	RoomID int    `json:"room_id,omitempty" jsonschema_description:"Specific room type ID to get details for. Optional (returns all room types if omitted)."`
}

type availabilityArgs struct {
	DateFrom string `json:"date_from" jsonschema_description:"Start date in YYYY-MM-DD format"`
	DateTo   string `json:"date_to" jsonschema_description:"End date in YYYY-MM-DD format"`
	Sysres   string `json:"sysres" jsonschema_description:"System reservation type ('qdo' for Quendoo or 'ext' for external)"`
}

type updateAvailabilityArgs struct {
	Values []map[string]any `json:"values" jsonschema_description:"List of availability updates, each containing: date, room_id or ext_room_id, avail"`
}

type bookingsArgs struct{}

type bookingOffersArgs struct {
	DateFrom string   `json:"date_from" jsonschema_description:"Check-in date in YYYY-MM-DD format. MUST ask user if not provided."`
	Nights   int      `json:"nights" jsonschema_description:"Number of nights for the stay. MUST ask user if not provided."`
	Guests   []Guests `json:"guests" jsonschema_description:"List of guest objects, one per room. REQUIRED - ask user 'How many adults and children?' if not provided."`
	BmCode   string   `json:"bm_code,omitempty" jsonschema_description:"Booking module code (e.g. 'neXu98qdmw'). If not provided, uses first active module. Optional."`
	APILng   string   `json:"api_lng,omitempty" jsonschema_description:"Language code. Optional."`
	Currency string   `json:"currency,omitempty" jsonschema_description:"Currency code (e.g. 'BGN', 'EUR', 'USD'). Optional."`
}

type ackBookingArgs struct {
	BookingID  int    `json:"booking_id" jsonschema_description:"Booking ID"`
	RevisionID string `json:"revision_id" jsonschema_description:"Revision ID"`
}

type externalPropertyDataArgs struct {
	Data map[string]any `json:"data" jsonschema_description:"External property data object"`
}

type makeCallArgs struct {
	Phone   string `json:"phone" jsonschema_description:"Phone number to call"`
	Message string `json:"message" jsonschema_description:"Message to speak during the call"`
}

type sendEmailArgs struct {
	To      string `json:"to" jsonschema_description:"Recipient email address"`
	Subject string `json:"subject" jsonschema_description:"Email subject line"`
	Message string `json:"message" jsonschema_description:"Email body (supports HTML)"`
}

// Tools binds the Quendoo PMS and automation operations into tool
// definitions for the broker's registry.
func Tools(client *Client, automation *AutomationClient) []tools.Tool {
	return []tools.Tool{
		tools.New("get_property_settings",
			"Get property settings including rooms, rates, services, meals, beds, booking modules, payment methods, and channel codes.",
			func(ctx context.Context, apiKey string, args propertySettingsArgs) (any, error) {
				return client.GetPropertySettings(ctx, apiKey, args.APILng, args.Names)
			}),

		tools.New("get_rooms_details",
			"Get detailed information about room TYPES (not availability). Returns room type properties: room name, room ID, room size (sq meters), bed configurations, maximum occupancy, amenities, and descriptions. Use this tool when you need to describe what types of rooms the hotel has. DO NOT use for checking availability or booking - use get_availability or get_booking_offers instead.",
			func(ctx context.Context, apiKey string, args roomsDetailsArgs) (any, error) {
				return client.GetRoomsDetails(ctx, apiKey, args.APILng, args.RoomID)
			}),

		tools.New("get_availability",
			"Get availability for a date range and system (qdo or ext).",
			func(ctx context.Context, apiKey string, args availabilityArgs) (any, error) {
				result, err := client.GetAvailability(ctx, apiKey, args.DateFrom, args.DateTo, args.Sysres)
				if err != nil {
					return nil, err
				}
				// Flatten the room->date nesting into an ordered record list
				// for the chat frontend.
				if data, ok := result["data"].(map[string]any); ok {
					return map[string]any{
						"date_from":    args.DateFrom,
						"date_to":      args.DateTo,
						"availability": FlattenAvailability(data),
					}, nil
				}
				return result, nil
			}),

		tools.New("update_availability",
			"Update availability values for rooms or external rooms.",
			func(ctx context.Context, apiKey string, args updateAvailabilityArgs) (any, error) {
				return client.UpdateAvailability(ctx, apiKey, args.Values)
			}),

		tools.New("get_bookings",
			"List all bookings for the property.",
			func(ctx context.Context, apiKey string, _ bookingsArgs) (any, error) {
				return client.GetBookings(ctx, apiKey)
			}),

		tools.New("get_booking_offers",
			"Fetch booking offers for a booking module code and stay dates. ALWAYS ask the user for check-in date, number of nights, and number of guests if not explicitly provided in their message.",
			func(ctx context.Context, apiKey string, args bookingOffersArgs) (any, error) {
				return client.GetBookingOffers(ctx, apiKey, args.DateFrom, args.Nights, args.Guests, args.BmCode, args.APILng, args.Currency)
			}),

		tools.New("ack_booking",
			"Acknowledge a booking using booking_id and revision_id.",
			func(ctx context.Context, apiKey string, args ackBookingArgs) (any, error) {
				return client.AckBooking(ctx, apiKey, args.BookingID, args.RevisionID)
			}),

		tools.New("post_room_assignment",
			"Send room assignment for a booking.",
			func(ctx context.Context, apiKey string, args ackBookingArgs) (any, error) {
				return client.PostRoomAssignment(ctx, apiKey, args.BookingID, args.RevisionID)
			}),

		tools.New("post_external_property_data",
			"Send external property mapping data to Quendoo.",
			func(ctx context.Context, apiKey string, args externalPropertyDataArgs) (any, error) {
				return client.PostExternalPropertyData(ctx, apiKey, args.Data)
			}),

		tools.New("make_call",
			"Initiate a voice call with a spoken message using Quendoo automation service.",
			func(ctx context.Context, _ string, args makeCallArgs) (any, error) {
				result, err := automation.MakeCall(ctx, args.Phone, args.Message)
				if err != nil {
					return nil, err
				}
				return map[string]any{"success": true, "result": result}, nil
			}),

		tools.New("send_quendoo_email",
			"Send an email via Quendoo email service. Supports HTML content in the message body.",
			func(ctx context.Context, _ string, args sendEmailArgs) (any, error) {
				result, err := automation.SendEmail(ctx, args.To, args.Subject, args.Message)
				if err != nil {
					return nil, err
				}
				return map[string]any{"success": true, "result": result}, nil
			}),
	}
}
