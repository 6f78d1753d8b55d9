package tools

// Property: параметр операции в JSON-схеме.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

// Schema: JSON-схема аргументов операции.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Definition описывает операцию для диалогового фронтенда.
type Definition struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  Schema `json:"parameters"`

	New func() Request `json:"-"`
}

var (
	registrationProp = Property{Type: "string", Description: "Vehicle registration number, e.g. MH12AB1234"}
	dateProp         = Property{Type: "string", Description: "Date in DD/MM/YYYY format"}
	timeProp         = Property{Type: "string", Description: "Time in HH:MM (24h, IST)"}
	appointmentProp  = Property{Type: "string", Description: "Appointment reference, e.g. MSAP000012"}
)

func object(required []string, props map[string]Property) Schema {
	if props == nil {
		props = map[string]Property{}
	}
	return Schema{Type: "object", Properties: props, Required: required}
}

func byRegistration() Schema {
	return object([]string{"vehicle_registration"}, map[string]Property{"vehicle_registration": registrationProp})
}

var definitions = []Definition{
	{
		Name:        "check_warranty_status",
		Description: "Show standard warranty, extended warranty and CCP coverage of a vehicle as of today.",
		Parameters:  byRegistration(),
		New:         func() Request { return &CheckWarrantyStatus{} },
	},
	{
		Name:        "check_extended_warranty_eligibility",
		Description: "Check whether an extended warranty can be bought for a vehicle and list the tiers on offer.",
		Parameters:  byRegistration(),
		New:         func() Request { return &CheckExtendedWarrantyEligibility{} },
	},
	{
		Name:        "purchase_extended_warranty",
		Description: "Buy an extended warranty of the given tier for a vehicle.",
		Parameters: object([]string{"vehicle_registration", "tier_years"}, map[string]Property{
			"vehicle_registration": registrationProp,
			"tier_years":           {Type: "integer", Description: "Tier length in years: 1, 2 or 3"},
		}),
		New: func() Request { return &PurchaseExtendedWarranty{} },
	},
	{
		Name:        "check_ccp_eligibility",
		Description: "Check whether a Customer Convenience Package can be bought for a vehicle.",
		Parameters:  byRegistration(),
		New:         func() Request { return &CheckCCPEligibility{} },
	},
	{
		Name:        "purchase_ccp_package",
		Description: "Buy a Customer Convenience Package of the given tier. Requires an active extended warranty.",
		Parameters: object([]string{"vehicle_registration", "tier_years"}, map[string]Property{
			"vehicle_registration": registrationProp,
			"tier_years":           {Type: "integer", Description: "Tier length in years: 1, 2 or 3"},
		}),
		New: func() Request { return &PurchaseCCP{} },
	},
	{
		Name:        "cancel_warranty_service",
		Description: "Cancel an extended warranty or CCP and report the refund. Cancelling the extended warranty also cancels the CCP.",
		Parameters: object([]string{"vehicle_registration", "plan"}, map[string]Property{
			"vehicle_registration": registrationProp,
			"plan":                 {Type: "string", Description: "Plan to cancel", Enum: []string{"extended_warranty", "ccp"}},
		}),
		New: func() Request { return &CancelWarranty{} },
	},
	{
		Name:        "file_ccp_claim",
		Description: "File a CCP claim for water, fuel, rodent or insect damage. Rejected claims are recorded with the reason.",
		Parameters: object([]string{"vehicle_registration", "claim_type", "incident_date", "amount"}, map[string]Property{
			"vehicle_registration": registrationProp,
			"claim_type":           {Type: "string", Description: "Damage type", Enum: []string{"water", "fuel", "rodent", "insect"}},
			"description":          {Type: "string", Description: "What happened"},
			"incident_date":        dateProp,
			"incident_time":        {Type: "string", Description: "Time of the incident in HH:MM (24h, IST); midnight when omitted"},
			"amount":               {Type: "number", Description: "Claimed amount in rupees"},
			"service_center":       {Type: "string", Description: "Service center handling the repair"},
		}),
		New: func() Request { return &FileCCPClaim{} },
	},
	{
		Name:        "get_claim_status",
		Description: "Show the status of a claim.",
		Parameters: object([]string{"claim_id"}, map[string]Property{
			"claim_id": {Type: "string", Description: "Claim id, e.g. CCP000123"},
		}),
		New: func() Request { return &GetClaimStatus{} },
	},
	{
		Name:        "get_coverage_details",
		Description: "Describe the terms of a product or damage type.",
		Parameters: object([]string{"coverage_type"}, map[string]Property{
			"coverage_type": {Type: "string", Description: "standard, extended, ccp, claims or a damage type"},
		}),
		New: func() Request { return &GetCoverageDetails{} },
	},
	{
		Name:        "lookup_policy",
		Description: "Find the policy sections most relevant to a question.",
		Parameters: object([]string{"query"}, map[string]Property{
			"query": {Type: "string", Description: "The customer's question"},
			"k":     {Type: "integer", Description: "Number of sections to return (default 3, at most 8)"},
		}),
		New: func() Request { return &LookupPolicy{} },
	},
	{
		Name:        "find_service_center",
		Description: "List authorised service centers, optionally in one city.",
		Parameters: object(nil, map[string]Property{
			"city": {Type: "string", Description: "City name"},
		}),
		New: func() Request { return &FindServiceCenter{} },
	},
	{
		Name:        "check_service_center_availability",
		Description: "Show free and booked slots of a service center on a date.",
		Parameters: object([]string{"center_name", "date"}, map[string]Property{
			"center_name": {Type: "string", Description: "Service center name"},
			"date":        dateProp,
		}),
		New: func() Request { return &CheckAvailability{} },
	},
	{
		Name:        "book_service_appointment",
		Description: "Book a service appointment. Slots start at 09:00-12:00 and 14:00-17:00 on the hour.",
		Parameters: object([]string{"vehicle_registration", "center_name", "date", "time"}, map[string]Property{
			"vehicle_registration": registrationProp,
			"center_name":          {Type: "string", Description: "Service center name"},
			"date":                 dateProp,
			"time":                 timeProp,
			"service_type":         {Type: "string", Description: "Kind of service, e.g. General Service"},
			"notes":                {Type: "string", Description: "Notes for the service advisor"},
		}),
		New: func() Request { return &BookAppointment{} },
	},
	{
		Name:        "view_my_appointments",
		Description: "List the customer's service appointments.",
		Parameters:  object(nil, nil),
		New:         func() Request { return &ViewMyAppointments{} },
	},
	{
		Name:        "cancel_appointment",
		Description: "Cancel a booked service appointment.",
		Parameters:  object([]string{"appointment_id"}, map[string]Property{"appointment_id": appointmentProp}),
		New:         func() Request { return &CancelAppointment{} },
	},
	{
		Name:        "reschedule_appointment",
		Description: "Move a booked service appointment to another slot at the same center.",
		Parameters: object([]string{"appointment_id", "date", "time"}, map[string]Property{
			"appointment_id": appointmentProp,
			"date":           dateProp,
			"time":           timeProp,
		}),
		New: func() Request { return &RescheduleAppointment{} },
	},
	{
		Name:        "show_my_warranties",
		Description: "List extended warranties and CCPs of all the customer's vehicles.",
		Parameters:  object(nil, nil),
		New:         func() Request { return &ShowMyWarranties{} },
	},
	{
		Name:        "show_my_claims",
		Description: "List the customer's claims.",
		Parameters:  object(nil, nil),
		New:         func() Request { return &ShowMyClaims{} },
	},
	{
		Name:        "show_my_vehicles",
		Description: "List the customer's vehicles.",
		Parameters:  object(nil, nil),
		New:         func() Request { return &ShowMyVehicles{} },
	},
	{
		Name:        "show_customer_info",
		Description: "Show the customer's profile.",
		Parameters:  object(nil, nil),
		New:         func() Request { return &ShowCustomerInfo{} },
	},
	{
		Name:        "update_odometer",
		Description: "Record a new odometer reading. Readings cannot go down.",
		Parameters: object([]string{"vehicle_registration", "odometer_km"}, map[string]Property{
			"vehicle_registration": registrationProp,
			"odometer_km":          {Type: "integer", Description: "Current odometer reading in km"},
		}),
		New: func() Request { return &UpdateOdometer{} },
	},
}

// Definitions возвращает описания всех операций в постоянном порядке.
func Definitions() []Definition {
	return append([]Definition(nil), definitions...)
}
