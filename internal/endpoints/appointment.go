package endpoints

import "encoding/json"

// GetAllAppointments lists appointments. Repeated filter names collapse to
// the last value.
var GetAllAppointments = query[ListParams, json.RawMessage]("getAllAppointments", "GET", "/admin/appointments", nil,
	func(params ListParams) (binding, error) {
		return binding{Query: params.Set()}, nil
	})
