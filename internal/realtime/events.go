package realtime

// Event names pushed to connected sessions. Payloads are notifications
// that trigger a client resync, not an authoritative state feed.
const (
	EventRequestCreated       = "requestCreated"
	EventRequestStatusChanged = "requestStatusChanged"
	EventRequestUpdated       = "requestUpdated"
	EventBookCheckedOut       = "bookCheckedOut"
	EventBookAdded            = "bookAdded"
	EventBookUpdated          = "bookUpdated"
	EventBookRemoved          = "bookRemoved"
	EventBookReturned         = "bookReturned"
	EventBookReturnedAdmin    = "bookReturnedAdmin"
)

// Event is one realtime notification. Data carries a human-readable
// "message" plus the affected entity, mirroring what the web client
// shows in its notification banner.
type Event struct {
	Name string                 `json:"event"`
	Data map[string]interface{} `json:"data"`
}

const (
	// RoomAdmins receives workflow events addressed to every admin.
	RoomAdmins = "admins"
)

// RoomStudent is the per-student room key.
func RoomStudent(studentID string) string {
	return "student:" + studentID
}
