package akiles

type GadgetAction struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Gadget struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Actions []GadgetAction `json:"actions"`
}

// Hardware is a physical device. Sessions lists the IDs of the sessions that can reach it.
type Hardware struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	ProductID  string   `json:"productId"`
	RevisionID string   `json:"revisionId"`
	Sessions   []string `json:"sessions"`
}

// ClientInfo describes the native SDK build the bridge talks to.
type ClientInfo struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Platform string `json:"platform,omitempty"`
}

// ActionOptions customizes an action. Nil fields are left to the native default (true).
type ActionOptions struct {
	RequestBluetoothPermission *bool `json:"requestBluetoothPermission,omitempty"`
	RequestLocationPermission  *bool `json:"requestLocationPermission,omitempty"`
	UseInternet                *bool `json:"useInternet,omitempty"`
	UseBluetooth               *bool `json:"useBluetooth,omitempty"`
}

// Bool returns a pointer to v, for filling ActionOptions.
func Bool(v bool) *bool { return &v }

type ActionInternetStatus string

const (
	InternetExecutingAction           ActionInternetStatus = "EXECUTING_ACTION"
	InternetAcquiringLocation         ActionInternetStatus = "ACQUIRING_LOCATION"
	InternetWaitingForLocationInRadius ActionInternetStatus = "WAITING_FOR_LOCATION_IN_RADIUS"
)

type ActionBluetoothStatus string

const (
	BluetoothScanning        ActionBluetoothStatus = "SCANNING"
	BluetoothConnecting      ActionBluetoothStatus = "CONNECTING"
	BluetoothSyncingDevice   ActionBluetoothStatus = "SYNCING_DEVICE"
	BluetoothSyncingServer   ActionBluetoothStatus = "SYNCING_SERVER"
	BluetoothExecutingAction ActionBluetoothStatus = "EXECUTING_ACTION"
)

type SyncStatus string

const (
	SyncScanning      SyncStatus = "SCANNING"
	SyncConnecting    SyncStatus = "CONNECTING"
	SyncSyncingDevice SyncStatus = "SYNCING_DEVICE"
	SyncSyncingServer SyncStatus = "SYNCING_SERVER"
)

// Schedule has 7 weekdays, Monday first.
type Schedule struct {
	Weekdays []ScheduleWeekday `json:"weekdays"`
}

type ScheduleWeekday struct {
	Ranges []ScheduleRange `json:"ranges"`
}

// ScheduleRange is in seconds since midnight, end exclusive.
type ScheduleRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// SiteGeo is the geolocation restriction of a site. Radius is in meters.
type SiteGeo struct {
	Location Location `json:"location"`
	Radius   float64  `json:"radius"`
}
