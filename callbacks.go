package akiles

// ActionCallback receives the progress of an action. Any field may be left nil.
//
// Globally exactly one of OnSuccess or OnError fires. The internet method reports zero
// or more OnInternetStatus, then exactly one of OnInternetSuccess or OnInternetError.
// The Bluetooth method reports zero or more OnBluetoothStatus or
// OnBluetoothStatusProgress, then exactly one of OnBluetoothSuccess or OnBluetoothError.
// Bluetooth keeps syncing at low priority after the action, so its callbacks may still
// arrive after the global result.
type ActionCallback struct {
	OnSuccess func()
	OnError   func(err *Error)

	OnInternetStatus  func(status ActionInternetStatus)
	OnInternetSuccess func()
	OnInternetError   func(err *Error)

	OnBluetoothStatus         func(status ActionBluetoothStatus)
	OnBluetoothStatusProgress func(percent float64)
	OnBluetoothSuccess        func()
	OnBluetoothError          func(err *Error)
}

// ScanCallback receives zero or more OnDiscover, then exactly one of OnSuccess or OnError.
type ScanCallback struct {
	OnDiscover func(hw Hardware)
	OnSuccess  func()
	OnError    func(err *Error)
}

// SyncCallback receives zero or more OnStatus or OnStatusProgress, then exactly one of
// OnSuccess or OnError.
type SyncCallback struct {
	OnStatus         func(status SyncStatus)
	OnStatusProgress func(percent float64)
	OnSuccess        func()
	OnError          func(err *Error)
}

// ScanCardCallback receives exactly one of OnSuccess or OnError.
type ScanCardCallback struct {
	OnSuccess func(card *Card)
	OnError   func(err *Error)
}
