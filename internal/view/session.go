package view

// Session supplies the identity a controller fetches rows for. It is passed
// to each controller at construction instead of being looked up globally.
//
// The credential is opaque to the view engine: it is attached to requests,
// never inspected.
type Session interface {
	Credential() string
	Username() string

	// Invalidate clears the stored credential and fires every callback
	// registered with OnUnauthorized. Controllers call it when the row
	// service rejects the credential.
	Invalidate()

	// OnUnauthorized registers a callback run once the session is invalidated.
	OnUnauthorized(fn func())
}

// Intent is the navigation message handed from one view to the other, for
// example by the "filter all data" action. It carries the filters so the
// receiving view starts from them before its URL reflects them.
type Intent struct {
	Filters FilterSet
}
