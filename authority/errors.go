package authority

import "errors"

var (
	// ErrUnknownProcedure is returned for calls to a procedure the server does not serve.
	ErrUnknownProcedure = errors.New("unknown procedure")
	// ErrUnknownConnection is returned for calls on a connection that is not open.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrClientEntityID is reported for a submitted spawn that names its own
	// entity id. Only the server assigns ids.
	ErrClientEntityID = errors.New("spawn must not choose an entity id")
	// ErrBadRequest is returned when a call's payload cannot be decoded.
	ErrBadRequest = errors.New("bad request")
)
