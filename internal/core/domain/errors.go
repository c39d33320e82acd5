package domain

import "errors"

var (
	ErrNotConnected      = errors.New("peer channel not connected")
	ErrNoSession         = errors.New("no peer session")
	ErrAlreadySubscribed = errors.New("notification subscriber already registered")
	ErrTransportClosed   = errors.New("transport closed")
	ErrUnknownTransport  = errors.New("unknown transport")
	ErrDeviceClosed      = errors.New("virtual device closed")
)
