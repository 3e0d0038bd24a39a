package session

import "errors"

var (
	ErrNotFound      = errors.New("session not found")
	ErrSessionExists = errors.New("session already exists")
	ErrStreamClosed  = errors.New("session output closed")
	ErrProtocol      = errors.New("session protocol violation")
	ErrTimeout       = errors.New("session exchange timed out")
)
