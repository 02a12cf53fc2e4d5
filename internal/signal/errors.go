package signal

import "errors"

var (
	ErrUnknownType      = errors.New("signal: unknown primitive type")
	ErrUnknownByteOrder = errors.New("signal: unknown byte order")
	ErrUnknownAlgorithm = errors.New("signal: unknown filter algorithm")

	ErrUnknownSignal = errors.New("signal: unknown signal")
	ErrUnknownGroup  = errors.New("signal: unknown signal group")
	ErrUnknownPDU    = errors.New("signal: unknown pdu")

	ErrDuplicateName = errors.New("signal: duplicate name")
	ErrInvalidLayout = errors.New("signal: invalid layout")
	ErrInvalidRule   = errors.New("signal: invalid rule")
	ErrInvalidGroup  = errors.New("signal: invalid group")
)
