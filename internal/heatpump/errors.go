package heatpump

import "errors"

var (
	ErrInvalidSetting = errors.New("invalid setting")
	ErrInvalidBounds  = errors.New("invalid temperature bounds")
	ErrEmptyUpdate    = errors.New("empty settings update")
)
