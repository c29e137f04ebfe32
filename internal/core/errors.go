package core

import "errors"

// Ошибки операций ядра. Обработчики сопоставляют их с HTTP статусами,
// поэтому проверка всегда через errors.Is.
var (
	ErrOutOfBounds       = errors.New("point outside operational bounds or inside a no-fly zone")
	ErrNoVehicle         = errors.New("no idle vehicle available")
	ErrUnroutable        = errors.New("no feasible path")
	ErrResolutionFailed  = errors.New("conflicts could not be resolved")
	ErrTimeout           = errors.New("request deadline exceeded")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrUnknownVehicle    = errors.New("unknown vehicle")
	ErrUnknownMission    = errors.New("unknown mission")
	ErrVehicleExists     = errors.New("vehicle already registered")
)
