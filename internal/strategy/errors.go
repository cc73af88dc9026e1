package strategy

import "errors"

// Ошибки разрешения стратегий.
var (
	// ErrStrategyNotFound — имя не соответствует ни одной встроенной
	// стратегии и не является manual-шаблоном.
	ErrStrategyNotFound = errors.New("strategy not found")

	// ErrMissingDimensions — стратегия требует width и height,
	// но job их не задаёт.
	ErrMissingDimensions = errors.New("strategy requires width and height")

	// ErrUnknownField — manual-шаблон ссылается на поле вне
	// разрешённого набора.
	ErrUnknownField = errors.New("template references unknown field")

	// ErrBadIndex — индекс localPaths вне диапазона.
	ErrBadIndex = errors.New("localPaths index out of range")
)
