// Package strategy отображает описание job на командную строку внешнего
// инструмента конвертации.
//
// Стратегия — это данные, а не код: пять встроенных рецептов
// (pdf, matted, bounded, fill, strict) плюс manual-шаблон, в котором
// сама строка стратегии содержит команду с плейсхолдерами %(name)s.
//
// Подстановка в manual-шаблоне ограничена фиксированным набором полей —
// шаблон, ссылающийся на что-либо ещё, отклоняется до запуска процесса.
package strategy
