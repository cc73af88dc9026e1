// Package cli содержит команды инструмента thumbd.
//
// Команды:
//   - server    — долгоживущий процесс обработки очереди
//   - thumbnail — одноразовая постановка заданий по манифесту
//
// Конфигурация собирается из переменных окружения, флаги имеют приоритет.
package cli
