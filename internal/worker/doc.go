// Package worker реализует цикл обработки заданий thumbnailing.
//
// Poller получает сообщения из очереди по одному; Pipeline прогоняет
// каждый job через стадии download → convert → upload → qr → reply →
// acknowledge. Сообщение удаляется из очереди только при успешной
// конвертации и успешной выгрузке всех результатов; временные сбои
// возвращают сообщение в очередь, неисправимые уходят в dead-letter.
package worker
