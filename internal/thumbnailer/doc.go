// Package thumbnailer запускает внешний инструмент конвертации изображений.
//
// Одна конвертация — один scratch-каталог: инструмент пишет результаты
// в каталог, листинг каталога является единственным выходным контрактом.
// Каталог живёт до выгрузки всех файлов и удаляется на каждом пути выхода.
package thumbnailer
