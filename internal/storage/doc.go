// Package storage реализует коллаборатора object storage поверх AWS S3.
//
// Пайплайн видит только два контракта: Download (исходник → локальный файл)
// и Save (локальный файл → удалённый ключ). Переопределения bucket/region
// на уровне job передаются аргументами, а не общим состоянием.
package storage
