// Package logx is remindbot's structured logging over zerolog.
//
// Console output is human-readable and file output is one JSON event per
// line. An optional alert sink forwards warnings to an operator chat at a
// bounded rate.
package logx
