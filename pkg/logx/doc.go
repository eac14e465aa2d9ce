// Package logx is pullbot's structured logging.
//
// Logger is a small value type over zerolog. Loggers handed out by a Service
// follow Service.Apply, so the level and sinks can change on config reload
// without rebuilding components. Console output is human readable, the file
// sink is JSON and warnings can be mirrored into an operator chat.
package logx
