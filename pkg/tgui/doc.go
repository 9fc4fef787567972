// Package tgui holds small helpers for Telegram's HTML parse mode:
//   - builders that escape their input (B, I, Code) and JoinH
//   - Plain, which renders markup as plain text for clients that reject it
//   - rune-safe truncation for previews
package tgui
