// Package util provides shared error types and validation helpers.
//
// # Error Conventions
//
// This project follows a standardized error pattern across all packages:
//
//   - Sentinel errors (errors.New) for well-known, stable conditions
//     that callers check with errors.Is(). Example: ErrBindFailed.
//   - Structured error types for context-rich errors that carry
//     additional fields (e.g., ListenerError, CryptoError). Each type
//     implements Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context to an
//     existing error without introducing a new type.
//
// # Validation
//
// Input validation helpers for ports, header names and hosts:
//
//	err := util.ValidatePort(27124)
//	err := util.ValidateHeaderName("Authorization")
package util
