// Package deb reads the metadata of remote Debian packages without
// downloading them.
//
// # Design Philosophy
//
// A .deb file is an ar archive whose first two members are always
// debian-binary and the control archive. Their headers sit at fixed offsets,
// so the first 132 bytes of any package tell where the control archive ends.
// The package fetches that header window, validates it, then fetches exactly
// the control archive with a second range request. The data member, which
// holds the actual payload, is never transferred.
//
// Fetching is delegated to a Fetcher; the fetch package provides HTTP, local
// file and in-memory implementations.
//
// # Features
//
// Header inspection:
//   - Validate the ar magic, the debian-binary member and the control member name.
//   - Parse the ar header of the control member (name, time, uid, gid, mode, size).
//
// Control extraction:
//   - Decompress gzip control archives, and optionally xz or zstd ones.
//   - Locate the control file, check its encoding and unfold continuation lines.
//   - Map control fields to normalized keys through a configurable table.
//
// # Errors
//
// Every failure is an *Error whose Kind is one of TransportError,
// FormatError, ParseError or EncodingError. Nothing is returned alongside an
// error: extraction either fully succeeds or reports exactly one failure.
package deb
