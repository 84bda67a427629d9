// Package version provides build and version information.
package version

// Version is the current application version.
// Update this at logical milestones.
const Version = "0.2.0"

// Milestones:
// 0.1.0 - Token discovery, search and magnet resolution
// 0.2.0 - SQLite token cache, qBittorrent hand-off, TUI
