// Package core provides the shared element, platform and error types for screen-runner.
package core

// ElementInfo represents information about a UI element resolved on the device
type ElementInfo struct {
	ID      string `json:"id,omitempty"` // Remote element reference
	Text    string `json:"text,omitempty"`
	Bounds  Bounds `json:"bounds"`
	Visible bool   `json:"visible"`
	Enabled bool   `json:"enabled"`
	Locator string `json:"locator,omitempty"` // Locator the element was found by
}

// Bounds represents element position and size
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the center point of the bounds
func (b Bounds) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Contains checks if a point is within the bounds
func (b Bounds) Contains(x, y int) bool {
	return x >= b.X && x < b.X+b.Width && y >= b.Y && y < b.Y+b.Height
}

// PlatformInfo contains session and platform details
type PlatformInfo struct {
	Platform     string `json:"platform"`               // ios, android
	SessionID    string `json:"sessionId,omitempty"`    // Remote session identifier
	DeviceName   string `json:"deviceName,omitempty"`   // e.g., "iPhone 15 Pro", "Pixel 8"
	ScreenWidth  int    `json:"screenWidth,omitempty"`  // Screen width in pixels
	ScreenHeight int    `json:"screenHeight,omitempty"` // Screen height in pixels
	AppID        string `json:"appId,omitempty"`        // Bundle ID / Package name
}
