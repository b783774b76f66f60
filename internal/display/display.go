// Package display defines the platform capability interface for virtual
// displays. The rest of the pipeline is insulated from host variability:
// it talks to a Backend and never to the host display machinery directly.
package display

import "keyhole/internal/encode"

// Flag is a virtual display creation flag. Values mirror the host display
// manager's bit layout.
type Flag int

const (
	FlagPublic                 Flag = 1 << 0
	FlagPresentation           Flag = 1 << 1
	FlagOwnContentOnly         Flag = 1 << 3
	FlagSupportsTouch          Flag = 1 << 6
	FlagRotatesWithContent     Flag = 1 << 7
	FlagDestroyContentOnRemove Flag = 1 << 8
	FlagTrusted                Flag = 1 << 10
	FlagOwnDisplayGroup        Flag = 1 << 11
	FlagAlwaysUnlocked         Flag = 1 << 12
	FlagTouchFeedbackDisabled  Flag = 1 << 13
	FlagOwnFocus               Flag = 1 << 14
	FlagDeviceDisplayGroup     Flag = 1 << 15
)

// IMEPolicy controls where the soft keyboard is presented for a display.
type IMEPolicy int

const (
	IMEPolicyLocal IMEPolicy = iota
	IMEPolicyFallback
	IMEPolicyHide
)

// DefaultFlags returns the creation flags for a capture display on the
// given host version. Newer hosts gain the trust and focus related flags.
func DefaultFlags(hostVersion int) Flag {
	flags := FlagPublic |
		FlagPresentation |
		FlagOwnContentOnly |
		FlagSupportsTouch |
		FlagRotatesWithContent |
		FlagDestroyContentOnRemove
	if hostVersion >= 33 {
		flags |= FlagTrusted |
			FlagOwnDisplayGroup |
			FlagAlwaysUnlocked |
			FlagTouchFeedbackDisabled
	}
	if hostVersion >= 34 {
		flags |= FlagOwnFocus | FlagDeviceDisplayGroup
	}
	return flags
}

// Handle is a live virtual display. Release destroys it; the host also
// destroys dependent surfaces when FlagDestroyContentOnRemove was set.
type Handle interface {
	ID() int
	Release()
}

// Backend creates virtual displays bound to an encoder input surface.
type Backend interface {
	// HostVersion reports the host API level used to gate creation flags.
	HostVersion() int

	// Create makes a virtual display of the given geometry rendering into
	// surface. The returned handle carries the platform display id.
	Create(name string, width, height, dpi int, surface encode.Surface, flags Flag) (Handle, error)

	// SetIMEPolicy applies a soft-keyboard placement policy to a display.
	SetIMEPolicy(displayID int, policy IMEPolicy) error
}
