package errorkinds

// HCIStatus is a status code reported by the radio controller.
type HCIStatus uint8

// HCI status codes referenced by the bonding flow.
const (
	HCISuccess               HCIStatus = 0x00
	HCIPageTimeout           HCIStatus = 0x04
	HCIAuthenticationFailure HCIStatus = 0x05
	HCIPinOrKeyMissing       HCIStatus = 0x06
	HCIMemoryFull            HCIStatus = 0x07
	HCIConnectionTimeout     HCIStatus = 0x08
	HCIMaxConnections        HCIStatus = 0x09
	HCIMaxSCOConnections     HCIStatus = 0x0a
	HCIRejectedLimited       HCIStatus = 0x0d
	HCIConnAcceptTimeout     HCIStatus = 0x10
	HCIOETerminated          HCIStatus = 0x13
	HCIOELowResources        HCIStatus = 0x14
	HCIConnectionTerminated  HCIStatus = 0x16
	HCIRepeatedAttempts      HCIStatus = 0x17
	HCIPairingNotAllowed     HCIStatus = 0x18
	HCILMPResponseTimeout    HCIStatus = 0x22
	HCIInstantPassed         HCIStatus = 0x28
)

// FromHCIStatus maps a controller status to an authentication error category.
// A success status maps to nil.
func FromHCIStatus(status HCIStatus) error {
	switch status {
	case HCISuccess:
		return nil

	case HCIPageTimeout, HCIConnectionTimeout:
		return ErrConnectionAttemptFailed

	case HCIConnAcceptTimeout, HCILMPResponseTimeout, HCIInstantPassed:
		return ErrAuthenticationTimeout

	case HCIRepeatedAttempts:
		return ErrRepeatedAttempts

	case HCIPinOrKeyMissing, HCIPairingNotAllowed:
		return ErrAuthenticationRejected

	case HCIMemoryFull, HCIMaxConnections, HCIMaxSCOConnections,
		HCIRejectedLimited, HCIOETerminated, HCIOELowResources,
		HCIConnectionTerminated:
		return ErrAuthenticationCanceled
	}

	return ErrAuthenticationFailed
}

// PurgesCredentials reports whether a failed bonding with this status
// invalidates the stored credentials of the peer.
func (s HCIStatus) PurgesCredentials() bool {
	switch s {
	case HCIPinOrKeyMissing, HCIPairingNotAllowed, HCIAuthenticationFailure:
		return true
	}

	return false
}
