package referral

import "errors"

var (
	ErrReferralNotFound = errors.New("referral not found")
	ErrAttachmentDenied = errors.New("attachment does not belong to this referral")
)
