// Package notify delivers referral lifecycle notifications by email and as
// events on a message broker.
package notify

import (
	"context"
	"errors"
)

// ReferralNotice tells the referred doctor that a referral is waiting.
type ReferralNotice struct {
	ReferralID          string
	RecipientEmail      string
	ReferringDoctorName string
	PatientName         string
	Urgency             string
	ReasonForReferral   string
}

// ConsultationNotice tells the referring doctor that a consultation was
// submitted.
type ConsultationNotice struct {
	ReferralID           string
	RecipientEmail       string
	ReferringDoctorName  string
	ConsultingDoctorName string
	PatientName          string
	Status               string
	AdditionalInfoNeeded string
}

type Notifier interface {
	NotifyReferralCreated(ctx context.Context, n ReferralNotice) error
	NotifyConsultationSubmitted(ctx context.Context, n ConsultationNotice) error
}

// Noop accepts every notification and delivers none.
type Noop struct{}

func (Noop) NotifyReferralCreated(context.Context, ReferralNotice) error { return nil }

func (Noop) NotifyConsultationSubmitted(context.Context, ConsultationNotice) error { return nil }

// Multi fans a notification out to every channel. Every channel is attempted;
// the result is nil only if all of them succeed.
type Multi []Notifier

func (m Multi) NotifyReferralCreated(ctx context.Context, n ReferralNotice) error {
	var errs []error
	for _, ch := range m {
		if err := ch.NotifyReferralCreated(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) NotifyConsultationSubmitted(ctx context.Context, n ConsultationNotice) error {
	var errs []error
	for _, ch := range m {
		if err := ch.NotifyConsultationSubmitted(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
