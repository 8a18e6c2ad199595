package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/consultation"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/domain/referral"
	"github.com/dmehra2102/prod-golang-projects/medref/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

const (
	payloadField    = "payload"
	attachmentField = "attachments"
	dateLayout      = "2006-01-02"
	maxAttachments  = 10
)

type ReferralHandler struct {
	referrals     *service.ReferralService
	consultations *service.ConsultationService
	// Per-file upload limit. The request body may carry maxAttachments of them.
	maxUploadBytes int64
	log            *zap.Logger
}

func NewReferralHandler(referrals *service.ReferralService, consultations *service.ConsultationService, maxUploadBytes int64, log *zap.Logger) *ReferralHandler {
	return &ReferralHandler{
		referrals:      referrals,
		consultations:  consultations,
		maxUploadBytes: maxUploadBytes,
		log:            log,
	}
}

type createReferralRequest struct {
	ReferredDoctorEmail string          `json:"referred_doctor_email"`
	PatientName         string          `json:"patient_name"`
	PatientAge          int             `json:"patient_age"`
	PatientGender       string          `json:"patient_gender"`
	PatientID           string          `json:"patient_id"`
	PatientDOB          string          `json:"patient_dob"`
	PatientPhone        string          `json:"patient_phone"`
	ClinicalInformation string          `json:"clinical_information"`
	Diagnosis           string          `json:"diagnosis"`
	ReasonForReferral   string          `json:"reason_for_referral"`
	Urgency             string          `json:"urgency"`
	AdditionalNotes     string          `json:"additional_notes"`
	AdditionalDetails   json.RawMessage `json:"additional_details"`
}

type submitConsultationRequest struct {
	Assessment           string `json:"assessment"`
	Recommendation       string `json:"recommendation"`
	AdditionalInfoNeeded string `json:"additional_information_needed"`
	Diagnosis            string `json:"diagnosis"`
	TreatmentPlan        string `json:"treatment_plan"`
	Medications          string `json:"medications"`
	FollowUpRequired     bool   `json:"follow_up_required"`
	FollowUpTimeframe    string `json:"follow_up_timeframe"`
	Status               string `json:"status"`
	Comment              string `json:"comment"`
}

// Create accepts either a JSON body or a multipart form with the JSON in the
// "payload" field and files under "attachments".
func (h *ReferralHandler) Create(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}

	var req createReferralRequest
	atts, ok := h.decodeBody(c, &req)
	if !ok {
		return
	}

	cmd, err := req.toCommand()
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	cmd.ReferringDoctorID = claims.UserID
	cmd.Attachments = atts
	cmd.IPAddress = c.ClientIP()

	res, err := h.referrals.Create(c.Request.Context(), cmd)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	respondCreated(c, res)
}

func (r createReferralRequest) toCommand() (*referral.CreateReferralCommand, error) {
	cmd := &referral.CreateReferralCommand{
		ReferredDoctorEmail: r.ReferredDoctorEmail,
		PatientName:         r.PatientName,
		PatientAge:          r.PatientAge,
		PatientGender:       referral.Gender(r.PatientGender),
		PatientExternalID:   r.PatientID,
		PatientPhone:        r.PatientPhone,
		ClinicalInformation: r.ClinicalInformation,
		Diagnosis:           r.Diagnosis,
		ReasonForReferral:   r.ReasonForReferral,
		Urgency:             referral.Urgency(r.Urgency),
		AdditionalNotes:     r.AdditionalNotes,
	}
	if r.PatientDOB != "" {
		dob, err := time.Parse(dateLayout, r.PatientDOB)
		if err != nil {
			return nil, errors.New("patient_dob must be YYYY-MM-DD")
		}
		cmd.PatientDOB = &dob
	}
	if len(r.AdditionalDetails) > 0 && string(r.AdditionalDetails) != "null" {
		cmd.AdditionalDetails = datatypes.JSON(r.AdditionalDetails)
	}
	return cmd, nil
}

// List returns the caller's referrals. ?as= picks the lens and defaults by
// role; status, urgency, from and to narrow the result.
func (h *ReferralHandler) List(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}

	lens := service.DefaultLens(claims.Role)
	if as := c.Query("as"); as != "" {
		lens = referral.Lens(as)
		if lens != referral.LensReferring && lens != referral.LensConsulting {
			respondError(c, http.StatusBadRequest, "as must be referring or consulting")
			return
		}
	}

	f, err := parseListFilter(c)
	if err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	items, err := h.referrals.List(c.Request.Context(), claims.UserID, lens, f)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	respondOK(c, items)
}

func parseListFilter(c *gin.Context) (referral.ListFilter, error) {
	var f referral.ListFilter
	if v := c.Query("status"); v != "" {
		s := referral.Status(v)
		f.Status = &s
	}
	if v := c.Query("urgency"); v != "" {
		u := referral.Urgency(v)
		f.Urgency = &u
	}
	if v := c.Query("from"); v != "" {
		t, err := parseQueryTime(v, false)
		if err != nil {
			return f, fmt.Errorf("from: %w", err)
		}
		f.CreatedFrom = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := parseQueryTime(v, true)
		if err != nil {
			return f, fmt.Errorf("to: %w", err)
		}
		f.CreatedTo = &t
	}
	return f, nil
}

// parseQueryTime accepts RFC 3339 or a bare date. A bare date used as an upper
// bound covers the whole day.
func parseQueryTime(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, errors.New("must be RFC 3339 or YYYY-MM-DD")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

func (h *ReferralHandler) Get(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := referralIDParam(c)
	if !ok {
		return
	}

	d, err := h.referrals.ViewDetails(c.Request.Context(), id, claims.UserID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	respondOK(c, d)
}

func (h *ReferralHandler) History(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := referralIDParam(c)
	if !ok {
		return
	}

	entries, err := h.referrals.History(c.Request.Context(), id, claims.UserID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	respondOK(c, entries)
}

func (h *ReferralHandler) ListConsultations(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := referralIDParam(c)
	if !ok {
		return
	}

	out, err := h.consultations.Consultations(c.Request.Context(), id, claims.UserID)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	respondOK(c, out)
}

func (h *ReferralHandler) SubmitConsultation(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}
	id, ok := referralIDParam(c)
	if !ok {
		return
	}

	var req submitConsultationRequest
	atts, ok := h.decodeBody(c, &req)
	if !ok {
		return
	}

	res, err := h.consultations.Submit(c.Request.Context(), &consultation.SubmitCommand{
		ReferralID:           id,
		DoctorID:             claims.UserID,
		Assessment:           req.Assessment,
		Recommendation:       req.Recommendation,
		AdditionalInfoNeeded: req.AdditionalInfoNeeded,
		Diagnosis:            req.Diagnosis,
		TreatmentPlan:        req.TreatmentPlan,
		Medications:          req.Medications,
		FollowUpRequired:     req.FollowUpRequired,
		FollowUpTimeframe:    req.FollowUpTimeframe,
		Status:               referral.Status(req.Status),
		Comment:              req.Comment,
		Attachments:          atts,
		IPAddress:            c.ClientIP(),
	})
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	respondCreated(c, res)
}

func (h *ReferralHandler) Relink(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}

	n, err := h.referrals.RelinkByEmail(c.Request.Context(), claims.UserID, c.ClientIP())
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	respondOK(c, gin.H{"linked": n})
}

// Attachment streams a stored file. The route is /attachments/*path.
func (h *ReferralHandler) Attachment(c *gin.Context) {
	claims, ok := currentUser(c)
	if !ok {
		return
	}

	p := strings.TrimPrefix(c.Param("path"), "/")
	data, err := h.referrals.ReadAttachment(c.Request.Context(), claims.UserID, p)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}

	name := path.Base(p)
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	c.Data(http.StatusOK, contentType, data)
}

// decodeBody reads dst from a JSON body, or from the payload field of a
// multipart form together with its attachments.
func (h *ReferralHandler) decodeBody(c *gin.Context, dst any) ([]referral.Attachment, bool) {
	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		return nil, bindJSON(c, dst)
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes*maxAttachments+(1<<20))
	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return nil, false
	}

	payload := form.Value[payloadField]
	if len(payload) != 1 {
		respondError(c, http.StatusBadRequest, "multipart form needs exactly one payload field")
		return nil, false
	}
	if err := json.Unmarshal([]byte(payload[0]), dst); err != nil {
		respondError(c, http.StatusBadRequest, "invalid payload: "+err.Error())
		return nil, false
	}

	files := form.File[attachmentField]
	if len(files) > maxAttachments {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("at most %d attachments are allowed", maxAttachments))
		return nil, false
	}

	atts := make([]referral.Attachment, 0, len(files))
	for _, fh := range files {
		data, err := h.readUpload(fh)
		if err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return nil, false
		}
		atts = append(atts, referral.Attachment{FileName: fh.Filename, Data: data})
	}
	return atts, true
}

func (h *ReferralHandler) readUpload(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > h.maxUploadBytes {
		return nil, fmt.Errorf("%s exceeds the %d byte upload limit", fh.Filename, h.maxUploadBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", fh.Filename, err)
	}
	if int64(len(data)) > h.maxUploadBytes {
		return nil, fmt.Errorf("%s exceeds the %d byte upload limit", fh.Filename, h.maxUploadBytes)
	}
	return data, nil
}
