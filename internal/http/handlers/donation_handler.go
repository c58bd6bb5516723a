// README: Donation handlers covering creation, reservation, assignment and the status lifecycle.
package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"foodbridge/internal/apperr"
	"foodbridge/internal/http/middleware"
	"foodbridge/internal/log"
	"foodbridge/internal/modules/donation"
	"foodbridge/internal/modules/proof"
	"foodbridge/internal/types"
)

// maxProofBytes caps multipart proof uploads.
const maxProofBytes = 10 << 20

type DonationHandler struct {
	donations *donation.Service
	proofs    proof.Storage
}

// NewDonationHandler wires the handler; proofs may be nil, in which case
// only proof URLs are accepted.
func NewDonationHandler(svc *donation.Service, proofs proof.Storage) *DonationHandler {
	return &DonationHandler{donations: svc, proofs: proofs}
}

type pointReq struct {
	Lat float64 `json:"lat" binding:"min=-90,max=90"`
	Lng float64 `json:"lng" binding:"min=-180,max=180"`
}

type addressReq struct {
	Street      string    `json:"street" binding:"required"`
	City        string    `json:"city" binding:"required"`
	State       string    `json:"state"`
	PostalCode  string    `json:"postal_code"`
	Country     string    `json:"country"`
	Coordinates *pointReq `json:"coordinates"`
}

type itemReq struct {
	Name      string     `json:"name" binding:"required"`
	Quantity  float64    `json:"quantity" binding:"gt=0"`
	Unit      string     `json:"unit" binding:"required,foodunit"`
	ExpiresAt *time.Time `json:"expires_at"`
}

type createDonationReq struct {
	Items               []itemReq  `json:"items" binding:"required,min=1,dive"`
	Pickup              addressReq `json:"pickup"`
	PreferredPickupTime time.Time  `json:"preferred_pickup_time" binding:"required"`
	Notes               string     `json:"notes" binding:"max=2000"`
}

func (r createDonationReq) command() donation.CreateCommand {
	items := make([]types.FoodItem, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, types.FoodItem{
			Name:      strings.TrimSpace(it.Name),
			Quantity:  it.Quantity,
			Unit:      types.Unit(it.Unit),
			ExpiresAt: it.ExpiresAt,
		})
	}
	pickup := donation.Address{
		Street:     r.Pickup.Street,
		City:       r.Pickup.City,
		State:      r.Pickup.State,
		PostalCode: r.Pickup.PostalCode,
		Country:    r.Pickup.Country,
	}
	if p := r.Pickup.Coordinates; p != nil {
		pickup.Point = &types.Point{Lat: p.Lat, Lng: p.Lng}
	}
	return donation.CreateCommand{
		Items:               items,
		Pickup:              pickup,
		PreferredPickupTime: r.PreferredPickupTime,
		Notes:               r.Notes,
	}
}

func (h *DonationHandler) Create(c *gin.Context) {
	var req createDonationReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	d, err := h.donations.Create(c.Request.Context(), middleware.Caller(c), req.command())
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, d)
}

func (h *DonationHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	d, err := h.donations.Get(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (h *DonationHandler) Reserve(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	d, err := h.donations.Reserve(c.Request.Context(), middleware.Caller(c), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

func (h *DonationHandler) EligibleDrivers(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	r, err := h.donations.ListEligibleDrivers(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, r)
}

type assignReq struct {
	DriverID string `json:"driver_id"`
}

func (h *DonationHandler) Assign(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req assignReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
	}
	var driverID *types.ID
	if req.DriverID != "" {
		if !isValidID(req.DriverID) {
			writeError(c, http.StatusBadRequest, "bad_request", "invalid driver id")
			return
		}
		driverID = types.IDPtr(types.ID(req.DriverID))
	}
	d, err := h.donations.AssignDriver(c.Request.Context(), middleware.Caller(c), id, driverID)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

type statusReq struct {
	Status    string     `json:"status" binding:"required"`
	Timestamp *time.Time `json:"timestamp"`
	Reason    string     `json:"reason" binding:"max=500"`
	ProofURL  string     `json:"proof_url"`
	DriverID  string     `json:"driver_id"`
}

func (h *DonationHandler) UpdateStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req statusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	status, ok := donation.ParseStatus(req.Status)
	if !ok {
		writeError(c, http.StatusBadRequest, "bad_request", "unknown status "+req.Status)
		return
	}
	cmd := donation.StatusCommand{
		Status:   status,
		At:       req.Timestamp,
		Reason:   req.Reason,
		ProofURL: req.ProofURL,
	}
	if req.DriverID != "" {
		if !isValidID(req.DriverID) {
			writeError(c, http.StatusBadRequest, "bad_request", "invalid driver id")
			return
		}
		cmd.DriverID = types.IDPtr(types.ID(req.DriverID))
	}
	d, err := h.donations.UpdateStatus(c.Request.Context(), middleware.Caller(c), id, cmd)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

type proofReq struct {
	ProofURL string `json:"proof_url" binding:"required"`
}

// UploadProof accepts either JSON {proof_url} or a multipart "photo" that is
// stored first and then recorded by URL.
func (h *DonationHandler) UploadProof(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	actor := middleware.Caller(c)

	var ref string
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		url, err := h.storePhoto(c, actor, id)
		if err != nil {
			writeDomainError(c, err)
			return
		}
		ref = url
	} else {
		var req proofReq
		if err := c.ShouldBindJSON(&req); err != nil {
			writeBindError(c, err)
			return
		}
		ref = req.ProofURL
	}

	d, err := h.donations.UploadDeliveryProof(c.Request.Context(), actor, id, ref)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

// storePhoto checks the caller may deliver before anything is uploaded.
func (h *DonationHandler) storePhoto(c *gin.Context, actor types.Actor, id types.ID) (string, error) {
	if h.proofs == nil {
		return "", apperr.BadRequest("photo upload is not configured; send proof_url")
	}
	ctx := c.Request.Context()
	d, err := h.donations.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if d.Status != donation.StatusPickedUp {
		return "", apperr.InvalidState("donation %s is %s, expected %s", d.ID, d.Status, donation.StatusPickedUp)
	}
	if err := donation.Authorize(actor, d, donation.StatusDelivered); err != nil {
		return "", err
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxProofBytes)
	fh, err := c.FormFile("photo")
	if err != nil {
		return "", apperr.BadRequest("photo is required")
	}
	if err := proof.ValidateName(fh.Filename); err != nil {
		return "", err
	}
	f, err := fh.Open()
	if err != nil {
		return "", apperr.Internal("proof.open", err)
	}
	defer f.Close()

	url, err := h.proofs.Put(ctx, id, fh.Filename, f)
	if err != nil {
		return "", apperr.Internal("proof.put", err)
	}
	log.Info(ctx, "delivery proof stored", log.ID("donation_id", id), log.ID("url", url))
	return url, nil
}

func (h *DonationHandler) Events(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	events, err := h.donations.ListEvents(c.Request.Context(), id)
	if err != nil {
		writeDomainError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"donation_id": id, "events": events})
}
