package relay

// ContactReconcilePayload is the sync-job payload for contact merge
// reconciliation.
type ContactReconcilePayload struct {
	ContactID string `json:"contact_id"`
}
