package models

import "fmt"

// Operation is the semantic type of a mutation. It drives conflict policy and
// the display text shown next to the sync badge.
type Operation string

const (
	OpCheckIn              Operation = "check_in"
	OpCheckOut             Operation = "check_out"
	OpPartsCheckout        Operation = "parts_checkout"
	OpUpdateNotes          Operation = "update_notes"
	OpUpdateInvoice        Operation = "update_invoice"
	OpUploadFile           Operation = "upload_file"
	OpMarkNotificationRead Operation = "mark_notification_read"
)

var displayNames = map[Operation]string{
	OpCheckIn:              "Job check-in",
	OpCheckOut:             "Job check-out",
	OpPartsCheckout:        "Parts checkout",
	OpUpdateNotes:          "Note update",
	OpUpdateInvoice:        "Invoice update",
	OpUploadFile:           "File upload",
	OpMarkNotificationRead: "Notification read",
}

func (o Operation) String() string {
	return string(o)
}

// DisplayName returns the human-readable label for the UI.
func (o Operation) DisplayName() string {
	if name, ok := displayNames[o]; ok {
		return name
	}
	return string(o)
}

// Known reports whether the operation is part of the catalogue. Submitting an
// unknown operation is a programmer error, not a runtime condition.
func (o Operation) Known() bool {
	_, ok := displayNames[o]
	return ok
}

// Multipart reports whether the operation's payload references a staged local
// file that must be sent as multipart form data instead of a JSON body.
func (o Operation) Multipart() bool {
	return o == OpUploadFile
}

func AllOperations() []Operation {
	return []Operation{
		OpCheckIn,
		OpCheckOut,
		OpPartsCheckout,
		OpUpdateNotes,
		OpUpdateInvoice,
		OpUploadFile,
		OpMarkNotificationRead,
	}
}

// Target is the remote (method, path) pair a mutation resolves to. The engine
// treats the endpoint as opaque.
type Target struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// Key is the resource identity used for ordering and same-target blocking.
func (t Target) Key() string {
	return fmt.Sprintf("%s %s", t.Method, t.Path)
}

func (t Target) String() string {
	return t.Key()
}

// UploadPayload is the payload shape for OpUploadFile records. The binary
// stays staged on local disk; only the reference survives in the record.
type UploadPayload struct {
	JobID       string `json:"job_id"`
	FileType    string `json:"file_type"`
	StagedPath  string `json:"staged_path"`
	FileName    string `json:"file_name"`
	ContentType string `json:"content_type"`
	Description string `json:"description,omitempty"`
}
